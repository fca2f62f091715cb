package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/config"
	"github.com/trade-engine/log-dashboard/internal/proxy"
	"github.com/trade-engine/log-dashboard/internal/services"
	"github.com/trade-engine/log-dashboard/internal/sink/arrow"
	"github.com/trade-engine/log-dashboard/internal/state"
	"github.com/trade-engine/log-dashboard/internal/ws"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API, notifications and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logger, err := cfg.NewLogger()
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer logger.Sync()

			app, err := NewApplication(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides server.listen")
	return cmd
}

// Application wires the backend client, the dashboard session and the HTTP
// surface of one serve process.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger
	wg     sync.WaitGroup

	hub       *ws.Hub
	state     *state.DashboardState
	refresher *services.MetadataRefresher
	proxy     *proxy.Server
	servers   []*http.Server
}

func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	a := &Application{cfg: cfg, logger: logger}
	if err := a.initializeComponents(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Application) initializeComponents() error {
	a.logger.Info("Initializing components")

	client := newBackendClient(a.cfg, a.logger)
	a.hub = ws.NewHub(a.logger.Named("ws"))
	notifier := state.MultiNotifier{a.hub, state.LogNotifier(a.logger.Named("notify"))}
	a.state = newDashboardState(a.cfg, a.logger, notifier)

	refresher, err := services.NewMetadataRefresher(a.logger.Named("metadata"), client, a.cfg.Metadata.CachePath, a.cfg.Metadata.TTL)
	if err != nil {
		return err
	}
	a.refresher = refresher

	exporter := services.NewExportService(a.logger.Named("export"), client, arrow.NewWriter(a.logger.Named("sink"), a.cfg.Export.Dir), notifier)
	metrics := proxy.NewMetrics()

	opts := []proxy.Option{
		proxy.WithNotifications(a.hub),
		proxy.WithMetrics(metrics),
		proxy.WithHealthCheck(a.cfg.Monitoring.HealthCheck.Enabled, a.cfg.Monitoring.HealthCheck.Path),
		proxy.WithHealthTimeout(a.cfg.Monitoring.HealthCheck.Timeout),
		proxy.WithSearchDebounce(a.cfg.Dashboard.SearchDebounce),
		proxy.WithExports(exporter, services.NewExportScanner(a.logger.Named("exports"), a.cfg.Export.Dir)),
		proxy.WithMetadataCache(refresher.Snapshot()),
	}
	a.proxy = proxy.NewServer(a.logger.Named("http"), client, a.state, opts...)

	a.servers = append(a.servers, &http.Server{
		Addr:         a.cfg.Server.Listen,
		Handler:      a.proxy,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	})

	prom := a.cfg.Monitoring.Prometheus
	if prom.Enabled && prom.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle(prom.Path, metrics.Handler())
		a.servers = append(a.servers, &http.Server{
			Addr:    ":" + strconv.Itoa(prom.Port),
			Handler: mux,
		})
	}

	a.logger.Info("Components initialized successfully",
		zap.String("backend", client.BaseURL()))
	return nil
}

// Run serves until ctx is cancelled, then shuts every listener down.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("Starting log dashboard",
		zap.String("version", a.cfg.Application.Version),
		zap.String("listen", a.cfg.Server.Listen))

	a.refresher.Start(ctx)

	errCh := make(chan error, len(a.servers))
	for _, srv := range a.servers {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.logger.Info("HTTP listener started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case runErr = <-errCh:
		a.logger.Error("HTTP listener failed", zap.Error(runErr))
	}

	a.shutdown()
	a.wg.Wait()
	a.logger.Info("Application stopped")
	return runErr
}

func (a *Application) shutdown() {
	a.refresher.Stop()
	a.proxy.Close()

	// websocket connections are hijacked and not covered by Shutdown
	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range a.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Graceful shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
}
