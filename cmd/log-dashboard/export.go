package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/services"
	"github.com/trade-engine/log-dashboard/internal/sink/arrow"
	"github.com/trade-engine/log-dashboard/internal/state"
)

func newExportCmd(flags *rootFlags) *cobra.Command {
	sel := &selectionFlags{}
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download matching logs to a CSV or Arrow file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if format == "" {
				format = cfg.Export.Format
			}
			if out != "" {
				cfg.Export.Dir = out
			}
			logger, err := cfg.NewLogger()
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer logger.Sync()

			st := newDashboardState(cfg, logger, nil)
			if err := sel.apply(st); err != nil {
				return err
			}

			notifier := state.LogNotifier(logger.Named("notify"))
			svc := services.NewExportService(logger.Named("export"), newBackendClient(cfg, logger),
				arrow.NewWriter(logger.Named("sink"), cfg.Export.Dir), notifier)

			res, err := svc.Export(cmd.Context(), st, strings.ToLower(format))
			if errors.Is(err, services.ErrExportNotReady) {
				return fmt.Errorf("%w: pass --from and --to", err)
			}
			if err != nil {
				return err
			}
			logger.Debug("Export written", zap.String("path", res.Path))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	sel.bind(cmd, false)
	cmd.Flags().StringVar(&format, "format", "", "csv or arrow (default: export.format)")
	cmd.Flags().StringVar(&out, "out", "", "Output directory (default: export.dir)")
	return cmd
}

func newExportsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "Inspect exports saved on disk",
	}

	var from, to, format string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved exports, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			var q services.ExportQuery
			if from != "" {
				if q.From, err = time.Parse("2006-01-02", from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if to != "" {
				if q.To, err = time.Parse("2006-01-02", to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			q.Format = format

			files, err := services.NewExportScanner(zap.NewNop(), cfg.Export.Dir).FindExports(cmd.Context(), q)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(files) == 0 {
				_, err := fmt.Fprintln(w, "No exports found in", cfg.Export.Dir)
				return err
			}
			for _, f := range files {
				if _, err := fmt.Fprintf(w, "%s\t%s\t%d bytes\t%s\n", f.Date, f.Format, f.Size, f.Path); err != nil {
					return err
				}
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&from, "from", "", "First export day, YYYY-MM-DD")
	listCmd.Flags().StringVar(&to, "to", "", "Last export day, YYYY-MM-DD")
	listCmd.Flags().StringVar(&format, "format", "", "Only csv or arrow exports")

	var page, pageSize int
	showCmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print one page of an Arrow export as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := services.NewExportReader(zap.NewNop())
			data, err := reader.ReadPage(args[0], page, pageSize)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		},
	}
	showCmd.Flags().IntVar(&page, "page", 1, "Page number, from 1")
	showCmd.Flags().IntVar(&pageSize, "page-size", 50, "Rows per page")

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}
