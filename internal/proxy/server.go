// Package proxy serves the dashboard's HTTP API: thin pass-through routes to
// the log service plus the per-process dashboard session.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/debounce"
	"github.com/trade-engine/log-dashboard/internal/domain"
	"github.com/trade-engine/log-dashboard/internal/filters"
	"github.com/trade-engine/log-dashboard/internal/metadata"
	"github.com/trade-engine/log-dashboard/internal/restapi"
	"github.com/trade-engine/log-dashboard/internal/search"
	"github.com/trade-engine/log-dashboard/internal/state"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

const requestIDHeader = "X-Request-ID"

// Backend is the subset of the log service the proxy forwards to.
type Backend interface {
	Aggregation(ctx context.Context, f filters.AggregationFilters) (*schema.AggregationResponse, error)
	ChartData(ctx context.Context, f filters.ChartFilters) (*schema.ChartDataResponse, error)
	ExportCSV(ctx context.Context, f filters.ExportFilters) (io.ReadCloser, error)
	Metadata(ctx context.Context) (*schema.MetadataResponse, error)
	ListLogs(ctx context.Context, f filters.ListFilters) (*schema.LogListResponse, error)
	Health(ctx context.Context) (*schema.HealthResponse, error)
}

type Option func(*Server)

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifications mounts h (normally a *ws.Hub) at /ws/notifications.
func WithNotifications(h http.Handler) Option {
	return func(s *Server) {
		s.notifications = h
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHealthTimeout bounds the backend probe behind /health.
func WithHealthTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.healthTimeout = d
		}
	}
}

// WithHealthCheck mounts the health handler at path, or not at all when
// enabled is false. An empty path keeps /health.
func WithHealthCheck(enabled bool, path string) Option {
	return func(s *Server) {
		s.healthEnabled = enabled
		if path != "" {
			s.healthPath = path
		}
	}
}

// WithSearchDebounce routes search edits from PUT /api/dashboard/filters
// through a debounced binder instead of writing them straight to the state.
func WithSearchDebounce(delay time.Duration, opts ...debounce.Option) Option {
	return func(s *Server) {
		s.searchDelay = delay
		s.searchOpts = opts
		s.debounceSearch = true
	}
}

type Server struct {
	logger        *zap.Logger
	backend       Backend
	state         *state.DashboardState
	notifications http.Handler
	metrics       *Metrics
	now           func() time.Time
	healthTimeout time.Duration
	healthEnabled bool
	healthPath    string

	exporter Exporter
	exports  ExportLister
	metadata *metadata.Snapshot

	debounceSearch bool
	searchDelay    time.Duration
	searchOpts     []debounce.Option
	search         *search.Binder

	router *mux.Router
}

func NewServer(logger *zap.Logger, backend Backend, st *state.DashboardState, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:        logger,
		backend:       backend,
		state:         st,
		now:           time.Now,
		healthTimeout: 5 * time.Second,
		healthEnabled: true,
		healthPath:    "/health",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.debounceSearch && st != nil {
		s.search = search.NewBinder(logger, st.Search(), s.searchDelay, st.SetSearch, s.searchOpts...)
		st.RegisterChangeCallback(func() {
			s.search.Sync(st.Search())
		})
	}
	s.router = s.routes()
	return s
}

// Close stops the pending search settle, if any.
func (s *Server) Close() {
	if s.search != nil {
		s.search.Close()
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.metrics.Middleware, s.accessLog)

	logs := r.PathPrefix("/api/logs").Subrouter()
	logs.HandleFunc("/aggregation", s.handleAggregation).Methods(http.MethodGet)
	logs.HandleFunc("/chart-data", s.handleChartData).Methods(http.MethodGet)
	logs.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	logs.HandleFunc("/metadata", s.handleMetadata).Methods(http.MethodGet)
	r.HandleFunc("/api/logs", s.handleListLogs).Methods(http.MethodGet)

	if s.state != nil {
		dash := r.PathPrefix("/api/dashboard").Subrouter()
		dash.HandleFunc("/filters", s.handleGetFilters).Methods(http.MethodGet)
		dash.HandleFunc("/filters", s.handlePutFilters).Methods(http.MethodPut)
		dash.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
		if s.exporter != nil {
			dash.HandleFunc("/export", s.handleSaveExport).Methods(http.MethodPost)
		}
	}
	if s.exports != nil {
		r.HandleFunc("/api/exports", s.handleListExports).Methods(http.MethodGet)
	}
	if s.metadata != nil {
		r.HandleFunc("/api/metadata/cached", s.handleCachedMetadata).Methods(http.MethodGet)
	}

	if s.healthEnabled {
		r.Handle(s.healthPath, health.NewHandler(s.healthChecker())).Methods(http.MethodGet)
	}
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	if s.notifications != nil {
		r.Handle("/ws/notifications", s.notifications).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) healthChecker() health.Checker {
	return health.NewChecker(
		health.WithCacheDuration(time.Second),
		health.WithTimeout(s.healthTimeout),
		health.WithCheck(health.Check{
			Name: "backend",
			Check: func(ctx context.Context) error {
				_, err := s.backend.Health(ctx)
				return err
			},
		}),
		health.WithStatusListener(func(ctx context.Context, cs health.CheckerState) {
			s.logger.Info("Backend health changed", zap.String("status", string(cs.Status)))
		}),
	)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(restapi.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		id, _ := restapi.RequestIDFromContext(r.Context())
		s.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", id),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// Log service pass-through

func (s *Server) handleAggregation(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelection(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, ok := filters.CreateAggregationFilters(sel)
	if !ok {
		s.writeDateRangeRequired(w)
		return
	}
	resp, err := s.backend.Aggregation(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelection(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, ok := filters.CreateChartFilters(sel)
	if !ok {
		s.writeDateRangeRequired(w)
		return
	}
	resp, err := s.backend.ChartData(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelection(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, ok := filters.CreateExportFilters(sel)
	if !ok {
		s.writeDateRangeRequired(w)
		return
	}
	body, err := s.backend.ExportCSV(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+state.ExportFilename(s.now(), "csv"))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("Export stream interrupted", zap.Error(err))
	}
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.Metadata(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel, err := parseSelection(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lq, err := parseListQuery(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.backend.ListLogs(r.Context(), filters.CreateListFilters(sel, lq))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Dashboard session

// FiltersUpdate replaces only the fields that are present.
type FiltersUpdate struct {
	DateRange    *domain.DateRange                  `json:"date_range"`
	Severity     *domain.Selection[schema.Severity] `json:"severity"`
	Source       *domain.Selection[string]          `json:"source"`
	TimeGrouping *schema.TimeGrouping               `json:"time_grouping"`
	Search       *string                            `json:"search"`
	Page         *int                               `json:"page"`
	PageSize     *int                               `json:"page_size"`
	SortBy       *string                            `json:"sort_by"`
	SortOrder    *schema.SortOrder                  `json:"sort_order"`
}

func (u FiltersUpdate) apply(st *state.DashboardState, setSearch func(string)) {
	if u.DateRange != nil {
		st.SetDateRange(*u.DateRange)
	}
	if u.Severity != nil {
		st.SetSeverity(*u.Severity)
	}
	if u.Source != nil {
		st.SetSource(*u.Source)
	}
	if u.TimeGrouping != nil {
		st.SetTimeGrouping(*u.TimeGrouping)
	}
	if u.Search != nil {
		setSearch(*u.Search)
	}
	if u.SortBy != nil || u.SortOrder != nil {
		q := st.ListQuery()
		if u.SortBy != nil {
			q.SortBy = *u.SortBy
		}
		if u.SortOrder != nil {
			q.SortOrder = *u.SortOrder
		}
		st.SetSort(q.SortBy, q.SortOrder)
	}
	if u.PageSize != nil {
		st.SetPageSize(*u.PageSize)
	}
	if u.Page != nil {
		st.SetPage(*u.Page)
	}
}

func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handlePutFilters(w http.ResponseWriter, r *http.Request) {
	var update FiltersUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid filters: " + err.Error()})
		return
	}
	setSearch := s.state.SetSearch
	if s.search != nil {
		setSearch = s.search.Set
	}
	update.apply(s.state, setSearch)
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.state.ResetFilters()
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// Responses

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeDateRangeRequired(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "start_date and end_date are required"})
}

// writeError forwards backend status codes and details; transport failures
// become 502.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var bad errBadQuery
	if errors.As(err, &bad) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: bad.Error()})
		return
	}

	route := routeName(r)
	if apiErr, ok := restapi.AsAPIError(err); ok {
		s.metrics.backendError(route, apiErr.StatusCode)
		writeJSON(w, apiErr.StatusCode, errorBody{Error: apiErr.Detail})
		return
	}

	s.metrics.backendError(route, http.StatusBadGateway)
	s.logger.Error("Backend request failed",
		zap.String("route", route),
		zap.Error(err))
	writeJSON(w, http.StatusBadGateway, errorBody{Error: "backend unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
