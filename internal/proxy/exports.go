package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/metadata"
	"github.com/trade-engine/log-dashboard/internal/services"
	"github.com/trade-engine/log-dashboard/internal/state"
)

// Exporter saves the session's export to disk.
type Exporter interface {
	Export(ctx context.Context, dashboard *state.DashboardState, format string) (*services.ExportResult, error)
}

// ExportLister lists exports already on disk.
type ExportLister interface {
	FindExports(ctx context.Context, q services.ExportQuery) ([]services.ExportFile, error)
}

// WithExports enables POST /api/dashboard/export and GET /api/exports.
func WithExports(exporter Exporter, lister ExportLister) Option {
	return func(s *Server) {
		s.exporter = exporter
		s.exports = lister
	}
}

// WithMetadataCache serves snapshot at GET /api/metadata/cached.
func WithMetadataCache(snapshot *metadata.Snapshot) Option {
	return func(s *Server) {
		s.metadata = snapshot
	}
}

func (s *Server) handleSaveExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	res, err := s.exporter.Export(r.Context(), s.state, format)
	switch {
	case errors.Is(err, services.ErrExportNotReady):
		s.writeDateRangeRequired(w)
		return
	case errors.Is(err, services.ErrUnsupportedFormat):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	case errors.Is(err, services.ErrExportWrite):
		s.logger.Error("Failed to save export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to save export"})
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Export saved",
		zap.String("export_id", res.ID),
		zap.String("path", res.Path))
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query services.ExportQuery
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &query.From}, {"to", &query.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		ts, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + p.name + ": expected YYYY-MM-DD"})
			return
		}
		*p.dst = ts
	}
	query.Format = q.Get("format")

	files, err := s.exports.FindExports(r.Context(), query)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if files == nil {
		files = []services.ExportFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleCachedMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metadata.View())
}
