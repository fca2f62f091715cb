// Package services runs the dashboard's longer operations: file exports and
// the periodic metadata refresh.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/domain"
	"github.com/trade-engine/log-dashboard/internal/filters"
	"github.com/trade-engine/log-dashboard/internal/sink/arrow"
	"github.com/trade-engine/log-dashboard/internal/state"
)

var (
	// ErrExportNotReady is returned when the date range is incomplete.
	ErrExportNotReady = errors.New("export requires a complete date range")
	// ErrUnsupportedFormat is returned for a format other than csv or arrow.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrExportWrite wraps failures saving the export locally.
	ErrExportWrite = errors.New("failed to save export")
)

// ExportSource streams a CSV export from the backend.
type ExportSource interface {
	ExportCSV(ctx context.Context, f filters.ExportFilters) (io.ReadCloser, error)
}

// ExportResult describes a finished export.
type ExportResult struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Format string `json:"format"`
	Bytes  int64  `json:"bytes"`
	Rows   int64  `json:"rows"`
}

type ExportService struct {
	logger   *zap.Logger
	source   ExportSource
	writer   *arrow.Writer
	notifier state.Notifier
	now      func() time.Time
}

func NewExportService(logger *zap.Logger, source ExportSource, writer *arrow.Writer, notifier state.Notifier) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		logger:   logger,
		source:   source,
		writer:   writer,
		notifier: notifier,
		now:      time.Now,
	}
}

// Export downloads the rows matching the dashboard's export filters and saves
// them as CSV or Arrow. The file is named after the current UTC day.
func (s *ExportService) Export(ctx context.Context, dashboard *state.DashboardState, format string) (*ExportResult, error) {
	if format == "" {
		format = arrow.FormatCSV
	}
	if format != arrow.FormatCSV && format != arrow.FormatArrow {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFormat, format)
	}
	if !dashboard.CanExport() {
		return nil, ErrExportNotReady
	}
	f, ok := dashboard.ExportFilters()
	if !ok {
		return nil, ErrExportNotReady
	}

	id := uuid.New().String()
	now := s.now()
	meta := arrow.ExportMetadata{
		ExportID:  id,
		StartDate: f.StartDate,
		EndDate:   f.EndDate,
		CreatedAt: now.UTC().Format(filters.TimestampLayout),
	}
	if f.Severity != nil {
		meta.Severity = string(*f.Severity)
	}
	if f.Source != nil {
		meta.Source = *f.Source
	}

	logger := s.logger.With(zap.String("export_id", id), zap.String("format", format))
	logger.Info("Starting export",
		zap.String("start_date", f.StartDate),
		zap.String("end_date", f.EndDate))

	body, err := s.source.ExportCSV(ctx, f)
	if err != nil {
		s.notifyFailure(err)
		return nil, fmt.Errorf("export request: %w", err)
	}
	defer body.Close()

	filename := state.ExportFilename(now, format)
	var res *arrow.FileResult
	switch format {
	case arrow.FormatArrow:
		res, err = s.writer.WriteArrow(body, filename, meta)
	default:
		res, err = s.writer.WriteCSV(body, filename, meta)
	}
	if err != nil {
		s.notifyFailure(err)
		return nil, fmt.Errorf("%w: %w", ErrExportWrite, err)
	}

	result := &ExportResult{
		ID:     id,
		Path:   res.Path,
		Format: format,
		Bytes:  res.Bytes,
		Rows:   res.Rows,
	}
	logger.Info("Export complete",
		zap.String("path", result.Path),
		zap.Int64("rows", result.Rows),
		zap.Int64("bytes", result.Bytes))

	if s.notifier != nil {
		s.notifier.Notify(domain.Notification{
			ID:          id,
			Level:       domain.NotificationSuccess,
			Title:       "Export complete",
			Description: fmt.Sprintf("%d rows (%d bytes) saved to %s", result.Rows, result.Bytes, filename),
			Time:        now.UTC(),
		})
	}
	return result, nil
}

func (s *ExportService) notifyFailure(err error) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(domain.Notification{
		ID:          uuid.New().String(),
		Level:       domain.NotificationError,
		Title:       "Export failed",
		Description: err.Error(),
		Time:        s.now().UTC(),
	})
}
