package services

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/sink/arrow"
)

const exportPrefix = "logs-export-"

// ExportFile is one export found on disk.
type ExportFile struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Format  string    `json:"format"`
	Date    string    `json:"date"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ExportQuery narrows a scan. Zero dates are open ends; an empty Format
// matches both formats.
type ExportQuery struct {
	From   time.Time
	To     time.Time
	Format string
}

// ExportScanner finds previous exports in the export directory.
type ExportScanner struct {
	logger   *zap.Logger
	basePath string
}

func NewExportScanner(logger *zap.Logger, basePath string) *ExportScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportScanner{
		logger:   logger,
		basePath: basePath,
	}
}

// FindExports returns matching exports, newest export date first.
func (s *ExportScanner) FindExports(ctx context.Context, q ExportQuery) ([]ExportFile, error) {
	entries, err := os.ReadDir(s.basePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Failed to read export directory", zap.Error(err))
		return nil, err
	}

	from, to := dayOf(q.From), dayOf(q.To)
	var files []ExportFile
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}

		file, ok := parseExportName(entry.Name())
		if !ok {
			continue
		}
		if q.Format != "" && file.Format != q.Format {
			continue
		}
		day, err := time.Parse("2006-01-02", file.Date)
		if err != nil {
			continue
		}
		if !from.IsZero() && day.Before(from) {
			continue
		}
		if !to.IsZero() && day.After(to) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("Failed to stat file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		file.Path = filepath.Join(s.basePath, entry.Name())
		file.Size = info.Size()
		file.ModTime = info.ModTime()
		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Date != files[j].Date {
			return files[i].Date > files[j].Date
		}
		return files[i].Name < files[j].Name
	})

	s.logger.Debug("Scanned exports",
		zap.String("dir", s.basePath),
		zap.Int("found", len(files)))
	return files, nil
}

// parseExportName accepts logs-export-YYYY-MM-DD.{csv,arrow}.
func parseExportName(name string) (ExportFile, bool) {
	if !strings.HasPrefix(name, exportPrefix) {
		return ExportFile{}, false
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext != arrow.FormatCSV && ext != arrow.FormatArrow {
		return ExportFile{}, false
	}
	date := strings.TrimSuffix(strings.TrimPrefix(name, exportPrefix), "."+ext)
	if len(date) != len("2006-01-02") {
		return ExportFile{}, false
	}
	return ExportFile{Name: name, Format: ext, Date: date}, true
}

func dayOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
