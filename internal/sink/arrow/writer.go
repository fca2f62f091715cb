// Package arrow writes log exports to disk, either as the backend's CSV or
// converted to an Arrow IPC file.
package arrow

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	arrowcsv "github.com/apache/arrow/go/v17/arrow/csv"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"go.uber.org/zap"
)

const (
	FormatCSV   = "csv"
	FormatArrow = "arrow"

	manifestName = "manifest.jsonl"
	chunkRows    = 1024
)

// FileResult describes one written export file.
type FileResult struct {
	Path  string
	Rows  int64
	Bytes int64
}

// ManifestEntry is one line of the export manifest.
type ManifestEntry struct {
	Timestamp time.Time `json:"ts"`
	ExportID  string    `json:"export_id"`
	FilePath  string    `json:"file"`
	Format    string    `json:"format"`
	Count     int64     `json:"count"`
	SizeBytes int64     `json:"size_bytes"`
	StartDate string    `json:"start_date,omitempty"`
	EndDate   string    `json:"end_date,omitempty"`
}

type Writer struct {
	logger  *zap.Logger
	mu      sync.Mutex // manifest appends
	mem     memory.Allocator
	baseDir string
	now     func() time.Time
}

func NewWriter(logger *zap.Logger, baseDir string) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		logger:  logger,
		mem:     memory.NewGoAllocator(),
		baseDir: baseDir,
		now:     time.Now,
	}
}

// BaseDir is where exports and the manifest are written.
func (w *Writer) BaseDir() string {
	return w.baseDir
}

// WriteCSV copies a backend CSV export to filename unchanged.
func (w *Writer) WriteCSV(src io.Reader, filename string, meta ExportMetadata) (*FileResult, error) {
	path, err := w.prepare(filename)
	if err != nil {
		return nil, err
	}

	var rows int64
	err = writeAtomic(path, func(f *os.File) error {
		// Every byte goes through the tee; the csv reader only counts records,
		// which may span lines when a message is quoted.
		r := csv.NewReader(io.TeeReader(src, f))
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		r.ReuseRecord = true

		var records int64
		for {
			if _, err := r.Read(); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return fmt.Errorf("read csv: %w", err)
			}
			records++
		}
		if records > 0 {
			rows = records - 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return w.finish(path, FormatCSV, rows, meta)
}

// WriteArrow converts a backend CSV export into an Arrow IPC file.
func (w *Writer) WriteArrow(src io.Reader, filename string, meta ExportMetadata) (*FileResult, error) {
	path, err := w.prepare(filename)
	if err != nil {
		return nil, err
	}

	schema := GetLogExportSchema(meta)
	var rows int64
	err = writeAtomic(path, func(f *os.File) error {
		reader := arrowcsv.NewReader(src, schema,
			arrowcsv.WithHeader(true),
			arrowcsv.WithChunk(chunkRows),
			arrowcsv.WithAllocator(w.mem))
		defer reader.Release()

		fileWriter, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(w.mem))
		if err != nil {
			return fmt.Errorf("failed to create arrow file writer: %w", err)
		}

		for reader.Next() {
			record := reader.Record()
			if err := fileWriter.Write(record); err != nil {
				_ = fileWriter.Close()
				return fmt.Errorf("failed to write record: %w", err)
			}
			rows += record.NumRows()
		}
		if err := reader.Err(); err != nil {
			_ = fileWriter.Close()
			return fmt.Errorf("read csv: %w", err)
		}
		return fileWriter.Close()
	})
	if err != nil {
		return nil, err
	}

	return w.finish(path, FormatArrow, rows, meta)
}

// Manifest returns every entry recorded so far, oldest first.
func (w *Writer) Manifest() ([]ManifestEntry, error) {
	f, err := os.Open(filepath.Join(w.baseDir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	var entries []ManifestEntry
	dec := json.NewDecoder(f)
	for {
		var e ManifestEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode manifest: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (w *Writer) prepare(filename string) (string, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid export filename %q", filename)
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	return filepath.Join(w.baseDir, filename), nil
}

func (w *Writer) finish(path, format string, rows int64, meta ExportMetadata) (*FileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	entry := ManifestEntry{
		Timestamp: w.now().UTC(),
		ExportID:  meta.ExportID,
		FilePath:  path,
		Format:    format,
		Count:     rows,
		SizeBytes: info.Size(),
		StartDate: meta.StartDate,
		EndDate:   meta.EndDate,
	}
	if err := w.appendManifest(entry); err != nil {
		// the export itself is complete
		w.logger.Warn("Failed to update manifest", zap.Error(err))
	}

	w.logger.Info("Saved log export",
		zap.String("file", path),
		zap.String("format", format),
		zap.Int64("rows", rows),
		zap.Int64("size_bytes", info.Size()))

	return &FileResult{Path: path, Rows: rows, Bytes: info.Size()}, nil
}

func (w *Writer) appendManifest(entry ManifestEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(w.baseDir, manifestName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open manifest file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to manifest: %w", err)
	}
	return nil
}

// writeAtomic writes through a temp file in the same directory that is
// renamed into place only when fill succeeds. Each call gets its own temp
// file, so concurrent writes to one path never share bytes; the last rename
// wins.
func writeAtomic(path string, fill func(f *os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tempPath := f.Name()

	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
