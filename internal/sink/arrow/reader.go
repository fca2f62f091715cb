package arrow

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"go.uber.org/zap"
)

// Row is one exported log line read back from an Arrow file.
type Row struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Severity  string `json:"severity"`
	Source    string `json:"source"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// Summary describes an Arrow export file.
type Summary struct {
	FileSize     int64             `json:"file_size"`
	TotalRecords int64             `json:"total_records"`
	NumBatches   int               `json:"num_batches"`
	Fields       []string          `json:"fields"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type FileReader struct {
	logger *zap.Logger
	mem    memory.Allocator
}

func NewFileReader(logger *zap.Logger) *FileReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileReader{
		logger: logger,
		mem:    memory.NewGoAllocator(),
	}
}

// ReadSummary counts rows and batches without materialising values.
func (r *FileReader) ReadSummary(filePath string) (*Summary, error) {
	var summary *Summary
	err := r.withReader(filePath, func(reader *ipc.FileReader, size int64) error {
		schema := reader.Schema()
		summary = &Summary{
			FileSize:   size,
			NumBatches: reader.NumRecords(),
		}
		for _, f := range schema.Fields() {
			summary.Fields = append(summary.Fields, f.Name)
		}
		if md := schema.Metadata(); md.Len() > 0 {
			summary.Metadata = make(map[string]string, md.Len())
			for i, k := range md.Keys() {
				summary.Metadata[k] = md.Values()[i]
			}
		}
		for i := 0; i < reader.NumRecords(); i++ {
			record, err := reader.RecordAt(i)
			if err != nil {
				return fmt.Errorf("failed to read batch %d: %w", i, err)
			}
			summary.TotalRecords += record.NumRows()
			record.Release()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("File summary completed",
		zap.String("file", filePath),
		zap.Int64("total_records", summary.TotalRecords),
		zap.Int("num_batches", summary.NumBatches))
	return summary, nil
}

// ReadRows returns up to limit rows from the start of the file; limit <= 0
// reads everything.
func (r *FileReader) ReadRows(filePath string, limit int) ([]Row, error) {
	var rows []Row
	err := r.withReader(filePath, func(reader *ipc.FileReader, _ int64) error {
		for i := 0; i < reader.NumRecords(); i++ {
			record, err := reader.RecordAt(i)
			if err != nil {
				return fmt.Errorf("failed to read batch %d: %w", i, err)
			}
			batch, err := recordRows(record)
			record.Release()
			if err != nil {
				return err
			}
			rows = append(rows, batch...)
			if limit > 0 && len(rows) >= limit {
				rows = rows[:limit]
				return nil
			}
		}
		return nil
	})
	return rows, err
}

func (r *FileReader) withReader(filePath string, fn func(reader *ipc.FileReader, size int64) error) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	reader, err := ipc.NewFileReader(file, ipc.WithAllocator(r.mem))
	if err != nil {
		return fmt.Errorf("failed to create arrow file reader: %w", err)
	}
	defer reader.Close()

	return fn(reader, stat.Size())
}

func recordRows(record arrow.Record) ([]Row, error) {
	if int(record.NumCols()) != len(GetLogExportFields()) {
		return nil, fmt.Errorf("unexpected column count %d", record.NumCols())
	}
	ids, ok := record.Column(IDIdx).(*array.Int64)
	if !ok {
		return nil, fmt.Errorf("column id has type %s", record.Column(IDIdx).DataType())
	}
	str := func(idx int) (*array.String, error) {
		col, ok := record.Column(idx).(*array.String)
		if !ok {
			return nil, fmt.Errorf("column %s has type %s", record.ColumnName(idx), record.Column(idx).DataType())
		}
		return col, nil
	}

	cols := make([]*array.String, 0, 5)
	for _, idx := range []int{TimestampIdx, SeverityIdx, SourceIdx, MessageIdx, CreatedAtIdx} {
		col, err := str(idx)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}

	rows := make([]Row, record.NumRows())
	for i := range rows {
		rows[i] = Row{
			ID:        ids.Value(i),
			Timestamp: cols[0].Value(i),
			Severity:  cols[1].Value(i),
			Source:    cols[2].Value(i),
			Message:   cols[3].Value(i),
			CreatedAt: cols[4].Value(i),
		}
	}
	return rows, nil
}
