package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/sink/arrow"
)

// PageData is one page of rows from an Arrow export.
type PageData struct {
	Rows       []arrow.Row `json:"rows"`
	PageNumber int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalRows  int64       `json:"total_rows"`
	TotalPages int         `json:"total_pages"`
	HasNext    bool        `json:"has_next"`
	HasPrev    bool        `json:"has_prev"`
}

// ExportReader pages through Arrow exports.
type ExportReader struct {
	logger      *zap.Logger
	arrowReader *arrow.FileReader
}

func NewExportReader(logger *zap.Logger) *ExportReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportReader{
		logger:      logger,
		arrowReader: arrow.NewFileReader(logger),
	}
}

// ReadPage returns page pageNumber (1-based) of size pageSize.
func (r *ExportReader) ReadPage(filePath string, pageNumber, pageSize int) (*PageData, error) {
	if pageNumber < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d of size %d", pageNumber, pageSize)
	}

	summary, err := r.arrowReader.ReadSummary(filePath)
	if err != nil {
		r.logger.Error("Failed to read Arrow file summary",
			zap.String("file", filePath),
			zap.Error(err))
		return nil, err
	}

	rows, err := r.arrowReader.ReadRows(filePath, pageNumber*pageSize)
	if err != nil {
		r.logger.Error("Failed to read Arrow file with pagination",
			zap.String("file", filePath),
			zap.Int("page", pageNumber),
			zap.Error(err))
		return nil, err
	}

	start := (pageNumber - 1) * pageSize
	if start > len(rows) {
		start = len(rows)
	}
	totalPages := int((summary.TotalRecords + int64(pageSize) - 1) / int64(pageSize))

	return &PageData{
		Rows:       rows[start:],
		PageNumber: pageNumber,
		PageSize:   pageSize,
		TotalRows:  summary.TotalRecords,
		TotalPages: totalPages,
		HasNext:    pageNumber < totalPages,
		HasPrev:    pageNumber > 1,
	}, nil
}

// Summary describes an Arrow export without reading its values.
func (r *ExportReader) Summary(filePath string) (*arrow.Summary, error) {
	return r.arrowReader.ReadSummary(filePath)
}
