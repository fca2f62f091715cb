package arrow

import (
	"github.com/apache/arrow/go/v17/arrow"
)

// Column indices of the log export schema, in the order the backend writes
// its CSV.
const (
	IDIdx = iota
	TimestampIdx
	SeverityIdx
	SourceIdx
	MessageIdx
	CreatedAtIdx
)

// CSVHeader is the header row of a backend CSV export.
var CSVHeader = []string{"id", "timestamp", "severity", "source", "message", "created_at"}

// GetLogExportFields returns the fields of one exported log row.
func GetLogExportFields() []arrow.Field {
	return []arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "timestamp", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "severity", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "source", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "message", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "created_at", Type: arrow.BinaryTypes.String, Nullable: true},
	}
}

// ExportMetadata is attached to the schema of every Arrow export so the file
// records the filters that produced it.
type ExportMetadata struct {
	ExportID  string
	StartDate string
	EndDate   string
	Severity  string
	Source    string
	CreatedAt string
}

// GetLogExportSchema returns the export schema, with meta as key/value
// metadata. Empty values are left out.
func GetLogExportSchema(meta ExportMetadata) *arrow.Schema {
	var keys, values []string
	add := func(k, v string) {
		if v != "" {
			keys = append(keys, k)
			values = append(values, v)
		}
	}
	add("export_id", meta.ExportID)
	add("start_date", meta.StartDate)
	add("end_date", meta.EndDate)
	add("severity", meta.Severity)
	add("source", meta.Source)
	add("created_at", meta.CreatedAt)

	if len(keys) == 0 {
		return arrow.NewSchema(GetLogExportFields(), nil)
	}
	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(GetLogExportFields(), &md)
}
