package schema

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Severities lists the recognised levels from least to most severe.
func Severities() []Severity {
	return []Severity{SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}
}

// ParseSeverity matches a level case-insensitively. Unknown input is reported
// with ok=false; callers decide whether to pass it through anyway.
func ParseSeverity(s string) (Severity, bool) {
	lower := Severity(strings.ToLower(strings.TrimSpace(s)))
	for _, sev := range Severities() {
		if sev == lower {
			return sev, true
		}
	}
	return Severity(s), false
}

type TimeGrouping string

const (
	GroupByHour  TimeGrouping = "hour"
	GroupByDay   TimeGrouping = "day"
	GroupByWeek  TimeGrouping = "week"
	GroupByMonth TimeGrouping = "month"
)

func TimeGroupings() []TimeGrouping {
	return []TimeGrouping{GroupByHour, GroupByDay, GroupByWeek, GroupByMonth}
}

func ParseTimeGrouping(s string) (TimeGrouping, bool) {
	g := TimeGrouping(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TimeGroupings() {
		if known == g {
			return g, true
		}
	}
	return g, false
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type LogEntry struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LogListResponse struct {
	Logs       []LogEntry `json:"logs"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}

type CountByDate struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type CountBySeverity struct {
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

type CountBySource struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

type AggregationResponse struct {
	TotalLogs      int               `json:"total_logs"`
	DateRangeStart *time.Time        `json:"date_range_start"`
	DateRangeEnd   *time.Time        `json:"date_range_end"`
	BySeverity     []CountBySeverity `json:"by_severity"`
	BySource       []CountBySource   `json:"by_source"`
	ByDate         []CountByDate     `json:"by_date"`
}

// ChartDataPoint is one time bucket; per-level counts use the backend's
// upper-case keys.
type ChartDataPoint struct {
	Timestamp string `json:"timestamp"`
	Total     int    `json:"total"`
	Debug     int    `json:"DEBUG"`
	Info      int    `json:"INFO"`
	Warning   int    `json:"WARNING"`
	Error     int    `json:"ERROR"`
	Critical  int    `json:"CRITICAL"`
}

type ChartDataResponse struct {
	Data      []ChartDataPoint   `json:"data"`
	GroupBy   TimeGrouping       `json:"group_by"`
	StartDate *time.Time         `json:"start_date"`
	EndDate   *time.Time         `json:"end_date"`
	Filters   map[string]*string `json:"filters"`
}

type DateRangeMetadata struct {
	Earliest *string `json:"earliest"`
	Latest   *string `json:"latest"`
}

type PaginationMetadata struct {
	DefaultPageSize int `json:"default_page_size"`
	MaxPageSize     int `json:"max_page_size"`
}

type MetadataResponse struct {
	SeverityLevels []string           `json:"severity_levels"`
	Sources        []string           `json:"sources"`
	DateRange      DateRangeMetadata  `json:"date_range"`
	SeverityStats  map[string]int     `json:"severity_stats"`
	TotalLogs      int                `json:"total_logs"`
	SortFields     []string           `json:"sort_fields"`
	Pagination     PaginationMetadata `json:"pagination"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorType string `json:"error_type,omitempty"`
}
