// Package filters turns a dashboard FilterSelection into the parameter
// shapes the backend aggregation, chart and export endpoints accept.
package filters

import (
	"net/url"
	"strconv"
	"time"

	"github.com/trade-engine/log-dashboard/internal/domain"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Query parameter names shared with the backend.
const (
	ParamStartDate = "start_date"
	ParamEndDate   = "end_date"
	ParamSeverity  = "severity"
	ParamSource    = "source"
	ParamGroupBy   = "group_by"
	ParamPage      = "page"
	ParamPageSize  = "page_size"
	ParamSearch    = "search"
	ParamSortBy    = "sort_by"
	ParamSortOrder = "sort_order"
)

type BaseDateFilters struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// AggregationFilters leaves Severity and Source nil when unconstrained; an
// empty Source string is a real filter value.
type AggregationFilters struct {
	BaseDateFilters
	Severity *schema.Severity `json:"severity,omitempty"`
	Source   *string          `json:"source,omitempty"`
}

type ChartFilters struct {
	AggregationFilters
	GroupBy schema.TimeGrouping `json:"group_by"`
}

type ExportFilters AggregationFilters

// ListFilters feeds the paged log table. Unlike the other shapes the date
// range is optional here.
type ListFilters struct {
	StartDate *string          `json:"start_date,omitempty"`
	EndDate   *string          `json:"end_date,omitempty"`
	Severity  *schema.Severity `json:"severity,omitempty"`
	Source    *string          `json:"source,omitempty"`
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
	Search    *string          `json:"search,omitempty"`
	SortBy    string           `json:"sort_by"`
	SortOrder schema.SortOrder `json:"sort_order"`
}

// FormatTimestamp renders t the way start_date and end_date are sent.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ProcessSeverityFilter returns nil for All. chartMode does not change the
// result; it is accepted so chart and aggregation callers share one call.
func ProcessSeverityFilter(sel domain.Selection[schema.Severity], chartMode bool) *schema.Severity {
	v, ok := sel.Value()
	if !ok {
		return nil
	}
	return &v
}

// ProcessSourceFilter returns nil for All and the source verbatim otherwise.
func ProcessSourceFilter(sel domain.Selection[string]) *string {
	v, ok := sel.Value()
	if !ok {
		return nil
	}
	return &v
}

// CreateBaseDateFilters reports ok=false when either endpoint is missing; the
// caller must not issue a query in that case.
func CreateBaseDateFilters(r domain.DateRange) (BaseDateFilters, bool) {
	if !r.Complete() {
		return BaseDateFilters{}, false
	}
	return BaseDateFilters{
		StartDate: FormatTimestamp(r.From),
		EndDate:   FormatTimestamp(r.To),
	}, true
}

func CreateAggregationFilters(sel domain.FilterSelection) (AggregationFilters, bool) {
	return createAggregationFilters(sel, false)
}

func CreateChartFilters(sel domain.FilterSelection) (ChartFilters, bool) {
	agg, ok := createAggregationFilters(sel, true)
	if !ok {
		return ChartFilters{}, false
	}
	return ChartFilters{AggregationFilters: agg, GroupBy: sel.TimeGrouping}, true
}

func CreateExportFilters(sel domain.FilterSelection) (ExportFilters, bool) {
	agg, ok := createAggregationFilters(sel, false)
	if !ok {
		return ExportFilters{}, false
	}
	return ExportFilters(agg), true
}

func createAggregationFilters(sel domain.FilterSelection, chartMode bool) (AggregationFilters, bool) {
	base, ok := CreateBaseDateFilters(sel.DateRange)
	if !ok {
		return AggregationFilters{}, false
	}
	return AggregationFilters{
		BaseDateFilters: base,
		Severity:        ProcessSeverityFilter(sel.Severity, chartMode),
		Source:          ProcessSourceFilter(sel.Source),
	}, true
}

// CreateListFilters never fails: page bounds are clamped and a partial date
// range is dropped.
func CreateListFilters(sel domain.FilterSelection, q domain.ListQuery) ListFilters {
	lf := ListFilters{
		Severity:  ProcessSeverityFilter(sel.Severity, false),
		Source:    ProcessSourceFilter(sel.Source),
		Page:      q.Page,
		PageSize:  q.PageSize,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	}
	if base, ok := CreateBaseDateFilters(sel.DateRange); ok {
		lf.StartDate = &base.StartDate
		lf.EndDate = &base.EndDate
	}
	if q.Search != "" {
		search := q.Search
		lf.Search = &search
	}
	if lf.Page < 1 {
		lf.Page = domain.DefaultPage
	}
	if lf.PageSize < 1 {
		lf.PageSize = domain.DefaultPageSize
	}
	if lf.PageSize > domain.MaxPageSize {
		lf.PageSize = domain.MaxPageSize
	}
	if lf.SortBy == "" {
		lf.SortBy = "timestamp"
	}
	if lf.SortOrder != schema.SortAsc {
		lf.SortOrder = schema.SortDesc
	}
	return lf
}

// Values encodes the filters as a query string; absent fields are omitted.
func (f AggregationFilters) Values() url.Values {
	v := url.Values{}
	v.Set(ParamStartDate, f.StartDate)
	v.Set(ParamEndDate, f.EndDate)
	if f.Severity != nil {
		v.Set(ParamSeverity, string(*f.Severity))
	}
	if f.Source != nil {
		v.Set(ParamSource, *f.Source)
	}
	return v
}

func (f ChartFilters) Values() url.Values {
	v := f.AggregationFilters.Values()
	v.Set(ParamGroupBy, string(f.GroupBy))
	return v
}

func (f ExportFilters) Values() url.Values {
	return AggregationFilters(f).Values()
}

func (f ListFilters) Values() url.Values {
	v := url.Values{}
	if f.StartDate != nil {
		v.Set(ParamStartDate, *f.StartDate)
	}
	if f.EndDate != nil {
		v.Set(ParamEndDate, *f.EndDate)
	}
	if f.Severity != nil {
		v.Set(ParamSeverity, string(*f.Severity))
	}
	if f.Source != nil {
		v.Set(ParamSource, *f.Source)
	}
	if f.Search != nil {
		v.Set(ParamSearch, *f.Search)
	}
	v.Set(ParamPage, strconv.Itoa(f.Page))
	v.Set(ParamPageSize, strconv.Itoa(f.PageSize))
	v.Set(ParamSortBy, f.SortBy)
	v.Set(ParamSortOrder, string(f.SortOrder))
	return v
}
