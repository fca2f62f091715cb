package domain

import (
	"time"

	"github.com/trade-engine/log-dashboard/pkg/schema"
)

// AllLabel is the literal the UI uses for "no constraint on this field".
const AllLabel = "all"

// Selection is either unconstrained (All) or constrained to one value.
// The zero value is All.
type Selection[T ~string] struct {
	value T
	set   bool
}

// All returns the unconstrained selection.
func All[T ~string]() Selection[T] {
	return Selection[T]{}
}

// Only constrains the selection to v. Only("all") is a real constraint on a
// value literally named "all"; use ParseSelection for UI input.
func Only[T ~string](v T) Selection[T] {
	return Selection[T]{value: v, set: true}
}

// ParseSelection maps the "all" label to All and anything else, including the
// empty string, to Only.
func ParseSelection[T ~string](s string) Selection[T] {
	if s == AllLabel {
		return All[T]()
	}
	return Only(T(s))
}

// Value returns the constrained value; ok is false for All.
func (s Selection[T]) Value() (T, bool) {
	return s.value, s.set
}

func (s Selection[T]) IsAll() bool {
	return !s.set
}

// String renders the UI label: "all" or the value.
func (s Selection[T]) String() string {
	if !s.set {
		return AllLabel
	}
	return string(s.value)
}

// MarshalText keeps the UI label form on the wire.
func (s Selection[T]) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Selection[T]) UnmarshalText(b []byte) error {
	*s = ParseSelection[T](string(b))
	return nil
}

// DateRange is usable only when both endpoints are set; a zero time means the
// endpoint is missing.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: from, To: to}
}

// LastDays returns [now-days, now].
func LastDays(now time.Time, days int) DateRange {
	return DateRange{From: now.AddDate(0, 0, -days), To: now}
}

func (r DateRange) Complete() bool {
	return !r.From.IsZero() && !r.To.IsZero()
}

// FilterSelection is the canonical dashboard filter state.
type FilterSelection struct {
	DateRange    DateRange                  `json:"date_range"`
	Severity     Selection[schema.Severity] `json:"severity"`
	Source       Selection[string]          `json:"source"`
	TimeGrouping schema.TimeGrouping        `json:"time_grouping"`
}

// ListQuery holds the log table parameters that sit next to the filters.
type ListQuery struct {
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
	Search    string           `json:"search"`
	SortBy    string           `json:"sort_by"`
	SortOrder schema.SortOrder `json:"sort_order"`
}

const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// SortFields are the columns the backend can order by.
var SortFields = []string{"timestamp", "severity", "source", "message"}

func DefaultListQuery() ListQuery {
	return ListQuery{
		Page:      DefaultPage,
		PageSize:  DefaultPageSize,
		SortBy:    "timestamp",
		SortOrder: schema.SortDesc,
	}
}
