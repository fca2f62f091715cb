package proxy

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/trade-engine/log-dashboard/internal/domain"
	"github.com/trade-engine/log-dashboard/internal/filters"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

// errBadQuery is reported to the client as 400.
type errBadQuery struct {
	msg string
}

func (e errBadQuery) Error() string { return e.msg }

func badQuery(format string, args ...any) error {
	return errBadQuery{msg: fmt.Sprintf(format, args...)}
}

// parseSelection reads the recognised filter keys from q; anything else is
// ignored and never forwarded. A missing severity or source, or the "all"
// label, leaves the field unconstrained.
func parseSelection(q url.Values) (domain.FilterSelection, error) {
	sel := domain.FilterSelection{TimeGrouping: schema.GroupByDay}

	var err error
	if sel.DateRange.From, err = parseTime(q, filters.ParamStartDate); err != nil {
		return sel, err
	}
	if sel.DateRange.To, err = parseTime(q, filters.ParamEndDate); err != nil {
		return sel, err
	}
	if q.Has(filters.ParamSeverity) {
		sel.Severity = domain.ParseSelection[schema.Severity](q.Get(filters.ParamSeverity))
	}
	if q.Has(filters.ParamSource) {
		sel.Source = domain.ParseSelection[string](q.Get(filters.ParamSource))
	}
	if q.Has(filters.ParamGroupBy) {
		g, ok := schema.ParseTimeGrouping(q.Get(filters.ParamGroupBy))
		if !ok {
			return sel, badQuery("invalid %s %q", filters.ParamGroupBy, q.Get(filters.ParamGroupBy))
		}
		sel.TimeGrouping = g
	}
	return sel, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, badQuery("invalid %s %q", key, raw)
	}
	return t, nil
}

func parseListQuery(q url.Values) (domain.ListQuery, error) {
	lq := domain.DefaultListQuery()

	var err error
	if lq.Page, err = parseInt(q, filters.ParamPage, lq.Page); err != nil {
		return lq, err
	}
	if lq.PageSize, err = parseInt(q, filters.ParamPageSize, lq.PageSize); err != nil {
		return lq, err
	}
	lq.Search = q.Get(filters.ParamSearch)
	if v := q.Get(filters.ParamSortBy); v != "" {
		lq.SortBy = v
	}
	if v := q.Get(filters.ParamSortOrder); v != "" {
		lq.SortOrder = schema.SortOrder(v)
	}
	return lq, nil
}

func parseInt(q url.Values, key string, fallback int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badQuery("invalid %s %q", key, raw)
	}
	return n, nil
}
