package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trade-engine/log-dashboard/internal/domain"
	"github.com/trade-engine/log-dashboard/internal/state"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

// selectionFlags are the filter flags shared by export and filters.
type selectionFlags struct {
	from     string
	to       string
	severity string
	source   string
	groupBy  string
}

func (f *selectionFlags) bind(cmd *cobra.Command, withGroupBy bool) {
	cmd.Flags().StringVar(&f.from, "from", "", "Range start, RFC 3339 or YYYY-MM-DD (default: start of the default range)")
	cmd.Flags().StringVar(&f.to, "to", "", "Range end, RFC 3339 or YYYY-MM-DD (default: now)")
	cmd.Flags().StringVar(&f.severity, "severity", domain.AllLabel, "Severity level or \"all\"")
	cmd.Flags().StringVar(&f.source, "source", domain.AllLabel, "Source name or \"all\"")
	if withGroupBy {
		cmd.Flags().StringVar(&f.groupBy, "group-by", "", "Chart grouping: hour, day, week or month")
	}
}

// apply writes the flags over the state's defaults. Unset range ends keep the
// default range.
func (f *selectionFlags) apply(st *state.DashboardState) error {
	sel := st.Selection()
	r := sel.DateRange
	if f.from != "" {
		ts, err := parseFlagTime(f.from)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		r.From = ts
	}
	if f.to != "" {
		ts, err := parseFlagTime(f.to)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		r.To = ts
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return fmt.Errorf("--from %s is after --to %s", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	st.SetDateRange(r)
	st.SetSeverity(domain.ParseSelection[schema.Severity](f.severity))
	st.SetSource(domain.ParseSelection[string](f.source))

	if f.groupBy != "" {
		g := schema.TimeGrouping(f.groupBy)
		switch g {
		case schema.GroupByHour, schema.GroupByDay, schema.GroupByWeek, schema.GroupByMonth:
			st.SetTimeGrouping(g)
		default:
			return fmt.Errorf("--group-by: unknown grouping %q", f.groupBy)
		}
	}
	return nil
}

func parseFlagTime(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", v)
	}
	return ts, nil
}
