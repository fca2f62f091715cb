package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// filtersOutput mirrors what the dashboard would send for the selection.
type filtersOutput struct {
	Aggregation any    `json:"aggregation_filters"`
	Chart       any    `json:"chart_filters"`
	Export      any    `json:"export_filters"`
	Query       string `json:"chart_query,omitempty"`
	CanExport   bool   `json:"can_export"`
	Filename    string `json:"export_filename"`
}

func newFiltersCmd(flags *rootFlags) *cobra.Command {
	sel := &selectionFlags{}
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Print the aggregation, chart and export filters for a selection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			st := newDashboardState(cfg, zap.NewNop(), nil)
			if err := sel.apply(st); err != nil {
				return err
			}

			out := filtersOutput{
				CanExport: st.CanExport(),
				Filename:  st.ExportFilename(),
			}
			if f, ok := st.AggregationFilters(); ok {
				out.Aggregation = f
			}
			if f, ok := st.ChartDataFilters(); ok {
				out.Chart = f
				out.Query = f.Values().Encode()
			}
			if f, ok := st.ExportFilters(); ok {
				out.Export = f
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	sel.bind(cmd, true)
	return cmd
}
