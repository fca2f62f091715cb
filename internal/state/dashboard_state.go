package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/domain"
	"github.com/trade-engine/log-dashboard/internal/filters"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

// Notifier shows a notification to the user.
type Notifier interface {
	Notify(n domain.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(domain.Notification)

func (f NotifierFunc) Notify(n domain.Notification) { f(n) }

// MultiNotifier fans a notification out to every non-nil notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n domain.Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// LogNotifier writes notifications to the logger.
func LogNotifier(logger *zap.Logger) Notifier {
	return NotifierFunc(func(n domain.Notification) {
		logger.Info("Notification",
			zap.String("level", string(n.Level)),
			zap.String("title", n.Title),
			zap.String("description", n.Description))
	})
}

// Defaults are the values a new or reset dashboard starts from.
type Defaults struct {
	RangeDays    int
	TimeGrouping schema.TimeGrouping
}

func DefaultDefaults() Defaults {
	return Defaults{RangeDays: 7, TimeGrouping: schema.GroupByDay}
}

type Option func(*DashboardState)

// WithClock sets the time source used for default ranges and filenames.
func WithClock(now func() time.Time) Option {
	return func(s *DashboardState) {
		if now != nil {
			s.now = now
		}
	}
}

func WithDefaults(d Defaults) Option {
	return func(s *DashboardState) {
		if d.RangeDays > 0 {
			s.defaults.RangeDays = d.RangeDays
		}
		if d.TimeGrouping != "" {
			s.defaults.TimeGrouping = d.TimeGrouping
		}
	}
}

// DashboardState owns the filter selection of one dashboard view. Setters
// replace a single field; the derived query shapes are computed on every call.
type DashboardState struct {
	logger   *zap.Logger
	notifier Notifier
	now      func() time.Time
	defaults Defaults

	mu        sync.RWMutex
	selection domain.FilterSelection
	list      domain.ListQuery

	callbacksMu sync.Mutex
	callbacks   []func()
}

func NewDashboardState(logger *zap.Logger, notifier Notifier, opts ...Option) *DashboardState {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DashboardState{
		logger:   logger,
		notifier: notifier,
		now:      time.Now,
		defaults: DefaultDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.selection = s.defaultSelection()
	s.list = domain.DefaultListQuery()
	return s
}

func (s *DashboardState) defaultSelection() domain.FilterSelection {
	return domain.FilterSelection{
		DateRange:    domain.LastDays(s.now(), s.defaults.RangeDays),
		Severity:     domain.All[schema.Severity](),
		Source:       domain.All[string](),
		TimeGrouping: s.defaults.TimeGrouping,
	}
}

// RegisterChangeCallback runs callback after every mutation, outside any lock.
func (s *DashboardState) RegisterChangeCallback(callback func()) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

func (s *DashboardState) changed() {
	s.callbacksMu.Lock()
	callbacks := append([]func(){}, s.callbacks...)
	s.callbacksMu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
}

func (s *DashboardState) update(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	s.changed()
}

// Filter management

func (s *DashboardState) SetDateRange(r domain.DateRange) {
	s.update(func() { s.selection.DateRange = r })
}

func (s *DashboardState) SetSeverity(sel domain.Selection[schema.Severity]) {
	s.update(func() { s.selection.Severity = sel })
}

func (s *DashboardState) SetSource(sel domain.Selection[string]) {
	s.update(func() { s.selection.Source = sel })
}

func (s *DashboardState) SetTimeGrouping(g schema.TimeGrouping) {
	s.update(func() { s.selection.TimeGrouping = g })
}

func (s *DashboardState) Selection() domain.FilterSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// Log table management

// SetSearch stores the settled search text and returns to the first page.
func (s *DashboardState) SetSearch(search string) {
	s.update(func() {
		s.list.Search = search
		s.list.Page = domain.DefaultPage
	})
}

func (s *DashboardState) Search() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.Search
}

func (s *DashboardState) SetPage(page int) {
	s.update(func() { s.list.Page = page })
}

func (s *DashboardState) SetPageSize(size int) {
	s.update(func() {
		s.list.PageSize = size
		s.list.Page = domain.DefaultPage
	})
}

func (s *DashboardState) SetSort(field string, order schema.SortOrder) {
	s.update(func() {
		s.list.SortBy = field
		s.list.SortOrder = order
	})
}

func (s *DashboardState) ListQuery() domain.ListQuery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list
}

// ResetFilters restores the defaults, with the date range ending now, and
// tells the user about it.
func (s *DashboardState) ResetFilters() {
	s.update(func() {
		s.selection = s.defaultSelection()
		s.list = domain.DefaultListQuery()
	})

	s.logger.Info("Filters reset to defaults",
		zap.Int("range_days", s.defaults.RangeDays),
		zap.String("group_by", string(s.defaults.TimeGrouping)))

	if s.notifier != nil {
		s.notifier.Notify(domain.Notification{
			ID:          uuid.New().String(),
			Level:       domain.NotificationInfo,
			Title:       "Filters reset",
			Description: "All filters have been reset to default values",
			Time:        s.now().UTC(),
		})
	}
}

// Derived query shapes

func (s *DashboardState) AggregationFilters() (filters.AggregationFilters, bool) {
	return filters.CreateAggregationFilters(s.Selection())
}

func (s *DashboardState) ChartDataFilters() (filters.ChartFilters, bool) {
	return filters.CreateChartFilters(s.Selection())
}

func (s *DashboardState) ExportFilters() (filters.ExportFilters, bool) {
	return filters.CreateExportFilters(s.Selection())
}

func (s *DashboardState) ListFilters() filters.ListFilters {
	s.mu.RLock()
	sel, q := s.selection, s.list
	s.mu.RUnlock()
	return filters.CreateListFilters(sel, q)
}

// ExportFilename is dated with the current UTC day, not the filter range.
func (s *DashboardState) ExportFilename() string {
	return ExportFilename(s.now(), "csv")
}

// CanExport is true only when both ends of the date range are set.
func (s *DashboardState) CanExport() bool {
	return s.Selection().DateRange.Complete()
}

// ExportFilename builds logs-export-YYYY-MM-DD.<ext>.
func ExportFilename(now time.Time, ext string) string {
	return "logs-export-" + now.UTC().Format("2006-01-02") + "." + ext
}

// Snapshot is the full view state with every derived shape; shapes that
// cannot be built are nil.
type Snapshot struct {
	Selection          domain.FilterSelection      `json:"selection"`
	List               domain.ListQuery            `json:"list"`
	AggregationFilters *filters.AggregationFilters `json:"aggregation_filters"`
	ChartFilters       *filters.ChartFilters       `json:"chart_filters"`
	ExportFilters      *filters.ExportFilters      `json:"export_filters"`
	ListFilters        filters.ListFilters         `json:"list_filters"`
	CanExport          bool                        `json:"can_export"`
	ExportFilename     string                      `json:"export_filename"`
}

func (s *DashboardState) Snapshot() Snapshot {
	s.mu.RLock()
	sel, q := s.selection, s.list
	s.mu.RUnlock()

	snap := Snapshot{
		Selection:      sel,
		List:           q,
		ListFilters:    filters.CreateListFilters(sel, q),
		CanExport:      sel.DateRange.Complete(),
		ExportFilename: ExportFilename(s.now(), "csv"),
	}
	if agg, ok := filters.CreateAggregationFilters(sel); ok {
		snap.AggregationFilters = &agg
	}
	if chart, ok := filters.CreateChartFilters(sel); ok {
		snap.ChartFilters = &chart
	}
	if exp, ok := filters.CreateExportFilters(sel); ok {
		snap.ExportFilters = &exp
	}
	return snap
}
