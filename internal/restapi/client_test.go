package restapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trade-engine/log-dashboard/internal/domain"
	"github.com/trade-engine/log-dashboard/internal/filters"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

func testSelection() domain.FilterSelection {
	return domain.FilterSelection{
		DateRange: domain.NewDateRange(
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)),
		Severity:     domain.Only(schema.SeverityError),
		Source:       domain.Only("web-server"),
		TimeGrouping: schema.GroupByDay,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	if opts.RateLimits == nil {
		opts.RateLimits = map[Endpoint]int{}
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
	}
	return NewClient(nil, opts)
}

func TestClient_Aggregation(t *testing.T) {
	var gotPath, gotQuery, gotRequestID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"total_logs": 3,
			"by_severity": [{"severity": "ERROR", "count": 3}],
			"by_source": [{"source": "web-server", "count": 3}],
			"by_date": [{"date": "2024-01-02", "count": 3}]
		}`)
	}, Options{})

	f, ok := filters.CreateAggregationFilters(testSelection())
	require.True(t, ok)

	ctx := WithRequestID(context.Background(), "req-123")
	resp, err := c.Aggregation(ctx, f)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/logs/logs/aggregation", gotPath)
	assert.Equal(t, "end_date=2024-01-08T00%3A00%3A00.000Z&severity=ERROR&source=web-server&start_date=2024-01-01T00%3A00%3A00.000Z", gotQuery)
	assert.Equal(t, "req-123", gotRequestID)
	assert.Equal(t, 3, resp.TotalLogs)
	require.Len(t, resp.BySeverity, 1)
	assert.Equal(t, "ERROR", resp.BySeverity[0].Severity)
}

func TestClient_SeverityVerbatim(t *testing.T) {
	var severity string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		severity = r.URL.Query().Get("severity")
		_, _ = io.WriteString(w, `{"data": [], "group_by": "day"}`)
	}, Options{SeverityCase: SeverityCaseVerbatim})

	f, ok := filters.CreateChartFilters(testSelection())
	require.True(t, ok)

	resp, err := c.ChartData(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "error", severity)
	assert.Equal(t, schema.GroupByDay, resp.GroupBy)
}

func TestClient_GeneratesRequestID(t *testing.T) {
	var id string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		id = r.Header.Get("X-Request-ID")
		_, _ = io.WriteString(w, `{"status": "healthy", "message": "ok", "version": "1.0.0"}`)
	}, Options{})

	resp, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
	assert.Len(t, id, 36)
}

func TestClient_ExportCSVStreamsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/logs/export/csv", r.URL.Path)
		assert.False(t, r.URL.Query().Has("severity"))
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "id,timestamp,severity,source,message,created_at\n")
	}, Options{})

	sel := testSelection()
	sel.Severity = domain.All[schema.Severity]()
	f, ok := filters.CreateExportFilters(sel)
	require.True(t, ok)

	body, err := c.ExportCSV(context.Background(), f)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "id,timestamp,severity,source,message,created_at\n", string(data))
}

func TestClient_APIErrorDetail(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{
			name:       "string detail",
			status:     http.StatusNotFound,
			body:       `{"detail": "Log entry not found"}`,
			wantDetail: "Log entry not found",
		},
		{
			name:       "validation detail",
			status:     http.StatusUnprocessableEntity,
			body:       `{"detail":[{"msg":"start_date must be before end_date"}]}`,
			wantDetail: `[{"msg":"start_date must be before end_date"}]`,
		},
		{
			name:       "plain text",
			status:     http.StatusBadRequest,
			body:       "bad things",
			wantDetail: "bad things",
		},
		{
			name:       "empty body",
			status:     http.StatusForbidden,
			body:       "",
			wantDetail: "Forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, Options{MaxRetries: 3})

			_, err := c.Metadata(context.Background())
			require.Error(t, err)

			apiErr, ok := AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantDetail, apiErr.Detail)
			assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"logs": [], "total": 0, "page": 1, "page_size": 50, "total_pages": 0}`)
	}, Options{MaxRetries: 3})

	resp, err := c.ListLogs(context.Background(), filters.CreateListFilters(testSelection(), domain.DefaultListQuery()))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"detail": "slow down"}`)
	}, Options{MaxRetries: 2})

	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "slow down", apiErr.Detail)
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, Options{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Health(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClient_BaseURL(t *testing.T) {
	c := NewClient(nil, Options{BaseURL: "http://backend:8000/", APIPrefix: "api/v1/"})
	assert.Equal(t, "http://backend:8000/api/v1", c.BaseURL())

	c = NewClient(nil, Options{BaseURL: "http://backend:8000", APIPrefix: "/"})
	assert.Equal(t, "http://backend:8000", c.BaseURL())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("garbage"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	assert.InDelta(t, float64(time.Minute), float64(parseRetryAfter(future)), float64(2*time.Second))
}

func TestSafeRateLimiter(t *testing.T) {
	l := NewSafeRateLimiter(map[Endpoint]int{EndpointExport: 1, EndpointList: 0})

	assert.True(t, l.Allow(EndpointExport))
	assert.False(t, l.Allow(EndpointExport))

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(EndpointList))
	}

	// unknown endpoints share the slowest configured limit
	assert.True(t, l.Allow(EndpointHealth))
	assert.False(t, l.Allow(EndpointHealth))
}
