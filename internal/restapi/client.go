// Package restapi is the HTTP client for the log service backend.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/filters"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

const (
	DefaultBaseURL   = "http://localhost:8000"
	DefaultAPIPrefix = "/api/v1"

	// SeverityCaseUpper sends severity the way the backend enum spells it.
	SeverityCaseUpper = "upper"
	// SeverityCaseVerbatim sends severity exactly as selected.
	SeverityCaseVerbatim = "verbatim"

	userAgent = "trade-engine-log-dashboard/1.0"
)

// Options configures a Client. Zero fields take defaults.
type Options struct {
	BaseURL        string
	APIPrefix      string
	Timeout        time.Duration
	RateLimits     map[Endpoint]int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SeverityCase   string
	HTTPClient     *http.Client
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.APIPrefix == "" {
		o.APIPrefix = DefaultAPIPrefix
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RateLimits == nil {
		o.RateLimits = DefaultRateLimits()
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.SeverityCase == "" {
		o.SeverityCase = SeverityCaseUpper
	}
	return o
}

// Client talks to the log service. It is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	limiter *SafeRateLimiter
	opts    Options
}

func NewClient(logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if prefix := strings.Trim(opts.APIPrefix, "/"); prefix != "" {
		baseURL += "/" + prefix
	}

	return &Client{
		baseURL: baseURL,
		client:  httpClient,
		logger:  logger,
		limiter: NewSafeRateLimiter(opts.RateLimits),
		opts:    opts,
	}
}

// BaseURL is the backend root including the API prefix.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Aggregation(ctx context.Context, f filters.AggregationFilters) (*schema.AggregationResponse, error) {
	var out schema.AggregationResponse
	if err := c.getJSON(ctx, EndpointAggregation, "/logs/logs/aggregation", f.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ChartData(ctx context.Context, f filters.ChartFilters) (*schema.ChartDataResponse, error) {
	var out schema.ChartDataResponse
	if err := c.getJSON(ctx, EndpointChartData, "/logs/logs/chart-data", f.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportCSV streams the CSV export. The caller must close the reader.
func (c *Client) ExportCSV(ctx context.Context, f filters.ExportFilters) (io.ReadCloser, error) {
	resp, err := c.do(ctx, EndpointExport, "/logs/export/csv", f.Values())
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) Metadata(ctx context.Context) (*schema.MetadataResponse, error) {
	var out schema.MetadataResponse
	if err := c.getJSON(ctx, EndpointMetadata, "/logs/metadata", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListLogs(ctx context.Context, f filters.ListFilters) (*schema.LogListResponse, error) {
	var out schema.LogListResponse
	if err := c.getJSON(ctx, EndpointList, "/logs/logs", f.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*schema.HealthResponse, error) {
	var out schema.HealthResponse
	if err := c.getJSON(ctx, EndpointHealth, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint Endpoint, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, endpoint, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// do returns the first 2xx response with its body unread. 429 and 5xx replies
// are retried with exponential backoff, honouring Retry-After.
func (c *Client) do(ctx context.Context, endpoint Endpoint, path string, query url.Values) (*http.Response, error) {
	reqURL := c.baseURL + path
	if encoded := c.encodeQuery(query); encoded != "" {
		reqURL += "?" + encoded
	}

	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}

	attempts := c.opts.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", endpoint, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", endpoint, err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("X-Request-ID", requestID)

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", endpoint, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.logger.Debug("Backend request completed",
				zap.String("endpoint", string(endpoint)),
				zap.String("request_id", requestID),
				zap.Int("status", resp.StatusCode),
				zap.Duration("elapsed", time.Since(start)))
			return resp, nil
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read %s error body: %w", endpoint, readErr)
		}

		apiErr := newAPIError(resp.StatusCode, body)
		if !apiErr.Temporary() {
			return nil, apiErr
		}
		lastErr = apiErr

		if attempt == attempts-1 {
			break
		}

		delay := c.opts.InitialBackoff << attempt
		if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
			delay = retryAfter
		}
		if delay > c.opts.MaxBackoff {
			delay = c.opts.MaxBackoff
		}

		c.logger.Warn("Backend request failed, retrying",
			zap.String("endpoint", string(endpoint)),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("too many retries for %s: %w", path, lastErr)
}

// encodeQuery applies the configured severity case.
func (c *Client) encodeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	if c.opts.SeverityCase == SeverityCaseUpper && query.Has(filters.ParamSeverity) {
		query = cloneValues(query)
		query.Set(filters.ParamSeverity, strings.ToUpper(query.Get(filters.ParamSeverity)))
	}
	return query.Encode()
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if retryTime, err := http.ParseTime(header); err == nil {
		delay := time.Until(retryTime)
		if delay > 0 {
			return delay
		}
	}
	return 0
}
