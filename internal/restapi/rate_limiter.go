package restapi

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint names a backend route with its own rate limit.
type Endpoint string

const (
	EndpointAggregation Endpoint = "aggregation"
	EndpointChartData   Endpoint = "chart_data"
	EndpointExport      Endpoint = "export"
	EndpointMetadata    Endpoint = "metadata"
	EndpointList        Endpoint = "list"
	EndpointHealth      Endpoint = "health"
)

// Endpoints lists every rate-limited route.
func Endpoints() []Endpoint {
	return []Endpoint{
		EndpointAggregation,
		EndpointChartData,
		EndpointExport,
		EndpointMetadata,
		EndpointList,
		EndpointHealth,
	}
}

// DefaultRateLimits are requests per minute. Export streams large bodies and
// gets the tightest budget.
func DefaultRateLimits() map[Endpoint]int {
	return map[Endpoint]int{
		EndpointAggregation: 120,
		EndpointChartData:   120,
		EndpointExport:      12,
		EndpointMetadata:    30,
		EndpointList:        240,
		EndpointHealth:      60,
	}
}

// SafeRateLimiter holds one token bucket per endpoint.
type SafeRateLimiter struct {
	limiters map[Endpoint]*rate.Limiter
	fallback *rate.Limiter
}

// NewSafeRateLimiter builds limiters from requests-per-minute values. A value
// of zero or less disables limiting for that endpoint. Endpoints missing from
// perMinute share the most conservative configured limit.
func NewSafeRateLimiter(perMinute map[Endpoint]int) *SafeRateLimiter {
	s := &SafeRateLimiter{limiters: make(map[Endpoint]*rate.Limiter, len(perMinute))}

	slowest := 0
	for endpoint, n := range perMinute {
		s.limiters[endpoint] = newLimiter(n)
		if n > 0 && (slowest == 0 || n < slowest) {
			slowest = n
		}
	}
	s.fallback = newLimiter(slowest)
	return s
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Wait blocks until the endpoint's limiter allows a request.
func (s *SafeRateLimiter) Wait(ctx context.Context, endpoint Endpoint) error {
	return s.limiter(endpoint).Wait(ctx)
}

// Allow checks if a request is allowed without waiting.
func (s *SafeRateLimiter) Allow(endpoint Endpoint) bool {
	return s.limiter(endpoint).Allow()
}

func (s *SafeRateLimiter) limiter(endpoint Endpoint) *rate.Limiter {
	if limiter, ok := s.limiters[endpoint]; ok {
		return limiter
	}
	return s.fallback
}
