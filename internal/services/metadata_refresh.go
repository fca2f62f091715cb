package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/debounce"
	"github.com/trade-engine/log-dashboard/internal/metadata"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

// MetadataSource fetches backend metadata.
type MetadataSource interface {
	Metadata(ctx context.Context) (*schema.MetadataResponse, error)
}

const (
	DefaultMetadataTTL = 15 * time.Minute
	// retry delay after a failed refresh, capped at the TTL
	metadataRetryDelay = 30 * time.Second
)

type RefresherOption func(*MetadataRefresher)

// WithRefreshClock replaces the timer source and the wall clock.
func WithRefreshClock(clock debounce.Clock, now func() time.Time) RefresherOption {
	return func(r *MetadataRefresher) {
		if clock != nil {
			r.clock = clock
		}
		if now != nil {
			r.now = now
		}
	}
}

// MetadataRefresher keeps a metadata snapshot no older than its TTL. At most
// one refresh timer is pending at a time.
type MetadataRefresher struct {
	logger   *zap.Logger
	source   MetadataSource
	snapshot *metadata.Snapshot
	path     string
	ttl      time.Duration
	clock    debounce.Clock
	now      func() time.Time

	fetchLock sync.Mutex

	mu      sync.Mutex
	timer   debounce.Timer
	ctx     context.Context
	stopped bool
}

// NewMetadataRefresher loads the snapshot stored at path, if any.
func NewMetadataRefresher(logger *zap.Logger, source MetadataSource, path string, ttl time.Duration, opts ...RefresherOption) (*MetadataRefresher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultMetadataTTL
	}

	snapshot, err := metadata.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load metadata snapshot: %w", err)
	}

	r := &MetadataRefresher{
		logger:   logger,
		source:   source,
		snapshot: snapshot,
		path:     path,
		ttl:      ttl,
		clock:    debounce.RealClock,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Snapshot returns the live snapshot; it is updated in place on refresh.
func (r *MetadataRefresher) Snapshot() *metadata.Snapshot {
	return r.snapshot
}

// Start refreshes immediately when the stored snapshot is stale, then keeps
// refreshing every TTL until Stop or ctx is done.
func (r *MetadataRefresher) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.stopped = false
	r.mu.Unlock()

	now := r.now()
	if !r.snapshot.Stale(now, r.ttl) {
		next := r.ttl - r.snapshot.Age(now)
		r.logger.Info("Metadata snapshot is fresh",
			zap.Duration("age", r.snapshot.Age(now)),
			zap.Duration("next_refresh", next))
		r.schedule(next)
		return
	}

	r.refreshAndReschedule()
}

// Refresh fetches metadata now and persists it. The snapshot is left
// untouched on error.
func (r *MetadataRefresher) Refresh(ctx context.Context) error {
	r.fetchLock.Lock()
	defer r.fetchLock.Unlock()

	resp, err := r.source.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}

	r.snapshot.Update(resp, r.now())
	if r.path != "" {
		if err := r.snapshot.Save(r.path); err != nil {
			r.logger.Warn("failed to save metadata snapshot", zap.Error(err))
		}
	}

	r.logger.Info("Metadata refreshed",
		zap.Int("sources", len(resp.Sources)),
		zap.Int("total_logs", resp.TotalLogs))
	return nil
}

// Stop cancels the pending refresh. A refresh already running completes but
// does not reschedule.
func (r *MetadataRefresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *MetadataRefresher) refreshAndReschedule() {
	r.mu.Lock()
	ctx, stopped := r.ctx, r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	next := r.ttl
	if err := r.Refresh(ctx); err != nil {
		next = min(metadataRetryDelay, r.ttl)
		r.logger.Warn("Metadata refresh failed", zap.Error(err), zap.Duration("retry_in", next))
	}
	r.schedule(next)
}

func (r *MetadataRefresher) schedule(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.clock.AfterFunc(d, r.refreshAndReschedule)
}
