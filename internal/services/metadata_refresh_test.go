package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trade-engine/log-dashboard/internal/debounce/debouncetest"
	"github.com/trade-engine/log-dashboard/internal/metadata"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

type fakeMetadataSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeMetadataSource) Metadata(context.Context) (*schema.MetadataResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &schema.MetadataResponse{
		SeverityLevels: []string{"DEBUG", "INFO"},
		Sources:        []string{"api"},
		TotalLogs:      f.calls,
	}, nil
}

func (f *fakeMetadataSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeMetadataSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

var refreshBase = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRefresher(t *testing.T, src MetadataSource, path string, ttl time.Duration) (*MetadataRefresher, *debouncetest.Clock) {
	t.Helper()
	clock := debouncetest.NewClock()
	now := func() time.Time { return refreshBase.Add(clock.Now()) }
	r, err := NewMetadataRefresher(nil, src, path, ttl, WithRefreshClock(clock, now))
	require.NoError(t, err)
	return r, clock
}

func TestMetadataRefresher_StartRefreshesStaleSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	src := &fakeMetadataSource{}
	r, clock := newTestRefresher(t, src, path, 10*time.Minute)

	r.Start(context.Background())
	defer r.Stop()

	assert.Equal(t, 1, src.count())
	assert.Equal(t, 1, clock.Pending())
	assert.Equal(t, refreshBase, r.Snapshot().FetchedAt)

	saved, err := metadata.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, saved.Sources)

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 2, src.count())
	assert.Equal(t, 2, r.Snapshot().TotalLogs)
	assert.Equal(t, 1, clock.Pending())
}

func TestMetadataRefresher_FreshSnapshotWaitsForRemainder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	stored := &metadata.Snapshot{}
	stored.Update(&schema.MetadataResponse{Sources: []string{"cached"}}, refreshBase.Add(-4*time.Minute))
	require.NoError(t, stored.Save(path))

	src := &fakeMetadataSource{}
	r, clock := newTestRefresher(t, src, path, 10*time.Minute)
	assert.True(t, r.Snapshot().HasSource("cached"))

	r.Start(context.Background())
	defer r.Stop()
	assert.Equal(t, 0, src.count())

	clock.Advance(5*time.Minute + 59*time.Second)
	assert.Equal(t, 0, src.count())
	clock.Advance(time.Second)
	assert.Equal(t, 1, src.count())
	assert.False(t, r.Snapshot().HasSource("cached"))
}

func TestMetadataRefresher_FailureRetriesSooner(t *testing.T) {
	src := &fakeMetadataSource{err: errors.New("unavailable")}
	r, clock := newTestRefresher(t, src, "", time.Hour)

	r.Start(context.Background())
	defer r.Stop()
	assert.Equal(t, 1, src.count())
	assert.True(t, r.Snapshot().FetchedAt.IsZero())

	src.fail(nil)
	clock.Advance(metadataRetryDelay)
	assert.Equal(t, 2, src.count())
	assert.False(t, r.Snapshot().FetchedAt.IsZero())
}

func TestMetadataRefresher_StopCancelsTimer(t *testing.T) {
	src := &fakeMetadataSource{}
	r, clock := newTestRefresher(t, src, "", time.Minute)

	r.Start(context.Background())
	require.Equal(t, 1, clock.Pending())
	r.Stop()
	assert.Equal(t, 0, clock.Pending())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, src.count())
}

func TestMetadataRefresher_CancelledContextStopsLoop(t *testing.T) {
	src := &fakeMetadataSource{}
	r, clock := newTestRefresher(t, src, "", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	clock.Advance(time.Minute)
	assert.Equal(t, 1, src.count())
	assert.Equal(t, 0, clock.Pending())
}

func TestMetadataRefresher_RefreshError(t *testing.T) {
	src := &fakeMetadataSource{err: errors.New("boom")}
	r, _ := newTestRefresher(t, src, "", time.Minute)
	err := r.Refresh(context.Background())
	assert.ErrorContains(t, err, "boom")
}
