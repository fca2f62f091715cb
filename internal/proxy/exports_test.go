package proxy

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trade-engine/log-dashboard/internal/debounce"
	"github.com/trade-engine/log-dashboard/internal/debounce/debouncetest"
	"github.com/trade-engine/log-dashboard/internal/domain"
	"github.com/trade-engine/log-dashboard/internal/metadata"
	"github.com/trade-engine/log-dashboard/internal/services"
	"github.com/trade-engine/log-dashboard/internal/sink/arrow"
	"github.com/trade-engine/log-dashboard/internal/state"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

func newExportServer(t *testing.T, backend *fakeBackend) (*Server, *state.DashboardState, *notifications, string) {
	t.Helper()
	dir := t.TempDir()
	notes := &notifications{}
	clock := func() time.Time { return fixedNow }
	st := state.NewDashboardState(nil, notes, state.WithClock(clock))
	svc := services.NewExportService(nil, backend, arrow.NewWriter(nil, dir), notes)
	srv := NewServer(nil, backend, st, WithClock(clock), WithExports(svc, services.NewExportScanner(nil, dir)))
	return srv, st, notes, dir
}

func TestServer_SaveExport(t *testing.T) {
	backend := &fakeBackend{}
	srv, st, notes, dir := newExportServer(t, backend)
	st.SetSeverity(domain.Only(schema.SeverityError))

	rec := do(t, srv, http.MethodPost, "/api/dashboard/export?format=arrow", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res services.ExportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, arrow.FormatArrow, res.Format)
	assert.Equal(t, int64(1), res.Rows)
	assert.Equal(t, dir, filepath.Dir(res.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(res.Path), "logs-export-"))
	_, err := os.Stat(res.Path)
	require.NoError(t, err)

	require.NotNil(t, backend.export)
	require.NotNil(t, backend.export.Severity)
	assert.Equal(t, schema.SeverityError, *backend.export.Severity)

	notes.mu.Lock()
	require.Len(t, notes.got, 1)
	assert.Equal(t, domain.NotificationSuccess, notes.got[0].Level)
	notes.mu.Unlock()

	rec = do(t, srv, http.MethodGet, "/api/exports?format=arrow", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var files []services.ExportFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, res.Path, files[0].Path)

	rec = do(t, srv, http.MethodGet, "/api/exports?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_SaveExportNeedsRange(t *testing.T) {
	backend := &fakeBackend{}
	srv, st, _, _ := newExportServer(t, backend)
	st.SetDateRange(domain.DateRange{To: fixedNow})

	rec := do(t, srv, http.MethodPost, "/api/dashboard/export", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "start_date and end_date are required", decodeError(t, rec))
	assert.Nil(t, backend.export)
}

func TestServer_ListExportsBadDate(t *testing.T) {
	srv, _, _, _ := newExportServer(t, &fakeBackend{})
	rec := do(t, srv, http.MethodGet, "/api/exports?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ExportRoutesAbsentWithoutOption(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeBackend{})
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/dashboard/export", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/exports", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/metadata/cached", nil).Code)
}

func TestServer_CachedMetadata(t *testing.T) {
	snap := &metadata.Snapshot{}
	snap.Update(&schema.MetadataResponse{Sources: []string{"worker", "api"}, TotalLogs: 9}, fixedNow)

	srv := NewServer(nil, &fakeBackend{}, nil, WithMetadataCache(snap))
	rec := do(t, srv, http.MethodGet, "/api/metadata/cached", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view metadata.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []string{"api", "worker"}, view.Sources)
	assert.Equal(t, 9, view.TotalLogs)
	require.NotNil(t, view.FetchedAt)
	assert.True(t, fixedNow.Equal(*view.FetchedAt))
}

func TestServer_SearchDebounce(t *testing.T) {
	clock := debouncetest.NewClock()
	st := state.NewDashboardState(nil, nil, state.WithClock(func() time.Time { return fixedNow }))
	srv := NewServer(nil, &fakeBackend{}, st, WithSearchDebounce(300*time.Millisecond, debounce.WithClock(clock)))
	defer srv.Close()

	for _, text := range []string{"d", "di", "disk"} {
		rec := do(t, srv, http.MethodPut, "/api/dashboard/filters", strings.NewReader(`{"search": "`+text+`"}`))
		require.Equal(t, http.StatusOK, rec.Code)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, "", st.Search())

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, "disk", st.Search())
	assert.Equal(t, 0, clock.Pending())

	// a reset clears the search box through the binder
	st.ResetFilters()
	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, "", st.Search())
	assert.Equal(t, 0, clock.Pending())
}

func TestServer_SaveExportUnsupportedFormat(t *testing.T) {
	backend := &fakeBackend{}
	srv, _, _, _ := newExportServer(t, backend)

	rec := do(t, srv, http.MethodPost, "/api/dashboard/export?format=xlsx", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "xlsx")
	assert.Nil(t, backend.export)
}

func TestServer_SaveExportDiskFailure(t *testing.T) {
	backend := &fakeBackend{}
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))

	st := state.NewDashboardState(nil, nil, state.WithClock(func() time.Time { return fixedNow }))
	svc := services.NewExportService(nil, backend, arrow.NewWriter(nil, blocked), nil)
	srv := NewServer(nil, backend, st, WithExports(svc, services.NewExportScanner(nil, blocked)))

	rec := do(t, srv, http.MethodPost, "/api/dashboard/export", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to save export", decodeError(t, rec))
}
