// Package metadata keeps the last known backend metadata (severity levels,
// sources, data range) on disk so the dashboard can populate its pickers
// before the backend answers.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trade-engine/log-dashboard/pkg/schema"
)

// Snapshot is a cached copy of the backend metadata response.
type Snapshot struct {
	mu sync.RWMutex

	SeverityLevels []string
	Sources        []string
	Earliest       *time.Time
	Latest         *time.Time
	TotalLogs      int
	SeverityStats  map[string]int
	FetchedAt      time.Time
}

// snapshotFileModel is the YAML form of Snapshot.
type snapshotFileModel struct {
	SeverityLevels []string       `yaml:"severity_levels"`
	Sources        []string       `yaml:"sources"`
	Earliest       string         `yaml:"earliest,omitempty"`
	Latest         string         `yaml:"latest,omitempty"`
	TotalLogs      int            `yaml:"total_logs"`
	SeverityStats  map[string]int `yaml:"severity_stats,omitempty"`
	FetchedAt      string         `yaml:"fetched_at,omitempty"`
}

// Load reads a snapshot from path. A missing file or empty path yields an
// empty snapshot.
func Load(path string) (*Snapshot, error) {
	s := &Snapshot{}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var fileModel snapshotFileModel
	if err := yaml.Unmarshal(data, &fileModel); err != nil {
		return nil, fmt.Errorf("parse metadata snapshot %s: %w", path, err)
	}

	s.SeverityLevels = fileModel.SeverityLevels
	s.Sources = fileModel.Sources
	s.TotalLogs = fileModel.TotalLogs
	s.SeverityStats = fileModel.SeverityStats
	s.Earliest = parseTime(fileModel.Earliest)
	s.Latest = parseTime(fileModel.Latest)
	if ts := parseTime(fileModel.FetchedAt); ts != nil {
		s.FetchedAt = *ts
	}
	return s, nil
}

// Save writes the snapshot to path as YAML.
func (s *Snapshot) Save(path string) error {
	if path == "" {
		return errors.New("snapshot path is empty")
	}

	s.mu.RLock()
	fileModel := snapshotFileModel{
		SeverityLevels: s.SeverityLevels,
		Sources:        s.Sources,
		Earliest:       formatTime(s.Earliest),
		Latest:         formatTime(s.Latest),
		TotalLogs:      s.TotalLogs,
		SeverityStats:  s.SeverityStats,
	}
	if !s.FetchedAt.IsZero() {
		fileModel.FetchedAt = s.FetchedAt.UTC().Format(time.RFC3339)
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(&fileModel)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Update replaces the snapshot contents with a backend response.
func (s *Snapshot) Update(resp *schema.MetadataResponse, fetchedAt time.Time) {
	if resp == nil {
		return
	}

	sources := append([]string(nil), resp.Sources...)
	sort.Strings(sources)
	stats := make(map[string]int, len(resp.SeverityStats))
	for k, v := range resp.SeverityStats {
		stats[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.SeverityLevels = append([]string(nil), resp.SeverityLevels...)
	s.Sources = sources
	s.Earliest = parseBackendTime(resp.DateRange.Earliest)
	s.Latest = parseBackendTime(resp.DateRange.Latest)
	s.TotalLogs = resp.TotalLogs
	s.SeverityStats = stats
	s.FetchedAt = fetchedAt.UTC()
}

// Stale reports whether the snapshot is older than ttl at now. A snapshot
// that was never fetched is always stale.
func (s *Snapshot) Stale(now time.Time, ttl time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FetchedAt.IsZero() {
		return true
	}
	return now.Sub(s.FetchedAt) >= ttl
}

// Age returns how long ago the snapshot was fetched.
func (s *Snapshot) Age(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

// HasSource reports whether source was present in the last fetch.
func (s *Snapshot) HasSource(source string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.SearchStrings(s.Sources, source)
	return i < len(s.Sources) && s.Sources[i] == source
}

// View is a lock-free copy of the snapshot, safe to hand to JSON encoders.
type View struct {
	SeverityLevels []string       `json:"severity_levels"`
	Sources        []string       `json:"sources"`
	Earliest       *time.Time     `json:"earliest"`
	Latest         *time.Time     `json:"latest"`
	TotalLogs      int            `json:"total_logs"`
	SeverityStats  map[string]int `json:"severity_stats"`
	FetchedAt      *time.Time     `json:"fetched_at"`
}

func (s *Snapshot) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		SeverityLevels: append([]string(nil), s.SeverityLevels...),
		Sources:        append([]string(nil), s.Sources...),
		Earliest:       s.Earliest,
		Latest:         s.Latest,
		TotalLogs:      s.TotalLogs,
		SeverityStats:  make(map[string]int, len(s.SeverityStats)),
	}
	for k, n := range s.SeverityStats {
		v.SeverityStats[k] = n
	}
	if !s.FetchedAt.IsZero() {
		ts := s.FetchedAt
		v.FetchedAt = &ts
	}
	return v
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return &ts
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

// parseBackendTime accepts the backend's ISO timestamps, which may lack a zone.
func parseBackendTime(value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if ts, err := time.Parse(layout, *value); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}
