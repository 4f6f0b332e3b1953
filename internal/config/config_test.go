package config

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiobook/internal/booking"
	"studiobook/internal/window"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STUDIOBOOK_API_KEY", "secret")
	path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "data", "test.db")+`
api:
  api_key: ${STUDIOBOOK_API_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.API.APIKey)
	assert.Equal(t, ":8080", cfg.API.Address)
	assert.Equal(t, "configs/studios.yaml", cfg.Studios.Path)
	assert.DirExists(t, filepath.Join(dir, "data"))

	assert.Equal(t, window.DefaultPolicy(), cfg.WindowPolicy())
	assert.Equal(t, booking.DefaultRules(), cfg.BookingRules())
	assert.Equal(t, 20*time.Second, cfg.ConflictTimeout())
	assert.Equal(t, booking.SeriesPartial, cfg.SeriesMode())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL())
	assert.Equal(t, 30*time.Second, cfg.StudiosReloadInterval())
	assert.Equal(t, float64(1), cfg.TelegramRate())
	assert.Equal(t, filepath.Join(dir, "data", "backups"), cfg.Database.Backup.StoragePath)
	assert.Equal(t, 24*time.Hour, cfg.BackupInterval())
	assert.Equal(t, 60, cfg.WriteLimit())
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "test.db")+`
booking:
  timezone: UTC
  weekday_window: {start_hour: 15, end_hour: 23}
  min_duration_minutes: 45
  max_duration_minutes: 180
  max_series_months: 6
  conflict_timeout_seconds: 5
  series_mode: all_or_nothing
resilience:
  max_retries: 4
  trip_after: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.WindowPolicy()
	assert.Equal(t, window.Hours{StartHour: 15, EndHour: 23}, p.Weekday)
	assert.Equal(t, window.DefaultPolicy().Weekend, p.Weekend)

	r := cfg.BookingRules()
	assert.Equal(t, 45*time.Minute, r.MinDuration)
	assert.Equal(t, 180*time.Minute, r.MaxDuration)
	assert.Equal(t, 6, r.MaxSeriesMonths)
	assert.Equal(t, 5*time.Second, cfg.ConflictTimeout())
	assert.Equal(t, booking.SeriesAllOrNothing, cfg.SeriesMode())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	rc := cfg.ResilientConfig()
	assert.Equal(t, uint64(4), rc.MaxRetries)
	assert.Equal(t, uint32(7), rc.TripAfter)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad window":      "booking:\n  weekend_window: {start_hour: 22, end_hour: 8}\n",
		"bad series mode": "booking:\n  series_mode: sometimes\n",
		"bad timezone":    "booking:\n  timezone: Mars/Olympus\n",
		"min above max":   "booking:\n  min_duration_minutes: 300\n  max_duration_minutes: 60\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, "config.yaml", "database:\n  path: "+filepath.Join(dir, "x.db")+"\n"+body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

const studiosYAML = `
studios:
  - id: 1
    name: Studio A
    capacity: 20
    is_active: true
  - id: 2
    name: Studio B
    is_active: true
holidays:
  - name: Winter break
    start: "2025-12-22"
    end: "2026-01-06"
`

func TestLoadStudiosConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "studios.yaml", studiosYAML)

	cfg, err := LoadStudiosConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Studios, 2)
	assert.Equal(t, "Studio A", cfg.Studios[0].Name)
	require.Len(t, cfg.Holidays, 1)
	assert.Equal(t, "2026-01-06", cfg.Holidays[0].End)
}

func TestStudiosConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  StudiosConfig
	}{
		{"empty", StudiosConfig{}},
		{"zero id", StudiosConfig{Studios: []StudioConfig{{ID: 0, Name: "A"}}}},
		{"duplicate id", StudiosConfig{Studios: []StudioConfig{{ID: 1, Name: "A"}, {ID: 1, Name: "B"}}}},
		{"duplicate name", StudiosConfig{Studios: []StudioConfig{{ID: 1, Name: "A"}, {ID: 2, Name: "A"}}}},
		{"missing name", StudiosConfig{Studios: []StudioConfig{{ID: 1}}}},
		{"reversed holiday", StudiosConfig{
			Studios:  []StudioConfig{{ID: 1, Name: "A"}},
			Holidays: []HolidayConfig{{Name: "x", Start: "2025-05-10", End: "2025-05-01"}},
		}},
		{"bad holiday date", StudiosConfig{
			Studios:  []StudioConfig{{ID: 1, Name: "A"}},
			Holidays: []HolidayConfig{{Name: "x", Start: "10.05.2025", End: "2025-05-11"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []int
	fail    error
}

func (a *recordingApplier) SyncStudiosFromConfig(_ context.Context, cfg *StudiosConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.applied = append(a.applied, len(cfg.Studios))
	return nil
}

func (a *recordingApplier) counts() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.applied...)
}

func (a *recordingApplier) setFail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = err
}

const threeStudiosYAML = `
studios:
  - id: 1
    name: Studio A
    is_active: true
  - id: 2
    name: Studio B
    is_active: true
  - id: 3
    name: Studio C
    is_active: true
`

// rewrite replaces the file and pushes its mtime forward so the change is seen.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	mod := time.Now().Add(bump)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestWatchStudios(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "studios.yaml", studiosYAML)
	logger := zerolog.New(io.Discard)
	apply := &recordingApplier{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, WatchStudios(ctx, path, 10*time.Millisecond, apply, &logger))
	assert.Equal(t, []int{2}, apply.counts())

	rewrite(t, path, threeStudiosYAML, time.Minute)
	assert.Eventually(t, func() bool {
		c := apply.counts()
		return len(c) == 2 && c[1] == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchStudios_InitialFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "studios.yaml", "studios: []\n")
	logger := zerolog.New(io.Discard)
	apply := &recordingApplier{}

	err := WatchStudios(context.Background(), path, time.Minute, apply, &logger)
	assert.Error(t, err)
	assert.Empty(t, apply.counts())
}

func TestStudiosWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "studios.yaml", studiosYAML)
	logger := zerolog.New(io.Discard)
	apply := &recordingApplier{}
	w := NewStudiosWatcher(path, time.Minute, apply, &logger)
	ctx := context.Background()

	changed, err := w.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	// Unchanged mtime: nothing to do.
	changed, err = w.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	// Touched but identical content is not re-applied.
	rewrite(t, path, studiosYAML, time.Minute)
	changed, err = w.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	// A broken edit is rejected once and the previous catalogue stays.
	rewrite(t, path, "studios:\n  - id: 0\n", 2*time.Minute)
	_, err = w.Sync(ctx)
	assert.Error(t, err)
	changed, err = w.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	// A failed apply is retried until it succeeds.
	rewrite(t, path, threeStudiosYAML, 3*time.Minute)
	apply.setFail(errors.New("db locked"))
	_, err = w.Sync(ctx)
	assert.Error(t, err)
	apply.setFail(nil)
	changed, err = w.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, []int{2, 3}, apply.counts())
}
