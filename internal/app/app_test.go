package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickbot/internal/config"
	"github.com/alanyoungcy/tickbot/internal/domain"
	"github.com/alanyoungcy/tickbot/internal/events"
	"github.com/alanyoungcy/tickbot/internal/server/ws"
)

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// writeCSV writes a daily close series starting 2025-07-01.
func writeCSV(t *testing.T, closes ...float64) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("SYMBOL ,DATE ,CLOSE PRICE \n")
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		fmt.Fprintf(&b, "NIFTY,%s,%g\n", day.AddDate(0, 0, i).Format("2006-01-02"), c)
	}
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func csvConfig(path string) *config.Config {
	cfg := config.Defaults()
	cfg.Feed.Type = "csv"
	cfg.Feed.Path = path
	return &cfg
}

func TestSimulateModeRunsCSVToCompletion(t *testing.T) {
	closes := make([]float64, 0, 40)
	for i := range 25 {
		closes = append(closes, 100+float64(i%3))
	}
	closes = append(closes, 130, 101, 100, 99, 101)

	cfg := csvConfig(writeCSV(t, closes...))
	require.NoError(t, cfg.Validate())

	a := New(cfg, discard())
	defer a.Close()
	require.NoError(t, a.Run(context.Background()))
}

func TestSimulateModeMissingFeedFails(t *testing.T) {
	cfg := csvConfig(filepath.Join(t.TempDir(), "absent.csv"))

	a := New(cfg, discard())
	defer a.Close()
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app: feed")
}

// memRuns records run headers in memory.
type memRuns struct {
	mu   sync.Mutex
	runs map[string]domain.Run
}

func (m *memRuns) Create(_ context.Context, run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]domain.Run)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) Finish(_ context.Context, id string, state domain.RunState, report domain.AggregateReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	run.State = state
	run.TotalPnL = report.TotalPnL
	run.Trades = report.Trades
	m.runs[id] = run
	return nil
}

func (m *memRuns) GetByID(_ context.Context, id string) (domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrNotFound
	}
	return run, nil
}

func (m *memRuns) ListRecent(context.Context, domain.ListOpts) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	return out, nil
}

func (m *memRuns) only(t *testing.T) domain.Run {
	t.Helper()
	runs, _ := m.ListRecent(context.Background(), domain.ListOpts{})
	require.Len(t, runs, 1)
	return runs[0]
}

func TestJournalMarksFailedSetup(t *testing.T) {
	cases := map[string]func(*config.Config){
		"missing feed":      func(cfg *config.Config) { cfg.Feed.Path = filepath.Join(t.TempDir(), "absent.csv") },
		"unknown strategy":  func(cfg *config.Config) { cfg.Strategy.Active = []string{"nope"} },
		"no feed listening": func(cfg *config.Config) {
			cfg.Feed.Type, cfg.Feed.Addr, cfg.Feed.DialAttempts = "tcp", "127.0.0.1:1", 1
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := csvConfig(writeCSV(t, 100, 101))
			cfg.Server.Enabled = false
			mutate(cfg)

			runs := &memRuns{}
			a := New(cfg, discard())
			require.Error(t, a.simulate(context.Background(), &Dependencies{RunStore: runs}, false))
			assert.Equal(t, domain.RunStateFailed, runs.only(t).State)
		})
	}
}

func TestJournalMarksFinishedRun(t *testing.T) {
	cfg := csvConfig(writeCSV(t, 100, 101, 102))
	cfg.Server.Enabled = false

	runs := &memRuns{}
	a := New(cfg, discard())
	require.NoError(t, a.simulate(context.Background(), &Dependencies{RunStore: runs}, false))
	assert.Equal(t, domain.RunStateFinished, runs.only(t).State)
}

func TestNewSourceNeedsBackends(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discard())

	cfg.Feed.Type = "s3"
	_, err := a.newSource(context.Background(), &Dependencies{})
	assert.ErrorContains(t, err, "s3.enabled")

	cfg.Feed.Type = "redis"
	_, err = a.newSource(context.Background(), &Dependencies{})
	assert.ErrorContains(t, err, "redis.enabled")

	cfg.Feed.Type = "carrier-pigeon"
	_, err = a.newSource(context.Background(), &Dependencies{})
	assert.ErrorContains(t, err, "unknown feed type")
}

func TestSinksFollowBackends(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discard())

	names := func(sinks []events.Sink) []string {
		out := make([]string, len(sinks))
		for i, s := range sinks {
			out[i] = s.Name()
		}
		return out
	}

	run := domain.Run{ID: "r1", Name: "test"}
	assert.Equal(t, []string{"log"}, names(a.sinks(&Dependencies{}, run, nil)))

	hub := ws.NewHub(nil, discard())
	assert.Equal(t, []string{"log", "hub"}, names(a.sinks(&Dependencies{}, run, hub)))
}

func TestRegistryRegistersKnownStrategies(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discard())
	reg := a.newRegistry(noPositions{})
	assert.Equal(t, []string{"bollinger_mean_reversion", "volume_fade"}, reg.List())
}

type noPositions struct{}

func (noPositions) HasOpen(string) bool { return false }
