package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickbot/internal/domain"
	"github.com/alanyoungcy/tickbot/internal/position"
	"github.com/alanyoungcy/tickbot/internal/server"
	"github.com/alanyoungcy/tickbot/internal/server/handler"
	"github.com/alanyoungcy/tickbot/internal/server/middleware"
	"github.com/alanyoungcy/tickbot/internal/server/ws"
	"github.com/alanyoungcy/tickbot/internal/strategy"
)

var t0 = time.Date(2025, 7, 1, 9, 15, 0, 0, time.UTC)

func logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeStrategies struct{}

func (fakeStrategies) ActiveNames() []string { return []string{"bollinger"} }
func (fakeStrategies) ListNames() []string   { return []string{"bollinger", "volume_fade"} }
func (fakeStrategies) Info() []strategy.StrategyInfo {
	return []strategy.StrategyInfo{{Name: "bollinger", Status: "running"}}
}
func (fakeStrategies) RecentSignals(limit int) []domain.Signal {
	out := []domain.Signal{
		{Symbol: "NIFTY", Direction: domain.DirectionLong, EntryPrice: 100, Target: 110, StopLoss: 95},
		{Symbol: "BANKNIFTY", Direction: domain.DirectionShort, EntryPrice: 200, Target: 190, StopLoss: 205},
	}
	return out[:min(limit, len(out))]
}

type fixedStatus struct{ status domain.RunStatus }

func (f fixedStatus) Status() domain.RunStatus { return f.status }

type fakeLimiter struct {
	mu    sync.Mutex
	seen  int
	limit int
	err   error
}

func (l *fakeLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen++
	if l.err != nil {
		return false, l.err
	}
	return l.seen <= l.limit, nil
}

type fixture struct {
	store *position.Store
	srv   *server.Server
}

func newFixture(t *testing.T, cfg server.Config, limiter domain.RateLimiter, deps map[string]handler.Pinger) fixture {
	t.Helper()
	store := position.NewStore(nil)
	log := logger()
	srv := server.NewServer(cfg, server.Handlers{
		Health:    handler.NewHealthHandler(deps, log),
		Status:    handler.NewStatusHandler(fixedStatus{domain.RunStatus{RunName: "test", Mode: "simulate"}}),
		Positions: handler.NewPositionHandler(store, log),
		Strategy:  handler.NewStrategyHandler(fakeStrategies{}),
	}, nil, limiter, log)
	return fixture{store: store, srv: srv}
}

func (f fixture) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func open(t *testing.T, store *position.Store, symbol string, dir domain.Direction, entry, target, stop float64) {
	t.Helper()
	_, err := store.Open(domain.Signal{
		Symbol: symbol, Direction: dir, EntryPrice: entry, Target: target, StopLoss: stop,
	}, t0)
	require.NoError(t, err)
}

func TestPositionsEndpoints(t *testing.T) {
	f := newFixture(t, server.Config{}, nil, nil)
	open(t, f.store, "NIFTY", domain.DirectionLong, 100, 110, 95)
	open(t, f.store, "BANKNIFTY", domain.DirectionShort, 200, 190, 205)
	f.store.OnTick(domain.Tick{Symbol: "BANKNIFTY", Price: 189, Time: t0.Add(time.Minute)})

	rec := f.get(t, "/api/positions/open")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	var openResp struct {
		Positions []domain.Position `json:"positions"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &openResp))
	require.Equal(t, 1, openResp.Count)
	assert.Equal(t, "NIFTY", openResp.Positions[0].Symbol)

	rec = f.get(t, "/api/positions/closed?symbol=banknifty")
	require.Equal(t, http.StatusOK, rec.Code)
	var closedResp struct {
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &closedResp))
	require.Len(t, closedResp.Positions, 1)
	assert.Equal(t, domain.PositionStatusClosedTarget, closedResp.Positions[0].Status)
	require.NotNil(t, closedResp.Positions[0].PnL)
	assert.InDelta(t, 10.0, *closedResp.Positions[0].PnL, 1e-9)

	rec = f.get(t, "/api/positions/closed?status=closed_stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

func TestReportOnlyAfterFinalize(t *testing.T) {
	f := newFixture(t, server.Config{}, nil, nil)
	open(t, f.store, "NIFTY", domain.DirectionLong, 100, 110, 95)

	rec := f.get(t, "/api/report")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.store.OnTick(domain.Tick{Symbol: "NIFTY", Price: 104, Time: t0.Add(time.Minute)})
	f.store.Finalize(t0.Add(2 * time.Minute))

	rec = f.get(t, "/api/report")
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.AggregateReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.InDelta(t, 4.0, report.TotalPnL, 1e-9)
	require.Len(t, report.Positions, 1)
	assert.Equal(t, domain.PositionStatusClosedEOD, report.Positions[0].Status)
}

func TestStatusAndStrategies(t *testing.T) {
	f := newFixture(t, server.Config{}, nil, nil)

	rec := f.get(t, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_name":"test"`)

	rec = f.get(t, "/api/strategies")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":["bollinger"]`)
	assert.Contains(t, rec.Body.String(), `"registered":["bollinger","volume_fade"]`)

	rec = f.get(t, "/api/signals/recent?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Signals []domain.Signal `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Signals, 1)
	assert.Equal(t, "NIFTY", body.Signals[0].Symbol)
}

func TestRunsRoutesAbsentWithoutJournal(t *testing.T) {
	f := newFixture(t, server.Config{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/runs").Code)
}

func TestHealth(t *testing.T) {
	ok := handler.PingFunc(func(context.Context) error { return nil })
	down := handler.PingFunc(func(context.Context) error { return errors.New("connection refused") })

	f := newFixture(t, server.Config{}, nil, map[string]handler.Pinger{"redis": ok})
	rec := f.get(t, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	f = newFixture(t, server.Config{}, nil, map[string]handler.Pinger{"redis": ok, "postgres": down})
	rec = f.get(t, "/api/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"connection refused"`)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, server.Config{}, nil, nil)

	assert.NotEmpty(t, f.get(t, "/api/status").Header().Get(middleware.RequestIDHeader))
	rec := f.get(t, "/api/status", middleware.RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get(middleware.RequestIDHeader))
}

func TestAuth(t *testing.T) {
	f := newFixture(t, server.Config{APIKey: "secret"}, nil, nil)

	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/api/status").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/api/status", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/status", "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/status", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/health").Code, "health is exempt")
}

func TestCORS(t *testing.T) {
	f := newFixture(t, server.Config{CORSOrigins: []string{"https://dash.example"}}, nil, nil)

	rec := f.get(t, "/api/status", "Origin", "https://dash.example")
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.get(t, "/api/status", "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "https://dash.example")
	pre := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := &fakeLimiter{limit: 2}
	f := newFixture(t, server.Config{RateLimit: 2, RateWindow: time.Minute}, limiter, nil)

	assert.Equal(t, http.StatusOK, f.get(t, "/api/status").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/status").Code)
	rec := f.get(t, "/api/status")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	failing := &fakeLimiter{err: errors.New("redis down")}
	f = newFixture(t, server.Config{RateLimit: 2, RateWindow: time.Minute}, failing, nil)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/status").Code, "limiter errors fail open")
}

func TestWebSocketStreamsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(fixedStatus{domain.RunStatus{RunName: "live"}}, logger())
	go func() { _ = hub.Run(ctx) }()

	store := position.NewStore(nil)
	log := logger()
	srv := server.NewServer(server.Config{}, server.Handlers{
		Health:    handler.NewHealthHandler(nil, log),
		Status:    handler.NewStatusHandler(fixedStatus{}),
		Positions: handler.NewPositionHandler(store, log),
		Strategy:  handler.NewStrategyHandler(fakeStrategies{}),
	}, hub, nil, log)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	type frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	var first frame
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	assert.Contains(t, string(first.Payload), `"run_name":"live"`)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "channels": []string{"exited"}}))
	// Subscriptions apply asynchronously, so keep broadcasting until an
	// exited frame comes through.
	require.Eventually(t, func() bool {
		hub.Broadcast("opened", []byte(`{"seq":1}`))
		hub.Broadcast("exited", []byte(`{"seq":2}`))
		var got frame
		if err := conn.ReadJSON(&got); err != nil {
			return false
		}
		return got.Type == "exited"
	}, 3*time.Second, 50*time.Millisecond)
}
