package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientAddr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"peer", nil, "192.0.2.7:5123", "192.0.2.7"},
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "2001:db8::1"}, "10.0.0.1:80", "2001:db8::1"},
		{"garbage header ignored", map[string]string{"X-Forwarded-For": "not-an-ip"}, "192.0.2.7:5123", "192.0.2.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, clientAddr(r))
		})
	}
}

func TestLevelFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, levelFor("/api/health", http.StatusOK))
	assert.Equal(t, slog.LevelError, levelFor("/api/health", http.StatusServiceUnavailable))
	assert.Equal(t, slog.LevelWarn, levelFor("/api/runs/x", http.StatusNotFound))
	assert.Equal(t, slog.LevelInfo, levelFor("/api/status", http.StatusOK))
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"https://dash.example"})(http.NotFoundHandler())
	r := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
