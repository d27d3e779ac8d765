package middleware

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// RateLimit caps each client address at limit requests per window. When the
// limiter itself errors the request is served anyway.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(1, int(window.Seconds())))
	ceiling := strconv.Itoa(limit)
	logger = logger.With(slog.String("component", "ratelimit"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			ok, err := limiter.Allow(r.Context(), "api:"+client, limit, window)
			switch {
			case err != nil:
				logger.WarnContext(r.Context(), "limiter unavailable, serving request",
					slog.String("client", client),
					slog.String("error", err.Error()),
				)
			case !ok:
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("X-RateLimit-Limit", ceiling)
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			default:
				w.Header().Set("X-RateLimit-Limit", ceiling)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address. Header values that do not parse as an IP are ignored.
func clientAddr(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	for _, v := range []string{first, r.Header.Get("X-Real-IP")} {
		if ip, err := netip.ParseAddr(strings.TrimSpace(v)); err == nil {
			return ip.String()
		}
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().String()
	}
	return r.RemoteAddr
}
