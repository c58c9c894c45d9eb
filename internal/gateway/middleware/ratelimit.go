package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/auralis/streamgate/internal/metrics"
	"github.com/auralis/streamgate/internal/ratelimit"
)

// KeyByPrincipal buckets requests by authenticated principal. Requests
// carrying an access token are counted per token (hashed, never logged raw);
// everything else falls back to the client IP. The window rolls continuously
// rather than resetting on minute boundaries.
func KeyByPrincipal(r *http.Request) (string, error) {
	if t := r.URL.Query().Get("t"); t != "" {
		sum := sha256.Sum256([]byte(t))
		return "tok:" + hex.EncodeToString(sum[:8]), nil
	}
	return "ip:" + ratelimit.ClientIP(r), nil
}

// PrincipalRateLimit returns a sliding-window limiter of perMinute requests
// per principal. Rejections get a fixed 429 with Retry-After.
func PrincipalRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(KeyByPrincipal),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.IncRateLimited("principal_window")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Minute.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}
