// Package middleware provides the canonical HTTP ingress middleware stack
// for the gateway.
package middleware

import (
	"github.com/go-chi/chi/v5"

	sglog "github.com/auralis/streamgate/internal/log"
)

// StackConfig configures the canonical ingress middleware stack.
type StackConfig struct {
	// CORS / origin policy
	AllowedOrigins []string

	// Observability
	TracingService string // empty disables tracing
	EnableLogging  bool

	// Rate limiting (sliding window per principal)
	RateLimitEnabled   bool
	RateLimitPerMinute int
}

// NewRouter constructs a chi router with the canonical middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r.
// Order matters: the recoverer is the outermost safety net, and rate
// limiting runs last so rejected requests still carry request IDs.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(SecurityHeaders)
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(sglog.Middleware())
	}
	if cfg.RateLimitEnabled {
		r.Use(PrincipalRateLimit(cfg.RateLimitPerMinute))
	}
}
