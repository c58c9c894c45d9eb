// Package gateway is the HTTP surface of the media delivery gateway: token
// checks, origin policy, manifest endpoints and the range-aware streaming
// reverse proxy.
package gateway

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/auralis/streamgate/internal/blob"
	"github.com/auralis/streamgate/internal/config"
	"github.com/auralis/streamgate/internal/edgesign"
	gwmiddleware "github.com/auralis/streamgate/internal/gateway/middleware"
	"github.com/auralis/streamgate/internal/log"
	"github.com/auralis/streamgate/internal/manifest"
	"github.com/auralis/streamgate/internal/quality"
	"github.com/auralis/streamgate/internal/ratelimit"
	"github.com/auralis/streamgate/internal/resilience"
	"github.com/auralis/streamgate/internal/token"
)

// Server handles all gateway requests. It is stateless across requests;
// the only shared mutable state lives in the token consumption store and
// the rate limiters.
type Server struct {
	cfg       config.Config
	store     blob.Store
	auth      *token.Authority
	catalog   *quality.Catalog
	rewriter  *manifest.Rewriter
	admission *ratelimit.Limiter
	breaker   *resilience.CircuitBreaker
	upstream  *http.Client
	logger    zerolog.Logger

	allowedOrigins map[string]bool
}

// Option configures a Server.
type Option func(*Server)

// WithUpstreamClient overrides the HTTP client used for backend fetches
// (for tests).
func WithUpstreamClient(c *http.Client) Option {
	return func(s *Server) { s.upstream = c }
}

// NewServer wires the gateway's collaborators.
func NewServer(cfg config.Config, store blob.Store, auth *token.Authority, catalog *quality.Catalog, signer edgesign.Signer, opts ...Option) *Server {
	rewriter := manifest.NewRewriter(store, auth, catalog, signer, manifest.Config{
		CDNDomain:    cfg.CDNDomain,
		EdgeDomain:   cfg.EdgeDomain,
		SignedURLTTL: cfg.SignedURLTTL,
	})

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		auth:     auth,
		catalog:  catalog,
		rewriter: rewriter,
		admission: ratelimit.New(ratelimit.Config{
			GlobalRate:      ratelimitRate(cfg.AdmissionRPS),
			GlobalBurst:     cfg.AdmissionBurst,
			PerIPRate:       ratelimitRate(cfg.PerIPRPS),
			PerIPBurst:      cfg.PerIPBurst,
			CleanupInterval: 5 * time.Minute,
		}),
		breaker: resilience.NewCircuitBreaker("manifest", cfg.BreakerThreshold, cfg.BreakerResetTimeout),
		upstream: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: cfg.UpstreamTimeout,
			},
		},
		logger:         log.WithComponent("gateway"),
		allowedOrigins: allowed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with the canonical middleware stack and all
// gateway routes.
func (s *Server) Router() *chi.Mux {
	r := gwmiddleware.NewRouter(gwmiddleware.StackConfig{
		AllowedOrigins:     s.cfg.AllowedOrigins,
		TracingService:     s.cfg.TracingService,
		EnableLogging:      true,
		RateLimitEnabled:   s.cfg.RateLimitEnabled,
		RateLimitPerMinute: s.cfg.RateLimitPerMinute,
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stream/*", s.handleStream)
	r.Head("/stream/*", s.handleStream)
	r.Get("/hls/*", s.handleHLS)
	r.Get("/adaptive/*", s.handleAdaptive)
	r.Get("/quality/*", s.handleQuality)
	r.Get("/quality-url", s.handleQualityURL)

	return r
}

// originAllowed applies the stream origin policy. Requests without an Origin
// header are rejected unless the allow-list contains "*" or explicitly
// permits bare requests via "null".
func (s *Server) originAllowed(r *http.Request) bool {
	if s.allowedOrigins["*"] {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return s.allowedOrigins["null"]
	}
	return s.allowedOrigins[origin]
}

// isServiceCaller authorizes trusted internal callers (edge workers,
// prefetchers) via the pre-shared service credential.
func (s *Server) isServiceCaller(r *http.Request) bool {
	if s.cfg.ServiceToken == "" {
		return false
	}
	got := r.Header.Get("X-Service-Token")
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.ServiceToken)) == 1
}

func ratelimitRate(rps int) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
