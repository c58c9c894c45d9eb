package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssued counts issued access tokens by mode.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_tokens_issued_total",
		Help: "Total access tokens issued by mode (single_use, multi_use)",
	}, []string{"mode"})

	// TokenValidations counts validation attempts by outcome.
	// The outcome label carries the specific server-side cause even though
	// clients only ever see a generic rejection.
	TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_token_validations_total",
		Help: "Total token validation attempts by outcome",
	}, []string{"outcome"})

	// RateLimitRejections counts requests rejected by the per-principal limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_ratelimit_rejections_total",
		Help: "Total rate limit rejections by limit type",
	}, []string{"limit_type"})
)

// IncTokenIssued records an issued token.
func IncTokenIssued(singleUse bool) {
	mode := "multi_use"
	if singleUse {
		mode = "single_use"
	}
	TokensIssued.WithLabelValues(mode).Inc()
}

// IncTokenValidation records a validation attempt outcome.
func IncTokenValidation(outcome string) {
	TokenValidations.WithLabelValues(outcome).Inc()
}

// IncRateLimited records a rate limit rejection.
func IncRateLimited(limitType string) {
	RateLimitRejections.WithLabelValues(limitType).Inc()
}
