// Package token issues and validates signed, scoped, expiring access tokens
// for storage keys.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auralis/streamgate/internal/log"
	"github.com/auralis/streamgate/internal/metrics"
)

// Validation failure modes. Clients only ever see a generic rejection; these
// drive server-side logging, metrics and the stable AlreadyConsumed category.
var (
	ErrMalformed        = errors.New("token: malformed")
	ErrBadSignature     = errors.New("token: bad signature")
	ErrExpired          = errors.New("token: expired")
	ErrResourceMismatch = errors.New("token: resource mismatch")
	ErrAlreadyConsumed  = errors.New("token: already consumed")
)

// Claims are the decoded contents of a verified token.
type Claims struct {
	ID              string
	Key             string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	SingleUse       bool
	Binding         string // optional client IP or referrer the token is bound to
	ExplicitAllowed bool
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Authority issues and validates access tokens. Signature verification is
// stateless; only single-use semantics touch the consumption store.
type Authority struct {
	secret []byte
	store  ConsumptionStore
	clock  Clock
	margin time.Duration
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock overrides the time source (for tests).
func WithClock(c Clock) Option {
	return func(a *Authority) { a.clock = c }
}

// WithConsumptionMargin sets the safety margin added to the consumption
// record's TTL beyond the token's own expiry.
func WithConsumptionMargin(d time.Duration) Option {
	return func(a *Authority) { a.margin = d }
}

// NewAuthority creates a token authority. store may be nil only if no
// single-use tokens will ever be issued; a nil store fails closed.
func NewAuthority(secret []byte, store ConsumptionStore, opts ...Option) (*Authority, error) {
	if len(secret) < 32 {
		return nil, errors.New("token: signing secret must be at least 32 bytes")
	}
	a := &Authority{
		secret: secret,
		store:  store,
		clock:  realClock{},
		margin: time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// IssueOption adjusts a single issued token.
type IssueOption func(*Claims)

// SingleUse marks the token as valid for at most one successful validation.
func SingleUse() IssueOption {
	return func(c *Claims) { c.SingleUse = true }
}

// BindTo pins the token to a client identity (IP or referrer).
func BindTo(binding string) IssueOption {
	return func(c *Claims) { c.Binding = binding }
}

// AllowExplicit sets the explicit-content entitlement claim.
func AllowExplicit(allowed bool) IssueOption {
	return func(c *Claims) { c.ExplicitAllowed = allowed }
}

// Issue builds, signs and encodes a token for key valid for ttl.
// Multi-use issuance has no I/O side effect.
func (a *Authority) Issue(key string, ttl time.Duration, opts ...IssueOption) (string, error) {
	if key == "" {
		return "", errors.New("token: resource key is required")
	}
	if ttl <= 0 {
		return "", errors.New("token: ttl must be positive")
	}

	now := a.clock.Now()
	c := Claims{
		ID:        uuid.New().String(),
		Key:       key,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	for _, opt := range opts {
		opt(&c)
	}

	payload := encodePayload(c)
	mac := a.sign(payload)

	metrics.IncTokenIssued(c.SingleUse)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(mac), nil
}

// Validate verifies tokenString and returns its claims. Checks run in a fixed
// order: decode, signature, expiry, resource match, then (single-use only) an
// atomic check-and-set on the consumption store. A consumed token keeps
// failing with ErrAlreadyConsumed on every retry.
func (a *Authority) Validate(ctx context.Context, tokenString, expectedKey string) (Claims, error) {
	c, err := a.verify(ctx, tokenString, expectedKey)
	if err != nil {
		logCause := err.Error()
		logger := log.WithComponentFromContext(ctx, "token")
		logger.Warn().
			Str(log.FieldEvent, "token.rejected").
			Str(log.FieldKey, expectedKey).
			Str("cause", logCause).
			Msg("token validation failed")
		metrics.IncTokenValidation(outcomeLabel(err))
		return Claims{}, err
	}
	metrics.IncTokenValidation("ok")
	return c, nil
}

func (a *Authority) verify(ctx context.Context, tokenString, expectedKey string) (Claims, error) {
	payloadB64, macB64, ok := strings.Cut(tokenString, ".")
	if !ok {
		return Claims{}, ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	mac, err := base64.RawURLEncoding.DecodeString(macB64)
	if err != nil {
		return Claims{}, ErrMalformed
	}

	// Signature first: nothing in the payload is trusted before this point.
	if !hmac.Equal(mac, a.sign(string(payload))) {
		return Claims{}, ErrBadSignature
	}

	c, err := decodePayload(string(payload))
	if err != nil {
		return Claims{}, ErrMalformed
	}

	if !a.clock.Now().Before(c.ExpiresAt) {
		return Claims{}, ErrExpired
	}
	if c.Key != expectedKey {
		return Claims{}, ErrResourceMismatch
	}

	if c.SingleUse {
		if a.store == nil {
			return Claims{}, fmt.Errorf("token: no consumption store configured: %w", ErrAlreadyConsumed)
		}
		ttl := c.ExpiresAt.Sub(a.clock.Now()) + a.margin
		first, err := a.store.Consume(ctx, c.ID, ttl)
		if err != nil {
			return Claims{}, fmt.Errorf("token: consumption store: %w", err)
		}
		if !first {
			return Claims{}, ErrAlreadyConsumed
		}
	}

	return c, nil
}

func (a *Authority) sign(payload string) []byte {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}

// The canonical payload is a pipe-separated record. Free-form fields (key,
// binding) are base64url-encoded so the separator stays unambiguous.
func encodePayload(c Claims) string {
	enc := base64.RawURLEncoding.EncodeToString
	return strings.Join([]string{
		c.ID,
		enc([]byte(c.Key)),
		strconv.FormatInt(c.IssuedAt.Unix(), 10),
		strconv.FormatInt(c.ExpiresAt.Unix(), 10),
		boolField(c.SingleUse),
		enc([]byte(c.Binding)),
		boolField(c.ExplicitAllowed),
	}, "|")
}

func decodePayload(payload string) (Claims, error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 7 {
		return Claims{}, ErrMalformed
	}
	key, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	iat, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	exp, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	binding, err := base64.RawURLEncoding.DecodeString(parts[5])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	return Claims{
		ID:              parts[0],
		Key:             string(key),
		IssuedAt:        time.Unix(iat, 0),
		ExpiresAt:       time.Unix(exp, 0),
		SingleUse:       parts[4] == "1",
		Binding:         string(binding),
		ExplicitAllowed: parts[6] == "1",
	}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrResourceMismatch):
		return "resource_mismatch"
	case errors.Is(err, ErrAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}
