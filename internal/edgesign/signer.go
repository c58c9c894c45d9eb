// Package edgesign produces canned-policy signatures granting cookie-based
// access to resource patterns on the edge network.
package edgesign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // SHA1-with-RSA is the edge verifier's contract, not a choice.
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Cookie names understood by the edge network's verifier.
const (
	CookiePolicy    = "CloudFront-Policy"
	CookieSignature = "CloudFront-Signature"
	CookieKeyPairID = "CloudFront-Key-Pair-Id"
)

// SignedPolicy carries the encoded policy, its signature and the key pair ID.
type SignedPolicy struct {
	Policy    string
	Signature string
	KeyPairID string
	ExpiresAt time.Time
}

// Signer grants time-bounded access to resource patterns. Call sites must
// treat Enabled() == false as "feature disabled", never as an error.
type Signer interface {
	Enabled() bool
	Sign(resourcePattern string, ttl time.Duration) (*SignedPolicy, error)
}

// Disabled is the stand-in used when no key material is configured.
var Disabled Signer = disabled{}

type disabled struct{}

func (disabled) Enabled() bool { return false }
func (disabled) Sign(string, time.Duration) (*SignedPolicy, error) {
	return nil, errors.New("edgesign: signing is not configured")
}

type rsaSigner struct {
	key   *rsa.PrivateKey
	keyID string
	now   func() time.Time
}

// Option configures a Signer.
type Option func(*rsaSigner)

// WithNow overrides the time source (for tests).
func WithNow(now func() time.Time) Option {
	return func(s *rsaSigner) { s.now = now }
}

// New builds a Signer from a PEM-encoded RSA private key. An empty pemKey
// yields the Disabled stand-in so callers can construct unconditionally.
func New(pemKey []byte, keyID string, opts ...Option) (Signer, error) {
	if len(pemKey) == 0 {
		return Disabled, nil
	}
	if keyID == "" {
		return nil, errors.New("edgesign: key pair ID is required with key material")
	}

	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("edgesign: no PEM block in key material")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("edgesign: parse PKCS1 key: %w", err)
		}
		key = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("edgesign: parse PKCS8 key: %w", err)
		}
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("edgesign: key material is not RSA")
		}
		key = rsaKey
	default:
		return nil, fmt.Errorf("edgesign: unsupported PEM block %q", block.Type)
	}

	s := &rsaSigner{key: key, keyID: keyID, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *rsaSigner) Enabled() bool { return true }

// Sign builds the canned policy for resourcePattern, signs its exact byte
// serialization and encodes policy and signature separately.
func (s *rsaSigner) Sign(resourcePattern string, ttl time.Duration) (*SignedPolicy, error) {
	if resourcePattern == "" {
		return nil, errors.New("edgesign: resource pattern is required")
	}
	if ttl <= 0 {
		return nil, errors.New("edgesign: ttl must be positive")
	}

	expires := s.now().Add(ttl)
	policy := cannedPolicy(resourcePattern, expires.Unix())

	digest := sha1.Sum([]byte(policy)) //nolint:gosec // see package comment
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, digest[:])
	if err != nil {
		return nil, fmt.Errorf("edgesign: sign policy: %w", err)
	}

	return &SignedPolicy{
		Policy:    encode([]byte(policy)),
		Signature: encode(sig),
		KeyPairID: s.keyID,
		ExpiresAt: expires,
	}, nil
}

// cannedPolicy emits the policy document with the exact byte layout the edge
// verifier reconstructs. Any reformatting (whitespace, key order) invalidates
// the signature, so this is a single format string, not json.Marshal.
func cannedPolicy(resource string, epoch int64) string {
	return fmt.Sprintf(
		`{"Statement":[{"Resource":%q,"Condition":{"DateLessThan":{"AWS:EpochTime":%d}}}]}`,
		resource, epoch,
	)
}

// encode applies the edge network's cookie-safe base64 alphabet.
var b64Replacer = strings.NewReplacer("+", "-", "=", "_", "/", "~")

func encode(b []byte) string {
	return b64Replacer.Replace(base64.StdEncoding.EncodeToString(b))
}

// SetCookies writes the three access cookies on w, scoped to path "/" with
// an expiry matching the signed window.
func SetCookies(w http.ResponseWriter, p *SignedPolicy, secure bool) {
	for name, value := range map[string]string{
		CookiePolicy:    p.Policy,
		CookieSignature: p.Signature,
		CookieKeyPairID: p.KeyPairID,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			Expires:  p.ExpiresAt,
			Secure:   secure,
			HttpOnly: true,
			SameSite: http.SameSiteNoneMode,
		})
	}
}
