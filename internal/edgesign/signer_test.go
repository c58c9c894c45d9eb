package edgesign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // matching the production signature contract
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return pemBytes, key
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func TestNew_NoKeyMaterialIsDisabled(t *testing.T) {
	s, err := New(nil, "")
	require.NoError(t, err)
	require.False(t, s.Enabled(), "absent key material means feature disabled, not error")

	_, err = s.Sign("https://edge.example.com/hls/*", time.Hour)
	require.Error(t, err)
}

func TestSign_GoldenPolicyBytes(t *testing.T) {
	pemKey, _ := testKeyPEM(t)
	s, err := New(pemKey, "KTESTKEYID", WithNow(fixedNow))
	require.NoError(t, err)

	p, err := s.Sign("https://edge.example.com/music/*", time.Hour)
	require.NoError(t, err)

	// The edge verifier reconstructs this byte-exact document. Whitespace or
	// key-order drift here breaks playback in production.
	const golden = `{"Statement":[{"Resource":"https://edge.example.com/music/*","Condition":{"DateLessThan":{"AWS:EpochTime":1773493200}}}]}`

	decoded, err := base64.StdEncoding.DecodeString(unReplace(p.Policy))
	require.NoError(t, err)
	require.Equal(t, golden, string(decoded))
}

func TestSign_SignatureVerifies(t *testing.T) {
	pemKey, key := testKeyPEM(t)
	s, err := New(pemKey, "KTESTKEYID", WithNow(fixedNow))
	require.NoError(t, err)

	p, err := s.Sign("https://edge.example.com/music/*", time.Hour)
	require.NoError(t, err)

	policy, err := base64.StdEncoding.DecodeString(unReplace(p.Policy))
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(unReplace(p.Signature))
	require.NoError(t, err)

	digest := sha1.Sum(policy) //nolint:gosec
	require.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA1, digest[:], sig))
}

func TestSign_CookieSafeAlphabet(t *testing.T) {
	pemKey, _ := testKeyPEM(t)
	s, err := New(pemKey, "KTESTKEYID", WithNow(fixedNow))
	require.NoError(t, err)

	p, err := s.Sign("https://edge.example.com/music/*", time.Hour)
	require.NoError(t, err)

	for _, enc := range []string{p.Policy, p.Signature} {
		require.NotContains(t, enc, "+")
		require.NotContains(t, enc, "/")
		require.NotContains(t, enc, "=")
	}
}

func TestSetCookies(t *testing.T) {
	pemKey, _ := testKeyPEM(t)
	s, err := New(pemKey, "KTESTKEYID", WithNow(fixedNow))
	require.NoError(t, err)

	p, err := s.Sign("https://edge.example.com/music/*", time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	SetCookies(rec, p, true)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 3)

	byName := map[string]bool{}
	for _, c := range cookies {
		byName[c.Name] = true
		require.Equal(t, "/", c.Path)
		require.True(t, c.Secure)
		require.WithinDuration(t, p.ExpiresAt, c.Expires, time.Second)
	}
	require.True(t, byName[CookiePolicy])
	require.True(t, byName[CookieSignature])
	require.True(t, byName[CookieKeyPairID])
}

func TestNew_RejectsNonRSAKey(t *testing.T) {
	_, err := New([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----"), "KID")
	require.Error(t, err)
}

// unReplace reverses the cookie-safe alphabet for verification.
func unReplace(s string) string {
	return strings.NewReplacer("-", "+", "_", "=", "~", "/").Replace(s)
}
