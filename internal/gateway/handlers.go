package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/auralis/streamgate/internal/edgesign"
	"github.com/auralis/streamgate/internal/log"
	"github.com/auralis/streamgate/internal/manifest"
	"github.com/auralis/streamgate/internal/mediatype"
	"github.com/auralis/streamgate/internal/quality"
	"github.com/auralis/streamgate/internal/ratelimit"
	"github.com/auralis/streamgate/internal/resilience"
	"github.com/auralis/streamgate/internal/token"
)

// principal identifies the authorized caller of a request.
type principal struct {
	claims  token.Claims
	service bool // trusted internal caller via pre-shared credential
}

// authorize decides access before any backend call is made: service
// credential first, then origin policy, then the per-user token bound to
// key. On failure the response has already been written.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, key string) (principal, bool) {
	if s.isServiceCaller(r) {
		return principal{service: true}, true
	}

	if !s.originAllowed(r) {
		s.logger.Warn().
			Str(log.FieldEvent, "origin.rejected").
			Str(log.FieldOrigin, r.Header.Get("Origin")).
			Str(log.FieldKey, key).
			Msg("origin not in allow-list")
		writeForbidden(w)
		return principal{}, false
	}

	t := r.URL.Query().Get("t")
	if t == "" {
		writeTokenRejected(w)
		return principal{}, false
	}

	claims, err := s.auth.Validate(r.Context(), t, key)
	if err != nil {
		// AlreadyConsumed keeps its own stable category so player
		// diagnostics can tell "played elsewhere" from "expired".
		if errors.Is(err, token.ErrAlreadyConsumed) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "invalid or expired token",
				"code":  "token_consumed",
			})
			return principal{}, false
		}
		writeTokenRejected(w)
		return principal{}, false
	}

	if claims.Binding != "" && !bindingMatches(r, claims.Binding) {
		s.logger.Warn().
			Str(log.FieldEvent, "token.binding_mismatch").
			Str(log.FieldKey, key).
			Msg("client binding does not match")
		writeTokenRejected(w)
		return principal{}, false
	}

	return principal{claims: claims}, true
}

func bindingMatches(r *http.Request, binding string) bool {
	return binding == ratelimit.ClientIP(r) || binding == r.Referer()
}

func streamKey(r *http.Request) string {
	return strings.TrimPrefix(chi.URLParam(r, "*"), "/")
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStream proxies audio bytes from the storage backend, forwarding
// byte-range semantics in both directions.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key := streamKey(r)
	if key == "" {
		writeBadRequest(w, "missing key")
		return
	}

	p, ok := s.authorize(w, r, key)
	if !ok {
		return
	}

	if !s.admission.Allow(ratelimit.ClientIP(r)) {
		writeTooManyRequests(w)
		return
	}

	upstreamURL, err := s.store.SignedURL(r.Context(), key, s.cfg.SignedURLTTL)
	if err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldEvent, "stream.sign_failed").
			Str(log.FieldKey, key).
			Msg("could not sign backend URL")
		writeServiceUnavailable(w)
		return
	}

	s.proxyUpstream(w, r, key, upstreamURL, !p.service)
}

// handleHLS serves the rewritten (or synthesized) media manifest for a key.
// Manifest generation sits behind the circuit breaker so a failing backend
// degrades to fast rejections instead of piling up requests.
func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	s.serveManifest(w, r, func(key string) (*manifest.Result, error) {
		return s.rewriter.Rewrite(r.Context(), key)
	})
}

// handleAdaptive serves the master manifest listing all bitrate variants.
func (s *Server) handleAdaptive(w http.ResponseWriter, r *http.Request) {
	s.serveManifest(w, r, func(key string) (*manifest.Result, error) {
		return s.rewriter.Master(r.Context(), key)
	})
}

func (s *Server) serveManifest(w http.ResponseWriter, r *http.Request, generate func(string) (*manifest.Result, error)) {
	key := streamKey(r)
	if key == "" {
		writeBadRequest(w, "missing key")
		return
	}

	p, ok := s.authorize(w, r, key)
	if !ok {
		return
	}

	var res *manifest.Result
	err := s.breaker.Execute(func() error {
		var genErr error
		res, genErr = generate(key)
		return genErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			writeServiceUnavailable(w)
			return
		}
		s.logger.Error().Err(err).
			Str(log.FieldEvent, "manifest.failed").
			Str(log.FieldKey, key).
			Msg("manifest generation failed")
		writeServiceUnavailable(w)
		return
	}

	// Cookies must be set before any body bytes.
	if res.Cookies != nil {
		edgesign.SetCookies(w, res.Cookies, r.TLS != nil)
	}

	w.Header().Set("Content-Type", mediatype.Manifest)
	if !p.service {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

// handleQuality lists the known variants of a key plus a recommendation
// derived from client hints.
func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	key := streamKey(r)
	if key == "" {
		writeBadRequest(w, "missing key")
		return
	}

	if _, ok := s.authorize(w, r, key); !ok {
		return
	}

	variants, err := s.catalog.ListVariants(r.Context(), key)
	if err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldEvent, "quality.list_failed").
			Str(log.FieldKey, key).
			Msg("variant probe failed")
		writeServiceUnavailable(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"variants":    variants,
		"recommended": quality.Recommend(clientHints(r)),
	})
}

// clientHints reads declared network conditions: the Downlink and Save-Data
// client-hint headers, with a "bw" query override for non-browser players.
func clientHints(r *http.Request) quality.Hints {
	h := quality.Hints{}

	if v := r.URL.Query().Get("bw"); v != "" {
		if bw, err := strconv.ParseFloat(v, 64); err == nil {
			h.BandwidthMbps = bw
			h.HasBandwidth = true
		}
	} else if v := r.Header.Get("Downlink"); v != "" {
		if bw, err := strconv.ParseFloat(v, 64); err == nil {
			h.BandwidthMbps = bw
			h.HasBandwidth = true
		}
	}

	if strings.EqualFold(r.Header.Get("Save-Data"), "on") || r.URL.Query().Get("saveData") == "1" {
		h.DataSaver = true
	}
	return h
}

// handleQualityURL exchanges a valid token for fresh quality-scoped
// playback URLs.
func (s *Server) handleQualityURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeBadRequest(w, "missing key")
		return
	}

	p, ok := s.authorize(w, r, key)
	if !ok {
		return
	}

	q := quality.ParseQuality(r.URL.Query().Get("quality"))

	ttl := s.cfg.TokenTTL
	if v := r.URL.Query().Get("ttlMinutes"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil && mins > 0 {
			requested := time.Duration(mins) * time.Minute
			if requested < ttl {
				ttl = requested
			}
		}
	}

	variantKey := key
	if q != quality.Original {
		vk := quality.VariantKey(key, q)
		exists, err := s.store.Exists(r.Context(), vk)
		if err != nil {
			writeServiceUnavailable(w)
			return
		}
		if exists {
			variantKey = vk
		}
	}

	opts := []token.IssueOption{token.AllowExplicit(p.claims.ExplicitAllowed)}
	hlsTok, err := s.auth.Issue(variantKey, ttl, opts...)
	if err != nil {
		writeServiceUnavailable(w)
		return
	}
	streamTok, err := s.auth.Issue(variantKey, ttl, opts...)
	if err != nil {
		writeServiceUnavailable(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hlsUrl":    "/hls/" + variantKey + "?t=" + hlsTok,
		"streamUrl": "/stream/" + variantKey + "?t=" + streamTok,
		"expiresIn": int(ttl.Seconds()),
	})
}
