package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/auralis/streamgate/internal/log"
	"github.com/auralis/streamgate/internal/mediatype"
	"github.com/auralis/streamgate/internal/metrics"
)

// Headers copied from the backend response when present.
var passthroughHeaders = []string{
	"Content-Length",
	"Content-Range",
	"ETag",
	"Last-Modified",
}

// proxyUpstream fetches upstreamURL and relays status, headers and body to
// the client. Range semantics are forwarded verbatim in both directions; the
// backend decides whether a range is satisfiable.
func (s *Server) proxyUpstream(w http.ResponseWriter, r *http.Request, key, upstreamURL string, tokenGated bool) {
	logger := log.WithComponentFromContext(r.Context(), "proxy")

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, nil)
	if err != nil {
		metrics.IncStreamStart("error")
		writeServiceUnavailable(w)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		req.Header.Set("If-None-Match", inm)
	}

	resp, err := s.upstream.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away before the backend answered; nothing to write.
			metrics.IncStreamStart("client_gone")
			return
		}
		logger.Error().Err(err).
			Str(log.FieldEvent, "stream.upstream_failed").
			Str(log.FieldKey, key).
			Msg("backend request failed")
		metrics.IncStreamStart("upstream_error")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream failure"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	h := w.Header()
	h.Set("Content-Type", mediatype.Resolve(resp.Header.Get("Content-Type"), key))
	for _, name := range passthroughHeaders {
		if v := resp.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	h.Set("Accept-Ranges", "bytes")
	if tokenGated {
		// Tokenized URLs must never land in shared caches.
		h.Set("Cache-Control", "no-store")
	} else if cc := resp.Header.Get("Cache-Control"); cc != "" {
		h.Set("Cache-Control", cc)
	}

	// Non-success statuses (404, 416, ...) are relayed before any body bytes
	// so the client sees exactly what the backend decided.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, io.LimitReader(resp.Body, 4*1024))
		metrics.IncStreamStart("upstream_status")
		return
	}

	w.WriteHeader(resp.StatusCode)
	metrics.IncStreamStart("ok")

	if r.Method == http.MethodHead {
		return
	}

	start := time.Now()
	written, err := s.copyBody(r.Context(), w, resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
			// Seeking players drop connections constantly. Not an error.
			metrics.IncStreamAborted("client_disconnect")
		} else {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "stream.aborted").
				Str(log.FieldKey, key).
				Int64(log.FieldBytes, written).
				Msg("transfer aborted mid-body")
			metrics.IncStreamAborted("copy_error")
		}
		return
	}

	metrics.ObserveStreamTransfer(written, time.Since(start))
	logger.Debug().
		Str(log.FieldEvent, "stream.complete").
		Str(log.FieldKey, key).
		Int64(log.FieldBytes, written).
		Msg("transfer complete")
}

// copyBody relays the body in fixed-size chunks, flushing after each one so
// playback starts before the transfer finishes, and stopping as soon as the
// client context is done.
func (s *Server) copyBody(ctx context.Context, w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, s.cfg.StreamChunkSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
