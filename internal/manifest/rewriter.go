// Package manifest turns stored multi-bitrate playlists into
// client-consumable manifests without leaking backend signed URLs.
package manifest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/auralis/streamgate/internal/blob"
	"github.com/auralis/streamgate/internal/edgesign"
	"github.com/auralis/streamgate/internal/log"
	"github.com/auralis/streamgate/internal/metrics"
	"github.com/auralis/streamgate/internal/quality"
	"github.com/auralis/streamgate/internal/token"
)

// Result is a generated manifest plus the edge cookies that must be set on
// the response before the body, when edge-cookie delivery was chosen.
type Result struct {
	Body    []byte
	Cookies *edgesign.SignedPolicy
}

// Config selects the delivery methods available to the rewriter.
type Config struct {
	// CDNDomain, when set, wins over every other delivery method.
	CDNDomain string
	// EdgeDomain is used with the cookie signer when configured.
	EdgeDomain string
	// SignedURLTTL bounds backend signed URLs and issued stream tokens.
	SignedURLTTL time.Duration
}

// Rewriter produces client-ready manifests for canonical keys.
type Rewriter struct {
	store   blob.Store
	auth    *token.Authority
	catalog *quality.Catalog
	signer  edgesign.Signer
	cfg     Config
}

// NewRewriter wires the rewriter's collaborators. signer may be
// edgesign.Disabled; the rewriter then falls through to signed backend URLs.
func NewRewriter(store blob.Store, auth *token.Authority, catalog *quality.Catalog, signer edgesign.Signer, cfg Config) *Rewriter {
	if signer == nil {
		signer = edgesign.Disabled
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 5 * time.Minute
	}
	return &Rewriter{store: store, auth: auth, catalog: catalog, signer: signer, cfg: cfg}
}

// Rewrite loads the manifest stored at key and rewrites its resource lines.
// When no stored manifest exists it synthesizes a single-entry manifest
// pointing at the direct-stream endpoint, so every key serves adaptive-style
// URLs uniformly.
func (rw *Rewriter) Rewrite(ctx context.Context, key string) (*Result, error) {
	body, err := rw.download(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return rw.synthesize(key)
	}
	if err != nil {
		return nil, err
	}
	return rw.rewriteLines(ctx, key, body)
}

func (rw *Rewriter) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := rw.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func (rw *Rewriter) rewriteLines(ctx context.Context, key string, body []byte) (*Result, error) {
	logger := log.WithComponentFromContext(ctx, "manifest")
	dir := path.Dir(key)

	// Edge cookies are signed once per manifest, covering the whole key
	// directory, so the player can fetch every segment with the same cookies.
	var cookies *edgesign.SignedPolicy
	useEdge := rw.cfg.CDNDomain == "" && rw.signer.Enabled() && rw.cfg.EdgeDomain != ""
	if useEdge {
		pattern := "https://" + rw.cfg.EdgeDomain + "/" + dir + "/*"
		p, err := rw.signer.Sign(pattern, rw.cfg.SignedURLTTL)
		if err != nil {
			// Signing unavailable mid-flight: fall through to signed URLs.
			logger.Warn().Err(err).Str(log.FieldKey, key).Msg("edge signing failed, falling back to signed URLs")
			useEdge = false
		} else {
			cookies = p
		}
	}

	var out bytes.Buffer
	mode := "signed_url"
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		// Directives, comments and blanks pass through unchanged.
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}

		// Already-absolute references are never rewritten: re-signing a
		// signed URL silently breaks playback.
		if isAbsolute(trimmed) {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}

		resolved := resolveRef(dir, trimmed)
		switch {
		case rw.cfg.CDNDomain != "":
			mode = "cdn"
			out.WriteString("https://" + rw.cfg.CDNDomain + "/" + resolved)
		case useEdge:
			mode = "edge_cookie"
			out.WriteString("https://" + rw.cfg.EdgeDomain + "/" + resolved)
		default:
			signed, err := rw.store.SignedURL(ctx, resolved, rw.cfg.SignedURLTTL)
			if err != nil {
				// Partial degradation: keep the original line rather than
				// failing the whole manifest.
				logger.Warn().Err(err).
					Str(log.FieldKey, key).
					Str("ref", trimmed).
					Msg("could not sign sub-resource, leaving line unrewritten")
				metrics.ManifestLineFailures.Inc()
				out.WriteString(line)
				out.WriteByte('\n')
				continue
			}
			out.WriteString(signed)
		}
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("manifest: scan %s: %w", key, err)
	}

	metrics.IncManifestRewrite(mode)
	if mode != "edge_cookie" {
		cookies = nil
	}
	return &Result{Body: out.Bytes(), Cookies: cookies}, nil
}

// synthesize emits a minimal single-entry manifest pointing at the
// direct-stream endpoint for key.
func (rw *Rewriter) synthesize(key string) (*Result, error) {
	tok, err := rw.auth.Issue(key, rw.cfg.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("manifest: issue stream token: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("#EXTM3U\n")
	out.WriteString("#EXT-X-VERSION:3\n")
	out.WriteString("#EXTINF:-1,\n")
	out.WriteString(streamPath(key, tok) + "\n")
	out.WriteString("#EXT-X-ENDLIST\n")

	metrics.IncManifestRewrite("synthesized")
	return &Result{Body: out.Bytes()}, nil
}

// Master emits the adaptive master manifest for key: one stream-info
// directive plus URI per known variant, ordered by descending bitrate.
// Players rely on that ordering as an implicit hint.
func (rw *Rewriter) Master(ctx context.Context, key string) (*Result, error) {
	variants, err := rw.catalog.ListVariants(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("manifest: list variants for %s: %w", key, err)
	}

	var out bytes.Buffer
	out.WriteString("#EXTM3U\n")
	out.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range variants {
		tok, err := rw.auth.Issue(v.Key, rw.cfg.SignedURLTTL)
		if err != nil {
			return nil, fmt.Errorf("manifest: issue variant token: %w", err)
		}
		fmt.Fprintf(&out, "#EXT-X-STREAM-INF:BANDWIDTH=%d\n", v.BitrateKbps*1000)
		out.WriteString(hlsPath(v.Key, tok) + "\n")
	}

	metrics.IncManifestRewrite("master")
	return &Result{Body: out.Bytes()}, nil
}

// isAbsolute reports whether ref already carries a scheme or is
// protocol-relative.
func isAbsolute(ref string) bool {
	if strings.HasPrefix(ref, "//") {
		return true
	}
	u, err := url.Parse(ref)
	return err == nil && u.IsAbs()
}

// resolveRef resolves a relative reference against the manifest's own
// directory, as a storage key.
func resolveRef(dir, ref string) string {
	if dir == "." || dir == "" {
		return path.Clean(ref)
	}
	return path.Clean(path.Join(dir, ref))
}

func streamPath(key, tok string) string {
	return "/stream/" + escapeKey(key) + "?t=" + url.QueryEscape(tok)
}

func hlsPath(key, tok string) string {
	return "/hls/" + escapeKey(key) + "?t=" + url.QueryEscape(tok)
}

// escapeKey escapes each path segment while keeping separators readable.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
