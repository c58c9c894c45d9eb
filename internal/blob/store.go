// Package blob abstracts the object-storage backend holding audio content.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("blob: key not found")

// Store issues short-lived signed fetch URLs, reports existence and
// downloads objects. Implementations must be safe for concurrent use.
type Store interface {
	// SignedURL returns a fetch URL for key valid for ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Exists reports whether key is present in the backend.
	Exists(ctx context.Context, key string) (bool, error)

	// Download opens the object at key for reading. The caller owns the
	// returned ReadCloser. Returns ErrNotFound for absent keys.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}
