// Package quality maps canonical media keys to their bitrate variants and
// recommends a playback quality from client hints.
package quality

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/auralis/streamgate/internal/blob"
)

// Quality identifies a bitrate tier.
type Quality string

const (
	Low      Quality = "low"
	Medium   Quality = "medium"
	High     Quality = "high"
	Original Quality = "original"
)

// Variant is one bitrate rendition of a canonical key.
type Variant struct {
	Quality     Quality `json:"quality"`
	BitrateKbps int     `json:"bitrateKbps"`
	Key         string  `json:"variantKey"`
}

// Bitrates assumed by the transcode producer's naming convention.
var bitrates = map[Quality]int{
	Original: 320,
	High:     256,
	Medium:   128,
	Low:      64,
}

// Hints are the client's declared playback conditions.
type Hints struct {
	BandwidthMbps float64
	DataSaver     bool
	HasBandwidth  bool
}

// Catalog derives variants from the transcode producer's naming convention:
// the producer deposits variant objects as <stem>_<quality><ext> next to the
// canonical key.
type Catalog struct {
	store blob.Store
}

// NewCatalog returns a catalog backed by store.
func NewCatalog(store blob.Store) *Catalog {
	return &Catalog{store: store}
}

// VariantKey returns the conventional storage key for a quality tier.
// The canonical key itself is the "original" tier.
func VariantKey(key string, q Quality) string {
	if q == Original {
		return key
	}
	ext := path.Ext(key)
	stem := strings.TrimSuffix(key, ext)
	return stem + "_" + string(q) + ext
}

// ListVariants probes the backend for the known tiers of key, ordered by
// bitrate descending. The original is always present; derived tiers only
// when the producer has deposited them.
func (c *Catalog) ListVariants(ctx context.Context, key string) ([]Variant, error) {
	variants := []Variant{{Quality: Original, BitrateKbps: bitrates[Original], Key: key}}

	for _, q := range []Quality{High, Medium, Low} {
		vk := VariantKey(key, q)
		ok, err := c.store.Exists(ctx, vk)
		if err != nil {
			return nil, err
		}
		if ok {
			variants = append(variants, Variant{Quality: q, BitrateKbps: bitrates[q], Key: vk})
		}
	}

	sort.Slice(variants, func(i, j int) bool {
		return variants[i].BitrateKbps > variants[j].BitrateKbps
	})
	return variants, nil
}

// Recommend picks a quality tier from client hints. Data saver always wins;
// without hints the safe default is medium.
func Recommend(h Hints) Quality {
	if h.DataSaver {
		return Low
	}
	if !h.HasBandwidth {
		return Medium
	}
	switch {
	case h.BandwidthMbps >= 5.0:
		return High
	case h.BandwidthMbps >= 2.0:
		return Medium
	default:
		return Low
	}
}

// ParseQuality maps a client-supplied string to a Quality, defaulting to
// medium for unknown values.
func ParseQuality(s string) Quality {
	switch Quality(strings.ToLower(s)) {
	case Low, Medium, High, Original:
		return Quality(strings.ToLower(s))
	default:
		return Medium
	}
}

// ResolveVariantURL signs a fetch URL for the requested tier, falling back to
// the canonical key when the tier has no distinct object. Original is always
// satisfiable.
func (c *Catalog) ResolveVariantURL(ctx context.Context, key string, q Quality, ttl time.Duration) (string, error) {
	target := key
	if q != Original {
		vk := VariantKey(key, q)
		ok, err := c.store.Exists(ctx, vk)
		if err != nil {
			return "", err
		}
		if ok {
			target = vk
		}
	}
	return c.store.SignedURL(ctx, target, ttl)
}
