// Package metrics defines the Prometheus collectors for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamsStarted tracks stream start attempts by outcome.
	StreamsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_streams_started_total",
		Help: "Total number of stream start attempts by result",
	}, []string{"result"})

	// StreamBytesProxied counts body bytes copied from upstream to clients.
	StreamBytesProxied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_stream_bytes_proxied_total",
		Help: "Total body bytes proxied from the storage backend to clients",
	})

	// StreamDuration tracks wall time of completed stream transfers.
	StreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamgate_stream_duration_seconds",
		Help:    "Duration of stream transfers from first byte to completion",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	// StreamsAborted counts transfers cut short, split by cause.
	StreamsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_streams_aborted_total",
		Help: "Total number of stream transfers aborted mid-body by cause",
	}, []string{"cause"})

	// ManifestRewrites counts manifest generations by delivery mode.
	ManifestRewrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_manifest_rewrites_total",
		Help: "Total manifest rewrites by delivery mode (cdn, edge_cookie, signed_url, synthesized, master)",
	}, []string{"mode"})

	// ManifestLineFailures counts sub-resource lines left unrewritten.
	ManifestLineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_manifest_line_failures_total",
		Help: "Total manifest lines left unrewritten after a signing failure",
	})
)

// IncStreamStart records a stream start attempt outcome.
func IncStreamStart(result string) {
	StreamsStarted.WithLabelValues(result).Inc()
}

// ObserveStreamTransfer records a completed transfer.
func ObserveStreamTransfer(bytes int64, d time.Duration) {
	StreamBytesProxied.Add(float64(bytes))
	StreamDuration.Observe(d.Seconds())
}

// IncStreamAborted records a transfer aborted mid-body.
func IncStreamAborted(cause string) {
	StreamsAborted.WithLabelValues(cause).Inc()
}

// IncManifestRewrite records a manifest generation by delivery mode.
func IncManifestRewrite(mode string) {
	ManifestRewrites.WithLabelValues(mode).Inc()
}
