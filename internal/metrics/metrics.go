// Package metrics provides Prometheus metrics for the p2p node.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP front end
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2pshare_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "p2pshare_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Peer server
	peerConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "p2pshare_peer_connections_active",
			Help: "Number of open peer connections on the chunk server",
		},
	)

	chunksServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2pshare_chunks_served_total",
			Help: "Chunk requests answered by the server, by response type",
		},
		[]string{"result"},
	)

	bytesServedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "p2pshare_bytes_served_total",
			Help: "Chunk payload bytes sent to peers",
		},
	)

	// Peer client
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2pshare_downloads_total",
			Help: "Downloads from peers, by outcome",
		},
		[]string{"outcome"},
	)

	bytesDownloadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "p2pshare_bytes_downloaded_total",
			Help: "Verified chunk bytes written to output files",
		},
	)

	// Catalog
	catalogFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "p2pshare_catalog_files",
			Help: "Number of files in the current catalog snapshot",
		},
	)

	catalogEnumerateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "p2pshare_catalog_enumerate_duration_seconds",
			Help:    "Time to rescan and rehash the shared directory",
			Buckets: prometheus.DefBuckets,
		},
	)

	digestCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2pshare_digest_cache_lookups_total",
			Help: "Content digest cache lookups, by result",
		},
		[]string{"result"},
	)

	// Advertiser
	advertiseRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2pshare_advertise_rounds_total",
			Help: "Registry advertisement rounds, by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// PeerConnectionOpened increments the active peer connection gauge.
func PeerConnectionOpened() {
	peerConnectionsActive.Inc()
}

// PeerConnectionClosed decrements the active peer connection gauge.
func PeerConnectionClosed() {
	peerConnectionsActive.Dec()
}

// RecordChunkServed records one answered chunk request.
func RecordChunkServed(result string, bytes int) {
	chunksServedTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		bytesServedTotal.Add(float64(bytes))
	}
}

// RecordDownload records the outcome of one download.
func RecordDownload(outcome string) {
	downloadsTotal.WithLabelValues(outcome).Inc()
}

// RecordBytesDownloaded adds verified chunk bytes.
func RecordBytesDownloaded(n int) {
	bytesDownloadedTotal.Add(float64(n))
}

// SetCatalogFiles sets the size of the current catalog snapshot.
func SetCatalogFiles(n int) {
	catalogFiles.Set(float64(n))
}

// RecordCatalogEnumerate records the duration of one enumeration.
func RecordCatalogEnumerate(d time.Duration) {
	catalogEnumerateDuration.Observe(d.Seconds())
}

// RecordDigestCacheLookup records a digest cache hit or miss.
func RecordDigestCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	digestCacheLookups.WithLabelValues(result).Inc()
}

// RecordAdvertiseRound records one advertisement round.
func RecordAdvertiseRound(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	advertiseRoundsTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. The
// matched route pattern is used as the path label when available.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
