package webserver

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sadewadee/sockhub/internal/sioserver"
)

// Metrics collects Prometheus-compatible metrics, in the teacher's own
// hand-rolled exposition style (sync.Map + atomics, no client_golang
// dependency): request counters, a manual duration histogram, and a
// sioserver connection/room snapshot in place of the teacher's worker-pool
// stats.
type Metrics struct {
	totalRequests  sync.Map // "method:status" -> *atomic.Int64
	activeRequests atomic.Int32
	totalBytes     atomic.Int64

	durationBuckets []float64
	durationCounts  sync.Map // bucket key -> *atomic.Int64
	durationSum     atomic.Int64
	durationCount   atomic.Int64

	sio *sioserver.Server
}

// NewMetrics creates a metrics collector reporting sio's stats.
func NewMetrics(sio *sioserver.Server) *Metrics {
	return &Metrics{
		sio:             sio,
		durationBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}
}

// trackRequest is called once per Engine.IO request the Router dispatches,
// recording a request against method.
func (m *Metrics) trackRequest(method string) {
	key := method + ":handled"
	counter, _ := m.totalRequests.LoadOrStore(key, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1)
}

// observe records one request's outcome: method, final status, response
// size, and latency. Exposed for callers that wrap a ResponseWriter
// themselves (the Engine.IO handler's own status codes aren't visible to
// the generic CoreMiddleware).
func (m *Metrics) observe(method string, status int, bytesWritten int, duration time.Duration) {
	key := fmt.Sprintf("%s:%d", method, status)
	counter, _ := m.totalRequests.LoadOrStore(key, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1)

	m.totalBytes.Add(int64(bytesWritten))

	m.durationSum.Add(int64(duration))
	m.durationCount.Add(1)
	durationSec := duration.Seconds()
	for _, bucket := range m.durationBuckets {
		if durationSec <= bucket {
			bkey := fmt.Sprintf("%.3f", bucket)
			bc, _ := m.durationCounts.LoadOrStore(bkey, &atomic.Int64{})
			bc.(*atomic.Int64).Add(1)
		}
	}
}

// ServeHTTP renders the current metrics snapshot in Prometheus text
// exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var b strings.Builder

	b.WriteString("# HELP sockhub_http_requests_total Total number of HTTP requests.\n")
	b.WriteString("# TYPE sockhub_http_requests_total counter\n")
	m.totalRequests.Range(func(key, value interface{}) bool {
		parts := strings.SplitN(key.(string), ":", 2)
		method, status := parts[0], parts[1]
		count := value.(*atomic.Int64).Load()
		fmt.Fprintf(&b, "sockhub_http_requests_total{method=\"%s\",status=\"%s\"} %d\n", method, status, count)
		return true
	})

	b.WriteString("# HELP sockhub_http_requests_active Current number of active HTTP requests.\n")
	b.WriteString("# TYPE sockhub_http_requests_active gauge\n")
	fmt.Fprintf(&b, "sockhub_http_requests_active %d\n", m.activeRequests.Load())

	b.WriteString("# HELP sockhub_http_response_bytes_total Total bytes sent in HTTP responses.\n")
	b.WriteString("# TYPE sockhub_http_response_bytes_total counter\n")
	fmt.Fprintf(&b, "sockhub_http_response_bytes_total %d\n", m.totalBytes.Load())

	b.WriteString("# HELP sockhub_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE sockhub_http_request_duration_seconds histogram\n")
	cumulative := int64(0)
	totalCount := m.durationCount.Load()
	for _, bucket := range m.durationBuckets {
		bkey := fmt.Sprintf("%.3f", bucket)
		if bc, ok := m.durationCounts.Load(bkey); ok {
			cumulative += bc.(*atomic.Int64).Load()
		}
		fmt.Fprintf(&b, "sockhub_http_request_duration_seconds_bucket{le=\"%.3f\"} %d\n", bucket, cumulative)
	}
	fmt.Fprintf(&b, "sockhub_http_request_duration_seconds_bucket{le=\"+Inf\"} %d\n", totalCount)
	fmt.Fprintf(&b, "sockhub_http_request_duration_seconds_sum %.6f\n", float64(m.durationSum.Load())/float64(time.Second))
	fmt.Fprintf(&b, "sockhub_http_request_duration_seconds_count %d\n", totalCount)

	if m.sio != nil {
		stats := m.sio.Stats()

		b.WriteString("# HELP sockhub_connections Current number of connected sockets.\n")
		b.WriteString("# TYPE sockhub_connections gauge\n")
		fmt.Fprintf(&b, "sockhub_connections %d\n", stats.Connections)

		b.WriteString("# HELP sockhub_namespaces Registered namespace count.\n")
		b.WriteString("# TYPE sockhub_namespaces gauge\n")
		fmt.Fprintf(&b, "sockhub_namespaces %d\n", stats.Namespaces)

		b.WriteString("# HELP sockhub_rooms Current number of non-empty rooms.\n")
		b.WriteString("# TYPE sockhub_rooms gauge\n")
		fmt.Fprintf(&b, "sockhub_rooms %d\n", stats.Rooms)
	}

	b.WriteString("# HELP sockhub_go_goroutines Number of goroutines.\n")
	b.WriteString("# TYPE sockhub_go_goroutines gauge\n")
	fmt.Fprintf(&b, "sockhub_go_goroutines %d\n", runtime.NumGoroutine())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	b.WriteString("# HELP sockhub_go_memstats_alloc_bytes Number of bytes allocated.\n")
	b.WriteString("# TYPE sockhub_go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(&b, "sockhub_go_memstats_alloc_bytes %d\n", mem.Alloc)

	w.Write([]byte(b.String()))
}
