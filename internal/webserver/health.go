package webserver

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/sadewadee/sockhub/internal/sioserver"
)

var startTime = time.Now()

// HealthHandler serves liveness and readiness probes, adapted from the
// teacher's HealthHandler: liveness just confirms the process is up,
// readiness also reports sioserver's connection/room counts in place of
// the teacher's worker-pool stats.
type HealthHandler struct {
	sio *sioserver.Server
}

// NewHealthHandler builds a HealthHandler reporting sio's stats.
func NewHealthHandler(sio *sioserver.Server) *HealthHandler {
	return &HealthHandler{sio: sio}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ready", "/readyz":
		h.readiness(w, r)
	default:
		h.liveness(w, r)
	}
}

func (h *HealthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(startTime).String(),
	})
}

func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	stats := h.sio.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(startTime).String(),
		"connections": stats.Connections,
		"namespaces":  stats.Namespaces,
		"rooms":       stats.Rooms,
		"goroutines":  runtime.NumGoroutine(),
		"heap_alloc_bytes": mem.HeapAlloc,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
