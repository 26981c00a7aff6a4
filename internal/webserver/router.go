package webserver

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sadewadee/sockhub/internal/config"
	"github.com/sadewadee/sockhub/internal/sioserver"
)

// Router dispatches inbound requests to the Engine.IO bridge, the health
// endpoints, or the metrics endpoint, following the path-prefix switch of
// the teacher's own Router.
type Router struct {
	cfg    *config.Config
	engine *engineIOHandler
	health *HealthHandler
	metrics *Metrics
}

// NewRouter builds a Router wired to sio.
func NewRouter(cfg *config.Config, sio *sioserver.Server, logger *slog.Logger) *Router {
	return &Router{
		cfg:     cfg,
		engine:  newEngineIOHandler(cfg, sio, logger),
		health:  NewHealthHandler(sio),
		metrics: NewMetrics(sio),
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == "/healthz" || req.URL.Path == "/ready" || req.URL.Path == "/readyz" || req.URL.Path == "/livez":
		r.health.ServeHTTP(w, req)
	case r.cfg.Metrics.Enabled && req.URL.Path == r.cfg.Metrics.Path:
		r.metrics.ServeHTTP(w, req)
	case strings.HasPrefix(req.URL.Path, r.cfg.EngineIO.Path):
		r.metrics.trackRequest(req.Method)
		r.engine.ServeHTTP(w, req)
	default:
		http.NotFound(w, req)
	}
}
