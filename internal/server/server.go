package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/chatrelay/internal/api"
	"github.com/gaspardpetit/chatrelay/internal/config"
	"github.com/gaspardpetit/chatrelay/internal/mcpserver"
	"github.com/gaspardpetit/chatrelay/internal/metrics"
	"github.com/gaspardpetit/chatrelay/internal/serverstate"
)

// Deps are the relay components served by the router.
type Deps struct {
	Gateway  api.Chatter
	Streamer api.Streamer
	Backend  api.BackendProbe
	Version  string
	Started  time.Time
}

// New constructs the HTTP handler for the server. Prometheus collectors are
// registered on a fresh registry that also becomes the default gatherer, so a
// separate metrics listener can serve promhttp.Handler().
func New(cfg config.ServerConfig, deps Deps) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"X-Request-Id", api.StreamErrorTrailer},
		}))
	}
	for _, m := range api.Middleware() {
		r.Use(m)
	}

	preg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = preg
	prometheus.DefaultGatherer = preg
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(preg)

	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}
	state := &api.StateHandler{
		Backend:    deps.Backend,
		BackendURL: cfg.BackendURL,
		Model:      cfg.ModelName,
		Started:    deps.Started,
	}

	r.Group(func(g chi.Router) {
		g.Use(api.DrainGuard)
		g.Post("/chat", api.ChatHandler(deps.Gateway))
		g.Post("/chat-stream", api.ChatStreamHandler(deps.Streamer))
		g.Get("/chat-ws", api.ChatWSHandler(deps.Streamer, cfg.AllowedOrigins))
		g.Handle("/mcp", mcpserver.NewHandler(deps.Gateway, deps.Version))
	})
	r.Get("/healthz", Healthz)
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/state", state.GetState)
		ar.Get("/openapi.json", api.OpenAPIHandler())
		ar.Get("/docs", api.SwaggerHandler())
	})

	if cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port) {
		r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	}

	return r
}

// Healthz reports ok until the server starts draining.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if serverstate.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	_, _ = w.Write([]byte("ok"))
}
