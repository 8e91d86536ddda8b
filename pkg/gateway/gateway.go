package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AgentsPrefix is where specialist agents are mounted; the router owns
// the root.
const AgentsPrefix = "/agents/"

type Gateway struct {
	server  *http.Server
	router  *chi.Mux
	logger  *slog.Logger
	agents  map[string]http.Handler
	root    http.Handler
	records http.Handler
	metrics string
	ready   func(context.Context) error
}

type Config struct {
	Bind string
	Port int
	// Root serves the router agent at the gateway root.
	Root http.Handler
	// Agents are mounted under AgentsPrefix + name.
	Agents map[string]http.Handler
	// Records serves the record backend's MCP endpoint at /mcp.
	Records http.Handler
	// MetricsPath exposes Prometheus metrics when set.
	MetricsPath string
	// Ready reports whether dependencies are reachable; nil means always
	// ready.
	Ready  func(context.Context) error
	Logger *slog.Logger
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	g := &Gateway{
		router:  r,
		logger:  telemetry.Component(cfg.Logger, "gateway"),
		agents:  cfg.Agents,
		root:    cfg.Root,
		records: cfg.Records,
		metrics: cfg.MetricsPath,
		ready:   cfg.Ready,
	}

	g.registerRoutes()

	addr := resolveAddr(cfg.Bind, cfg.Port)
	g.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return g
}

func (g *Gateway) registerRoutes() {
	g.router.Get("/healthz", g.handleHealthz)
	g.router.Get("/health", g.handleHealth)
	g.router.Get("/readyz", g.handleReadyz)
	if g.metrics != "" {
		g.router.Handle(g.metrics, promhttp.Handler())
	}
	if g.records != nil {
		g.router.Mount("/mcp", g.records)
	}
	for name, h := range g.agents {
		g.router.Mount(AgentsPrefix+name, h)
	}
	if g.root != nil {
		g.router.Mount("/", g.root)
	}
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Addr() string {
	return g.server.Addr
}

func (g *Gateway) Start(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)
	logger.Info("gateway listening", slog.String("addr", g.server.Addr))

	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return g.shutdown()
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) shutdown() error {
	g.logger.Info("gateway shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleHealth lists the agents served by this process.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(g.agents))
	for name := range g.agents {
		names = append(names, name)
	}
	slices.Sort(names)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": names})
}

func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if g.ready != nil {
		if err := g.ready(r.Context()); err != nil {
			g.logger.Warn("readiness check failed", slog.String("err", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func resolveAddr(bind string, port int) string {
	var host string
	switch bind {
	case "lan", "all":
		host = "0.0.0.0"
	case "loopback", "":
		host = "127.0.0.1"
	default:
		host = bind
	}
	return fmt.Sprintf("%s:%d", host, port)
}
