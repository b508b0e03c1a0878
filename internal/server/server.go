// Package server exposes the plugin registry over HTTP: health, plugin
// listing, the action endpoint, plugin routes and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/geoscout/internal/plugin"
	"github.com/HerbHall/geoscout/internal/version"
)

// maxActionBody caps action request bodies.
const maxActionBody = 1 << 20

// Server is the geoscout HTTP server.
type Server struct {
	httpServer *http.Server
	registry   *plugin.Registry
	logger     *zap.Logger
	mux        *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.mux.Handle("GET /metrics", h) }
}

// New creates a new Server instance.
func New(addr string, reg *plugin.Registry, logger *zap.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// No WriteTimeout: a synchronous start action holds the response
			// until the capture finishes, and the events route is a websocket.
			IdleTimeout: 60 * time.Second,
		},
		registry: reg,
		logger:   logger,
		mux:      mux,
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.HandleFunc("POST /api/v1/{plugin}/actions/{action}", s.handleAction)
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	for pluginName, routes := range s.registry.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleAction runs one entry of a plugin's command table. The request body
// is passed through as the action's parameters.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	pluginName, action := r.PathValue("plugin"), r.PathValue("action")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxActionBody))
	if err != nil {
		BadRequest(w, "request body too large or unreadable", r.URL.Path)
		return
	}

	result, err := s.registry.Dispatch(r.Context(), pluginName, action, body)
	if err != nil {
		var ae *plugin.ActionError
		switch {
		case errors.As(err, &ae):
			s.logger.Info("action failed",
				zap.String("plugin", pluginName),
				zap.String("action", action),
				zap.String("message", ae.Message),
				zap.Error(ae.Err),
			)
			WriteActionFailure(w, ae.Message)
		case errors.Is(err, plugin.ErrUnknownPlugin), errors.Is(err, plugin.ErrUnknownAction):
			NotFound(w, err.Error(), r.URL.Path)
		case errors.Is(err, plugin.ErrDisabled):
			Unavailable(w, err.Error(), r.URL.Path)
		default:
			s.logger.Error("action error",
				zap.String("plugin", pluginName),
				zap.String("action", action),
				zap.Error(err),
			)
			InternalError(w, "action failed", r.URL.Path)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Geoscout-Version", version.Short())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"service": "geoscout",
		"version": version.Map(),
	})
}

// handlePlugins lists registered plugins and their actions.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	type pluginResponse struct {
		Name    string   `json:"name"`
		Version string   `json:"version"`
		Actions []string `json:"actions"`
	}
	plugins := s.registry.All()
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info = append(info, pluginResponse{
			Name:    p.Name(),
			Version: p.Version(),
			Actions: s.registry.ActionNames(p.Name()),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Geoscout-Version", version.Short())
	_ = json.NewEncoder(w).Encode(info)
}
