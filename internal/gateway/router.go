// ABOUTME: chi route table for the gateway's HTTP surface
// ABOUTME: Health, runtime config, metrics, auth, server and document endpoints plus the frontend

package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/warden-gateway/internal/auth"
	"github.com/2389/warden-gateway/internal/config"
)

// routes builds the router for every non-upgrade request.
//
// Routes:
//   - GET /health, GET /health/ready
//   - GET /config - dashboard runtime configuration
//   - GET {metrics.path} - Prometheus metrics, when enabled
//   - /api/auth/{login,refresh,logout,status}
//   - /api/server/{start,stop,status,log} plus the startServer/stopServer/checkServer aliases
//   - /api/database/{preferences,layouts,layout}
//   - /* - static frontend, when frontend_path is set
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(g.corsOptions()))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", g.handleHealth)
		r.Get("/ready", g.handleReady)
	})
	r.Get("/config", g.handleRuntimeConfig)

	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		r.Handle(path, promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}

	requireUser := auth.RequireUser(g.providers.Registry, g.providers.Mapper, g.writeError)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", g.handleLogin)
			r.Post("/refresh", g.handleRefresh)
			r.Post("/logout", g.handleLogout)
			r.With(requireUser).Get("/status", g.handleAuthStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Route("/server", func(r chi.Router) {
				r.Post("/start", g.handleStartServer)
				r.Post("/stop", g.handleStopServer)
				r.Get("/status", g.handleCheckServer)
				r.Get("/log", g.handleServerLog)
			})
			r.Post("/startServer", g.handleStartServer)
			r.Post("/stopServer", g.handleStopServer)
			r.Get("/checkServer", g.handleCheckServer)

			r.Route("/database", func(r chi.Router) {
				r.Use(g.requireStore)
				r.Get("/preferences", g.handleGetPreferences)
				r.Put("/preferences", g.handleSetPreferences)
				r.Delete("/preferences", g.handleClearPreferences)
				r.Get("/layouts", g.handleListLayouts)
				r.Put("/layout", g.handlePutLayout)
				r.Delete("/layout", g.handleDeleteLayout)
			})
		})
	})

	if dir := g.config.Server.FrontendPath; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	return r
}

// corsOptions allows credentialed requests only from configured origins.
func (g *Gateway) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}
	if origins := g.config.CORS.AllowedOrigins; len(origins) > 0 {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}
	return opts
}

func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		g.logger.Debug("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"backends": len(g.backends.List()),
	})
}

func (g *Gateway) handleRuntimeConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.runtime)
}

// requireStore rejects document requests when no database is configured.
func (g *Gateway) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			g.writeError(w, r, errDatabaseNotConfigured)
			return
		}
		next.ServeHTTP(w, r)
	})
}
