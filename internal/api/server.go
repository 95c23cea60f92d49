package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/storyweave/karta/internal/chapter"
	"github.com/storyweave/karta/internal/storage"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricsSource collects the current engine metrics.
type MetricsSource interface {
	Collect(ctx context.Context) (metricdata.ResourceMetrics, error)
}

// Dependencies holds all dependencies for the HTTP server.
type Dependencies struct {
	Chapters *chapter.Service
	Store    storage.Backend
	Logger   *slog.Logger

	// Metrics is optional; /api/metrics is only served when set.
	Metrics MetricsSource
	// APIKey is optional; when set every /api route requires it as bearer token.
	APIKey string
}

// Server is the HTTP API server for karta.
type Server struct {
	router chi.Router
	deps   Dependencies
	log    *slog.Logger
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps: deps,
		log:  deps.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		if s.deps.APIKey != "" {
			r.Use(AuthMiddleware(s.deps.APIKey, s.log))
		}

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/chapters", s.handleGetChapters)
			r.Put("/chapters", s.handleSaveChapters)
			r.Post("/chapters/{number}/repair", s.handleRepair)
			r.Get("/maps/{mapID}/extent", s.handleMapExtent)
			r.Get("/timeline", s.handleTimeline)
		})

		r.Post("/snapshots", s.handleImportSnapshot)

		if s.deps.Metrics != nil {
			r.Get("/metrics", s.handleMetrics)
		}
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
