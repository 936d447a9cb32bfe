// Package api exposes the reconciliation engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/reconciler/internal/api/handlers"
	"github.com/dvloznov/reconciler/internal/api/middleware"
	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Config holds server dependencies. Publisher and JobStore are optional; without them
// asynchronous matching and the jobs endpoints are unavailable.
type Config struct {
	Port      int
	Log       zerolog.Logger
	Service   handlers.Reconciler
	Publisher jobs.Publisher
	JobStore  jobs.JobStore
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	port   int
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		log:  cfg.Log.With().Str("component", "server").Logger(),
		port: cfg.Port,
	}
	s.router = NewRouter(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// NewRouter builds the routes and middleware.
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Log))
	r.Use(middleware.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	imports := handlers.NewImportsHandler(cfg.Service, cfg.Publisher, cfg.JobStore, cfg.Log)
	movements := handlers.NewMovementsHandler(cfg.Service, cfg.Log)
	ledger := handlers.NewLedgerHandler(cfg.Service, cfg.Log)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteData(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/imports", func(r chi.Router) {
			r.Post("/", imports.CreateImport)
			r.Get("/", imports.ListImports)
			r.Route("/{importID}", func(r chi.Router) {
				r.Get("/", imports.GetImport)
				r.Get("/movements", imports.ListMovements)
				r.Post("/match", imports.RunMatching)
				r.Post("/finalize", imports.FinalizeImport)
			})
		})

		r.Route("/movements/{movementID}", func(r chi.Router) {
			r.Get("/", movements.GetMovement)
			r.Post("/approve", movements.Approve)
			r.Post("/reject", movements.Reject)
			r.Post("/discard", movements.Discard)
			r.Post("/link", movements.Link)
		})

		r.Get("/ledger/candidates", ledger.SearchCandidates)

		if cfg.JobStore != nil {
			jobsHandler := handlers.NewJobsHandler(cfg.JobStore, cfg.Log)
			r.Get("/jobs", jobsHandler.ListJobs)
			r.Get("/jobs/{jobID}", jobsHandler.GetJob)
		}
	})

	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a graceful stop.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
