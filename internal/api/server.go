package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/longyee25564126/QuizCraft/internal/config"
	"github.com/longyee25564126/QuizCraft/internal/llm"
	"github.com/longyee25564126/QuizCraft/internal/pipeline"
)

// Server is the HTTP API for building and fetching study packs.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        *llm.Stats
	log          *slog.Logger
	cfg          config.Config
}

func NewServer(orch *pipeline.Orchestrator, stats *llm.Stats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		log:          log,
		cfg:          cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, RequestLogger(log))

	// /health stays unauthenticated so load balancers can check it.
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Use(AuthMiddleware(cfg.APIKey, log))
		api.Route("/studypacks", func(sp chi.Router) {
			sp.Post("/", s.handleCreateStudyPack)
			sp.Get("/{jobID}/status", s.handleStudyPackStatus)
			sp.Get("/{jobID}/result", s.handleStudyPackResult)
		})
		api.Get("/stats/llm", s.handleLLMStats)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
