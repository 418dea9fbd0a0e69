// Package httpapi implements the C13 HTTP transport: a chi router mirroring
// the teacher's server.New middleware stack (RequestID, RealIP, Logger,
// Recoverer, then CORS), generalized from the teacher's single
// conversation-centric surface to the full route set in spec.md §6.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fabfab/ragsentry/internal/auth"
	"github.com/fabfab/ragsentry/internal/chatstore"
	"github.com/fabfab/ragsentry/internal/filestore"
	"github.com/fabfab/ragsentry/internal/indexing"
	"github.com/fabfab/ragsentry/internal/metrics"
	"github.com/fabfab/ragsentry/internal/orchestrator"
	"github.com/fabfab/ragsentry/internal/ratelimit"
	"github.com/fabfab/ragsentry/internal/vectorstore"
)

// RateLimits bundles per-endpoint request budgets, sourced from
// config.Config.RateLimit.
type RateLimits struct {
	RegisterPerHour int
	LoginPerMinute  int
	ChatPerMinute   int
	IndexPerMinute  int
}

// Server wires HTTP handlers to the orchestration core.
type Server struct {
	router      chi.Router
	chat        *orchestrator.Service
	chatStore   *chatstore.Store
	vectors     *vectorstore.Store
	files       *filestore.Store
	queue       indexing.Queue
	tokens      *auth.TokenIssuer
	limiter     *ratelimit.Limiter
	metrics     *metrics.Recorder
	limits      RateLimits
	corsOrigins []string
}

// New constructs a Server and registers every route in spec.md §6.
func New(chat *orchestrator.Service, chatStore *chatstore.Store, vectors *vectorstore.Store, files *filestore.Store, queue indexing.Queue, tokens *auth.TokenIssuer, limiter *ratelimit.Limiter, recorder *metrics.Recorder, limits RateLimits, corsOrigins []string) *Server {
	s := &Server{
		chat:        chat,
		chatStore:   chatStore,
		vectors:     vectors,
		files:       files,
		queue:       queue,
		tokens:      tokens,
		limiter:     limiter,
		metrics:     recorder,
		limits:      limits,
		corsOrigins: corsOrigins,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/pg/health", s.handlePgHealth)
	r.Get("/metrics/summary", s.handleMetricsSummary)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware("register", limits.RegisterPerHour))
		r.Post("/auth/register", s.handleRegister)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware("login", limits.LoginPerMinute))
		r.Post("/auth/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware("chat", limits.ChatPerMinute))
			r.Post("/chat", s.handleChat)
		})
		r.Delete("/sessions/{sid}", s.handleDeleteSession)
		r.Post("/files/upload", s.handleUploadFile)
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware("index", limits.IndexPerMinute))
			r.Post("/embeddings/index/{fid}", s.handleIndexFile)
		})
		r.Get("/embeddings/search", s.handleSearch)
	})

	s.router = r
	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
