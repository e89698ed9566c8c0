package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	uuidgen "github.com/hackjpnteam/sales-ai/internal/id/uuid"
	"github.com/hackjpnteam/sales-ai/internal/metrics"
	"github.com/hackjpnteam/sales-ai/internal/retrieval"
)

// CrawlSubmitter admits crawl jobs.
type CrawlSubmitter interface {
	Submit(ctx context.Context, req crawler.CrawlRequest) (crawler.Job, error)
}

// Searcher ranks stored content for a question.
type Searcher interface {
	Search(ctx context.Context, companyID, question string) ([]crawler.SearchResult, error)
}

// Answerer answers a question from stored content.
type Answerer interface {
	Answer(ctx context.Context, companyID, question string) (retrieval.Answer, error)
}

// ChunkDeleter removes an agent's chunks.
type ChunkDeleter interface {
	DeleteChunks(ctx context.Context, companyID, agentID string) (int64, error)
}

// Deps are the collaborators behind the routes. Nil members disable their
// routes with 503.
type Deps struct {
	Jobs      crawler.JobStore
	Crawls    CrawlSubmitter
	Search    Searcher
	Answers   Answerer
	Chunks    ChunkDeleter
	Knowledge crawler.KnowledgeStore
	Embedder  crawler.Embedder
	// IDs names new knowledge entries; nil uses UUID v7.
	IDs crawler.IDGenerator
	// Ready reports whether downstream stores are reachable.
	Ready func(ctx context.Context) error
}

// Config tunes request handling.
type Config struct {
	RequestTimeout    time.Duration
	DefaultPageBudget int
	MaxPageBudget     int
}

const (
	defaultRequestTimeout = 60 * time.Second
	defaultPageBudget     = 50
	maxPageBudget         = 500
	maxBodyBytes          = 1 << 20
)

// Server wires HTTP handlers to the job runner and retrieval engine.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DefaultPageBudget <= 0 {
		cfg.DefaultPageBudget = defaultPageBudget
	}
	if cfg.MaxPageBudget <= 0 {
		cfg.MaxPageBudget = maxPageBudget
	}
	if deps.IDs == nil {
		deps.IDs = uuidgen.New()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.submitCrawl)
			r.Get("/{job_id}", s.getCrawl)
		})
		r.Route("/companies/{company_id}", func(r chi.Router) {
			r.Post("/search", s.search)
			r.Post("/answer", s.answer)
			r.Post("/knowledge", s.putKnowledge)
			r.Delete("/agents/{agent_id}/chunks", s.deleteChunks)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request by the server.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID)))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
