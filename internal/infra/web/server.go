package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"photo-restyler/internal/domain/ports/repository"
	"photo-restyler/internal/infra/logging"
	"photo-restyler/internal/usecase"
)

// Server is the read-only status API over the run store.
type Server struct {
	runUC     usecase.RunUseCase
	artifacts repository.ArtifactStore
	apiKey    string
	log       *zerolog.Logger
}

func NewServer(runUC usecase.RunUseCase, artifacts repository.ArtifactStore, apiKey string, logger *zerolog.Logger) *Server {
	return &Server{
		runUC:     runUC,
		artifacts: artifacts,
		apiKey:    apiKey,
		log:       logging.Component(logger, "StatusServer"),
	}
}

// Routes builds the router. /health and /metrics are always open; /api/v1 is
// behind the bearer key when one is configured.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.traceMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/runs", runsListHandler(s.runUC))
		r.Get("/runs/{id}", runGetHandler(s.runUC))
		r.Get("/runs/{id}/batch", runBatchHandler(s.runUC, s.artifacts))
	})
	return r
}

// traceMiddleware tags the request context with a trace id and logs the call.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.WithTraceID(r.Context(), id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		logging.With(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Msg("http request")
	})
}

// authMiddleware provides simple Bearer token authentication for the API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
