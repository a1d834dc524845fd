// Package server is the local HTTP bridge a desktop front end uses to query
// the model and render tokens as they stream in.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/crunchypi/crunchypi/internal/config"
	"github.com/crunchypi/crunchypi/internal/processor"
	"github.com/crunchypi/crunchypi/internal/stream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Querier runs prompts. *processor.Processor implements it.
type Querier interface {
	Query(ctx context.Context, prompt string, display stream.Listener) (processor.Outcome, error)
	Generate(ctx context.Context, prompt string) (processor.Outcome, error)
}

// Handler serves the bridge API.
type Handler struct {
	router  chi.Router
	querier Querier
}

func NewHandler(cfg *config.Config, q Querier) *Handler {
	h := &Handler{querier: q}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.Get("/healthz", healthz)
	r.Post("/api/query", h.handleQuery)
	r.Post("/api/generate", h.handleGenerate)

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("http_request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}
