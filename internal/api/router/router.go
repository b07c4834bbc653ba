package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/conversation-relay/internal/http/middleware"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// MessageRoutes mounts the per-conversation message endpoints.
type MessageRoutes interface {
	Routes(r chi.Router)
}

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Messages       MessageRoutes
	MetricsHandler http.Handler
	// HealthCheck, when set, must succeed for /health to report ok.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Messages != nil {
		r.Route("/api/v1/accounts/{accountID}/conversations/{conversationID}/messages", cfg.Messages.Routes)
	}
	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
