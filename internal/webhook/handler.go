package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Router builds the webhook HTTP surface. The actor platform is told to
// include the shared secret in the X-Webhook-Secret header; an empty secret
// disables the check for local runs.
func Router(c *Correlator, secret string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.L()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Webhook-Secret"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhooks/actor", func(w http.ResponseWriter, req *http.Request) {
		if secret != "" && req.Header.Get("X-Webhook-Secret") != secret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad secret"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		payload, err := ParsePayload(body)
		if err != nil {
			logger.Warn("webhook: rejected payload", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unrecognized payload"})
			return
		}

		out, err := c.Handle(req.Context(), payload)
		if err != nil && !errors.Is(err, ErrUnmappedActorRun) {
			logger.Error("webhook: handler failed", zap.Error(err),
				zap.String("actor_run_id", payload.ActorRunID))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}

		// Unmapped runs are acknowledged so the platform does not retry.
		writeJSON(w, http.StatusOK, map[string]string{
			"receipt": out.ReceiptID,
			"outcome": out.Result,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
