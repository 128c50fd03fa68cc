package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"caravan/internal/config"
	"caravan/internal/deployment"
	"caravan/internal/security"

	"github.com/go-chi/chi/v5"
)

const (
	MaxPayloadBytes     = 1_000_000 // 1 MB
	RecentReleasesLimit = 10
)

// pushEvent holds the fields of a GitHub push payload the server uses
type pushEvent struct {
	Ref     string `json:"ref"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`
	Pusher  struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// HandleWebhook handles GitHub push webhooks
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "application")

	if err := security.ValidateApplicationName(name); err != nil {
		s.Logger.Warn().Str("application", name).Err(err).Msg("Invalid application name in webhook request")
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid application name: %v", err)})
		return
	}

	spec, err := s.Registry.Get(name)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown application"})
		return
	}

	// ContentLength is -1 when unknown; the body is capped below as well
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if r.Header.Get("Content-Type") != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	if r.Header.Get("X-GitHub-Event") != "push" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error().Err(err).Str("application", name).Msg("Failed to read request body")
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}

	if spec.Webhook.Secret == "" {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Webhook secret not configured"})
		return
	}
	if !VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), spec.Webhook.Secret) {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	var event pushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.Logger.Error().Err(err).Str("application", name).Msg("Failed to parse JSON payload")
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	if event.Ref == "" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Missing ref, skipping"})
		return
	}
	if !spec.MatchesRef(event.Ref) {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}
	if event.Deleted {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Branch deleted, skipping"})
		return
	}

	if !s.LockManager.TryLock(name) {
		s.Logger.Warn().Str("application", name).Msg("Deployment already in progress, rejecting")
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": deployment.ErrDeployInProgress.Error()})
		return
	}

	// GitHub gives up after 10 seconds, so the release runs after the reply
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message":     "Deployment accepted",
		"application": name,
		"ref":         event.Ref,
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.LockManager.Unlock(name)
		s.executeDeployment(context.Background(), spec, event)
	}()
}

// executeDeployment runs the pipeline and logs its outcome
func (s *Server) executeDeployment(ctx context.Context, spec *config.ApplicationSpec, event pushEvent) {
	start := time.Now()
	logger := s.Logger.With().
		Str("application", spec.Name).
		Str("ref", event.Ref).
		Str("commit", event.After).
		Str("pusher", event.Pusher.Name).
		Logger()

	logger.Info().Msg("Deployment started")
	rec, err := s.Deploy(ctx, spec)
	if err != nil {
		evt := logger.Error().Err(err).Dur("duration", time.Since(start))
		var stageErr *deployment.StageError
		if errors.As(err, &stageErr) {
			evt = evt.
				Str("stage", string(stageErr.Stage)).
				Str("release", stageErr.ReleaseID).
				Str("current", stageErr.CurrentRelease).
				Bool("rollback_hooks_ran", stageErr.RollbackHooksRan)
		}
		evt.Msg("Deployment failed")
		return
	}

	logger.Info().
		Str("release", rec.ReleaseID).
		Str("revision", rec.Revision).
		Dur("duration", time.Since(start)).
		Msg("Deployment completed")
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"applications":      s.Registry.List(),
		"application_count": s.Registry.Count(),
	})
}

// HandleStatus reports the active, latest and recent releases of one
// application
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "application")

	if err := security.ValidateApplicationName(name); err != nil {
		s.Logger.Warn().Str("application", name).Err(err).Msg("Invalid application name in status request")
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid application name: %v", err)})
		return
	}

	if _, err := s.Registry.Get(name); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown application"})
		return
	}

	status, err := s.History.Status(r.Context(), name, RecentReleasesLimit)
	if err != nil {
		s.Logger.Error().Err(err).Str("application", name).Msg("Failed to get release status")
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch release status"})
		return
	}

	s.respondJSON(w, http.StatusOK, status)
}

// HandleStatusAll reports the active release of every served application
func (s *Server) HandleStatusAll(w http.ResponseWriter, r *http.Request) {
	active, err := s.History.AllApplicationsStatus(r.Context())
	if err != nil {
		s.Logger.Error().Err(err).Msg("Failed to get release status")
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch release status"})
		return
	}

	out := make(map[string]interface{}, s.Registry.Count())
	for _, name := range s.Registry.List() {
		out[name] = active[name]
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"applications": out})
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
