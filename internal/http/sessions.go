package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/schema"
	"speech-coach-service/internal/service/session"
)

type sessionHandlers struct {
	sessions Sessions
}

type createBody struct {
	Scenario string `json:"scenario"`
	Language string `json:"language"`
}

type appendBody struct {
	TranscriptChunks *[]models.TranscriptChunk `json:"transcriptChunks"`
}

type completeBody struct {
	FinalTranscript string                  `json:"finalTranscript"`
	Duration        float64                 `json:"duration"`
	FeedbackMetrics []models.FeedbackMetric `json:"feedbackMetrics"`
}

func (h *sessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s, err := h.sessions.Create(r.Context(), tenantFrom(r.Context()), session.CreateRequest{
		Scenario: body.Scenario,
		Language: body.Language,
	})
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": s.ID,
		"scenario":  s.Scenario,
		"status":    s.Status,
	})
}

// start creates a session directly in progress.
func (h *sessionHandlers) start(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s, err := h.sessions.Create(r.Context(), tenantFrom(r.Context()), session.CreateRequest{
		Scenario: body.Scenario,
		Language: body.Language,
		Start:    true,
	})
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": s.ID})
}

func (h *sessionHandlers) appendTranscript(w http.ResponseWriter, r *http.Request) {
	var body appendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TranscriptChunks == nil {
		writeError(w, http.StatusBadRequest, "Transcript chunks array is required")
		return
	}
	s, err := h.sessions.AppendTranscript(r.Context(), tenantFrom(r.Context()).OrganizationID, chi.URLParam(r, "id"), *body.TranscriptChunks)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"transcriptLength": len(s.Transcript),
	})
}

func (h *sessionHandlers) complete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s, err := h.sessions.Complete(r.Context(), tenantFrom(r.Context()).OrganizationID, chi.URLParam(r, "id"), session.CompleteRequest{
		FinalTranscript: body.FinalTranscript,
		DurationSeconds: body.Duration,
		FeedbackMetrics: body.FeedbackMetrics,
	})
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *sessionHandlers) details(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), tenantFrom(r.Context()).OrganizationID, chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, session.ErrScenarioRequired):
		writeError(w, http.StatusBadRequest, "Scenario is required")
	case errors.Is(err, session.ErrMissingTenant):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, session.ErrEmptyChunk),
		errors.Is(err, schema.ErrInvalidEvent),
		errors.Is(err, schema.ErrInvalidSampleRate),
		errors.Is(err, schema.ErrUnknownEncoding):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionTerminal),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log := logging.WithComponent("http")
		log.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("Session request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
