// Package http is the request/response surface of the service: the session
// collaborator routes, the single-shot transcription fallback, health checks
// and the mount points of the session event channel.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/service/session"
	"speech-coach-service/internal/service/stt"
)

// Sessions is the session aggregate as used by the HTTP routes.
type Sessions interface {
	Create(ctx context.Context, tenant session.Tenant, req session.CreateRequest) (*session.Session, error)
	Get(ctx context.Context, organizationID, id string) (*session.Session, error)
	AppendTranscript(ctx context.Context, organizationID, id string, chunks []models.TranscriptChunk) (*session.Session, error)
	Complete(ctx context.Context, organizationID, id string, req session.CompleteRequest) (*session.Session, error)
}

// Transcriber runs single-shot transcription of a PCM buffer.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRateHz int, language string) (stt.Result, error)
}

// Channel is the session event channel's HTTP entry points.
type Channel interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ServePoll(w http.ResponseWriter, r *http.Request)
}

// Deps are the collaborators the router mounts. Nil Transcriber or Channel
// leaves those routes unmounted; Ready nil always reports ready.
type Deps struct {
	Sessions    Sessions
	Transcriber Transcriber
	Channel     Channel
	Ready       func() bool
	// MaxAudioBytes bounds the /v1/transcribe body.
	MaxAudioBytes int64
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Deps) http.Handler {
	if d.MaxAudioBytes <= 0 {
		d.MaxAudioBytes = 25 << 20
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if d.Ready != nil && !d.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if d.Channel != nil {
		r.Get("/socket", d.Channel.ServeWS)
		r.HandleFunc("/socket/poll", d.Channel.ServePoll)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(requestLogger)

		if d.Sessions != nil {
			h := &sessionHandlers{sessions: d.Sessions}
			r.Route("/sessions", func(r chi.Router) {
				r.Use(requireTenant)
				r.Post("/create", h.create)
				r.Post("/start", h.start)
				r.Post("/{id}/transcript", h.appendTranscript)
				r.Post("/{id}/complete", h.complete)
				r.Get("/{id}/details", h.details)
			})
		}

		if d.Transcriber != nil {
			t := &transcribeHandler{transcriber: d.Transcriber, maxBytes: d.MaxAudioBytes}
			r.Post("/transcribe", t.ServeHTTP)
		}
	})

	return r
}
