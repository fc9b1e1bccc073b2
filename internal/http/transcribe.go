package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/service/gateway"
	"speech-coach-service/internal/service/stt/deepgram"
)

// transcribeHandler runs the REST fallback on a raw PCM body:
// POST /v1/transcribe?sampleRate=16000&language=en
type transcribeHandler struct {
	transcriber Transcriber
	maxBytes    int64
}

func (h *transcribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rate := 16000
	if v := r.URL.Query().Get("sampleRate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 8000 || n > 48000 {
			writeError(w, http.StatusBadRequest, "sampleRate must be between 8000 and 48000")
			return
		}
		rate = n
	}
	language := r.URL.Query().Get("language")
	if language == "" {
		language = "en"
	}

	pcm, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Audio too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Unreadable audio body")
		return
	}
	if len(pcm) == 0 {
		writeError(w, http.StatusBadRequest, "Audio body is required")
		return
	}

	res, err := h.transcriber.Transcribe(r.Context(), pcm, rate, language)
	if err != nil {
		var httpErr *deepgram.HTTPError
		switch {
		case errors.Is(err, gateway.ErrTranscriberUnavailable):
			writeError(w, http.StatusServiceUnavailable, "Transcription unavailable")
		case errors.As(err, &httpErr):
			writeError(w, http.StatusBadGateway, httpErr.Error())
		default:
			log := logging.WithComponent("http")
			log.Error().Err(err).Msg("Transcription failed")
			writeError(w, http.StatusBadGateway, "Transcription failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}
