// Package channel is the bidirectional session event channel. Sockets join
// per-session rooms; room broadcasts fan out to every process through a
// Backbone. Transport is WebSocket with an HTTP long-polling fallback, both
// carrying JSON envelopes.
package channel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/service/gateway"
)

// Inbound events.
const (
	EventJoinSession         = "join-session"
	EventLeaveSession        = "leave-session"
	EventAudioChunk          = "audio-chunk"
	EventStartRecording      = "start-recording"
	EventStopRecording       = "stop-recording"
	EventPauseRecording      = "pause-recording"
	EventResumeRecording     = "resume-recording"
	EventGetConnectionStatus = "get-connection-status"
	EventGetTranscript       = "get-transcript"
	EventGetTranscripts      = "get-transcripts"
	EventPing                = "ping"
)

// Outbound events. EventTranscriptUpdate is also accepted inbound as a peer relay.
const (
	EventTranscriptUpdate  = "transcript-update"
	EventFeedbackUpdate    = "feedback-update"
	EventConnectionStatus  = "connection-status"
	EventRecordingStarted  = "recording-started"
	EventRecordingStopped  = "recording-stopped"
	EventRecordingPaused   = "recording-paused"
	EventRecordingResumed  = "recording-resumed"
	EventRecordingStatus   = "recording-status"
	EventRecordingError    = "recording-error"
	EventAudioProcessed    = "audio-processed"
	EventAudioError        = "audio-error"
	EventTranscriptHistory = "transcript-history"
	EventTranscriptError   = "transcript-error"
	EventTranscriptsData   = "transcripts-data"
	EventParticipantLeft   = "participant-left"
	EventPong              = "pong"
	EventError             = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outbound event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses an inbound frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event name")
	}
	return env, nil
}

// Timestamp formats t like a browser ISO string (UTC, milliseconds).
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// sessionIDFrom accepts either a bare JSON string or an object with sessionId.
func sessionIDFrom(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id), nil
	}
	var req SessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return strings.TrimSpace(req.SessionID), nil
}

// SessionRequest is the payload of the per-session control events.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// StartRecordingRequest is the start-recording payload.
type StartRecordingRequest struct {
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
}

// AudioChunkRequest is the audio-chunk payload. Chunk is base64 in JSON.
type AudioChunkRequest struct {
	SessionID  string `json:"sessionId"`
	Chunk      []byte `json:"chunk"`
	SampleRate int    `json:"sampleRate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language,omitempty"`
}

// TranscriptUpdate is broadcast for every non-empty result and relayed between peers.
type TranscriptUpdate struct {
	SessionID  string  `json:"sessionId"`
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

// FeedbackUpdate carries scoring for a final transcript to its sender.
type FeedbackUpdate struct {
	SessionID string          `json:"sessionId"`
	Feedback  models.Analysis `json:"feedback"`
	Timestamp string          `json:"timestamp"`
}

// ConnectionStatus answers join-session (with Stats) and get-connection-status
// (with ActiveConnections and Timestamp).
type ConnectionStatus struct {
	SessionID         string         `json:"sessionId"`
	IsConnected       bool           `json:"isConnected"`
	Stats             *gateway.Stats `json:"stats,omitempty"`
	ActiveConnections *int           `json:"activeConnections,omitempty"`
	Timestamp         string         `json:"timestamp,omitempty"`
}

// RecordingAck confirms a recording control event to its sender.
type RecordingAck struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// RecordingStatus tells the rest of the room about recording state.
type RecordingStatus struct {
	SessionID string `json:"sessionId"`
	Recording bool   `json:"recording"`
	Paused    *bool  `json:"paused,omitempty"`
	Message   string `json:"message"`
}

// ErrorPayload is used by recording-error, transcript-error and error.
type ErrorPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error"`
}

// AudioError reports a rejected or failed chunk.
type AudioError struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// AudioProcessed acknowledges a processed chunk.
type AudioProcessed struct {
	SessionID   string `json:"sessionId"`
	ChunkSize   int    `json:"chunkSize"`
	ProcessedAt string `json:"processedAt"`
	Success     bool   `json:"success"`
}

// TranscriptHistory answers get-transcript from the session aggregate.
type TranscriptHistory struct {
	SessionID  string                   `json:"sessionId"`
	Transcript []models.TranscriptChunk `json:"transcript"`
	Scenario   string                   `json:"scenario"`
	StartedAt  *time.Time               `json:"startedAt,omitempty"`
}

// TranscriptsData answers get-transcripts from the live cache.
type TranscriptsData struct {
	SessionID   string                   `json:"sessionId"`
	Transcripts []models.TranscriptChunk `json:"transcripts"`
}

// ParticipantLeft is sent to the room when a socket disconnects.
type ParticipantLeft struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Message       string `json:"message"`
}

// Pong answers ping.
type Pong struct {
	Timestamp string `json:"timestamp"`
}

// errorEventFor maps an inbound event to the event used to report its failure.
func errorEventFor(event string) string {
	switch event {
	case EventAudioChunk:
		return EventAudioError
	case EventStartRecording, EventStopRecording, EventPauseRecording, EventResumeRecording:
		return EventRecordingError
	case EventGetTranscript, EventGetTranscripts, EventTranscriptUpdate:
		return EventTranscriptError
	default:
		return EventError
	}
}
