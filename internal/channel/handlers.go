package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/observability/metrics"
	"speech-coach-service/internal/service/audio"
	"speech-coach-service/internal/service/gateway"
	"speech-coach-service/internal/service/session"
)

// Gateway is the part of the transcription gateway the channel drives.
type Gateway interface {
	Open(ctx context.Context, sessionID, language string) error
	Close(sessionID string)
	IsConnected(sessionID string) bool
	Stats() gateway.Stats
}

// Processor runs the audio-chunk algorithm.
type Processor interface {
	Process(ctx context.Context, c audio.Chunk) (audio.Outcome, error)
}

// Sessions is the session aggregate as seen by the channel.
type Sessions interface {
	Get(ctx context.Context, organizationID, id string) (*session.Session, error)
	Start(ctx context.Context, organizationID, id string) (*session.Session, error)
	DescribeAudio(ctx context.Context, organizationID, id string, sampleRate int, format string) (*session.Session, error)
}

// Handlers implements every inbound event.
type Handlers struct {
	hub       *Hub
	gateway   Gateway
	processor Processor
	sessions  Sessions
	live      session.LiveTranscripts
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// NewHandlers wires the event handlers. sessions and live may be nil; the
// events that need them then answer with an error event.
func NewHandlers(hub *Hub, gw Gateway, proc Processor, sessions Sessions, live session.LiveTranscripts, m *metrics.Metrics) *Handlers {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handlers{
		hub:       hub,
		gateway:   gw,
		processor: proc,
		sessions:  sessions,
		live:      live,
		metrics:   m,
		log:       logging.WithComponent("channel"),
		now:       time.Now,
	}
}

// Connect registers a new socket and starts its audio worker.
func (h *Handlers) Connect(peer Peer, tenant session.Tenant) *Client {
	c := newClient(peer, tenant)
	c.startWorker(func(req AudioChunkRequest) { h.processAudio(c, req) })
	h.metrics.RecordSocketOpen()
	c.log.Info().Str("organizationId", tenant.OrganizationID).Str("userId", tenant.UserID).Msg("Socket connected")
	return c
}

// Disconnect tears down every joined session's provider connection and tells
// the remaining room members. It runs unconditionally, whatever the reason.
func (h *Handlers) Disconnect(c *Client, reason string) {
	sessions := c.close()
	for _, id := range sessions {
		h.gateway.Close(id)
		h.hub.Leave(id, c.peer)
		h.hub.Broadcast(context.Background(), id, c.ID(), EventParticipantLeft, ParticipantLeft{
			SessionID:     id,
			ParticipantID: c.ID(),
			Message:       "Participant left the session",
		})
	}
	h.metrics.RecordSocketClose(time.Since(c.openedAt).Seconds())
	c.log.Info().Str("reason", reason).Strs("sessions", sessions).Msg("Socket disconnected")
}

// Dispatch handles one inbound frame. Failures, panics included, become an
// error event to the sender.
func (h *Handlers) Dispatch(c *Client, frame []byte) {
	env, err := Decode(frame)
	if err != nil {
		h.metrics.RecordErrorEvent(EventError)
		h.hub.Emit(c.peer, EventError, ErrorPayload{Error: "Malformed message"})
		return
	}
	h.metrics.RecordInboundEvent(env.Event)

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("event", env.Event).Msg("Event handler panicked")
			h.fail(c, env.Event, "", "Internal error")
		}
	}()

	if err := h.route(c, env); err != nil {
		c.log.Warn().Err(err).Str("event", env.Event).Msg("Event rejected")
		h.fail(c, env.Event, "", "Invalid payload")
	}
}

func (h *Handlers) fail(c *Client, event, sessionID, msg string) {
	errEvent := errorEventFor(event)
	h.metrics.RecordErrorEvent(errEvent)
	if errEvent == EventAudioError {
		h.hub.Emit(c.peer, errEvent, AudioError{SessionID: sessionID, Error: "Failed to process audio", Message: msg})
		return
	}
	h.hub.Emit(c.peer, errEvent, ErrorPayload{SessionID: sessionID, Error: msg})
}

func (h *Handlers) route(c *Client, env Envelope) error {
	switch env.Event {
	case EventJoinSession:
		id, err := sessionIDFrom(env.Data)
		if err != nil || id == "" {
			return fmt.Errorf("join-session: missing session id")
		}
		h.joinSession(c, id)
	case EventLeaveSession:
		id, err := sessionIDFrom(env.Data)
		if err != nil || id == "" {
			return fmt.Errorf("leave-session: missing session id")
		}
		h.leaveSession(c, id)
	case EventAudioChunk:
		var req AudioChunkRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.metrics.RecordInvalidChunk()
			h.hub.Emit(c.peer, EventAudioError, invalidChunk(""))
			return nil
		}
		h.queueAudio(c, req)
	case EventStartRecording:
		var req StartRecordingRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return err
		}
		h.startRecording(c, req)
	case EventStopRecording, EventPauseRecording, EventResumeRecording:
		var req SessionRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return err
		}
		h.recordingControl(c, env.Event, req.SessionID)
	case EventGetConnectionStatus:
		var req SessionRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return err
		}
		h.connectionStatus(c, req.SessionID)
	case EventGetTranscript:
		var req SessionRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return err
		}
		h.getTranscript(c, req.SessionID)
	case EventGetTranscripts:
		id, err := sessionIDFrom(env.Data)
		if err != nil {
			return err
		}
		h.getTranscripts(c, id)
	case EventTranscriptUpdate:
		h.relayTranscript(c, env.Data)
	case EventPing:
		h.hub.Emit(c.peer, EventPong, Pong{Timestamp: Timestamp(h.now())})
	default:
		c.log.Debug().Str("event", env.Event).Msg("Ignoring unknown event")
	}
	return nil
}

func (h *Handlers) joinSession(c *Client, id string) {
	h.hub.Join(id, c.peer)
	c.join(id)
	c.log.Info().Str("sessionId", id).Msg("Joined session")

	stats := h.gateway.Stats()
	h.hub.Emit(c.peer, EventConnectionStatus, ConnectionStatus{
		SessionID:   id,
		IsConnected: contains(stats.SessionIDs, id),
		Stats:       &stats,
	})
}

func (h *Handlers) leaveSession(c *Client, id string) {
	h.hub.Leave(id, c.peer)
	c.leave(id)
	c.log.Info().Str("sessionId", id).Msg("Left session")
}

func (h *Handlers) connectionStatus(c *Client, id string) {
	stats := h.gateway.Stats()
	active := stats.ActiveConnections
	h.hub.Emit(c.peer, EventConnectionStatus, ConnectionStatus{
		SessionID:         id,
		IsConnected:       contains(stats.SessionIDs, id),
		ActiveConnections: &active,
		Timestamp:         Timestamp(h.now()),
	})
}

func (h *Handlers) startRecording(c *Client, req StartRecordingRequest) {
	if err := h.gateway.Open(c.Context(), req.SessionID, req.Language); err != nil {
		c.log.Error().Err(err).Str("sessionId", req.SessionID).Msg("Failed to start recording")
		h.metrics.RecordErrorEvent(EventRecordingError)
		h.hub.Emit(c.peer, EventRecordingError, ErrorPayload{
			SessionID: req.SessionID,
			Error:     "Failed to initialize speech recognition",
		})
		return
	}

	if h.sessions != nil && c.tenant.OrganizationID != "" {
		if _, err := h.sessions.Start(c.Context(), c.tenant.OrganizationID, req.SessionID); err != nil {
			c.log.Warn().Err(err).Str("sessionId", req.SessionID).Msg("Could not mark session in progress")
		}
	}

	h.hub.Emit(c.peer, EventRecordingStarted, RecordingAck{SessionID: req.SessionID, Message: "Recording started successfully"})
	h.hub.Broadcast(c.Context(), req.SessionID, c.ID(), EventRecordingStatus, RecordingStatus{
		SessionID: req.SessionID,
		Recording: true,
		Message:   "Recording started",
	})
}

func (h *Handlers) recordingControl(c *Client, event, id string) {
	var (
		ack    string
		status RecordingStatus
		reply  string
	)
	switch event {
	case EventStopRecording:
		h.gateway.Close(id)
		reply, ack = EventRecordingStopped, "Recording stopped successfully"
		status = RecordingStatus{SessionID: id, Recording: false, Message: "Recording stopped"}
	case EventPauseRecording:
		paused := true
		reply, ack = EventRecordingPaused, "Recording paused"
		status = RecordingStatus{SessionID: id, Recording: false, Paused: &paused, Message: "Recording paused"}
	case EventResumeRecording:
		paused := false
		reply, ack = EventRecordingResumed, "Recording resumed"
		status = RecordingStatus{SessionID: id, Recording: true, Paused: &paused, Message: "Recording resumed"}
	}
	h.hub.Emit(c.peer, reply, RecordingAck{SessionID: id, Message: ack})
	h.hub.Broadcast(c.Context(), id, c.ID(), EventRecordingStatus, status)
}

func (h *Handlers) queueAudio(c *Client, req AudioChunkRequest) {
	if !c.enqueueAudio(req) {
		c.log.Warn().Str("sessionId", req.SessionID).Msg("Audio queue full, chunk rejected")
		h.metrics.RecordErrorEvent(EventAudioError)
		h.hub.Emit(c.peer, EventAudioError, AudioError{
			SessionID: req.SessionID,
			Error:     "Failed to process audio",
			Message:   "Too many pending audio chunks",
		})
	}
}

func invalidChunk(sessionID string) AudioError {
	return AudioError{SessionID: sessionID, Error: "Invalid audio chunk", Message: "Audio data is invalid or corrupted"}
}

// processAudio runs on the socket's worker goroutine.
func (h *Handlers) processAudio(c *Client, req AudioChunkRequest) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("sessionId", req.SessionID).Msg("Audio processing panicked")
			h.fail(c, EventAudioChunk, req.SessionID, "Audio processing failed")
		}
	}()

	ctx := c.Context()
	if len(req.Chunk) > 0 && req.SessionID != "" && c.firstAudio(req.SessionID) {
		h.describeAudio(c, req)
	}

	out, err := h.processor.Process(ctx, audio.Chunk{
		SessionID:      req.SessionID,
		OrganizationID: c.tenant.OrganizationID,
		UserID:         c.tenant.UserID,
		Language:       req.Language,
		Data:           req.Chunk,
	})
	if errors.Is(err, audio.ErrInvalidAudioChunk) {
		h.metrics.RecordErrorEvent(EventAudioError)
		h.hub.Emit(c.peer, EventAudioError, invalidChunk(req.SessionID))
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.fail(c, EventAudioChunk, req.SessionID, "Audio processing failed")
		return
	}

	now := Timestamp(h.now())
	if t := out.Transcript; t != nil {
		update := TranscriptUpdate{
			SessionID:  req.SessionID,
			Transcript: t.Text,
			IsFinal:    t.IsFinal,
			Confidence: t.Confidence,
			Timestamp:  now,
		}
		h.hub.Broadcast(ctx, req.SessionID, c.ID(), EventTranscriptUpdate, update)
		h.hub.Emit(c.peer, EventTranscriptUpdate, update)
	}
	if out.Feedback != nil {
		h.hub.Emit(c.peer, EventFeedbackUpdate, FeedbackUpdate{
			SessionID: req.SessionID,
			Feedback:  *out.Feedback,
			Timestamp: now,
		})
	}
	h.hub.Emit(c.peer, EventAudioProcessed, AudioProcessed{
		SessionID:   req.SessionID,
		ChunkSize:   len(req.Chunk),
		ProcessedAt: now,
		Success:     true,
	})
}

// describeAudio records the stream format on the session, best effort.
func (h *Handlers) describeAudio(c *Client, req AudioChunkRequest) {
	if h.sessions == nil || c.tenant.OrganizationID == "" {
		return
	}
	if req.SampleRate == 0 && req.Encoding == "" {
		return
	}
	if _, err := h.sessions.DescribeAudio(c.Context(), c.tenant.OrganizationID, req.SessionID, req.SampleRate, req.Encoding); err != nil {
		c.log.Debug().Err(err).Str("sessionId", req.SessionID).Msg("Could not record audio format")
	}
}

func (h *Handlers) getTranscript(c *Client, id string) {
	if h.sessions == nil {
		h.emitTranscriptError(c, id, "Failed to fetch transcript")
		return
	}
	s, err := h.sessions.Get(c.Context(), c.tenant.OrganizationID, id)
	if errors.Is(err, session.ErrNotFound) {
		h.emitTranscriptError(c, id, "Session not found")
		return
	}
	if err != nil {
		c.log.Error().Err(err).Str("sessionId", id).Msg("Failed to fetch transcript")
		h.emitTranscriptError(c, id, "Failed to fetch transcript")
		return
	}
	transcript := s.Transcript
	if transcript == nil {
		transcript = []models.TranscriptChunk{}
	}
	h.hub.Emit(c.peer, EventTranscriptHistory, TranscriptHistory{
		SessionID:  id,
		Transcript: transcript,
		Scenario:   s.Scenario,
		StartedAt:  s.StartedAt,
	})
}

func (h *Handlers) getTranscripts(c *Client, id string) {
	if h.live == nil {
		h.emitTranscriptError(c, id, "Failed to fetch transcripts")
		return
	}
	list, err := h.live.List(c.Context(), id)
	if err != nil {
		c.log.Error().Err(err).Str("sessionId", id).Msg("Failed to fetch cached transcripts")
		h.emitTranscriptError(c, id, "Failed to fetch transcripts")
		return
	}
	h.hub.Emit(c.peer, EventTranscriptsData, TranscriptsData{SessionID: id, Transcripts: list})
}

// relayTranscript caches a peer's transcript update and forwards it unchanged
// to the rest of the room.
func (h *Handlers) relayTranscript(c *Client, data json.RawMessage) {
	var update TranscriptUpdate
	if err := json.Unmarshal(data, &update); err != nil || update.SessionID == "" {
		h.emitTranscriptError(c, update.SessionID, "Invalid transcript update")
		return
	}
	if h.live != nil {
		chunk := models.TranscriptChunk{
			Text:       update.Transcript,
			Timestamp:  h.now(),
			IsFinal:    update.IsFinal,
			Confidence: update.Confidence,
		}
		if err := h.live.Append(c.Context(), update.SessionID, chunk); err != nil {
			c.log.Error().Err(err).Str("sessionId", update.SessionID).Msg("Failed to cache transcript update")
			return
		}
	}
	h.hub.Broadcast(c.Context(), update.SessionID, c.ID(), EventTranscriptUpdate, data)
}

func (h *Handlers) emitTranscriptError(c *Client, id, msg string) {
	h.metrics.RecordErrorEvent(EventTranscriptError)
	h.hub.Emit(c.peer, EventTranscriptError, ErrorPayload{SessionID: id, Error: msg})
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
