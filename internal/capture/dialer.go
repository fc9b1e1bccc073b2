package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-coach-service/internal/channel"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/service/stt"
	"speech-coach-service/internal/service/stt/deepgram"
)

// Dialer creates the provider link for one capture session. The returned
// adapter is not started.
type Dialer interface {
	Dial(sessionID, credential string, opts stt.StreamOptions) (stt.Adapter, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(sessionID, credential string, opts stt.StreamOptions) (stt.Adapter, error)

func (f DialerFunc) Dial(sessionID, credential string, opts stt.StreamOptions) (stt.Adapter, error) {
	return f(sessionID, credential, opts)
}

// UtteranceEndMs is the silence after which the provider closes an utterance.
const UtteranceEndMs = 2500

// DeepgramDialer links straight to the Deepgram live API with a short-lived
// credential carried in the "token" sub-protocol.
type DeepgramDialer struct {
	LiveURL string
	Model   string
}

func (d DeepgramDialer) Dial(sessionID, credential string, opts stt.StreamOptions) (stt.Adapter, error) {
	if credential == "" {
		return nil, fmt.Errorf("deepgram: %w: missing credential", stt.ErrNotConfigured)
	}
	opts.SessionID = sessionID
	opts.UtteranceEndMs = UtteranceEndMs
	cfg := deepgram.Config{
		APIKey:          credential,
		LiveURL:         d.LiveURL,
		Model:           d.Model,
		SubprotocolAuth: true,
	}
	return deepgram.NewAdapter(cfg, opts), nil
}

// ChannelDialer links to this service's own session event channel: audio goes
// out as audio-chunk events and transcripts come back as transcript-update.
type ChannelDialer struct {
	// URL is the channel WebSocket endpoint, e.g. ws://localhost:3001/socket.
	URL            string
	OrganizationID string
	UserID         string
}

func (d ChannelDialer) Dial(sessionID, credential string, opts stt.StreamOptions) (stt.Adapter, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid channel URL: %w", err)
	}
	q := u.Query()
	if d.OrganizationID != "" {
		q.Set("organizationId", d.OrganizationID)
	}
	if d.UserID != "" {
		q.Set("userId", d.UserID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	return &channelLink{
		url:       u.String(),
		header:    header,
		sessionID: sessionID,
		opts:      opts,
		log:       logging.WithProvider(sessionID, "channel"),
	}, nil
}

// channelLink implements stt.Adapter over the event channel.
type channelLink struct {
	url       string
	header    http.Header
	sessionID string
	opts      stt.StreamOptions
	log       zerolog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

func (l *channelLink) Start(ctx context.Context, cb stt.Callback) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, l.url, l.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial channel (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial channel: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	if err := l.send(channel.EventJoinSession, l.sessionID); err != nil {
		conn.Close()
		return err
	}
	start := channel.StartRecordingRequest{SessionID: l.sessionID, Language: l.opts.Language}
	if err := l.send(channel.EventStartRecording, start); err != nil {
		conn.Close()
		return err
	}

	go l.readLoop(conn, cb)
	return nil
}

func (l *channelLink) readLoop(conn *websocket.Conn, cb stt.Callback) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if l.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			cb.OnError(err)
			return
		}
		env, err := channel.Decode(frame)
		if err != nil {
			l.log.Warn().Err(err).Msg("Dropping malformed channel frame")
			continue
		}

		switch env.Event {
		case channel.EventTranscriptUpdate:
			var u channel.TranscriptUpdate
			if err := json.Unmarshal(env.Data, &u); err != nil || u.SessionID != l.sessionID || l.isClosed() {
				continue
			}
			if u.IsFinal {
				cb.OnFinal(u.Transcript, u.Confidence)
			} else {
				cb.OnPartial(u.Transcript, u.Confidence)
			}
		case channel.EventRecordingError:
			var e channel.ErrorPayload
			_ = json.Unmarshal(env.Data, &e)
			cb.OnError(fmt.Errorf("recording error: %s", e.Error))
			return
		case channel.EventAudioError:
			var e channel.AudioError
			_ = json.Unmarshal(env.Data, &e)
			l.log.Warn().Str("error", e.Error).Str("message", e.Message).Msg("Channel rejected audio chunk")
		}
	}
}

func (l *channelLink) SendAudio(_ context.Context, chunk []byte) error {
	return l.send(channel.EventAudioChunk, channel.AudioChunkRequest{
		SessionID:  l.sessionID,
		Chunk:      chunk,
		SampleRate: l.opts.SampleRateHz,
		Encoding:   l.opts.Encoding,
		Language:   l.opts.Language,
	})
}

func (l *channelLink) send(event string, data any) error {
	l.mu.Lock()
	conn, closed := l.conn, l.closed
	l.mu.Unlock()
	if closed || conn == nil {
		return errors.New("channel link not open")
	}
	frame, err := channel.Encode(event, data)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Close stops recording on the server and closes the socket. Safe to call twice.
func (l *channelLink) Close() error {
	l.mu.Lock()
	if l.closed || l.conn == nil {
		l.closed = true
		l.mu.Unlock()
		return nil
	}
	conn := l.conn
	l.mu.Unlock()

	_ = l.send(channel.EventStopRecording, channel.SessionRequest{SessionID: l.sessionID})

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	l.writeMu.Unlock()
	return conn.Close()
}

func (l *channelLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
