package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/service/stt"
)

const writeTimeout = 10 * time.Second

var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// Config holds Deepgram credentials and endpoints.
type Config struct {
	APIKey  string
	LiveURL string
	RESTURL string
	Model   string
	// SubprotocolAuth sends the key as the "token" WebSocket sub-protocol
	// instead of an Authorization header, the way browser clients must.
	SubprotocolAuth bool
}

func (c Config) withDefaults() Config {
	if c.LiveURL == "" {
		c.LiveURL = DefaultLiveURL
	}
	if c.RESTURL == "" {
		c.RESTURL = DefaultRESTURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	return c
}

// Adapter implements stt.Adapter over one Deepgram live WebSocket.
type Adapter struct {
	cfg    Config
	opts   stt.StreamOptions
	dialer *websocket.Dialer
	log    zerolog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

// NewFactory returns an stt.Factory producing live Deepgram adapters.
func NewFactory(cfg Config) (stt.Factory, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: %w: missing API key", stt.ErrNotConfigured)
	}
	cfg = cfg.withDefaults()
	return func(opts stt.StreamOptions) (stt.Adapter, error) {
		return NewAdapter(cfg, opts), nil
	}, nil
}

// NewAdapter creates an unstarted live adapter.
func NewAdapter(cfg Config, opts stt.StreamOptions) *Adapter {
	return &Adapter{
		cfg:    cfg.withDefaults(),
		opts:   opts,
		dialer: websocket.DefaultDialer,
		log:    logging.WithProvider(opts.SessionID, "deepgram"),
	}
}

// URL returns the live endpoint with recognition parameters applied.
func (a *Adapter) URL() (string, error) {
	u, err := url.Parse(a.cfg.LiveURL)
	if err != nil {
		return "", fmt.Errorf("invalid live URL: %w", err)
	}
	u.RawQuery = LiveQuery(a.cfg.Model, a.opts).Encode()
	return u.String(), nil
}

// Start dials the live endpoint and starts the receive loop.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	endpoint, err := a.URL()
	if err != nil {
		return err
	}

	dialer := *a.dialer
	headers := http.Header{}
	if a.cfg.SubprotocolAuth {
		dialer.Subprotocols = []string{"token", a.cfg.APIKey}
	} else {
		headers.Set("Authorization", "Token "+a.cfg.APIKey)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial deepgram (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial deepgram: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.log.Info().Str("language", a.opts.Language).Msg("Deepgram live connection opened")
	go a.readLoop(conn, cb)
	return nil
}

func (a *Adapter) readLoop(conn *websocket.Conn, cb stt.Callback) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if a.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				a.log.Info().Msg("Deepgram closed the live connection")
				cb.OnError(fmt.Errorf("deepgram: %w", stt.ErrStreamClosed))
				return
			}
			a.log.Warn().Err(err).Msg("Deepgram read failed")
			cb.OnError(err)
			return
		}

		res, ok, err := ParseLive(data)
		if err != nil {
			a.log.Warn().Err(err).Msg("Failed to parse Deepgram message")
			continue
		}
		if !ok || res.Empty() || a.isClosed() {
			continue
		}
		if res.IsFinal {
			cb.OnFinal(res.Transcript, res.Confidence)
		} else {
			cb.OnPartial(res.Transcript, res.Confidence)
		}
	}
}

// SendAudio writes one binary audio frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	conn, closed := a.conn, a.closed
	a.mu.Unlock()
	if closed || conn == nil {
		return errors.New("deepgram connection not open")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Close asks Deepgram to flush and closes the socket. Safe to call twice.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return nil
	}

	a.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, closeStreamMessage)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.writeMu.Unlock()

	a.log.Info().Msg("Deepgram live connection closed")
	return conn.Close()
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
