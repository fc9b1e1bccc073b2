// Package gateway owns the live speech-to-text provider connections of this
// process, one per session id, and resolves submitted audio chunks to
// transcription results.
//
// The map of connections is local to the process. Audio for one session must
// reach the same process (sticky routing); nothing here is shared across
// instances.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/observability/metrics"
	"speech-coach-service/internal/service/stt"
)

var (
	// ErrProviderConnectionFailed is returned when a live stream cannot be opened.
	ErrProviderConnectionFailed = errors.New("provider connection failed")
	// ErrConnectionClosed is returned when a connection is torn down while in use.
	ErrConnectionClosed = errors.New("provider connection closed")
	// ErrTranscriberUnavailable is returned by Transcribe without a REST provider.
	ErrTranscriberUnavailable = errors.New("single-shot transcription not configured")
)

// Config tunes the gateway.
type Config struct {
	Provider       string
	ResultTimeout  time.Duration
	ConnectTimeout time.Duration
	ResultBuffer   int
	// Options are the base recognition parameters; Language and SessionID are
	// filled per connection.
	Options stt.StreamOptions
}

// DefaultConfig returns the production bounds: a 5 s result wait and a 10 s dial.
func DefaultConfig() Config {
	return Config{
		Provider:       "mock",
		ResultTimeout:  5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ResultBuffer:   32,
		Options:        stt.DefaultStreamOptions("en"),
	}
}

// Stats is a snapshot of the connection map.
type Stats struct {
	ActiveConnections int      `json:"activeConnections"`
	SessionIDs        []string `json:"sessionIds"`
}

// Gateway multiplexes sessions onto live provider streams.
type Gateway struct {
	cfg         Config
	factory     stt.Factory
	transcriber stt.Transcriber
	metrics     *metrics.Metrics
	log         zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Connection
	dials singleflight.Group
	ids   idGenerator
}

// New creates a gateway. transcriber may be nil when no REST fallback exists.
func New(factory stt.Factory, transcriber stt.Transcriber, cfg Config, m *metrics.Metrics) *Gateway {
	def := DefaultConfig()
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = def.ResultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = def.ResultBuffer
	}
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Gateway{
		cfg:         cfg,
		factory:     factory,
		transcriber: transcriber,
		metrics:     m,
		log:         logging.WithComponent("gateway"),
		conns:       make(map[string]*Connection),
	}
}

// EnsureConnection returns the session's live connection, opening one if
// needed. Concurrent callers for the same session share a single dial. A
// failed dial is not retried here.
func (g *Gateway) EnsureConnection(ctx context.Context, sessionID, language string) (*Connection, error) {
	if c := g.streaming(sessionID); c != nil {
		return c, nil
	}

	v, err, _ := g.dials.Do(sessionID, func() (any, error) {
		if c := g.streaming(sessionID); c != nil {
			return c, nil
		}
		return g.dial(ctx, sessionID, language)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// Open makes sure the session has a live connection.
func (g *Gateway) Open(ctx context.Context, sessionID, language string) error {
	_, err := g.EnsureConnection(ctx, sessionID, language)
	return err
}

func (g *Gateway) streaming(sessionID string) *Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.conns[sessionID]; ok && c.State() == StateStreaming {
		return c
	}
	return nil
}

func (g *Gateway) dial(ctx context.Context, sessionID, language string) (*Connection, error) {
	if language == "" {
		language = g.cfg.Options.Language
	}
	log := logging.WithProvider(sessionID, g.cfg.Provider)
	c := newConnection(g.ids.Next(sessionID), sessionID, language, g.cfg.ResultBuffer, log)
	c.onError = g.handleProviderError
	c.onDropped = g.metrics.RecordResultDropped

	g.mu.Lock()
	if old, ok := g.conns[sessionID]; ok {
		// A stale entry (closing or dial abandoned) is replaced.
		go old.close()
	}
	g.conns[sessionID] = c
	g.mu.Unlock()

	_ = c.lc.Transition(StateConnecting)

	opts := g.cfg.Options
	opts.SessionID = sessionID
	opts.Language = language

	fail := func(err error) (*Connection, error) {
		g.remove(c)
		c.close()
		g.metrics.RecordProviderConnectFailure(g.cfg.Provider)
		log.Error().Err(err).Msg("Failed to open provider connection")
		return nil, fmt.Errorf("%w: %v", ErrProviderConnectionFailed, err)
	}

	adapter, err := g.factory(opts)
	if err != nil {
		return fail(err)
	}
	c.setProvider(adapter)

	// The dial is shared by every waiter, so it is bounded by its own timeout
	// rather than by the first caller's lifetime.
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.ConnectTimeout)
	defer cancel()
	if err := adapter.Start(dialCtx, c); err != nil {
		return fail(err)
	}

	if err := c.lc.Transition(StateStreaming); err != nil {
		// Closed while dialing; teardown may have run before the adapter existed.
		c.closeAdapter(adapter)
		return nil, fmt.Errorf("%w: closed during connect", ErrConnectionClosed)
	}

	g.metrics.RecordProviderOpen(g.cfg.Provider)
	log.Info().Str("connectionId", c.ID()).Str("language", language).Msg("Provider connection opened")
	return c, nil
}

// Submit forwards a chunk and waits for the session's next non-empty result.
// Waits are serialized per session. When nothing arrives within the result
// timeout an empty non-final result is returned; that is not an error.
func (g *Gateway) Submit(ctx context.Context, sessionID string, chunk []byte, language string) (stt.Result, error) {
	c, err := g.EnsureConnection(ctx, sessionID, language)
	if err != nil {
		return stt.Result{}, err
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	start := time.Now()
	if err := c.provider().SendAudio(ctx, chunk); err != nil {
		g.handleProviderError(c, err)
		return stt.Result{}, fmt.Errorf("send audio: %w", err)
	}

	timer := time.NewTimer(g.cfg.ResultTimeout)
	defer timer.Stop()

	select {
	case res := <-c.results:
		g.metrics.RecordSubmitLatency(g.cfg.Provider, res.IsFinal, time.Since(start).Seconds())
		return res, nil
	case <-timer.C:
		g.metrics.RecordProviderTimeout(g.cfg.Provider)
		return stt.Result{}, nil
	case <-c.done:
		// Torn down by a provider error; the next chunk reconnects.
		return stt.Result{}, nil
	case <-ctx.Done():
		return stt.Result{}, ctx.Err()
	}
}

// Close removes and tears down the session's connection. Closing an absent
// connection is a no-op.
func (g *Gateway) Close(sessionID string) {
	g.mu.Lock()
	c, ok := g.conns[sessionID]
	if ok {
		delete(g.conns, sessionID)
	}
	g.mu.Unlock()

	if !ok {
		return
	}
	if c.close() && c.provider() != nil {
		g.metrics.RecordProviderClose()
	}
	g.log.Info().Str("sessionId", sessionID).Str("connectionId", c.ID()).Msg("Provider connection closed")
}

// IsConnected reports whether the session has a streaming connection.
func (g *Gateway) IsConnected(sessionID string) bool {
	return g.streaming(sessionID) != nil
}

// Stats returns the number of tracked connections and their session ids.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Stats{ActiveConnections: len(ids), SessionIDs: ids}
}

// Transcribe runs single-shot REST transcription of raw PCM.
func (g *Gateway) Transcribe(ctx context.Context, pcm []byte, sampleRateHz int, language string) (stt.Result, error) {
	if g.transcriber == nil {
		return stt.Result{}, ErrTranscriberUnavailable
	}
	start := time.Now()
	res, err := g.transcriber.Transcribe(ctx, pcm, sampleRateHz, language)
	if err != nil {
		g.metrics.RecordSTTError(g.cfg.Provider, "rest")
		return stt.Result{}, err
	}
	g.metrics.RecordSubmitLatency(g.cfg.Provider, true, time.Since(start).Seconds())
	return res, nil
}

// Shutdown closes every connection.
func (g *Gateway) Shutdown() {
	for _, id := range g.Stats().SessionIDs {
		g.Close(id)
	}
}

// handleProviderError logs the failure and tears the connection down so the
// next chunk for the session dials afresh.
func (g *Gateway) handleProviderError(c *Connection, err error) {
	if errors.Is(err, stt.ErrStreamClosed) {
		c.log.Info().Err(err).Msg("Provider ended the stream, tearing down connection")
	} else {
		g.metrics.RecordSTTError(g.cfg.Provider, "stream")
		c.log.Warn().Err(err).Msg("Provider error, tearing down connection")
	}
	wasStreaming := c.State() == StateStreaming
	g.remove(c)
	if c.close() && wasStreaming {
		g.metrics.RecordProviderClose()
	}
}

// remove deletes c from the map if it is still the session's entry.
func (g *Gateway) remove(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.conns[c.sessionID]; ok && cur == c {
		delete(g.conns, c.sessionID)
	}
}
