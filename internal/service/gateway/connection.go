package gateway

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"speech-coach-service/internal/service/stt"
)

// idGenerator hands out per-process connection ids.
type idGenerator struct {
	counter uint64
}

func (g *idGenerator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-conn-%d", sessionID, n)
}

// Connection is one live provider stream bound to a session id.
type Connection struct {
	id        string
	sessionID string
	language  string
	lc        *Lifecycle
	log       zerolog.Logger

	adapterMu sync.Mutex
	adapter   stt.Adapter
	results   chan stt.Result

	// pushMu keeps the drop-oldest step of push atomic.
	pushMu sync.Mutex

	// submitMu allows at most one in-flight result wait per session.
	submitMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once

	onError   func(*Connection, error)
	onDropped func()
}

func newConnection(id, sessionID, language string, buffer int, log zerolog.Logger) *Connection {
	return &Connection{
		id:        id,
		sessionID: sessionID,
		language:  language,
		lc:        NewLifecycle(),
		log:       log.With().Str("connectionId", id).Logger(),
		results:   make(chan stt.Result, buffer),
		done:      make(chan struct{}),
	}
}

// ID returns the process-unique connection id.
func (c *Connection) ID() string { return c.id }

// SessionID returns the session the connection belongs to.
func (c *Connection) SessionID() string { return c.sessionID }

// State returns the lifecycle state.
func (c *Connection) State() State { return c.lc.State() }

// Done is closed once the connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// OnPartial implements stt.Callback.
func (c *Connection) OnPartial(text string, confidence float64) {
	c.push(stt.Result{Transcript: text, Confidence: confidence})
}

// OnFinal implements stt.Callback.
func (c *Connection) OnFinal(text string, confidence float64) {
	c.push(stt.Result{Transcript: text, IsFinal: true, Confidence: confidence})
}

// OnError implements stt.Callback.
func (c *Connection) OnError(err error) {
	if c.onError != nil {
		c.onError(c, err)
	}
}

// push queues a result in provider order. When the buffer is full the oldest
// result is dropped so the stream never blocks the provider reader.
func (c *Connection) push(r stt.Result) {
	if r.Empty() {
		return
	}
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	switch c.lc.State() {
	case StateClosing, StateClosed:
		return
	}

	select {
	case c.results <- r:
		return
	default:
	}

	select {
	case old := <-c.results:
		c.log.Warn().Str("dropped", old.Transcript).Msg("Result buffer full, dropping oldest result")
		if c.onDropped != nil {
			c.onDropped()
		}
	default:
	}
	select {
	case c.results <- r:
	default:
	}
}

func (c *Connection) setProvider(a stt.Adapter) {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	c.adapter = a
}

func (c *Connection) provider() stt.Adapter {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	return c.adapter
}

func (c *Connection) closeAdapter(a stt.Adapter) {
	if err := a.Close(); err != nil {
		c.log.Debug().Err(err).Msg("Provider close returned error")
	}
}

// close tears the connection down. It returns false when teardown had
// already started.
func (c *Connection) close() bool {
	if !c.lc.BeginClose() {
		return false
	}
	if a := c.provider(); a != nil {
		c.closeAdapter(a)
	}
	_ = c.lc.Transition(StateClosed)
	c.doneOnce.Do(func() { close(c.done) })
	return true
}
