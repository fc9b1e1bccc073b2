package channel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/service/session"
)

// audioQueueSize bounds pending audio chunks per socket.
const audioQueueSize = 64

// Client is the per-socket state: identity, joined rooms and the audio worker
// that processes this socket's chunks in arrival order.
type Client struct {
	peer     Peer
	tenant   session.Tenant
	openedAt time.Time
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	joined    map[string]bool
	described map[string]bool
	closed    bool

	audio chan AudioChunkRequest
	wg    sync.WaitGroup
}

func newClient(peer Peer, tenant session.Tenant) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		peer:      peer,
		tenant:    tenant,
		openedAt:  time.Now(),
		log:       logging.WithSocket(peer.ID()),
		ctx:       ctx,
		cancel:    cancel,
		joined:    make(map[string]bool),
		described: make(map[string]bool),
		audio:     make(chan AudioChunkRequest, audioQueueSize),
	}
}

// ID returns the socket id.
func (c *Client) ID() string { return c.peer.ID() }

// Tenant returns the handshake identity.
func (c *Client) Tenant() session.Tenant { return c.tenant }

// Context ends when the socket disconnects.
func (c *Client) Context() context.Context { return c.ctx }

func (c *Client) join(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[sessionID] = true
}

func (c *Client) leave(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, sessionID)
}

// Sessions returns the joined session ids, sorted.
func (c *Client) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// firstAudio reports whether this is the first chunk of sessionID on this socket.
func (c *Client) firstAudio(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.described[sessionID] {
		return false
	}
	c.described[sessionID] = true
	return true
}

// enqueueAudio hands a chunk to the worker. It returns false when the queue
// is full or the socket is closing.
func (c *Client) enqueueAudio(req AudioChunkRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.audio <- req:
		return true
	default:
		return false
	}
}

func (c *Client) startWorker(process func(AudioChunkRequest)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for req := range c.audio {
			process(req)
		}
	}()
}

// close stops accepting audio, cancels in-flight work and waits for the
// worker. It returns the rooms the socket had joined and clears them.
func (c *Client) close() []string {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.audio)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	sessions := c.Sessions()
	c.mu.Lock()
	c.joined = make(map[string]bool)
	c.mu.Unlock()
	return sessions
}
