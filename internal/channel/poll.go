package channel

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pollQueueLen bounds frames waiting for the next poll.
const pollQueueLen = 512

// pollPeer is a long-polling socket. Frames queue until the client's next GET.
type pollPeer struct {
	id     string
	client *Client

	mu       sync.Mutex
	queue    [][]byte
	notify   chan struct{}
	closed   bool
	waiting  int
	lastSeen time.Time
}

func newPollPeer() *pollPeer {
	return &pollPeer{
		id:       uuid.NewString(),
		notify:   make(chan struct{}, 1),
		lastSeen: time.Now(),
	}
}

func (p *pollPeer) ID() string { return p.id }

func (p *pollPeer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.queue) >= pollQueueLen {
		return false
	}
	p.queue = append(p.queue, frame)
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

func (p *pollPeer) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.notify)
	}
}

// drain waits up to timeout for frames and returns everything queued.
func (p *pollPeer) drain(done <-chan struct{}, timeout time.Duration) [][]byte {
	p.mu.Lock()
	p.waiting++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.waiting--
		p.lastSeen = time.Now()
		p.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		p.mu.Lock()
		if len(p.queue) > 0 || p.closed {
			frames := p.queue
			p.queue = nil
			p.mu.Unlock()
			return frames
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-timer.C:
			return nil
		case <-done:
			return nil
		}
	}
}

func (p *pollPeer) idleSince(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiting > 0 {
		return 0
	}
	return now.Sub(p.lastSeen)
}

func (p *pollPeer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// handshake is the reply to a poll socket open.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"`
	PollTimeout  int64  `json:"pollTimeout"`
}

// ServePoll is the long-polling fallback:
//
//	POST   (no sid)  open a socket, reply {"sid": ...}
//	GET    ?sid=     wait for queued events, reply a JSON array of envelopes
//	POST   ?sid=     send one envelope
//	DELETE ?sid=     disconnect
func (s *Server) ServePoll(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	if sid == "" {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing sid"})
			return
		}
		s.openPoll(w, r)
		return
	}

	s.mu.Lock()
	p, ok := s.polls[sid]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown sid"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		frames := p.drain(r.Context().Done(), s.cfg.PollTimeout)
		out := make([]json.RawMessage, 0, len(frames))
		for _, f := range frames {
			out = append(out, f)
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		p.touch()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "message too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}
		s.handlers.Dispatch(p.client, body)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		s.closePoll(p, "client close")
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) openPoll(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
		return
	}
	p := newPollPeer()
	p.client = s.handlers.Connect(p, TenantFromRequest(r))

	s.mu.Lock()
	s.polls[p.id] = p
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, handshake{
		SID:          p.id,
		PingInterval: s.cfg.PingInterval.Milliseconds(),
		PollTimeout:  s.cfg.PollTimeout.Milliseconds(),
	})
}

func (s *Server) closePoll(p *pollPeer, reason string) {
	s.mu.Lock()
	_, ok := s.polls[p.id]
	delete(s.polls, p.id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.handlers.Disconnect(p.client, reason)
	p.shutdown()
}

// reapPolls disconnects poll sockets that have not polled for two poll windows.
func (s *Server) reapPolls(now time.Time) {
	limit := 2 * s.cfg.PollTimeout
	s.mu.Lock()
	var idle []*pollPeer
	for _, p := range s.polls {
		if p.idleSince(now) > limit {
			idle = append(idle, p)
		}
	}
	s.mu.Unlock()

	for _, p := range idle {
		s.closePoll(p, "poll timeout")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
