package channel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/service/session"
)

const (
	writeWait    = 10 * time.Second
	sendQueueLen = 256
)

// ServerConfig tunes both transports.
type ServerConfig struct {
	// MaxMessageBytes bounds one inbound frame or poll body.
	MaxMessageBytes int64
	PingInterval    time.Duration
	PollTimeout     time.Duration
	// AllowedOrigins lists browser origins allowed to connect. "*" allows any.
	AllowedOrigins []string
}

// DefaultServerConfig returns a 100 MB frame limit, a 25 s ping interval and a
// 25 s long-poll wait.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxMessageBytes: 100 * 1024 * 1024,
		PingInterval:    25 * time.Second,
		PollTimeout:     25 * time.Second,
		AllowedOrigins:  []string{"http://localhost:3000"},
	}
}

// Server accepts sockets over WebSocket and long-polling and hands their
// frames to the Handlers.
type Server struct {
	handlers *Handlers
	cfg      ServerConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
	polls map[string]*pollPeer
}

// NewServer creates a server over handlers.
func NewServer(handlers *Handlers, cfg ServerConfig) *Server {
	def := DefaultServerConfig()
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	s := &Server{
		handlers: handlers,
		cfg:      cfg,
		log:      logging.WithComponent("channel-server"),
		conns:    make(map[string]*websocket.Conn),
		polls:    make(map[string]*pollPeer),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	s.log.Warn().Str("origin", origin).Msg("Rejected socket from disallowed origin")
	return false
}

// TenantFromRequest reads the handshake identity from the organizationId and
// userId query parameters, falling back to the X-Organization-ID and
// X-User-ID headers.
func TenantFromRequest(r *http.Request) session.Tenant {
	q := r.URL.Query()
	t := session.Tenant{
		OrganizationID: q.Get("organizationId"),
		UserID:         q.Get("userId"),
	}
	if t.OrganizationID == "" {
		t.OrganizationID = r.Header.Get("X-Organization-ID")
	}
	if t.UserID == "" {
		t.UserID = r.Header.Get("X-User-ID")
	}
	return t
}

// wsPeer is a WebSocket socket. Frames queue on send and are written by
// writePump; each frame is one text message.
type wsPeer struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (p *wsPeer) ID() string { return p.id }

func (p *wsPeer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (p *wsPeer) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

// ServeWS upgrades the request and runs the socket until it disconnects.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	peer := &wsPeer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueLen),
	}
	s.mu.Lock()
	s.conns[peer.id] = conn
	s.mu.Unlock()

	client := s.handlers.Connect(peer, TenantFromRequest(r))
	go s.writePump(peer)
	reason := s.readPump(peer, client)

	s.handlers.Disconnect(client, reason)
	peer.shutdown()

	s.mu.Lock()
	delete(s.conns, peer.id)
	s.mu.Unlock()
}

// readPump dispatches frames until the connection fails and returns the
// disconnect reason.
func (s *Server) readPump(p *wsPeer, c *Client) string {
	conn := p.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	pongWait := 2 * s.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return "client close"
			case errors.Is(err, websocket.ErrReadLimit):
				return "message too large"
			default:
				var ne interface{ Timeout() bool }
				if errors.As(err, &ne) && ne.Timeout() {
					return "ping timeout"
				}
				return "transport error"
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handlers.Dispatch(c, frame)
	}
}

func (s *Server) writePump(p *wsPeer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Connections returns the number of open sockets on both transports.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns) + len(s.polls)
}

// Run reaps idle long-polling sockets until ctx ends.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.reapPolls(now)
		}
	}
}

// Shutdown disconnects every socket.
func (s *Server) Shutdown() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	polls := make([]*pollPeer, 0, len(s.polls))
	for id, p := range s.polls {
		polls = append(polls, p)
		delete(s.polls, id)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		_ = c.Close()
	}
	for _, p := range polls {
		s.handlers.Disconnect(p.client, "server shutdown")
		p.shutdown()
	}
}
