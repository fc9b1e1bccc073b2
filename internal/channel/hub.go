package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-coach-service/internal/observability/logging"
)

// Peer is one connected socket as seen by the hub.
type Peer interface {
	ID() string
	// Send queues an encoded envelope. It returns false when the peer is gone
	// or its queue is full; the frame is dropped.
	Send(frame []byte) bool
}

// Hub tracks room membership for this process and fans room broadcasts out
// through the backbone.
type Hub struct {
	nodeID   string
	backbone Backbone
	log      zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]Peer
}

// NewHub creates a hub with a random node id. A nil backbone means single-instance.
func NewHub(backbone Backbone) *Hub {
	if backbone == nil {
		backbone = LocalBackbone{}
	}
	return &Hub{
		nodeID:   uuid.NewString(),
		backbone: backbone,
		log:      logging.WithComponent("channel-hub"),
		rooms:    make(map[string]map[string]Peer),
	}
}

// NodeID identifies this process on the backbone.
func (h *Hub) NodeID() string { return h.nodeID }

// Mode reports the backbone mode.
func (h *Hub) Mode() string { return h.backbone.Mode() }

// Run subscribes to the backbone and delivers remote broadcasts locally.
func (h *Hub) Run(ctx context.Context) error {
	return h.backbone.Subscribe(ctx, h.deliverRemote)
}

// Join adds p to room.
func (h *Hub) Join(room string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Peer)
		h.rooms[room] = members
	}
	members[p.ID()] = p
}

// Leave removes p from room.
func (h *Hub) Leave(room string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, p.ID())
}

func (h *Hub) leaveLocked(room, peerID string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, peerID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Members returns the local member count of room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Emit sends an event to one peer.
func (h *Hub) Emit(p Peer, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode event")
		return
	}
	if !p.Send(frame) {
		h.log.Warn().Str("socketId", p.ID()).Str("event", event).Msg("Peer not accepting frames, event dropped")
	}
}

// Broadcast sends an event to every member of room on every process, except
// the peer with id except.
func (h *Hub) Broadcast(ctx context.Context, room, except, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode event")
		return
	}
	h.deliverLocal(room, except, frame)

	msg := Message{Node: h.nodeID, Room: room, Except: except, Payload: frame}
	if err := h.backbone.Publish(ctx, msg); err != nil {
		h.log.Warn().Err(err).Str("room", room).Str("event", event).Msg("Backbone publish failed, broadcast delivered locally only")
	}
}

func (h *Hub) deliverRemote(msg Message) {
	if msg.Node == h.nodeID {
		return
	}
	h.deliverLocal(msg.Room, msg.Except, msg.Payload)
}

func (h *Hub) deliverLocal(room, except string, frame []byte) {
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.rooms[room]))
	for id, p := range h.rooms[room] {
		if id != except {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		if !p.Send(frame) {
			h.log.Warn().Str("socketId", p.ID()).Str("room", room).Msg("Peer not accepting frames, broadcast dropped")
		}
	}
}

// Close shuts the backbone down.
func (h *Hub) Close() error {
	return h.backbone.Close()
}
