package channel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBus is an in-process stand-in for the Redis pub/sub channel shared by
// several hubs.
type memBus struct {
	mu       sync.Mutex
	handlers []func(Message)
}

type memBackbone struct{ bus *memBus }

func (b memBackbone) Publish(_ context.Context, msg Message) error {
	b.bus.mu.Lock()
	handlers := append(([]func(Message))(nil), b.bus.handlers...)
	b.bus.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b memBackbone) Subscribe(_ context.Context, handle func(Message)) error {
	b.bus.mu.Lock()
	defer b.bus.mu.Unlock()
	b.bus.handlers = append(b.bus.handlers, handle)
	return nil
}

func (memBackbone) Mode() string { return "memory" }
func (memBackbone) Close() error { return nil }

func TestHub_BroadcastAcrossNodes(t *testing.T) {
	bus := &memBus{}
	nodeA := NewHub(memBackbone{bus})
	nodeB := NewHub(memBackbone{bus})
	require.NoError(t, nodeA.Run(context.Background()))
	require.NoError(t, nodeB.Run(context.Background()))

	sender := newFakePeer("sender")
	local := newFakePeer("local")
	remote := newFakePeer("remote")
	elsewhere := newFakePeer("elsewhere")
	nodeA.Join("S1", sender)
	nodeA.Join("S1", local)
	nodeB.Join("S1", remote)
	nodeB.Join("S2", elsewhere)

	nodeA.Broadcast(context.Background(), "S1", "sender", EventTranscriptUpdate, TranscriptUpdate{SessionID: "S1", Transcript: "hi"})

	for _, p := range []*fakePeer{local, remote} {
		var u TranscriptUpdate
		require.NoError(t, json.Unmarshal(p.expect(t, EventTranscriptUpdate), &u))
		assert.Equal(t, "hi", u.Transcript)
	}
	// The originating node ignores its own echo, so local gets exactly one copy.
	assert.Len(t, local.frames, 0)
	assert.Len(t, sender.frames, 0)
	assert.Len(t, elsewhere.frames, 0)
}

func TestHub_JoinLeave(t *testing.T) {
	h := NewHub(nil)
	assert.Equal(t, ModeLocal, h.Mode())

	a, b := newFakePeer("a"), newFakePeer("b")
	h.Join("S1", a)
	h.Join("S1", b)
	h.Join("S1", a)
	assert.Equal(t, 2, h.Members("S1"))

	h.Leave("S1", a)
	h.Leave("S1", b)
	assert.Equal(t, 0, h.Members("S1"))
	h.Leave("S1", b)
}

type closedPeer struct{}

func (closedPeer) ID() string       { return "gone" }
func (closedPeer) Send([]byte) bool { return false }

func TestHub_DropsForUnavailablePeer(t *testing.T) {
	h := NewHub(nil)
	live := newFakePeer("live")
	h.Join("S1", closedPeer{})
	h.Join("S1", live)

	h.Broadcast(context.Background(), "S1", "", EventPong, Pong{Timestamp: Timestamp(time.Unix(0, 0))})

	var p Pong
	require.NoError(t, json.Unmarshal(live.expect(t, EventPong), &p))
	assert.Equal(t, "1970-01-01T00:00:00.000Z", p.Timestamp)
}

func TestConnectBackbone_NoClientIsLocal(t *testing.T) {
	b := ConnectBackbone(context.Background(), nil, "", time.Second, testLogger(), testMetrics)
	assert.Equal(t, ModeLocal, b.Mode())
	assert.NoError(t, b.Publish(context.Background(), Message{}))
	assert.NoError(t, b.Close())
}
