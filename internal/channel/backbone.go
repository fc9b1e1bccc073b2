package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"speech-coach-service/internal/observability/metrics"
)

// Backbone modes.
const (
	ModeLocal = "local"
	ModeRedis = "redis"
)

// Message is one room broadcast crossing process boundaries.
type Message struct {
	Node    string          `json:"node"`
	Room    string          `json:"room"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Backbone carries room broadcasts between processes. It never carries
// provider connection state.
type Backbone interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe delivers messages from every process, including this one,
	// until ctx ends or Close is called.
	Subscribe(ctx context.Context, handle func(Message)) error
	Mode() string
	Close() error
}

// LocalBackbone is the single-instance backbone: local delivery already
// happened, so there is nothing to carry.
type LocalBackbone struct{}

// Publish is a no-op.
func (LocalBackbone) Publish(context.Context, Message) error { return nil }

// Subscribe is a no-op; nothing ever arrives from other instances.
func (LocalBackbone) Subscribe(context.Context, func(Message)) error { return nil }

// Mode reports ModeLocal.
func (LocalBackbone) Mode() string { return ModeLocal }

// Close is a no-op.
func (LocalBackbone) Close() error { return nil }

// RedisBackbone fans broadcasts out over one Redis pub/sub channel.
type RedisBackbone struct {
	client  redis.UniversalClient
	channel string
	log     zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisBackbone uses the pub/sub channel "<prefix>:broadcast".
func NewRedisBackbone(client redis.UniversalClient, prefix string, log zerolog.Logger) *RedisBackbone {
	if prefix == "" {
		prefix = "speech-coach"
	}
	return &RedisBackbone{
		client:  client,
		channel: prefix + ":broadcast",
		log:     log,
	}
}

// Channel returns the pub/sub channel name.
func (b *RedisBackbone) Channel() string { return b.channel }

// Mode reports ModeRedis.
func (b *RedisBackbone) Mode() string { return ModeRedis }

// Publish sends msg as JSON on the broadcast channel.
func (b *RedisBackbone) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe confirms the subscription before returning, then delivers on a
// background goroutine.
func (b *RedisBackbone) Subscribe(ctx context.Context, handle func(Message)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn().Err(err).Msg("Dropping malformed backbone message")
					continue
				}
				handle(msg)
			}
		}
	}()
	return nil
}

// Close drops the subscription and waits for the delivery goroutine to exit.
func (b *RedisBackbone) Close() error {
	b.mu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	b.wg.Wait()
	return err
}

// ConnectBackbone returns a Redis backbone when client is reachable within
// timeout, and the local backbone otherwise. The outcome is logged once; a
// failure never stops startup.
func ConnectBackbone(ctx context.Context, client redis.UniversalClient, prefix string, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) Backbone {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if client == nil {
		log.Info().Msg("No Redis configured, event channel running single-instance")
		m.RecordBackboneMode(ModeLocal)
		return LocalBackbone{}
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no answer within %s", timeout)
		}
		log.Warn().Err(err).Msg("Redis unreachable, event channel running single-instance")
		m.RecordBackboneMode(ModeLocal)
		return LocalBackbone{}
	}

	b := NewRedisBackbone(client, prefix, log)
	log.Info().Str("channel", b.Channel()).Msg("Event channel backbone connected")
	m.RecordBackboneMode(ModeRedis)
	return b
}
