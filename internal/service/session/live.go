package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"speech-coach-service/internal/models"
)

// DefaultLiveTTL bounds how long relayed transcripts are kept.
const DefaultLiveTTL = time.Hour

// LiveTranscripts caches transcript chunks relayed between room members so a
// late joiner can fetch what it missed. It is separate from the persisted
// session transcript.
type LiveTranscripts interface {
	Append(ctx context.Context, sessionID string, chunk models.TranscriptChunk) error
	List(ctx context.Context, sessionID string) ([]models.TranscriptChunk, error)
}

// RedisLiveTranscripts stores one list per session under
// session:{id}:transcripts, refreshing its expiry on every append.
type RedisLiveTranscripts struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLiveTranscripts creates the Redis cache. A non-positive ttl uses one hour.
func NewRedisLiveTranscripts(client redis.UniversalClient, ttl time.Duration) *RedisLiveTranscripts {
	if ttl <= 0 {
		ttl = DefaultLiveTTL
	}
	return &RedisLiveTranscripts{client: client, ttl: ttl}
}

// LiveTranscriptsKey returns the list key for a session.
func LiveTranscriptsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:transcripts", sessionID)
}

func (r *RedisLiveTranscripts) Append(ctx context.Context, sessionID string, chunk models.TranscriptChunk) error {
	val, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	key := LiveTranscriptsKey(sessionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

func (r *RedisLiveTranscripts) List(ctx context.Context, sessionID string) ([]models.TranscriptChunk, error) {
	vals, err := r.client.LRange(ctx, LiveTranscriptsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.TranscriptChunk, 0, len(vals))
	for _, v := range vals {
		var c models.TranscriptChunk
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, fmt.Errorf("decode cached transcript: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// MemoryLiveTranscripts is the single-process cache.
type MemoryLiveTranscripts struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*liveEntry
}

type liveEntry struct {
	chunks    []models.TranscriptChunk
	expiresAt time.Time
}

// NewMemoryLiveTranscripts creates the in-memory cache. A non-positive ttl uses one hour.
func NewMemoryLiveTranscripts(ttl time.Duration) *MemoryLiveTranscripts {
	if ttl <= 0 {
		ttl = DefaultLiveTTL
	}
	return &MemoryLiveTranscripts{ttl: ttl, now: time.Now, entries: make(map[string]*liveEntry)}
}

func (m *MemoryLiveTranscripts) Append(_ context.Context, sessionID string, chunk models.TranscriptChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[sessionID]
	if !ok || now.After(e.expiresAt) {
		e = &liveEntry{}
		m.entries[sessionID] = e
	}
	e.chunks = append(e.chunks, chunk)
	e.expiresAt = now.Add(m.ttl)
	return nil
}

func (m *MemoryLiveTranscripts) List(_ context.Context, sessionID string) ([]models.TranscriptChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[sessionID]
	if !ok {
		return []models.TranscriptChunk{}, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, sessionID)
		return []models.TranscriptChunk{}, nil
	}
	return append([]models.TranscriptChunk{}, e.chunks...), nil
}
