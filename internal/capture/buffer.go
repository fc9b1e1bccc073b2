package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"speech-coach-service/internal/models"
)

// Delivery hands accepted final fragments to the session aggregate.
type Delivery interface {
	AppendTranscript(ctx context.Context, sessionID string, chunks []models.TranscriptChunk) error
}

// Buffer is the ordered list of final fragments not yet acknowledged by the
// server. Entries leave only when a delivery that included them succeeds.
type Buffer struct {
	mu      sync.Mutex
	pending []models.TranscriptChunk
	// gen advances on every Reset; a flush only trims the generation it read.
	gen uint64
	// flushMu serializes deliveries so chunks arrive in order.
	flushMu sync.Mutex
}

// Add appends a chunk.
func (b *Buffer) Add(c models.TranscriptChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, c)
}

// Len returns the number of unacknowledged chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Pending returns a copy of the unacknowledged chunks.
func (b *Buffer) Pending() []models.TranscriptChunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.TranscriptChunk(nil), b.pending...)
}

// Flush delivers every pending chunk in one call. On failure the chunks stay
// queued for the next attempt.
func (b *Buffer) Flush(ctx context.Context, sessionID string, d Delivery) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := append([]models.TranscriptChunk(nil), b.pending...)
	gen := b.gen
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := d.AppendTranscript(ctx, sessionID, batch); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen == gen {
		b.pending = b.pending[len(batch):]
	}
	return nil
}

// Reset drops everything.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	b.gen++
}

// HTTPDelivery posts chunks to POST {BaseURL}/v1/sessions/{id}/transcript.
type HTTPDelivery struct {
	BaseURL        string
	OrganizationID string
	UserID         string
	Token          string
	Client         *http.Client
}

type appendRequest struct {
	TranscriptChunks []models.TranscriptChunk `json:"transcriptChunks"`
}

func (d HTTPDelivery) AppendTranscript(ctx context.Context, sessionID string, chunks []models.TranscriptChunk) error {
	body, err := json.Marshal(appendRequest{TranscriptChunks: chunks})
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(d.BaseURL, "/") + "/v1/sessions/" + url.PathEscape(sessionID) + "/transcript"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.OrganizationID != "" {
		req.Header.Set("X-Organization-ID", d.OrganizationID)
	}
	if d.UserID != "" {
		req.Header.Set("X-User-ID", d.UserID)
	}
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("deliver transcript: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
