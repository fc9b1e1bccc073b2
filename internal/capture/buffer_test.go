package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-coach-service/internal/models"
)

type deliveryFunc func(ctx context.Context, sessionID string, chunks []models.TranscriptChunk) error

func (f deliveryFunc) AppendTranscript(ctx context.Context, sessionID string, chunks []models.TranscriptChunk) error {
	return f(ctx, sessionID, chunks)
}

func chunk(text string) models.TranscriptChunk {
	return models.TranscriptChunk{Text: text, IsFinal: true, Confidence: 0.9}
}

func texts(chunks []models.TranscriptChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Text)
	}
	return out
}

func TestBuffer_FlushTrimsDelivered(t *testing.T) {
	var b Buffer
	b.Add(chunk("One."))
	b.Add(chunk("Two."))

	var got []models.TranscriptChunk
	err := b.Flush(context.Background(), "S1", deliveryFunc(func(_ context.Context, sid string, chunks []models.TranscriptChunk) error {
		assert.Equal(t, "S1", sid)
		got = chunks
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"One.", "Two."}, texts(got))
	assert.Zero(t, b.Len())
}

func TestBuffer_FlushFailureKeepsChunks(t *testing.T) {
	var b Buffer
	b.Add(chunk("One."))

	err := b.Flush(context.Background(), "S1", deliveryFunc(func(context.Context, string, []models.TranscriptChunk) error {
		return errors.New("server unavailable")
	}))
	require.Error(t, err)
	assert.Equal(t, []string{"One."}, texts(b.Pending()))
}

func TestBuffer_AddDuringFlushStaysPending(t *testing.T) {
	var b Buffer
	b.Add(chunk("One."))

	err := b.Flush(context.Background(), "S1", deliveryFunc(func(context.Context, string, []models.TranscriptChunk) error {
		b.Add(chunk("Two."))
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Two."}, texts(b.Pending()))
}

func TestBuffer_ResetDuringFlushKeepsNewChunks(t *testing.T) {
	tests := []struct {
		name  string
		added []string
	}{
		{"one new chunk", []string{"Fresh."}},
		{"more new chunks than the batch", []string{"Fresh.", "Start."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Buffer
			b.Add(chunk("Old."))

			err := b.Flush(context.Background(), "S1", deliveryFunc(func(context.Context, string, []models.TranscriptChunk) error {
				b.Reset()
				for _, text := range tt.added {
					b.Add(chunk(text))
				}
				return nil
			}))
			require.NoError(t, err)
			assert.Equal(t, tt.added, texts(b.Pending()))
		})
	}
}
