// Package audio turns inbound audio chunks into transcript and feedback
// outcomes. The Processor coordinates the transcription gateway, the analytics
// publisher and the scoring collaborator for one chunk at a time.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/observability/metrics"
	"speech-coach-service/internal/schema"
	"speech-coach-service/internal/service/stt"
)

var (
	// ErrInvalidAudioChunk is returned for a missing or empty chunk.
	ErrInvalidAudioChunk = errors.New("invalid audio chunk")
	// ErrProcessingFailure wraps any downstream failure while processing a chunk.
	ErrProcessingFailure = errors.New("failed to process audio")
)

// Feedback thresholds: only confident, non-trivial finals are scored.
const (
	FeedbackMinConfidence = 0.6
	FeedbackMinLength     = 3
)

// Submitter forwards a chunk to the session's live provider connection.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, chunk []byte, language string) (stt.Result, error)
}

// Analyzer scores transcript text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (models.Analysis, error)
}

// Publisher emits transcript events for analytics.
type Publisher interface {
	Publish(ctx context.Context, ev models.TranscriptEvent) error
}

// Limits bounds chunk sizes. Oversize chunks are only logged.
type Limits struct {
	WarnChunkBytes int
}

// DefaultLimits returns the 10 KB warning threshold.
func DefaultLimits() Limits {
	return Limits{WarnChunkBytes: 10 * 1024}
}

// Chunk is one inbound audio chunk with its routing identity.
type Chunk struct {
	SessionID      string
	OrganizationID string
	UserID         string
	Language       string
	Data           []byte
}

// Outcome is what the channel broadcasts for a processed chunk. Transcript is
// nil when the provider produced nothing; Feedback is nil unless the result
// qualified for scoring.
type Outcome struct {
	Transcript *models.TranscriptChunk
	Feedback   *models.Analysis
}

// Processor runs the audio-chunk algorithm.
type Processor struct {
	submitter Submitter
	analyzer  Analyzer
	publisher Publisher
	validator *schema.Validator
	limits    Limits
	provider  string
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// NewProcessor creates a processor. analyzer and publisher may be nil.
func NewProcessor(submitter Submitter, analyzer Analyzer, publisher Publisher, provider string, limits Limits, m *metrics.Metrics) *Processor {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if limits.WarnChunkBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Processor{
		submitter: submitter,
		analyzer:  analyzer,
		publisher: publisher,
		validator: schema.New(),
		limits:    limits,
		provider:  provider,
		metrics:   m,
		log:       logging.WithComponent("audio"),
		now:       time.Now,
	}
}

// Process validates the chunk, submits it and assembles the outcome.
// Validation failures return ErrInvalidAudioChunk; everything else that goes
// wrong returns an error wrapping ErrProcessingFailure.
func (p *Processor) Process(ctx context.Context, c Chunk) (Outcome, error) {
	if err := p.validator.SessionID(c.SessionID); err != nil {
		p.metrics.RecordInvalidChunk()
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidAudioChunk, err)
	}
	if len(c.Data) == 0 {
		p.metrics.RecordInvalidChunk()
		return Outcome{}, ErrInvalidAudioChunk
	}

	log := logging.WithSession(c.SessionID, c.OrganizationID)
	p.metrics.RecordAudioReceived(len(c.Data))
	if len(c.Data) > p.limits.WarnChunkBytes {
		p.metrics.RecordOversizeChunk()
		log.Warn().Int("bytes", len(c.Data)).Int("warnBytes", p.limits.WarnChunkBytes).Msg("Large audio chunk received")
	}

	res, err := p.submitter.Submit(ctx, c.SessionID, c.Data, c.Language)
	if err != nil {
		log.Error().Err(err).Msg("Audio submit failed")
		return Outcome{}, fmt.Errorf("%w: %v", ErrProcessingFailure, err)
	}

	if res.Empty() {
		p.metrics.RecordEmptyResult()
		return Outcome{}, nil
	}

	chunk := &models.TranscriptChunk{
		Text:       res.Transcript,
		Timestamp:  p.now(),
		IsFinal:    res.IsFinal,
		Confidence: res.Confidence,
	}
	if res.IsFinal {
		p.metrics.RecordFinalTranscript()
	} else {
		p.metrics.RecordPartialTranscript()
	}
	p.publish(ctx, c, chunk, log)

	out := Outcome{Transcript: chunk}
	if !qualifiesForFeedback(res) || p.analyzer == nil {
		return out, nil
	}

	analysis, err := p.analyzer.Analyze(ctx, res.Transcript)
	if err != nil {
		log.Error().Err(err).Msg("Scoring failed")
		return Outcome{}, fmt.Errorf("%w: %v", ErrProcessingFailure, err)
	}
	p.metrics.RecordFeedback()
	out.Feedback = &analysis
	return out, nil
}

func qualifiesForFeedback(r stt.Result) bool {
	return r.IsFinal &&
		r.Confidence > FeedbackMinConfidence &&
		len(strings.TrimSpace(r.Transcript)) > FeedbackMinLength
}

// publish is best effort: analytics never fail the chunk.
func (p *Processor) publish(ctx context.Context, c Chunk, chunk *models.TranscriptChunk, log zerolog.Logger) {
	if p.publisher == nil {
		return
	}
	ev := models.TranscriptEvent{
		SessionID:      c.SessionID,
		OrganizationID: c.OrganizationID,
		UserID:         c.UserID,
		Timestamp:      chunk.Timestamp.UnixMilli(),
		Text:           chunk.Text,
		IsFinal:        chunk.IsFinal,
		Confidence:     chunk.Confidence,
		Provider:       p.provider,
	}
	if err := p.validator.Validate(ev); err != nil {
		log.Warn().Err(err).Msg("Transcript event failed validation, not published")
		return
	}
	if err := p.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Bool("isFinal", ev.IsFinal).Msg("Failed to publish transcript event")
	}
}
