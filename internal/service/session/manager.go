package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/observability/metrics"
	"speech-coach-service/internal/schema"
	"speech-coach-service/internal/service/scoring"
)

// maxUpdateAttempts bounds retries of an optimistic update.
const maxUpdateAttempts = 5

// DefaultLanguage is used when a session is created without one.
const DefaultLanguage = "en"

// CreateRequest describes a new session.
type CreateRequest struct {
	Scenario string
	Language string
	// Start creates the session directly in progress.
	Start bool
}

// CompleteRequest closes a session out.
type CompleteRequest struct {
	FinalTranscript string
	DurationSeconds float64
	FeedbackMetrics []models.FeedbackMetric
}

// Manager applies lifecycle rules on top of a Store.
type Manager struct {
	store     Store
	validator *schema.Validator
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// NewManager creates a manager over store.
func NewManager(store Store, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Manager{
		store:     store,
		validator: schema.New(),
		metrics:   m,
		log:       logging.WithComponent("session"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Create stores a new session owned by the tenant, ready or in progress.
func (m *Manager) Create(ctx context.Context, tenant Tenant, req CreateRequest) (*Session, error) {
	if tenant.OrganizationID == "" {
		return nil, ErrMissingTenant
	}
	scenario := strings.TrimSpace(req.Scenario)
	if scenario == "" {
		return nil, ErrScenarioRequired
	}
	language := req.Language
	if language == "" {
		language = DefaultLanguage
	}

	s := &Session{
		ID:              m.newID(),
		UserID:          tenant.UserID,
		OrganizationID:  tenant.OrganizationID,
		Scenario:        scenario,
		Language:        language,
		Status:          StatusReady,
		Transcript:      []models.TranscriptChunk{},
		FeedbackMetrics: []models.FeedbackMetric{},
		SampleRate:      16000,
		AudioFormat:     "pcm",
	}
	if req.Start {
		if err := s.transition(StatusInProgress, m.now()); err != nil {
			return nil, err
		}
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.metrics.RecordSessionTransition(string(s.Status))
	log := logging.WithSession(s.ID, s.OrganizationID)
	log.Info().
		Str("status", string(s.Status)).
		Str("scenario", s.Scenario).
		Msg("Session created")
	return s, nil
}

// Get returns the session if it belongs to the organization.
func (m *Manager) Get(ctx context.Context, organizationID, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	return s, nil
}

// Start moves a ready session in progress. Starting an in-progress session is a no-op.
func (m *Manager) Start(ctx context.Context, organizationID, id string) (*Session, error) {
	return m.update(ctx, organizationID, id, func(s *Session) (bool, error) {
		if s.Status == StatusInProgress {
			return false, nil
		}
		if err := s.transition(StatusInProgress, m.now()); err != nil {
			return false, err
		}
		return true, nil
	})
}

// AppendTranscript appends chunks in order. Chunks are immutable once appended.
func (m *Manager) AppendTranscript(ctx context.Context, organizationID, id string, chunks []models.TranscriptChunk) (*Session, error) {
	now := m.now()
	prepared := make([]models.TranscriptChunk, 0, len(chunks))
	for _, c := range chunks {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			return nil, ErrEmptyChunk
		}
		if err := m.validator.Validate(c); err != nil {
			return nil, err
		}
		if c.Timestamp.IsZero() {
			c.Timestamp = now
		}
		prepared = append(prepared, c)
	}

	return m.update(ctx, organizationID, id, func(s *Session) (bool, error) {
		if s.Status.IsTerminal() {
			return false, fmt.Errorf("%w: %s", ErrSessionTerminal, s.Status)
		}
		s.Transcript = append(s.Transcript, prepared...)
		return len(prepared) > 0, nil
	})
}

// Complete appends the final transcript and sets duration, metrics, overall
// score and completion time. A ready session passes through in-progress.
func (m *Manager) Complete(ctx context.Context, organizationID, id string, req CompleteRequest) (*Session, error) {
	return m.update(ctx, organizationID, id, func(s *Session) (bool, error) {
		now := m.now()
		if s.Status == StatusReady {
			if err := s.transition(StatusInProgress, now); err != nil {
				return false, err
			}
		}
		if err := s.transition(StatusCompleted, now); err != nil {
			return false, err
		}
		if text := strings.TrimSpace(req.FinalTranscript); text != "" {
			s.Transcript = append(s.Transcript, models.TranscriptChunk{
				Text:       text,
				Timestamp:  now,
				IsFinal:    true,
				Confidence: FinalTranscriptConfidence,
			})
		}
		s.Duration = req.DurationSeconds
		s.FeedbackMetrics = append([]models.FeedbackMetric{}, req.FeedbackMetrics...)
		s.OverallScore = scoring.OverallScore(req.FeedbackMetrics)
		return true, nil
	})
}

// Fail marks a non-terminal session failed.
func (m *Manager) Fail(ctx context.Context, organizationID, id, reason string) (*Session, error) {
	return m.update(ctx, organizationID, id, func(s *Session) (bool, error) {
		if err := s.transition(StatusFailed, m.now()); err != nil {
			return false, err
		}
		s.FailureReason = reason
		return true, nil
	})
}

// DescribeAudio records the sample rate and format of the ingested stream.
func (m *Manager) DescribeAudio(ctx context.Context, organizationID, id string, sampleRate int, format string) (*Session, error) {
	if err := m.validator.AudioFormat(sampleRate, format); err != nil {
		return nil, err
	}
	return m.update(ctx, organizationID, id, func(s *Session) (bool, error) {
		if s.Status.IsTerminal() {
			return false, fmt.Errorf("%w: %s", ErrSessionTerminal, s.Status)
		}
		changed := false
		if sampleRate > 0 && s.SampleRate != sampleRate {
			s.SampleRate = sampleRate
			changed = true
		}
		if format != "" && s.AudioFormat != format {
			s.AudioFormat = format
			changed = true
		}
		return changed, nil
	})
}

// update loads, mutates and stores a session, retrying version conflicts.
// mutate reports whether anything changed; unchanged sessions are not written.
func (m *Manager) update(ctx context.Context, organizationID, id string, mutate func(*Session) (bool, error)) (*Session, error) {
	var lastErr error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		s, err := m.Get(ctx, organizationID, id)
		if err != nil {
			return nil, err
		}
		before := s.Status
		changed, err := mutate(s)
		if err != nil {
			return nil, err
		}
		if !changed {
			return s, nil
		}

		err = m.store.Update(ctx, s)
		if err == nil {
			if s.Status != before {
				m.metrics.RecordSessionTransition(string(s.Status))
				log := logging.WithSession(s.ID, s.OrganizationID)
				log.Info().
					Str("from", string(before)).
					Str("to", string(s.Status)).
					Msg("Session status changed")
			}
			return s, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("update session: %w", err)
		}
		lastErr = err
		m.metrics.RecordSessionConflict()
		m.log.Debug().Str("sessionId", id).Int("attempt", attempt).Msg("Session version conflict, retrying")
	}
	return nil, lastErr
}
