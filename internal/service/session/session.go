// Package session holds the session aggregate: the persisted coaching session
// whose transcript, scoring and lifecycle are mutated by the pipeline.
//
// Every read and write is scoped by organization id. A session owned by
// another organization is reported as not found.
package session

import (
	"errors"
	"fmt"
	"time"

	"speech-coach-service/internal/models"
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// FinalTranscriptConfidence is recorded on the transcript chunk appended at completion.
const FinalTranscriptConfidence = 0.9

var (
	ErrNotFound          = errors.New("session not found")
	ErrAlreadyExists     = errors.New("session already exists")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrSessionTerminal   = errors.New("session is completed or failed")
	ErrEmptyChunk        = errors.New("transcript chunk text is empty")
	ErrVersionConflict   = errors.New("session version conflict")
	ErrScenarioRequired  = errors.New("scenario is required")
	ErrMissingTenant     = errors.New("organization id is required")
)

// Status transitions. Nothing moves back to ready and terminal states have no exits.
//
//	ready ──► in-progress ──► completed
//	  │            │
//	  └────────────┴────────► failed
var transitions = map[Status][]Status{
	StatusReady:      {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether the status admits no further changes.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether s may move to to.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Tenant identifies the caller. Authentication is delegated; the values come
// from the request.
type Tenant struct {
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId"`
}

// Session is the persisted aggregate.
type Session struct {
	ID              string                   `json:"id"`
	UserID          string                   `json:"userId"`
	OrganizationID  string                   `json:"organizationId"`
	Scenario        string                   `json:"scenario"`
	Language        string                   `json:"language"`
	Status          Status                   `json:"status"`
	Transcript      []models.TranscriptChunk `json:"transcript"`
	Duration        float64                  `json:"duration"`
	FeedbackMetrics []models.FeedbackMetric  `json:"feedbackMetrics"`
	OverallScore    int                      `json:"overallScore"`
	SampleRate      int                      `json:"sampleRate"`
	AudioFormat     string                   `json:"audioFormat"`
	FailureReason   string                   `json:"failureReason,omitempty"`
	StartedAt       *time.Time               `json:"startedAt,omitempty"`
	CompletedAt     *time.Time               `json:"completedAt,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
	Version         int64                    `json:"version"`
}

// transition moves the session to the given status.
func (s *Session) transition(to Status, at time.Time) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrSessionTerminal, s.Status)
	}
	if !s.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	switch to {
	case StatusInProgress:
		s.StartedAt = &at
	case StatusCompleted:
		s.CompletedAt = &at
	}
	return nil
}

// clone returns a deep copy so stores never share slices with callers.
func (s *Session) clone() *Session {
	c := *s
	c.Transcript = append([]models.TranscriptChunk(nil), s.Transcript...)
	c.FeedbackMetrics = append([]models.FeedbackMetric(nil), s.FeedbackMetrics...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
