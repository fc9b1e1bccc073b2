// Package models defines the value types shared by the pipeline packages.
package models

import "time"

// Kafka event types.
const (
	EventTypePartial = "session.transcript.partial"
	EventTypeFinal   = "session.transcript.final"
)

// TranscriptChunk is one persisted fragment of a session transcript.
type TranscriptChunk struct {
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsFinal    bool      `json:"isFinal"`
	Confidence float64   `json:"confidence"`
}

// FeedbackMetric is one scored category of a speech analysis.
type FeedbackMetric struct {
	Category string `json:"category"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Analysis is the scoring result for a piece of transcript text.
type Analysis struct {
	OverallScore int              `json:"overallScore"`
	Metrics      []FeedbackMetric `json:"metrics"`
}

// TranscriptEvent is published to Kafka for every transcript the channel
// broadcasts.
type TranscriptEvent struct {
	EventType      string  `json:"eventType"`
	SessionID      string  `json:"sessionId"`
	OrganizationID string  `json:"organizationId,omitempty"`
	UserID         string  `json:"userId,omitempty"`
	Timestamp      int64   `json:"timestamp"`
	Text           string  `json:"text"`
	IsFinal        bool    `json:"isFinal"`
	Confidence     float64 `json:"confidence"`
	Provider       string  `json:"provider,omitempty"`
}
