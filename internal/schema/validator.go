// Package schema validates inbound channel payloads and outbound events.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"speech-coach-service/internal/models"
)

// MaxSessionIDLength bounds session ids accepted from clients.
const MaxSessionIDLength = 128

var (
	ErrMissingSessionID  = errors.New("sessionId is required")
	ErrSessionIDTooLong  = errors.New("sessionId is too long")
	ErrInvalidSampleRate = errors.New("sampleRate out of range")
	ErrUnknownEncoding   = errors.New("unsupported audio encoding")
	ErrInvalidEvent      = errors.New("invalid event")
)

var knownEncodings = map[string]bool{
	"":         true,
	"linear16": true,
	"pcm":      true,
	"opus":     true,
	"webm":     true,
	"flac":     true,
	"mulaw":    true,
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// SessionID checks a client-supplied session id.
func (v *Validator) SessionID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrMissingSessionID
	}
	if len(id) > MaxSessionIDLength {
		return ErrSessionIDTooLong
	}
	return nil
}

// AudioFormat checks the optional sample rate and encoding of an audio chunk.
// Zero and empty mean "use the configured default".
func (v *Validator) AudioFormat(sampleRate int, encoding string) error {
	if sampleRate != 0 && (sampleRate < 8000 || sampleRate > 48000) {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}
	if !knownEncodings[strings.ToLower(encoding)] {
		return fmt.Errorf("%w: %s", ErrUnknownEncoding, encoding)
	}
	return nil
}

// Validate checks an outbound event before it is published.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptEvent:
		if err := v.SessionID(ev.SessionID); err != nil {
			return err
		}
		if strings.TrimSpace(ev.Text) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidEvent)
		}
		return confidence(ev.Confidence)
	case models.TranscriptChunk:
		if strings.TrimSpace(ev.Text) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidEvent)
		}
		return confidence(ev.Confidence)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
}

func confidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidEvent, c)
	}
	return nil
}
