// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by providers that lack credentials.
var ErrNotConfigured = errors.New("stt provider not configured")

// ErrStreamClosed is reported through Callback.OnError when the provider ends
// the stream before the adapter was closed.
var ErrStreamClosed = errors.New("stt stream closed by provider")

// Callback receives transcript results from the STT provider.
type Callback interface {
	// OnPartial is called when an interim transcript is received.
	OnPartial(text string, confidence float64)

	// OnFinal is called when a final transcript is received.
	OnFinal(text string, confidence float64)

	// OnError is called when the stream fails. No further results follow.
	OnError(err error)
}

// Adapter defines the interface for live STT providers (Deepgram, Google, mock).
type Adapter interface {
	// Start opens the streaming session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}

// StreamOptions are the recognition parameters for one live stream.
type StreamOptions struct {
	SessionID      string
	Language       string
	SampleRateHz   int
	Encoding       string
	InterimResults bool
	Punctuate      bool
	SmartFormat    bool
	EndpointingMs  int
	VADEvents      bool
	UtteranceEndMs int
}

// DefaultStreamOptions returns the fixed recognition parameters used for every
// coaching session.
func DefaultStreamOptions(language string) StreamOptions {
	if language == "" {
		language = "en"
	}
	return StreamOptions{
		Language:       language,
		SampleRateHz:   16000,
		Encoding:       "linear16",
		InterimResults: true,
		Punctuate:      true,
		SmartFormat:    true,
		EndpointingMs:  500,
		VADEvents:      true,
	}
}

// Factory creates an unstarted adapter for one session.
type Factory func(opts StreamOptions) (Adapter, error)

// Result is a single transcription result.
type Result struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// Empty reports whether the result carries no text.
func (r Result) Empty() bool {
	return r.Transcript == ""
}

// Transcriber performs single-shot, non-streaming transcription of raw PCM.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRateHz int, language string) (Result, error)
}
