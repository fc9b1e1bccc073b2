// Package mock provides a mock STT adapter for development without provider
// credentials. Each audio frame yields the next interim transcript of a canned
// utterance; once the interims run out the next frame yields the final.
package mock

import (
	"context"
	"sync"
	"time"

	"speech-coach-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances are practice-pitch phrases cycled across sessions.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"thanks for", "thanks for taking", "thanks for taking the time"},
		Final:      "Thanks for taking the time to meet with me today.",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"our product", "our product helps", "our product helps teams"},
		Final:      "Our product helps teams close deals faster.",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"what are", "what are your", "what are your biggest"},
		Final:      "What are your biggest challenges right now?",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"we saw", "we saw a thirty", "we saw a thirty percent"},
		Final:      "We saw a thirty percent lift in the first quarter.",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"does that"},
		Final:      "Does that sound like a fit?",
		Confidence: 0.97,
	},
}

const partialConfidence = 0.6

// Adapter implements stt.Adapter with canned responses.
type Adapter struct {
	cb           stt.Callback
	mu           sync.Mutex
	utterance    SimulatedUtterance
	partialIndex int
	finalSent    bool
	closed       bool
	delay        time.Duration
}

var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a new mock STT adapter.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return &Adapter{
		utterance: DefaultUtterances[idx],
		delay:     50 * time.Millisecond,
	}
}

// NewFactory returns an stt.Factory producing mock adapters.
func NewFactory() stt.Factory {
	return func(stt.StreamOptions) (stt.Adapter, error) {
		return New(), nil
	}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio emits the next interim, or the final once interims are exhausted.
// After the final the utterance starts over so long sessions keep producing text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}

	if a.partialIndex < len(a.utterance.Partials) {
		text := a.utterance.Partials[a.partialIndex]
		a.partialIndex++
		a.deliver(func(cb stt.Callback) { cb.OnPartial(text, partialConfidence) })
		return nil
	}

	utt := a.utterance
	a.finalSent = true
	a.partialIndex = 0
	a.deliver(func(cb stt.Callback) { cb.OnFinal(utt.Final, utt.Confidence) })
	return nil
}

// deliver runs fn against the callback after the simulated processing delay.
// Callers hold a.mu.
func (a *Adapter) deliver(fn func(stt.Callback)) {
	delay := a.delay
	go func() {
		time.Sleep(delay)
		a.mu.Lock()
		cb, closed := a.cb, a.closed
		a.mu.Unlock()
		if !closed && cb != nil {
			fn(cb)
		}
	}()
}

// Close ends the mock session. Nothing is delivered afterwards.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
