package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/service/stt"
)

type stubSubmitter struct {
	res   stt.Result
	err   error
	calls int
}

func (s *stubSubmitter) Submit(_ context.Context, _ string, _ []byte, _ string) (stt.Result, error) {
	s.calls++
	return s.res, s.err
}

type stubAnalyzer struct {
	analysis models.Analysis
	err      error
	texts    []string
}

func (a *stubAnalyzer) Analyze(_ context.Context, text string) (models.Analysis, error) {
	a.texts = append(a.texts, text)
	return a.analysis, a.err
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.TranscriptEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev models.TranscriptEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func newTestProcessor(s Submitter, a Analyzer, p Publisher) *Processor {
	proc := NewProcessor(s, a, p, "mock", DefaultLimits(), nil)
	proc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return proc
}

func TestProcessor_InvalidChunk(t *testing.T) {
	sub := &stubSubmitter{}
	proc := newTestProcessor(sub, nil, nil)

	tests := []struct {
		name  string
		chunk Chunk
	}{
		{"nil data", Chunk{SessionID: "S1"}},
		{"empty data", Chunk{SessionID: "S1", Data: []byte{}}},
		{"missing session", Chunk{Data: []byte{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := proc.Process(context.Background(), tt.chunk)
			if !errors.Is(err, ErrInvalidAudioChunk) {
				t.Errorf("expected ErrInvalidAudioChunk, got %v", err)
			}
		})
	}
	if sub.calls != 0 {
		t.Errorf("expected no submits for invalid chunks, got %d", sub.calls)
	}
}

func TestProcessor_OversizeChunkIsOnlyAWarning(t *testing.T) {
	sub := &stubSubmitter{res: stt.Result{Transcript: "hello", Confidence: 0.5}}
	proc := newTestProcessor(sub, nil, nil)

	out, err := proc.Process(context.Background(), Chunk{SessionID: "S1", Data: make([]byte, 20*1024)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Transcript == nil || out.Transcript.Text != "hello" {
		t.Errorf("expected transcript to be produced, got %+v", out.Transcript)
	}
}

func TestProcessor_EmptyResult(t *testing.T) {
	pub := &capturePublisher{}
	proc := newTestProcessor(&stubSubmitter{}, &stubAnalyzer{}, pub)

	out, err := proc.Process(context.Background(), Chunk{SessionID: "S1", Data: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Transcript != nil || out.Feedback != nil {
		t.Errorf("expected empty outcome, got %+v", out)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected nothing published, got %d events", len(pub.events))
	}
}

func TestProcessor_FinalWithFeedback(t *testing.T) {
	sub := &stubSubmitter{res: stt.Result{Transcript: "Hello there.", IsFinal: true, Confidence: 0.9}}
	ana := &stubAnalyzer{analysis: models.Analysis{OverallScore: 80}}
	pub := &capturePublisher{}
	proc := newTestProcessor(sub, ana, pub)

	out, err := proc.Process(context.Background(), Chunk{SessionID: "S1", OrganizationID: "O1", UserID: "U1", Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := models.TranscriptChunk{Text: "Hello there.", Timestamp: time.UnixMilli(1_700_000_000_000), IsFinal: true, Confidence: 0.9}
	if out.Transcript == nil || *out.Transcript != want {
		t.Errorf("transcript = %+v, want %+v", out.Transcript, want)
	}
	if out.Feedback == nil || out.Feedback.OverallScore != 80 {
		t.Errorf("expected feedback with score 80, got %+v", out.Feedback)
	}
	if len(ana.texts) != 1 || ana.texts[0] != "Hello there." {
		t.Errorf("analyzer called with %v", ana.texts)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.SessionID != "S1" || ev.OrganizationID != "O1" || ev.UserID != "U1" || !ev.IsFinal || ev.Provider != "mock" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestProcessor_FeedbackGate(t *testing.T) {
	tests := []struct {
		name string
		res  stt.Result
		want bool
	}{
		{"confident final", stt.Result{Transcript: "Hello there.", IsFinal: true, Confidence: 0.9}, true},
		{"interim", stt.Result{Transcript: "Hello there", Confidence: 0.9}, false},
		{"confidence at threshold", stt.Result{Transcript: "Hello there.", IsFinal: true, Confidence: 0.6}, false},
		{"too short", stt.Result{Transcript: " Hi. ", IsFinal: true, Confidence: 0.9}, false},
		{"just long enough", stt.Result{Transcript: "Yes.", IsFinal: true, Confidence: 0.9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ana := &stubAnalyzer{}
			proc := newTestProcessor(&stubSubmitter{res: tt.res}, ana, nil)
			out, err := proc.Process(context.Background(), Chunk{SessionID: "S1", Data: []byte{1}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := out.Feedback != nil; got != tt.want {
				t.Errorf("feedback produced = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessor_SubmitFailure(t *testing.T) {
	pub := &capturePublisher{}
	proc := newTestProcessor(&stubSubmitter{err: errors.New("provider connection failed")}, &stubAnalyzer{}, pub)

	_, err := proc.Process(context.Background(), Chunk{SessionID: "S1", Data: []byte{1}})
	if !errors.Is(err, ErrProcessingFailure) {
		t.Errorf("expected ErrProcessingFailure, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Error("expected nothing published on failure")
	}
}

func TestProcessor_ScoringFailureSkipsBroadcast(t *testing.T) {
	sub := &stubSubmitter{res: stt.Result{Transcript: "Hello there.", IsFinal: true, Confidence: 0.9}}
	proc := newTestProcessor(sub, &stubAnalyzer{err: errors.New("scoring down")}, nil)

	out, err := proc.Process(context.Background(), Chunk{SessionID: "S1", Data: []byte{1}})
	if !errors.Is(err, ErrProcessingFailure) {
		t.Errorf("expected ErrProcessingFailure, got %v", err)
	}
	if out.Transcript != nil {
		t.Error("expected no transcript in a failed outcome")
	}
}

func TestProcessor_PublishFailureIsNotFatal(t *testing.T) {
	sub := &stubSubmitter{res: stt.Result{Transcript: "hello", Confidence: 0.4}}
	pub := &capturePublisher{err: errors.New("broker unavailable")}
	proc := newTestProcessor(sub, nil, pub)

	out, err := proc.Process(context.Background(), Chunk{SessionID: "S1", Data: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Transcript == nil {
		t.Error("expected transcript despite publish failure")
	}
}
