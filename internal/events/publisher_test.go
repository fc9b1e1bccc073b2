package events

import (
	"context"
	"encoding/json"
	"testing"

	"speech-coach-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, nil)
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.partial.writer != nil || p.final.writer != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_EnabledBuildsWriters(t *testing.T) {
	p := New(&Config{
		Enabled:      true,
		Brokers:      []string{"localhost:9092"},
		TopicPartial: "test.partial",
		TopicFinal:   "test.final",
		Principal:    "coach",
	}, nil)
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if p.partial.writer.Topic != "test.partial" || p.final.writer.Topic != "test.final" {
		t.Errorf("writers bound to wrong topics: %s / %s", p.partial.writer.Topic, p.final.writer.Topic)
	}
	if p.principal != "coach" {
		t.Errorf("expected principal 'coach', got %s", p.principal)
	}
}

func TestPublisher_Publish_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicPartial: "p", TopicFinal: "f"}, nil)

	tests := []struct {
		name string
		ev   models.TranscriptEvent
	}{
		{"interim", models.TranscriptEvent{SessionID: "s1", Text: "hello", Confidence: 0.4}},
		{"final", models.TranscriptEvent{SessionID: "s1", Text: "Hello there.", IsFinal: true, Confidence: 0.9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Publish(context.Background(), tt.ev); err != nil {
				t.Errorf("expected no error when disabled, got %v", err)
			}
		})
	}
}

func TestPublisher_Message(t *testing.T) {
	p := New(&Config{Principal: "coach"}, nil)
	msg, err := p.message(models.TranscriptEvent{
		EventType:      models.EventTypeFinal,
		SessionID:      "s1",
		OrganizationID: "org-1",
		Text:           "Hello there.",
		IsFinal:        true,
	})
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if string(msg.Key) != "s1" {
		t.Errorf("expected session id key, got %q", msg.Key)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	want := map[string]string{"eventType": models.EventTypeFinal, "principal": "coach", "organizationId": "org-1"}
	for k, v := range want {
		if headers[k] != v {
			t.Errorf("header %s: got %q, want %q", k, headers[k], v)
		}
	}

	var decoded models.TranscriptEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.Text != "Hello there." || !decoded.IsFinal {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false}, nil)

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}
