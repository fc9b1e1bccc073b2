// Package events publishes transcript events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/metrics"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// route is one destination topic and its writer. The writer is nil in
// log-only mode.
type route struct {
	kind   string
	topic  string
	writer *kafka.Writer
}

// Publisher sends interim and final transcripts to separate topics, keyed by
// session id so one session's events stay ordered on one partition. With
// Kafka disabled it only logs.
type Publisher struct {
	partial   route
	final     route
	principal string
	enabled   bool
	metrics   *metrics.Metrics
}

// New creates a publisher. A nil config, Enabled=false or an empty broker list
// all select log-only mode.
func New(cfg *Config, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Publisher{
		partial:   route{kind: "partial", topic: cfg.TopicPartial},
		final:     route{kind: "final", topic: cfg.TopicFinal},
		principal: cfg.Principal,
		metrics:   m,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, transcript events are only logged")
		return p
	}

	// Longer dial timeout for DNS resolution inside Kubernetes.
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	transport := &kafka.Transport{Dial: dialer.DialFunc}
	p.partial.writer = newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.final.writer = newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Publish routes ev to the partial or final topic and stamps its event type.
func (p *Publisher) Publish(ctx context.Context, ev models.TranscriptEvent) error {
	r := p.partial
	ev.EventType = models.EventTypePartial
	if ev.IsFinal {
		r = p.final
		ev.EventType = models.EventTypeFinal
	}

	start := time.Now()
	msg, err := p.message(ev)
	if err != nil {
		return err
	}
	log.Debug().
		Str("topic", r.topic).
		Str("sessionId", ev.SessionID).
		RawJSON("payload", msg.Value).
		Msg("Publishing transcript event")

	if r.writer == nil {
		p.metrics.RecordKafkaPublish(r.topic, r.kind, nil, time.Since(start).Seconds())
		return nil
	}
	err = r.writer.WriteMessages(ctx, msg)
	p.metrics.RecordKafkaPublish(r.topic, r.kind, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("topic", r.topic).Str("sessionId", ev.SessionID).Msg("Failed to write to Kafka")
		return fmt.Errorf("publish %s transcript: %w", r.kind, err)
	}
	return nil
}

func (p *Publisher) message(ev models.TranscriptEvent) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal transcript event: %w", err)
	}
	headers := []kafka.Header{
		{Key: "eventType", Value: []byte(ev.EventType)},
		{Key: "principal", Value: []byte(p.principal)},
	}
	if ev.OrganizationID != "" {
		headers = append(headers, kafka.Header{Key: "organizationId", Value: []byte(ev.OrganizationID)})
	}
	return kafka.Message{Key: []byte(ev.SessionID), Value: payload, Headers: headers}, nil
}

// Close closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, r := range []route{p.partial, p.final} {
		if r.writer == nil {
			continue
		}
		if err := r.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", r.kind, err))
		}
	}
	return errors.Join(errs...)
}
