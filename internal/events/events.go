// Package events carries verdict notifications between the workflow and the
// actor risk scorer, either over Kafka or in process.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/workflow"
)

// VerdictMessage is the JSON body published on the verdict topic.
type VerdictMessage struct {
	Type       string            `json:"type"`
	ClaimID    string            `json:"claim_id"`
	VerdictID  string            `json:"verdict_id,omitempty"`
	Conclusion models.Conclusion `json:"conclusion,omitempty"`
	Revision   int               `json:"revision,omitempty"`
	At         time.Time         `json:"at"`
}

// FromEvent converts a workflow event to its wire form.
func FromEvent(ev workflow.Event) VerdictMessage {
	return VerdictMessage{
		Type:       string(ev.Type),
		ClaimID:    ev.ClaimID,
		VerdictID:  ev.VerdictID,
		Conclusion: ev.Conclusion,
		Revision:   ev.Revision,
		At:         ev.At.UTC(),
	}
}

// Event converts the wire form back to a workflow event.
func (m VerdictMessage) Event() workflow.Event {
	return workflow.Event{
		Type:       workflow.EventType(m.Type),
		ClaimID:    m.ClaimID,
		VerdictID:  m.VerdictID,
		Conclusion: m.Conclusion,
		Revision:   m.Revision,
		At:         m.At,
	}
}

// Encode builds the Kafka message for ev, keyed by claim id so every event of
// a claim lands on the same partition in order.
func Encode(ev workflow.Event) (kafka.Message, error) {
	body, err := json.Marshal(FromEvent(ev))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode verdict event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.ClaimID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
		Time: ev.At,
	}, nil
}

// Decode parses a verdict topic message.
func Decode(msg kafka.Message) (workflow.Event, error) {
	var m VerdictMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return workflow.Event{}, faults.Invalid("verdict_event", err.Error())
	}
	m.ClaimID = strings.TrimSpace(m.ClaimID)
	if m.ClaimID == "" {
		return workflow.Event{}, faults.Invalid("claim_id", "required")
	}
	switch workflow.EventType(m.Type) {
	case workflow.EventPublished, workflow.EventRetracted:
	default:
		return workflow.Event{}, faults.Invalid("type", fmt.Sprintf("unknown event type %q", m.Type))
	}
	return m.Event(), nil
}

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher sends verdict events to Kafka. It implements workflow.Notifier.
type Publisher struct {
	w   MessageWriter
	log *slog.Logger
}

var _ workflow.Notifier = (*Publisher)(nil)

// NewPublisher wraps a writer bound to the verdict topic.
func NewPublisher(w MessageWriter, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{w: w, log: log}
}

// NewKafkaWriter creates a writer for topic with hash partitioning on the key.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
}

// Notify publishes ev.
func (p *Publisher) Notify(ctx context.Context, ev workflow.Event) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish verdict event: %w", err)
	}
	p.log.Debug("verdict event published",
		slog.String("claim_id", ev.ClaimID),
		slog.String("type", string(ev.Type)),
	)
	return nil
}

// Recomputer is the risk scorer entry point used on every verdict event.
type Recomputer interface {
	RecomputeForClaim(ctx context.Context, claimID string) (map[string]models.RiskProfile, error)
}

// Rescorer recomputes the risk of every actor linked to the claim of an
// event. It serves as an in-process notifier and as the Kafka consumer handler.
type Rescorer struct {
	scorer Recomputer
	log    *slog.Logger
}

var _ workflow.Notifier = (*Rescorer)(nil)

// NewRescorer creates a Rescorer.
func NewRescorer(scorer Recomputer, log *slog.Logger) *Rescorer {
	if log == nil {
		log = slog.Default()
	}
	return &Rescorer{scorer: scorer, log: log}
}

// Notify recomputes linked actors.
func (r *Rescorer) Notify(ctx context.Context, ev workflow.Event) error {
	profiles, err := r.scorer.RecomputeForClaim(ctx, ev.ClaimID)
	if err != nil {
		return fmt.Errorf("rescore actors of %s: %w", ev.ClaimID, err)
	}
	for actorID, p := range profiles {
		r.log.Info("actor rescored",
			slog.String("actor_id", actorID),
			slog.String("claim_id", ev.ClaimID),
			slog.Int("score", p.Score),
			slog.String("tier", string(p.Tier)),
		)
	}
	return nil
}

// Handle decodes msg and rescores.
func (r *Rescorer) Handle(ctx context.Context, msg kafka.Message) error {
	ev, err := Decode(msg)
	if err != nil {
		return err
	}
	return r.Notify(ctx, ev)
}
