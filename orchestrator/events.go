package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Event types published during a run.
const (
	EventRunStarted     = "started"
	EventStateChanged   = "state"
	EventRoundCompleted = "round"
	EventRunCompleted   = "completed"
)

// Event is a progress notification.
type Event struct {
	RunID string    `json:"run_id"`
	Type  string    `json:"type"`
	State string    `json:"state,omitempty"`
	Round int       `json:"round"`
	Count int       `json:"count"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data,omitempty"`
}

// Publisher delivers progress events. Publish failures never stop a run.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// MessagePublisher is the part of *nats.Conn used for events.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to <prefix>.<run_id>.<type>.
type NATSPublisher struct {
	conn   MessagePublisher
	prefix string
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher over conn.
func NewNATSPublisher(conn MessagePublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "desai.run"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, ev.RunID, ev.Type)
}

// Publish sends ev.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// emit publishes and logs failures.
func emit(ctx context.Context, pub Publisher, logger *slog.Logger, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := pub.Publish(ctx, ev); err != nil {
		logger.Warn("Failed to publish event", "type", ev.Type, "run_id", ev.RunID, "error", err)
	}
}
