// Package events publishes consultation domain events to other services.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	ConsultationCreated       = "consultation.created"
	ConsultationStatusChanged = "consultation.status_changed"
	MessageCreated            = "message.created"
)

// Event is the envelope published on the broker.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// Publisher delivers events. Publishing happens after the state change is
// persisted, so a failure here never rolls anything back.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
	Close() error
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, eventType string, payload any) error { return nil }
func (NopPublisher) Close() error                                                   { return nil }
