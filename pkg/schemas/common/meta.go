package common

import (
	"time"

	"github.com/google/uuid"
)

type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting user or service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name, e.g. instant_message
	Type string `json:"type"`
}

// NewMeta stamps a fresh event id. An empty producer is omitted.
func NewMeta(eventType, producer string, now time.Time) Meta {
	m := Meta{
		ID:   uuid.NewString(),
		Time: now.UTC(),
		Type: eventType,
	}
	if producer != "" {
		m.Producer = &producer
	}
	return m
}

func (m Meta) ProducerID() string {
	if m.Producer == nil {
		return ""
	}
	return *m.Producer
}
