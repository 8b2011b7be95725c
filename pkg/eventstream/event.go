// Package eventstream publishes completed chat exchanges to an event stream
// backend for downstream consumers.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeExchangeCompleted is emitted after an exchange reached its
	// Complete event.
	EventTypeExchangeCompleted = "relay.exchange.completed"
)

// ExchangeCompletedEvent is a transport-neutral event payload for one
// finished question and answer.
type ExchangeCompletedEvent struct {
	SchemaVersion  int          `json:"schema_version"`
	EventType      string       `json:"event_type"`
	EventID        string       `json:"event_id"`
	EmittedAt      time.Time    `json:"emitted_at"`
	ConversationID string       `json:"conversation_id"`
	UserID         string       `json:"user_id"`
	Query          string       `json:"query"`
	Answer         string       `json:"answer"`
	RequestMeta    ExchangeMeta `json:"request_meta"`
}

// ExchangeMeta captures request lifecycle metadata for the event.
type ExchangeMeta struct {
	Upstream    string    `json:"upstream"`
	Workflow    bool      `json:"workflow"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	DeltaCount  int       `json:"delta_count"`
}

// NewExchangeCompletedEvent stamps a new event with a fresh id.
func NewExchangeCompletedEvent(conversationID, userID, query, answer string, meta ExchangeMeta) *ExchangeCompletedEvent {
	if meta.DurationMs == 0 && !meta.CompletedAt.IsZero() {
		meta.DurationMs = meta.CompletedAt.Sub(meta.StartedAt).Milliseconds()
	}

	return &ExchangeCompletedEvent{
		SchemaVersion:  SchemaVersionV1,
		EventType:      EventTypeExchangeCompleted,
		EventID:        uuid.NewString(),
		EmittedAt:      time.Now().UTC(),
		ConversationID: conversationID,
		UserID:         userID,
		Query:          query,
		Answer:         answer,
		RequestMeta:    meta,
	}
}
