// Package session holds per-conversation chat history for the relay.
package session

import (
	"context"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the history of one conversation.
type Session struct {
	ID        string    `json:"conversationId"`
	UserID    string    `json:"userId"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store defines how sessions are kept. Implementations must be safe for
// concurrent use and must return copies, never shared Session values.
type Store interface {
	// Create stores a new empty session. Creating an id that already exists
	// returns the existing session unchanged.
	Create(ctx context.Context, id, userID string) (*Session, error)

	// Get returns the session for id or a NotFoundError.
	Get(ctx context.Context, id string) (*Session, error)

	// Append adds msg to the session for id. It returns false without
	// error when the session does not exist.
	Append(ctx context.Context, id string, msg Message) (bool, error)

	// Rename moves the session stored under oldID to newID. It returns
	// false without error when oldID does not exist or newID is taken.
	Rename(ctx context.Context, oldID, newID string) (bool, error)

	// Sweep removes sessions created before cutoff and returns how many
	// were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	// Len returns the number of stored sessions.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// NotFoundError is returned when a session does not exist.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "conversation not found"
	}
	return "conversation not found: " + e.ID
}
