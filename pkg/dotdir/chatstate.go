package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	chatStateFile = "chat.json"
)

// ChatState is the persisted state of the last relay chat session.
type ChatState struct {
	// ConversationID is the conversation the next message continues.
	ConversationID string `json:"conversationId"`

	// RelayTarget is the relay the conversation lives on. A conversation
	// id is meaningless on another relay.
	RelayTarget string `json:"relayTarget"`

	// LastQuestion and LastAnswer are the last exchange, used for follow-up
	// suggestions.
	LastQuestion string `json:"lastQuestion,omitempty"`
	LastAnswer   string `json:"lastAnswer,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// LoadChatState loads the chat state from a target .relay/chat.json.
// Returns nil, nil if no chat state exists.
func (m *Manager) LoadChatState(overrideDir string) (*ChatState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, chatStateFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chat state: %w", err)
	}

	state := &ChatState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing chat state: %w", err)
	}

	return state, nil
}

// SaveChatState persists the chat state to a target .relay/chat.json.
func (m *Manager) SaveChatState(state *ChatState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil chat state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling chat state: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, chatStateFile), data, 0o600); err != nil {
		return fmt.Errorf("writing chat state: %w", err)
	}

	return nil
}

// ClearChatState removes the chat state file so the next chat session starts
// a new conversation. Returns nil if the file doesn't exist.
func (m *Manager) ClearChatState(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, chatStateFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing chat state: %w", err)
	}

	return nil
}
