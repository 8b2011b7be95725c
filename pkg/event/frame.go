package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type names on the wire.
const (
	FrameChunk = "chunk"
	FrameEnd   = "end"
	FrameError = "error"
)

var (
	// ErrUnknownFrame is returned when a frame's type is not one of
	// chunk, end or error.
	ErrUnknownFrame = errors.New("unknown frame type")

	// ErrUnknownKind is returned when encoding an Event with no Kind.
	ErrUnknownKind = errors.New("unknown event kind")
)

type chunkFrame struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
}

type endFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	FullResponse   string `json:"fullResponse"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// wireFrame is the union of all frame fields, used when decoding.
type wireFrame struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	FullResponse   string `json:"fullResponse"`
	Error          string `json:"error"`
	Code           string `json:"code"`
}

// Encode serializes e as a single-line JSON frame payload.
func Encode(e Event) ([]byte, error) {
	var v any
	switch e.Kind {
	case KindDelta:
		v = chunkFrame{Type: FrameChunk, Content: e.Text, ConversationID: e.ConversationID}
	case KindComplete:
		v = endFrame{Type: FrameEnd, ConversationID: e.ConversationID, FullResponse: e.FullText}
	case KindFailure:
		v = errorFrame{Type: FrameError, Error: e.Message, Code: e.Code}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, e.Kind)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", e.Kind, err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a frame payload produced by Encode.
func Decode(payload []byte) (Event, error) {
	var f wireFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Event{}, fmt.Errorf("decoding frame: %w", err)
	}

	switch f.Type {
	case FrameChunk:
		return Event{Kind: KindDelta, Text: f.Content, ConversationID: f.ConversationID}, nil
	case FrameEnd:
		return Complete(f.ConversationID, f.FullResponse), nil
	case FrameError:
		return Failure(f.Code, f.Error), nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}
