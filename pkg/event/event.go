// Package event defines the canonical events exchanged between the relay and
// its clients, and their JSON wire frames.
package event

// Kind discriminates the three canonical events.
type Kind int

const (
	// KindDelta carries a fragment of answer text.
	KindDelta Kind = iota + 1

	// KindComplete marks the successful end of an exchange.
	KindComplete

	// KindFailure marks the unsuccessful end of an exchange.
	KindFailure
)

// String returns the frame type name for k.
func (k Kind) String() string {
	switch k {
	case KindDelta:
		return FrameChunk
	case KindComplete:
		return FrameEnd
	case KindFailure:
		return FrameError
	default:
		return "unknown"
	}
}

// Failure codes carried on Failure events produced by the relay.
const (
	CodeUpstreamUnreachable = "upstream_unreachable"
	CodeUpstreamStatus      = "upstream_status"
	CodeUpstreamTimeout     = "upstream_timeout"
	CodeUpstreamError       = "upstream_error"
	CodeStreamInterrupted   = "stream_interrupted"
	CodeStreamIncomplete    = "stream_incomplete"
)

// Event is a canonical, provider-independent stream event. Only the fields
// relevant to Kind are meaningful.
type Event struct {
	Kind Kind

	// Text is the answer fragment of a Delta.
	Text string

	// ConversationID is the conversation a Delta belongs to, or the
	// authoritative id reported by a Complete. Empty on a Complete means
	// the id did not change.
	ConversationID string

	// FullText is the accumulated answer carried by a Complete.
	FullText string

	// Message is the human-readable description of a Failure.
	Message string

	// Code optionally classifies a Failure.
	Code string
}

// Delta returns a Delta event for text.
func Delta(text string) Event {
	return Event{Kind: KindDelta, Text: text}
}

// Complete returns a Complete event.
func Complete(conversationID, fullText string) Event {
	return Event{Kind: KindComplete, ConversationID: conversationID, FullText: fullText}
}

// Failure returns a Failure event.
func Failure(code, message string) Event {
	return Event{Kind: KindFailure, Code: code, Message: message}
}

// Terminal reports whether e ends an exchange.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindFailure
}
