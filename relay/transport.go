package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/papercomputeco/relay/pkg/event"
	"github.com/papercomputeco/relay/pkg/session"
	"github.com/papercomputeco/relay/pkg/sse"
)

// Transport delivers the canonical events of one exchange to one client and
// keeps the conversation's session in step with what was delivered.
//
// Every Delta is written as a chunk frame and appended to the accumulated
// answer. A Complete records the accumulated answer as the assistant message
// and is written as an end frame carrying the full answer. The first
// Complete or Failure closes the Transport; later events are discarded.
type Transport struct {
	w      io.Writer
	store  session.Store
	logger *slog.Logger

	conversationID string
	full           strings.Builder
	deltas         int
	terminal       *event.Event
}

// NewTransport returns a Transport writing frames to w for conversationID.
func NewTransport(w io.Writer, store session.Store, conversationID string, logger *slog.Logger) *Transport {
	return &Transport{
		w:              w,
		store:          store,
		logger:         logger,
		conversationID: conversationID,
	}
}

// Deliver writes ev to the client. An error means the client can no longer
// be written to and the exchange should be abandoned.
func (t *Transport) Deliver(ctx context.Context, ev event.Event) error {
	if t.terminal != nil {
		t.logger.Debug("discarding event after terminal event", "kind", ev.Kind.String())
		return nil
	}

	switch ev.Kind {
	case event.KindDelta:
		t.full.WriteString(ev.Text)
		t.deltas++
		ev.ConversationID = t.conversationID
		return t.write(ev)

	case event.KindComplete:
		return t.complete(ctx, ev)

	case event.KindFailure:
		t.terminal = &ev
		return t.write(ev)

	default:
		return fmt.Errorf("%w: %d", event.ErrUnknownKind, ev.Kind)
	}
}

// Fail delivers a Failure unless the exchange already ended.
func (t *Transport) Fail(ctx context.Context, code, message string) error {
	return t.Deliver(ctx, event.Failure(code, message))
}

func (t *Transport) complete(ctx context.Context, ev event.Event) error {
	if id := ev.ConversationID; id != "" && id != t.conversationID {
		renamed, err := t.store.Rename(ctx, t.conversationID, id)
		if err != nil {
			t.logger.Warn("could not rekey session",
				"from", t.conversationID,
				"to", id,
				"error", err,
			)
		} else if renamed {
			t.logger.Debug("session rekeyed to upstream conversation id",
				"from", t.conversationID,
				"to", id,
			)
		}
		t.conversationID = id
	}

	full := t.full.String()
	if full == "" && ev.FullText != "" {
		full = ev.FullText
		t.full.WriteString(full)
	}

	appended, err := t.store.Append(ctx, t.conversationID, session.Message{
		Role:    session.RoleAssistant,
		Content: full,
	})
	if err != nil {
		t.logger.Warn("could not record assistant message",
			"conversation_id", t.conversationID,
			"error", err,
		)
	} else if !appended {
		t.logger.Debug("no session for conversation, assistant message not recorded",
			"conversation_id", t.conversationID,
		)
	}

	out := event.Complete(t.conversationID, full)
	t.terminal = &out
	return t.write(out)
}

func (t *Transport) write(ev event.Event) error {
	payload, err := event.Encode(ev)
	if err != nil {
		return err
	}
	if err := sse.WriteData(t.w, payload); err != nil {
		return fmt.Errorf("writing %s frame: %w", ev.Kind, err)
	}
	return nil
}

// Done reports whether a terminal event has been delivered.
func (t *Transport) Done() bool {
	return t.terminal != nil
}

// Terminal returns the terminal event, or nil while the exchange is open.
func (t *Transport) Terminal() *event.Event {
	return t.terminal
}

// ConversationID returns the current, possibly rekeyed, conversation id.
func (t *Transport) ConversationID() string {
	return t.conversationID
}

// Text returns the answer accumulated so far.
func (t *Transport) Text() string {
	return t.full.String()
}

// Deltas returns how many deltas were delivered.
func (t *Transport) Deltas() int {
	return t.deltas
}
