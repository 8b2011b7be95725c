package upstream

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/papercomputeco/relay/pkg/event"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/utils"
)

// Reasons a line is dropped by the Normalizer.
const (
	DropNoPrefix  = "no_prefix"
	DropMalformed = "malformed"
	DropIgnored   = "ignored_kind"
	DropEmpty     = "empty_answer"
)

// DefaultFailureMessage is used when an error payload carries no message.
const DefaultFailureMessage = "upstream reported an error"

// lenientString decodes a JSON string and silently ignores any other JSON
// type, so an unexpected field type does not discard the whole payload.
type lenientString string

func (s *lenientString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	if str, ok := v.(string); ok {
		*s = lenientString(str)
	}
	return nil
}

// lenientInt decodes a JSON number or numeric string and ignores anything
// else, like lenientString.
type lenientInt int

func (n *lenientInt) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case float64:
		*n = lenientInt(x)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			*n = lenientInt(i)
		}
	}
	return nil
}

type answerHolder struct {
	Answer  lenientString `json:"answer"`
	Outputs *struct {
		Answer lenientString `json:"answer"`
	} `json:"outputs"`
}

// payload is the subset of an upstream event the relay reads.
type payload struct {
	Event          lenientString `json:"event"`
	Answer         lenientString `json:"answer"`
	ConversationID lenientString `json:"conversation_id"`
	Message        lenientString `json:"message"`
	Code           lenientString `json:"code"`
	Status         lenientInt    `json:"status"`
	Data           *answerHolder `json:"data"`
	Output         *answerHolder `json:"output"`
}

// answer returns the first non-empty answer among the top level field,
// data.answer and output.answer.
func (p *payload) answer() string {
	if p.Answer != "" {
		return string(p.Answer)
	}
	if p.Data != nil && p.Data.Answer != "" {
		return string(p.Data.Answer)
	}
	if p.Output != nil && p.Output.Answer != "" {
		return string(p.Output.Answer)
	}
	return ""
}

// finalAnswer returns the workflow output answer of a finished workflow.
func (p *payload) finalAnswer() string {
	if p.Data != nil && p.Data.Outputs != nil {
		return string(p.Data.Outputs.Answer)
	}
	return ""
}

// Normalizer maps upstream lines to canonical events. It is stateless and
// safe for concurrent use.
type Normalizer struct {
	content map[Kind]struct{}
	logger  *slog.Logger

	// dropped, when set, is called with the reason for every line that
	// produces no event.
	dropped func(reason string)
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithContentKinds replaces the kinds treated as content.
func WithContentKinds(kinds ...Kind) NormalizerOption {
	return func(n *Normalizer) {
		n.content = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			n.content[k] = struct{}{}
		}
	}
}

// WithDropObserver registers fn to observe dropped lines.
func WithDropObserver(fn func(reason string)) NormalizerOption {
	return func(n *Normalizer) {
		n.dropped = fn
	}
}

// NewNormalizer returns a Normalizer using DefaultContentKinds unless
// overridden.
func NewNormalizer(logger *slog.Logger, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{logger: logger}
	WithContentKinds(DefaultContentKinds()...)(n)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Role classifies k under this Normalizer's content kinds.
func (n *Normalizer) Role(k Kind) Role {
	switch k {
	case KindMessageEnd, KindWorkflowFinished:
		return RoleCompletion
	case KindError:
		return RoleFailure
	}
	if _, ok := n.content[k]; ok {
		return RoleContent
	}
	return RoleIgnored
}

// Normalize maps one upstream line to at most one canonical event. Lines
// without the "data: " prefix, malformed JSON, ignored kinds and content
// payloads with an empty answer yield false.
func (n *Normalizer) Normalize(line string) (event.Event, bool) {
	raw, ok := sse.Payload(line)
	if !ok {
		if strings.TrimSpace(line) != "" {
			n.drop(DropNoPrefix)
		}
		return event.Event{}, false
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		n.logger.Warn("dropping malformed upstream line",
			"error", err,
			"line", utils.Truncate(raw, 120),
		)
		n.drop(DropMalformed)
		return event.Event{}, false
	}

	kind := Kind(p.Event)
	switch n.Role(kind) {
	case RoleContent:
		text := p.answer()
		if text == "" {
			n.drop(DropEmpty)
			return event.Event{}, false
		}
		return event.Delta(text), true

	case RoleCompletion:
		return event.Complete(string(p.ConversationID), p.finalAnswer()), true

	case RoleFailure:
		msg := string(p.Message)
		if msg == "" {
			msg = DefaultFailureMessage
		}
		n.logger.Warn("upstream reported an error",
			"message", msg,
			"code", string(p.Code),
			"status", int(p.Status),
		)
		return event.Failure(event.CodeUpstreamError, msg), true

	default:
		n.logger.Debug("ignoring upstream event", "event", string(kind))
		n.drop(DropIgnored)
		return event.Event{}, false
	}
}

func (n *Normalizer) drop(reason string) {
	if n.dropped != nil {
		n.dropped(reason)
	}
}
