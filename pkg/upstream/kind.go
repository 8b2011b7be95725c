// Package upstream talks to a Dify-style chat or workflow endpoint and turns
// its streamed JSON lines into canonical events.
package upstream

import (
	"fmt"
	"strings"
)

// Kind is the value of the "event" field of an upstream payload.
type Kind string

const (
	KindMessage          Kind = "message"
	KindAgentMessage     Kind = "agent_message"
	KindMessageFile      Kind = "message_file"
	KindMessageEnd       Kind = "message_end"
	KindMessageReplace   Kind = "message_replace"
	KindAgentThought     Kind = "agent_thought"
	KindWorkflowStarted  Kind = "workflow_started"
	KindWorkflowFinished Kind = "workflow_finished"
	KindNodeStarted      Kind = "node_started"
	KindNodeFinished     Kind = "node_finished"
	KindTTSMessage       Kind = "tts_message"
	KindTTSMessageEnd    Kind = "tts_message_end"
	KindPing             Kind = "ping"
	KindError            Kind = "error"
)

// Role is what an upstream Kind means to the relay.
type Role int

const (
	// RoleIgnored kinds are dropped without producing an event.
	RoleIgnored Role = iota

	// RoleContent kinds may carry answer text.
	RoleContent

	// RoleCompletion kinds end the exchange successfully.
	RoleCompletion

	// RoleFailure kinds end the exchange unsuccessfully.
	RoleFailure
)

// DefaultContentKinds are the kinds whose answer text is forwarded unless
// configured otherwise.
func DefaultContentKinds() []Kind {
	return []Kind{KindMessage, KindAgentMessage, KindMessageFile}
}

// knownKinds is every kind the relay recognizes.
var knownKinds = map[Kind]struct{}{
	KindMessage:          {},
	KindAgentMessage:     {},
	KindMessageFile:      {},
	KindMessageEnd:       {},
	KindMessageReplace:   {},
	KindAgentThought:     {},
	KindWorkflowStarted:  {},
	KindWorkflowFinished: {},
	KindNodeStarted:      {},
	KindNodeFinished:     {},
	KindTTSMessage:       {},
	KindTTSMessageEnd:    {},
	KindPing:             {},
	KindError:            {},
}

// ParseKinds parses a comma separated list of kinds, such as the
// upstream.content_kinds config value. Completion and failure kinds cannot be
// configured as content.
func ParseKinds(s string) ([]Kind, error) {
	var kinds []Kind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		k := Kind(part)
		if _, ok := knownKinds[k]; !ok {
			return nil, fmt.Errorf("unknown upstream event kind %q", part)
		}
		if k == KindMessageEnd || k == KindWorkflowFinished || k == KindError {
			return nil, fmt.Errorf("event kind %q cannot carry content", part)
		}
		kinds = append(kinds, k)
	}

	if len(kinds) == 0 {
		return nil, fmt.Errorf("no upstream event kinds in %q", s)
	}
	return kinds, nil
}

// FormatKinds joins kinds with commas.
func FormatKinds(kinds []Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}
