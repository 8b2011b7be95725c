// Package stream consumes the relay's frame stream on the client side,
// re-rendering the cumulative answer after every delta.
package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/papercomputeco/relay/pkg/event"
	"github.com/papercomputeco/relay/pkg/sse"
)

const (
	// MessageNoResponse is reported when the stream ended before any frame.
	MessageNoResponse = "no response received from server"

	// MessageIncomplete is reported when the stream ended after some text
	// but without a terminal frame.
	MessageIncomplete = "connection closed before the answer completed"
)

// Renderer turns the cumulative answer text into display markup.
type Renderer interface {
	Render(text string) string
}

// Sink receives the consumer's output. Render replaces whatever was
// previously displayed for the answer. Exactly one of Complete or Fail is
// called per stream.
type Sink interface {
	Render(markup string)
	Complete(conversationID, text string)
	Fail(message string)
}

// Outcome describes how a stream ended.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeComplete
	OutcomeFailed
)

// Result summarizes a consumed stream.
type Result struct {
	Outcome        Outcome
	ConversationID string
	Text           string
	Error          string
	Deltas         int
}

// Consumer applies frames to a cumulative RenderState.
type Consumer struct {
	renderer Renderer
	sink     Sink
	logger   *slog.Logger

	decoder  *sse.Decoder
	text     strings.Builder
	received bool
	result   Result
}

// NewConsumer returns a Consumer that renders with renderer and reports to
// sink.
func NewConsumer(renderer Renderer, sink Sink, logger *slog.Logger) *Consumer {
	return &Consumer{
		renderer: renderer,
		sink:     sink,
		logger:   logger,
		decoder:  sse.NewDecoder(),
	}
}

// Feed processes one chunk of the byte stream.
func (c *Consumer) Feed(chunk []byte) {
	for _, line := range c.decoder.Decode(chunk) {
		c.handleLine(line)
	}
}

// Close signals end of stream and returns the final Result. If no terminal
// frame arrived the stream is reported as failed.
func (c *Consumer) Close() Result {
	for _, line := range c.decoder.Flush() {
		c.handleLine(line)
	}

	if c.result.Outcome == OutcomePending {
		if c.received {
			c.fail(MessageIncomplete)
		} else {
			c.fail(MessageNoResponse)
		}
	}
	return c.result
}

// Consume reads r until it is exhausted or fails and returns the final
// Result. A read error other than io.EOF is reported to the sink as a
// failure unless a terminal frame already arrived.
func (c *Consumer) Consume(r io.Reader) Result {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.Feed(buf[:n])
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return c.Close()
			}
			if c.result.Outcome == OutcomePending {
				c.logger.Debug("stream read failed", "error", err)
				c.fail(fmt.Sprintf("error reading response: %v", err))
			}
			return c.result
		}
	}
}

// Text returns the cumulative answer received so far.
func (c *Consumer) Text() string {
	return c.text.String()
}

func (c *Consumer) handleLine(line string) {
	if c.result.Outcome != OutcomePending {
		return
	}
	if strings.TrimSpace(line) == "" {
		return
	}

	payload, ok := sse.Payload(line)
	if !ok {
		return
	}

	ev, err := event.Decode([]byte(payload))
	if err != nil {
		c.logger.Warn("dropping undecodable frame", "error", err)
		return
	}
	c.received = true

	switch ev.Kind {
	case event.KindDelta:
		c.text.WriteString(ev.Text)
		c.result.Deltas++
		if ev.ConversationID != "" {
			c.result.ConversationID = ev.ConversationID
		}
		c.sink.Render(c.renderer.Render(c.text.String()))

	case event.KindComplete:
		if ev.ConversationID != "" {
			c.result.ConversationID = ev.ConversationID
		}
		if c.text.Len() == 0 && ev.FullText != "" {
			c.text.WriteString(ev.FullText)
			c.sink.Render(c.renderer.Render(ev.FullText))
		}
		c.result.Outcome = OutcomeComplete
		c.result.Text = c.text.String()
		c.sink.Complete(c.result.ConversationID, c.result.Text)

	case event.KindFailure:
		c.fail(ev.Message)
	}
}

func (c *Consumer) fail(message string) {
	c.result.Outcome = OutcomeFailed
	c.result.Text = c.text.String()
	c.result.Error = message
	c.sink.Fail(message)
}
