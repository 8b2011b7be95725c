package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/relay/pkg/event"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/relay/worker"
)

// exchange is one request and its streamed answer.
type exchange struct {
	query     string
	userID    string
	startedAt time.Time
	transport *Transport
	logger    *slog.Logger
}

// stream pumps upstream lines through the normalizer to the client until a
// terminal event is delivered, the upstream ends, or the client goes away.
// Reading stops at the terminal event and the upstream is closed.
func (r *Relay) stream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, pw *io.PipeWriter, ex *exchange) {
	defer cancel()
	defer body.Close()
	defer pw.Close()

	lines := sse.NewLineReader(body)
	for !ex.transport.Done() {
		line, err := lines.Next()
		if err != nil {
			r.failStream(ctx, ex, err)
			break
		}

		ev, ok := r.normalizer.Normalize(line)
		if !ok {
			continue
		}

		if err := ex.transport.Deliver(ctx, ev); err != nil {
			ex.logger.Info("client went away, closing upstream stream",
				"error", err,
				"deltas", ex.transport.Deltas(),
			)
			r.metrics.RecordExchange(metrics.OutcomeClientClosed, "", r.elapsed(ex.startedAt))
			return
		}
		if ev.Kind == event.KindDelta {
			r.metrics.RecordDelta()
		}
	}

	r.finish(ex)
}

// failStream ends an exchange whose upstream stopped before a terminal
// event.
func (r *Relay) failStream(ctx context.Context, ex *exchange, err error) {
	code, message := event.CodeStreamInterrupted, "error in upstream response stream"
	if errors.Is(err, io.EOF) {
		code, message = event.CodeStreamIncomplete, "upstream stream ended before the answer completed"
		ex.logger.Warn("upstream stream ended without a terminal event", "deltas", ex.transport.Deltas())
	} else {
		ex.logger.Error("error reading upstream stream", "error", err)
	}

	// The client may already be gone; there is nobody left to tell.
	_ = ex.transport.Fail(ctx, code, message)
}

// rejectExchange answers with a single Failure frame when the upstream
// stream could not be opened.
func (r *Relay) rejectExchange(c *fiber.Ctx, ex *exchange, conversationID string, err error) error {
	code, message := classifyOpenError(err, r.config.Upstream.ConnectTimeout)
	ex.logger.Error("upstream request failed", "code", code, "error", err)

	var buf bytes.Buffer
	ex.transport = NewTransport(&buf, r.store, conversationID, ex.logger)
	if ferr := ex.transport.Fail(c.UserContext(), code, message); ferr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
	}
	r.finish(ex)

	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}

// classifyOpenError maps an error from opening the upstream stream to a
// failure code and message.
func classifyOpenError(err error, timeout time.Duration) (string, string) {
	if timeout <= 0 {
		timeout = upstream.DefaultConnectTimeout
	}

	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr):
		return event.CodeUpstreamStatus, statusErr.Error()
	case errors.Is(err, upstream.ErrTimeout):
		return event.CodeUpstreamTimeout, fmt.Sprintf("upstream did not respond within %s", timeout)
	default:
		return event.CodeUpstreamUnreachable, "could not connect to upstream"
	}
}

// finish records the outcome of an exchange that reached a terminal event
// and publishes completed exchanges.
func (r *Relay) finish(ex *exchange) {
	terminal := ex.transport.Terminal()
	if terminal == nil {
		return
	}
	duration := r.elapsed(ex.startedAt)

	if terminal.Kind == event.KindFailure {
		r.metrics.RecordExchange(metrics.OutcomeFailed, terminal.Code, duration)
		ex.logger.Info("exchange failed",
			"code", terminal.Code,
			"message", terminal.Message,
			"deltas", ex.transport.Deltas(),
			"duration", duration,
		)
		return
	}

	r.metrics.RecordExchange(metrics.OutcomeComplete, "", duration)
	ex.logger.Info("exchange complete",
		"conversation_id", terminal.ConversationID,
		"deltas", ex.transport.Deltas(),
		"duration", duration,
	)

	completedAt := r.now()
	r.workerPool.Enqueue(worker.Job{
		Event: eventstream.NewExchangeCompletedEvent(
			terminal.ConversationID,
			ex.userID,
			ex.query,
			terminal.FullText,
			eventstream.ExchangeMeta{
				Upstream:    r.config.Upstream.URL,
				Workflow:    r.upstream.IsWorkflow(),
				StartedAt:   ex.startedAt,
				CompletedAt: completedAt,
				DurationMs:  completedAt.Sub(ex.startedAt).Milliseconds(),
				DeltaCount:  ex.transport.Deltas(),
			},
		),
	})
}
