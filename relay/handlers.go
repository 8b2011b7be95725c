package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/papercomputeco/relay/pkg/session"
	"github.com/papercomputeco/relay/pkg/upstream"
)

// isoMillis matches the millisecond precision timestamps browsers produce.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// userIDPrefix prefixes generated user ids.
const userIDPrefix = "web-user-"

func (r *Relay) handleHealth(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "OK",
		Timestamp: r.now().UTC().Format(isoMillis),
		Version:   r.config.Version,
	})
}

func (r *Relay) handleConversation(c *fiber.Ctx) error {
	id := c.Params("conversationId")

	sess, err := r.store.Get(c.UserContext(), id)
	if err != nil {
		var notFound session.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		r.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
	}

	messages := make([]MessageRecord, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		messages = append(messages, MessageRecord{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(isoMillis),
		})
	}

	return c.JSON(ConversationResponse{
		ConversationID: sess.ID,
		Messages:       messages,
		CreatedAt:      sess.CreatedAt.UTC().Format(isoMillis),
	})
}

// handleChat validates the request, records the user message, and streams
// the upstream answer back as event frames.
func (r *Relay) handleChat(c *fiber.Ctx) error {
	startTime := r.now()

	var req ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	req.normalize()
	if err := r.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: validationMessage(err)})
	}

	// Use context.Background() instead of c.Context() because fasthttp
	// recycles its RequestCtx after the handler returns, but the stream runs
	// asynchronously in a separate goroutine.
	ctx := context.Background()

	userID := req.UserID
	if userID == "" {
		userID = userIDPrefix + uuid.NewString()
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
		if _, err := r.store.Create(ctx, conversationID, userID); err != nil {
			r.logger.Error("failed to create session", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
		}
	}

	appended, err := r.store.Append(ctx, conversationID, session.Message{
		Role:    session.RoleUser,
		Content: req.Message,
	})
	if err != nil {
		r.logger.Warn("could not record user message", "conversation_id", conversationID, "error", err)
	} else if !appended {
		r.logger.Debug("no session for conversation, user message not recorded", "conversation_id", conversationID)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ex := &exchange{
		query:     req.Message,
		userID:    userID,
		startedAt: startTime,
		logger:    r.logger.With("conversation_id", conversationID),
	}
	r.metrics.StreamStarted()

	upstreamCtx, cancel := context.WithCancel(ctx)
	body, err := r.upstream.Stream(upstreamCtx, upstream.Request{
		Query:          req.Message,
		User:           userID,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		cancel()
		return r.rejectExchange(c, ex, conversationID, err)
	}
	r.metrics.RecordUpstreamResponse(r.now().Sub(startTime))

	// Use io.Pipe + SetBodyStream: pw.Write blocks until fasthttp's chunked
	// body writer consumes the frame and flushes it to the socket, which
	// gives per-frame delivery and backpressure from the client.
	pr, pw := io.Pipe()
	ex.transport = NewTransport(pw, r.store, conversationID, ex.logger)
	go r.stream(upstreamCtx, cancel, body, pw, ex)

	// Unknown size (-1) selects chunked transfer encoding.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// elapsed returns the time since start.
func (r *Relay) elapsed(start time.Time) time.Duration {
	return r.now().Sub(start)
}
