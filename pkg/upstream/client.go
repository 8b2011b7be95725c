package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultConnectTimeout bounds connecting to the upstream and receiving
	// its response headers. Streaming after that point is unbounded.
	DefaultConnectTimeout = 30 * time.Second

	// ResponseModeStreaming asks the upstream to stream its answer.
	ResponseModeStreaming = "streaming"

	maxErrorBodySize = 64 * 1024
)

// ErrTimeout is wrapped by errors returned from Stream when the upstream did
// not answer within the connect timeout.
var ErrTimeout = errors.New("upstream timed out")

// StatusError is returned by Stream when the upstream answers with a non-2xx
// status.
type StatusError struct {
	StatusCode int

	// Message is the upstream's own error text when it supplied one.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("upstream API error: %d - %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Config configures a Client.
type Config struct {
	// URL is the upstream chat or workflow run endpoint.
	URL string

	// APIKey is sent as a bearer token.
	APIKey string

	// WorkflowID is sent as workflow_id when URL targets a workflow
	// endpoint.
	WorkflowID string

	// ConnectTimeout bounds dialing and waiting for response headers.
	ConnectTimeout time.Duration
}

// Request is one user turn sent upstream.
type Request struct {
	Query          string
	User           string
	ConversationID string
}

type requestBody struct {
	Query          string         `json:"query"`
	Inputs         map[string]any `json:"inputs"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id"`
	WorkflowID     string         `json:"workflow_id,omitempty"`
}

// Client opens streaming requests against the upstream.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a Client for config.
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}

	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   config.ConnectTimeout,
				ResponseHeaderTimeout: config.ConnectTimeout,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		logger: logger,
	}
}

// IsWorkflow reports whether the configured URL targets a workflow endpoint.
func (c *Client) IsWorkflow() bool {
	return strings.Contains(c.config.URL, "/workflows/")
}

// URL returns the configured upstream endpoint.
func (c *Client) URL() string {
	return c.config.URL
}

// Stream sends req and returns the upstream response body once a 2xx status
// has been received. Cancelling ctx aborts the request and closes the body.
//
// A non-2xx answer yields a *StatusError. Failing to answer within the
// connect timeout yields an error wrapping ErrTimeout.
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	body := requestBody{
		Query:          req.Query,
		Inputs:         map[string]any{},
		ResponseMode:   ResponseModeStreaming,
		User:           req.User,
		ConversationID: req.ConversationID,
	}
	if c.IsWorkflow() {
		body.WorkflowID = c.config.WorkflowID
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	c.logger.Debug("opening upstream stream",
		"url", c.config.URL,
		"conversation_id", req.ConversationID,
		"workflow", c.IsWorkflow(),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, newStatusError(resp)
	}

	return resp.Body, nil
}

func newStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil || len(raw) == 0 {
		return statusErr
	}

	var body struct {
		Message lenientString `json:"message"`
		Error   lenientString `json:"error"`
		Detail  lenientString `json:"detail"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return statusErr
	}

	switch {
	case body.Message != "":
		statusErr.Message = string(body.Message)
	case body.Error != "":
		statusErr.Message = string(body.Error)
	case body.Detail != "":
		statusErr.Message = string(body.Detail)
	}
	return statusErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
