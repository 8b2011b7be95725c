package relay

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message" validate:"required,max=32000"`
	ConversationID string `json:"conversationId" validate:"omitempty,max=128,printascii"`
	UserID         string `json:"userId" validate:"omitempty,max=128"`
}

// normalize trims surrounding whitespace from every field.
func (r *ChatRequest) normalize() {
	r.Message = strings.TrimSpace(r.Message)
	r.ConversationID = strings.TrimSpace(r.ConversationID)
	r.UserID = strings.TrimSpace(r.UserID)
}

// ErrorResponse is the JSON body of every non-streaming error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ConversationResponse is the body of GET /api/conversation/:id.
type ConversationResponse struct {
	ConversationID string          `json:"conversationId"`
	Messages       []MessageRecord `json:"messages"`
	CreatedAt      string          `json:"createdAt"`
}

// MessageRecord is one message in a ConversationResponse.
type MessageRecord struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// newValidator returns a validator that reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage turns a validator error into a client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " must not be empty"
	case "max":
		return fe.Field() + " is too long"
	default:
		return "invalid " + fe.Field()
	}
}
