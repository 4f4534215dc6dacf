package chat

import (
	"context"
	"errors"

	"github.com/campaignhq/assistant/internal/openai"
	"github.com/campaignhq/assistant/internal/store"
)

// ErrFileNotProcessed is returned when a request references an uploaded
// file that has no provider-side file id yet.
var ErrFileNotProcessed = errors.New("file has not finished processing")

// Request is the body of the streaming endpoint.
type Request struct {
	Message       string         `json:"message" validate:"required"`
	AssistantID   string         `json:"assistantId" validate:"required"`
	ThreadID      string         `json:"thread_id,omitempty"`
	Filename      string         `json:"filename,omitempty"`
	HiddenMessage bool           `json:"hiddenMessage,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// Sink receives streamed assistant text. Writes are backpressured: a
// write must return before the next provider chunk is requested, and a
// write error aborts the exchange.
type Sink interface {
	Write(text string) error
}

// RelayInput carries everything a relay needs to drive one exchange.
type RelayInput struct {
	ThreadID string
	UserID   string
	Model    string

	// Completion path: full ordered history including the new user turn.
	History []openai.ChatMessage

	// Session path: external resources plus the composed user message.
	AssistantID string
	SessionID   string
	Composed    string
}

// Relay drives a provider exchange, forwards incremental text to the
// sink, and persists the assistant turn. Both wire protocols implement
// this one interface so the orchestrator never sees protocol details.
type Relay interface {
	Run(ctx context.Context, in RelayInput, sink Sink) error
}

// Exchange is a fully prepared turn, ready to stream.
type Exchange struct {
	Strategy  string
	Thread    store.Thread
	NewThread bool
	Input     RelayInput

	userMessage string
	hidden      bool
}
