package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/campaignhq/assistant/internal/openai"
	"github.com/campaignhq/assistant/internal/store"
)

// errorNotice is appended in-band when a stream fails after headers have
// been sent; no status-code change is possible at that point.
const errorNotice = "\n\nSorry, something went wrong while generating the response."

// CompletionStreamer is the completion-path slice of the gateway.
type CompletionStreamer interface {
	StreamChatCompletion(ctx context.Context, model string, messages []openai.ChatMessage) (<-chan openai.StreamEvent, error)
}

// CompletionRelay drives the single-shot completion protocol. A partial
// accumulator after a mid-stream failure is discarded, never persisted
// as a complete answer.
type CompletionRelay struct {
	streamer CompletionStreamer
	messages store.Messages
	logger   *slog.Logger
}

// NewCompletionRelay creates the completion-strategy relay.
func NewCompletionRelay(log *slog.Logger, streamer CompletionStreamer, messages store.Messages) *CompletionRelay {
	return &CompletionRelay{
		streamer: streamer,
		messages: messages,
		logger:   log.With(slog.String("service", "completion_relay")),
	}
}

func (r *CompletionRelay) Run(ctx context.Context, in RelayInput, sink Sink) error {
	events, err := r.streamer.StreamChatCompletion(ctx, in.Model, in.History)
	if err != nil {
		writeNotice(r.logger, sink)
		return fmt.Errorf("open completion stream: %w", err)
	}

	var acc strings.Builder
	for ev := range events {
		switch {
		case ev.Err != nil:
			writeNotice(r.logger, sink)
			return fmt.Errorf("completion stream: %w", ev.Err)
		case ev.Done:
			return r.persist(ctx, in, acc.String())
		default:
			if err := sink.Write(ev.Delta); err != nil {
				// Client gone; abort rather than masking it as a clean end.
				return fmt.Errorf("write to client: %w", err)
			}
			acc.WriteString(ev.Delta)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return r.persist(ctx, in, acc.String())
}

func (r *CompletionRelay) persist(ctx context.Context, in RelayInput, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := r.messages.CreateMessage(ctx, store.CreateMessageInput{
		ThreadID:  in.ThreadID,
		Role:      store.RoleAssistant,
		Content:   text,
		Completed: true,
		Metadata:  map[string]any{store.MetaModel: in.Model},
	})
	if err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	return nil
}

// writeNotice appends the in-band failure notice. Best effort: the
// response may already be unusable, and the primary error wins.
func writeNotice(log *slog.Logger, sink Sink) {
	if err := sink.Write(errorNotice); err != nil {
		log.Warn("could not write error notice to client", slog.Any("error", err))
	}
}
