package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/campaignhq/assistant/internal/openai"
	"github.com/campaignhq/assistant/internal/store"
)

// SessionRunner is the session-path slice of the gateway.
type SessionRunner interface {
	AddSessionMessage(ctx context.Context, sessionID, content string) error
	StreamRun(ctx context.Context, sessionID, assistantID string) (<-chan openai.StreamEvent, error)
}

// SessionRelay drives the session/run protocol. Unlike the completion
// relay it persists whatever accumulated, success or not: the provider
// session already holds the partial answer, so the local record must
// match it.
type SessionRelay struct {
	runner   SessionRunner
	messages store.Messages
	logger   *slog.Logger
}

// NewSessionRelay creates the session-strategy relay.
func NewSessionRelay(log *slog.Logger, runner SessionRunner, messages store.Messages) *SessionRelay {
	return &SessionRelay{
		runner:   runner,
		messages: messages,
		logger:   log.With(slog.String("service", "session_relay")),
	}
}

func (r *SessionRelay) Run(ctx context.Context, in RelayInput, sink Sink) error {
	if err := r.runner.AddSessionMessage(ctx, in.SessionID, in.Composed); err != nil {
		writeNotice(r.logger, sink)
		return fmt.Errorf("append session message: %w", err)
	}

	events, err := r.runner.StreamRun(ctx, in.SessionID, in.AssistantID)
	if err != nil {
		writeNotice(r.logger, sink)
		return fmt.Errorf("start run: %w", err)
	}

	var acc strings.Builder
	var runErr error

loop:
	for ev := range events {
		switch {
		case ev.Err != nil:
			writeNotice(r.logger, sink)
			runErr = fmt.Errorf("run stream: %w", ev.Err)
			break loop
		case ev.Done:
			break loop
		default:
			if err := sink.Write(ev.Delta); err != nil {
				runErr = fmt.Errorf("write to client: %w", err)
				break loop
			}
			acc.WriteString(ev.Delta)
		}
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	// Persist regardless of outcome; only secondary errors are swallowed
	// after a primary failure.
	if text := acc.String(); strings.TrimSpace(text) != "" {
		_, err := r.messages.CreateMessage(context.WithoutCancel(ctx), store.CreateMessageInput{
			ThreadID:  in.ThreadID,
			Role:      store.RoleAssistant,
			Content:   text,
			Completed: runErr == nil,
			Metadata: map[string]any{
				store.MetaExternalSessionID: in.SessionID,
				store.MetaModel:             in.Model,
			},
		})
		if err != nil {
			if runErr != nil {
				r.logger.Error("persist assistant message after failed run",
					slog.String("thread_id", in.ThreadID),
					slog.Any("error", err),
				)
			} else {
				runErr = fmt.Errorf("persist assistant message: %w", err)
			}
		}
	}
	return runErr
}
