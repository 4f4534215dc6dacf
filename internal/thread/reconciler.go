package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campaignhq/assistant/internal/openai"
	"github.com/campaignhq/assistant/internal/store"
)

// Strategy names recorded in thread metadata.
const (
	StrategyCompletion = "completion"
	StrategySession    = "session"
)

// ErrAccessDenied is returned when a thread belongs to another user.
var ErrAccessDenied = errors.New("thread belongs to another user")

// SessionCreator is the slice of the external gateway the reconciler
// needs.
type SessionCreator interface {
	CreateSession(ctx context.Context) (openai.Session, error)
}

// Resolution is the outcome of reconciling a request with a thread row.
type Resolution struct {
	Thread    store.Thread
	SessionID string
	Created   bool
}

// Reconciler guarantees a matching internal thread row and, for the
// session strategy, a linked provider session.
type Reconciler struct {
	threads  store.Threads
	sessions SessionCreator
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(log *slog.Logger, threads store.Threads, sessions SessionCreator) *Reconciler {
	return &Reconciler{
		threads:  threads,
		sessions: sessions,
		logger:   log.With(slog.String("service", "thread_reconciler")),
	}
}

// ResolveForCompletion returns the thread for a completion-strategy turn,
// creating a row when no thread id is supplied. No provider session is
// ever created on this path.
func (r *Reconciler) ResolveForCompletion(ctx context.Context, userID, threadID, configID, model string) (Resolution, error) {
	if threadID != "" {
		thread, err := r.loadOwned(ctx, userID, threadID)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Thread: thread}, nil
	}

	thread, err := r.threads.CreateThread(ctx, store.CreateThreadInput{
		UserID:            userID,
		AssistantConfigID: configID,
		Metadata: map[string]any{
			store.MetaStrategy: StrategyCompletion,
			store.MetaModel:    model,
		},
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("create thread: %w", err)
	}
	return Resolution{Thread: thread, Created: true}, nil
}

// ResolveForSession returns the thread plus a live provider session id
// for a session-strategy turn. An existing thread with no session, or
// whose stored assistant differs from the request's, keeps its row and
// gets a fresh session; conversation identity wins over session purity.
func (r *Reconciler) ResolveForSession(ctx context.Context, userID, threadID, configID, model string) (Resolution, error) {
	if threadID == "" {
		session, err := r.sessions.CreateSession(ctx)
		if err != nil {
			return Resolution{}, fmt.Errorf("create provider session: %w", err)
		}
		thread, err := r.threads.CreateThread(ctx, store.CreateThreadInput{
			UserID:            userID,
			AssistantConfigID: configID,
			Metadata: map[string]any{
				store.MetaExternalSessionID: session.ID,
				store.MetaStrategy:          StrategySession,
				store.MetaModel:             model,
			},
		})
		if err != nil {
			return Resolution{}, fmt.Errorf("create thread: %w", err)
		}
		return Resolution{Thread: thread, SessionID: session.ID, Created: true}, nil
	}

	thread, err := r.loadOwned(ctx, userID, threadID)
	if err != nil {
		return Resolution{}, err
	}

	sessionID := thread.ExternalSessionID()
	mismatch := thread.AssistantConfigID != configID
	if sessionID != "" && !mismatch {
		return Resolution{Thread: thread, SessionID: sessionID}, nil
	}

	if mismatch {
		r.logger.Warn("thread assistant differs from request, minting fresh session",
			slog.String("thread_id", thread.ID),
			slog.String("thread_assistant_config_id", thread.AssistantConfigID),
			slog.String("request_assistant_config_id", configID),
		)
	}

	session, err := r.sessions.CreateSession(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("create provider session: %w", err)
	}

	metadata := thread.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[store.MetaExternalSessionID] = session.ID
	metadata[store.MetaStrategy] = StrategySession
	metadata[store.MetaModel] = model
	if mismatch {
		metadata[store.MetaAssistantConfigID] = configID
	}

	updated, err := r.threads.UpdateThreadMetadata(ctx, thread.ID, metadata)
	if err != nil {
		return Resolution{}, fmt.Errorf("record session on thread: %w", err)
	}
	return Resolution{Thread: updated, SessionID: session.ID}, nil
}

// loadOwned loads a thread and enforces ownership before anything else
// can touch it.
func (r *Reconciler) loadOwned(ctx context.Context, userID, threadID string) (store.Thread, error) {
	thread, err := r.threads.GetThread(ctx, threadID)
	if err != nil {
		return store.Thread{}, err
	}
	if thread.UserID != userID {
		return store.Thread{}, ErrAccessDenied
	}
	return thread, nil
}
