package chat

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/campaignhq/assistant/internal/assistant"
	"github.com/campaignhq/assistant/internal/openai"
	"github.com/campaignhq/assistant/internal/store"
	"github.com/campaignhq/assistant/internal/thread"
)

// Resolver guarantees a usable external assistant for a config id.
type Resolver interface {
	Resolve(ctx context.Context, configID string) (assistant.Handle, error)
}

// Reconciler guarantees a thread row (and session, where needed) for a
// turn.
type Reconciler interface {
	ResolveForCompletion(ctx context.Context, userID, threadID, configID, model string) (thread.Resolution, error)
	ResolveForSession(ctx context.Context, userID, threadID, configID, model string) (thread.Resolution, error)
}

// Tuning holds the strategy-selection knobs.
type Tuning struct {
	Model         string
	ContextWindow int
	CharsPerToken float64
}

// Service orchestrates one chat turn: load, validate, select a strategy,
// synchronize external resources, relay the stream, persist the round.
type Service struct {
	configs      store.Configs
	threads      store.Threads
	messages     store.Messages
	files        store.Files
	synchronizer Resolver
	reconciler   Reconciler
	completion   Relay
	session      Relay
	tuning       Tuning
	logger       *slog.Logger
}

// NewService creates the chat orchestrator.
func NewService(
	log *slog.Logger,
	configs store.Configs,
	threads store.Threads,
	messages store.Messages,
	files store.Files,
	synchronizer Resolver,
	reconciler Reconciler,
	completion Relay,
	session Relay,
	tuning Tuning,
) *Service {
	return &Service{
		configs:      configs,
		threads:      threads,
		messages:     messages,
		files:        files,
		synchronizer: synchronizer,
		reconciler:   reconciler,
		completion:   completion,
		session:      session,
		tuning:       tuning,
		logger:       log.With(slog.String("service", "chat")),
	}
}

// Prepare runs every pre-stream state transition. Errors returned here
// still map to HTTP statuses; once the caller starts streaming, failures
// are in-band only.
func (s *Service) Prepare(ctx context.Context, userID string, req Request) (*Exchange, error) {
	var (
		cfg      store.AssistantConfig
		existing store.Thread
	)

	// Independent reads run concurrently; none is needed before all
	// three finish.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cfg, err = s.configs.GetConfig(gctx, req.AssistantID)
		return err
	})
	if req.ThreadID != "" {
		g.Go(func() error {
			var err error
			existing, err = s.threads.GetThread(gctx, req.ThreadID)
			return err
		})
	}
	if req.Filename != "" {
		g.Go(func() error {
			file, err := s.files.GetFileByName(gctx, userID, req.Filename)
			if err != nil {
				return err
			}
			if file.ExternalFileID == "" {
				return ErrFileNotProcessed
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Ownership is checked before any provider call or mutation.
	if req.ThreadID != "" && existing.UserID != userID {
		return nil, thread.ErrAccessDenied
	}

	estimated := EstimateTokens(cfg.Instructions+req.Message+contextText(req.Context), s.tuning.CharsPerToken)
	strategy := SelectStrategy(req.Filename != "", estimated, s.tuning.ContextWindow)

	ex := &Exchange{
		Strategy:    strategy,
		userMessage: req.Message,
		hidden:      req.HiddenMessage,
	}

	switch strategy {
	case thread.StrategyCompletion:
		res, err := s.reconciler.ResolveForCompletion(ctx, userID, req.ThreadID, req.AssistantID, s.tuning.Model)
		if err != nil {
			return nil, err
		}
		history, err := s.history(ctx, cfg, res, req)
		if err != nil {
			return nil, err
		}
		ex.Thread = res.Thread
		ex.NewThread = res.Created
		ex.Input = RelayInput{
			ThreadID: res.Thread.ID,
			UserID:   userID,
			Model:    s.tuning.Model,
			History:  history,
		}
	default:
		handle, err := s.synchronizer.Resolve(ctx, req.AssistantID)
		if err != nil {
			return nil, err
		}
		res, err := s.reconciler.ResolveForSession(ctx, userID, req.ThreadID, req.AssistantID, s.tuning.Model)
		if err != nil {
			return nil, err
		}
		ex.Thread = res.Thread
		ex.NewThread = res.Created
		ex.Input = RelayInput{
			ThreadID:    res.Thread.ID,
			UserID:      userID,
			Model:       s.tuning.Model,
			AssistantID: handle.AssistantID,
			SessionID:   res.SessionID,
			Composed:    ComposeSessionMessage(cfg.Instructions, req.Message, req.Context, req.Filename),
		}
	}

	return ex, nil
}

// Stream persists the user turn in the background and drives the relay.
// It must only be called after response headers are sent; every error it
// returns has already been surfaced in-band and is for logging only.
func (s *Service) Stream(ctx context.Context, ex *Exchange, sink Sink) error {
	if !ex.hidden {
		go s.persistUserTurn(context.WithoutCancel(ctx), ex)
	}

	relay := s.session
	if ex.Strategy == thread.StrategyCompletion {
		relay = s.completion
	}

	err := relay.Run(ctx, ex.Input, sink)
	if err != nil {
		s.logger.Error("stream failed",
			slog.String("thread_id", ex.Thread.ID),
			slog.String("assistant_config_id", ex.Thread.AssistantConfigID),
			slog.String("strategy", ex.Strategy),
			slog.Any("error", err),
		)
	}

	if touchErr := s.threads.TouchThread(context.WithoutCancel(ctx), ex.Thread.ID); touchErr != nil {
		s.logger.Warn("bump thread updated_at failed",
			slog.String("thread_id", ex.Thread.ID),
			slog.Any("error", touchErr),
		)
	}
	return err
}

// persistUserTurn records the user's message. Failures are logged only;
// the client already received value from the stream.
func (s *Service) persistUserTurn(ctx context.Context, ex *Exchange) {
	metadata := map[string]any{store.MetaStrategy: ex.Strategy}
	if ex.Input.SessionID != "" {
		metadata[store.MetaExternalSessionID] = ex.Input.SessionID
	}
	if _, err := s.messages.CreateMessage(ctx, store.CreateMessageInput{
		ThreadID:  ex.Thread.ID,
		UserID:    ex.Input.UserID,
		Role:      store.RoleUser,
		Content:   ex.userMessage,
		Completed: true,
		Metadata:  metadata,
	}); err != nil {
		s.logger.Error("persist user message failed",
			slog.String("thread_id", ex.Thread.ID),
			slog.String("assistant_config_id", ex.Thread.AssistantConfigID),
			slog.String("strategy", ex.Strategy),
			slog.Any("error", err),
		)
	}
}

// history rebuilds the completion-path prompt: instructions first, then
// the persisted turns in order, then the new user turn.
func (s *Service) history(ctx context.Context, cfg store.AssistantConfig, res thread.Resolution, req Request) ([]openai.ChatMessage, error) {
	history := []openai.ChatMessage{{Role: store.RoleSystem, Content: cfg.Instructions}}
	if !res.Created {
		persisted, err := s.messages.ListMessagesByThread(ctx, res.Thread.ID)
		if err != nil {
			return nil, fmt.Errorf("load thread history: %w", err)
		}
		for _, msg := range persisted {
			if msg.Role != store.RoleUser && msg.Role != store.RoleAssistant {
				continue
			}
			history = append(history, openai.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	message := req.Message
	if len(req.Context) > 0 {
		message = message + "\n\nAdditional context:\n" + contextText(req.Context)
	}
	return append(history, openai.ChatMessage{Role: store.RoleUser, Content: message}), nil
}

func contextText(context map[string]any) string {
	if len(context) == 0 {
		return ""
	}
	encoded, err := marshalContext(context)
	if err != nil {
		return ""
	}
	return encoded
}
