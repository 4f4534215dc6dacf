package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/campaignhq/assistant/internal/openai"
	"github.com/campaignhq/assistant/internal/store"
)

// Provider is the slice of the external gateway the synchronizer needs.
type Provider interface {
	CreateVectorStore(ctx context.Context, name string) (openai.VectorStore, error)
	DeleteVectorStore(ctx context.Context, id string) error
	CreateAssistant(ctx context.Context, params openai.AssistantParams) (openai.Assistant, error)
	GetAssistant(ctx context.Context, id string) (openai.Assistant, error)
	UpdateAssistant(ctx context.Context, id string, params openai.AssistantParams) (openai.Assistant, error)
	DeleteAssistant(ctx context.Context, id string) error
}

// Synchronizer guarantees a valid, tool-equipped, knowledge-store-linked
// external assistant exists for an assistant-config row, creating or
// repairing it as needed.
type Synchronizer struct {
	configs  store.Configs
	provider Provider
	cache    Cache
	model    string
	logger   *slog.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(log *slog.Logger, configs store.Configs, provider Provider, cache Cache, model string) *Synchronizer {
	return &Synchronizer{
		configs:  configs,
		provider: provider,
		cache:    cache,
		model:    model,
		logger:   log.With(slog.String("service", "assistant_synchronizer")),
	}
}

// Resolve returns a fresh handle for the config, serving from cache when
// possible. Fails with store.ErrConfigNotFound when the row is absent.
func (s *Synchronizer) Resolve(ctx context.Context, configID string) (Handle, error) {
	if handle, ok := s.cache.Get(configID); ok {
		return handle, nil
	}

	cfg, err := s.configs.GetConfig(ctx, configID)
	if err != nil {
		return Handle{}, err
	}

	handle, err := s.sync(ctx, cfg)
	if err != nil {
		return Handle{}, err
	}

	s.cache.Set(configID, handle)
	return handle, nil
}

func (s *Synchronizer) sync(ctx context.Context, cfg store.AssistantConfig) (Handle, error) {
	if cfg.ExternalAssistantID == "" {
		return s.create(ctx, cfg)
	}

	external, err := s.provider.GetAssistant(ctx, cfg.ExternalAssistantID)
	if err != nil {
		if openai.IsNotFound(err) {
			return s.recover(ctx, cfg)
		}
		return Handle{}, fmt.Errorf("retrieve assistant: %w", err)
	}

	return s.repair(ctx, cfg, external)
}

// create provisions a knowledge store plus assistant and persists both
// ids. Provider resources are rolled back when persistence fails so they
// do not leak.
func (s *Synchronizer) create(ctx context.Context, cfg store.AssistantConfig) (Handle, error) {
	vs, err := s.provider.CreateVectorStore(ctx, cfg.Name)
	if err != nil {
		return Handle{}, fmt.Errorf("create knowledge store: %w", err)
	}

	created, err := s.provider.CreateAssistant(ctx, openai.AssistantParams{
		Name:          cfg.Name,
		Model:         s.model,
		Instructions:  cfg.Instructions,
		Tools:         []openai.Tool{{Type: openai.ToolTypeFileSearch}},
		ToolResources: resourcesFor(vs.ID),
	})
	if err != nil {
		s.cleanup(ctx, "", vs.ID)
		return Handle{}, fmt.Errorf("create assistant: %w", err)
	}

	if err := s.configs.SetExternalRefs(ctx, cfg.ID, created.ID, vs.ID); err != nil {
		s.cleanup(ctx, created.ID, vs.ID)
		return Handle{}, fmt.Errorf("persist external references: %w", err)
	}

	s.logger.Info("created external assistant",
		slog.String("assistant_config_id", cfg.ID),
		slog.String("external_assistant_id", created.ID),
		slog.String("external_store_id", vs.ID),
	)
	return Handle{AssistantID: created.ID, StoreID: vs.ID}, nil
}

// recover handles a stale stored reference: the provider no longer knows
// the assistant, so clear both ids and run the creation path again.
func (s *Synchronizer) recover(ctx context.Context, cfg store.AssistantConfig) (Handle, error) {
	s.logger.Warn("stored assistant reference is stale, recreating",
		slog.String("assistant_config_id", cfg.ID),
		slog.String("external_assistant_id", cfg.ExternalAssistantID),
	)
	if err := s.configs.ClearExternalRefs(ctx, cfg.ID); err != nil {
		return Handle{}, fmt.Errorf("clear stale references: %w", err)
	}
	cfg.ExternalAssistantID = ""
	cfg.ExternalStoreID = ""
	return s.create(ctx, cfg)
}

// repair patches the external assistant when the retrieval tool or the
// knowledge-store linkage is missing. A correctly configured assistant
// makes zero patch calls.
func (s *Synchronizer) repair(ctx context.Context, cfg store.AssistantConfig, external openai.Assistant) (Handle, error) {
	storeID := cfg.ExternalStoreID
	if storeID == "" {
		// No store on file: adopt the linked one, or mint a new store and
		// persist it before patching.
		if linked := external.LinkedStoreIDs(); len(linked) > 0 {
			storeID = linked[0]
		} else {
			vs, err := s.provider.CreateVectorStore(ctx, cfg.Name)
			if err != nil {
				return Handle{}, fmt.Errorf("create knowledge store: %w", err)
			}
			storeID = vs.ID
		}
		if err := s.configs.SetExternalRefs(ctx, cfg.ID, cfg.ExternalAssistantID, storeID); err != nil {
			return Handle{}, fmt.Errorf("persist store reference: %w", err)
		}
	}

	if external.HasFileSearch() && external.LinkedTo(storeID) {
		return Handle{AssistantID: external.ID, StoreID: storeID}, nil
	}

	patched, err := s.provider.UpdateAssistant(ctx, external.ID, openai.AssistantParams{
		Tools:         []openai.Tool{{Type: openai.ToolTypeFileSearch}},
		ToolResources: resourcesFor(storeID),
	})
	if err != nil {
		return Handle{}, fmt.Errorf("patch assistant: %w", err)
	}
	s.logger.Info("repaired external assistant definition",
		slog.String("assistant_config_id", cfg.ID),
		slog.String("external_assistant_id", patched.ID),
	)
	return Handle{AssistantID: patched.ID, StoreID: storeID}, nil
}

// cleanup deletes freshly created provider resources after a downstream
// failure. Best effort: deletion failures are logged, not returned.
func (s *Synchronizer) cleanup(ctx context.Context, assistantID, storeID string) {
	if assistantID != "" {
		if err := s.provider.DeleteAssistant(ctx, assistantID); err != nil {
			s.logger.Error("orphaned external assistant could not be deleted",
				slog.String("external_assistant_id", assistantID),
				slog.Any("error", err),
			)
		}
	}
	if storeID != "" {
		if err := s.provider.DeleteVectorStore(ctx, storeID); err != nil {
			s.logger.Error("orphaned knowledge store could not be deleted",
				slog.String("external_store_id", storeID),
				slog.Any("error", err),
			)
		}
	}
}

func resourcesFor(storeID string) *openai.ToolResources {
	return &openai.ToolResources{
		FileSearch: &openai.FileSearchResources{VectorStoreIDs: []string{storeID}},
	}
}
