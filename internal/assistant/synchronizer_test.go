package assistant

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignhq/assistant/internal/openai"
	"github.com/campaignhq/assistant/internal/store"
)

type fakeConfigs struct {
	configs    map[string]store.AssistantConfig
	setErr     error
	setCalls   int
	clearCalls int
}

func (f *fakeConfigs) GetConfig(_ context.Context, id string) (store.AssistantConfig, error) {
	cfg, ok := f.configs[id]
	if !ok {
		return store.AssistantConfig{}, store.ErrConfigNotFound
	}
	return cfg, nil
}

func (f *fakeConfigs) SetExternalRefs(_ context.Context, id, assistantID, storeID string) error {
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	cfg := f.configs[id]
	cfg.ExternalAssistantID = assistantID
	cfg.ExternalStoreID = storeID
	f.configs[id] = cfg
	return nil
}

func (f *fakeConfigs) ClearExternalRefs(ctx context.Context, id string) error {
	f.clearCalls++
	return f.SetExternalRefs(ctx, id, "", "")
}

type fakeProvider struct {
	assistants map[string]openai.Assistant

	createStoreCalls     int
	createAssistantCalls int
	getCalls             int
	updateCalls          int
	deletedAssistants    []string
	deletedStores        []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{assistants: map[string]openai.Assistant{}}
}

func (f *fakeProvider) CreateVectorStore(_ context.Context, name string) (openai.VectorStore, error) {
	f.createStoreCalls++
	return openai.VectorStore{ID: "vs_new", Name: name}, nil
}

func (f *fakeProvider) DeleteVectorStore(_ context.Context, id string) error {
	f.deletedStores = append(f.deletedStores, id)
	return nil
}

func (f *fakeProvider) CreateAssistant(_ context.Context, params openai.AssistantParams) (openai.Assistant, error) {
	f.createAssistantCalls++
	created := openai.Assistant{
		ID: "asst_new", Name: params.Name, Model: params.Model,
		Instructions: params.Instructions, Tools: params.Tools, ToolResources: params.ToolResources,
	}
	f.assistants[created.ID] = created
	return created, nil
}

func (f *fakeProvider) GetAssistant(_ context.Context, id string) (openai.Assistant, error) {
	f.getCalls++
	a, ok := f.assistants[id]
	if !ok {
		return openai.Assistant{}, &openai.APIError{StatusCode: 404, Message: "no assistant"}
	}
	return a, nil
}

func (f *fakeProvider) UpdateAssistant(_ context.Context, id string, params openai.AssistantParams) (openai.Assistant, error) {
	f.updateCalls++
	a := f.assistants[id]
	if params.Tools != nil {
		a.Tools = params.Tools
	}
	if params.ToolResources != nil {
		a.ToolResources = params.ToolResources
	}
	f.assistants[id] = a
	return a, nil
}

func (f *fakeProvider) DeleteAssistant(_ context.Context, id string) error {
	f.deletedAssistants = append(f.deletedAssistants, id)
	return nil
}

func newTestSynchronizer(configs *fakeConfigs, provider *fakeProvider, cache Cache) *Synchronizer {
	if cache == nil {
		cache = NewMemoryCache(10 * time.Minute)
	}
	return NewSynchronizer(slog.Default(), configs, provider, cache, "gpt-4o")
}

func TestResolveCreatesExternalResources(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{configs: map[string]store.AssistantConfig{
		"cfg-1": {ID: "cfg-1", Name: "Analyst", Instructions: "Be helpful."},
	}}
	provider := newFakeProvider()
	sync := newTestSynchronizer(configs, provider, nil)

	handle, err := sync.Resolve(context.Background(), "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, "asst_new", handle.AssistantID)
	assert.Equal(t, "vs_new", handle.StoreID)

	// Refs persisted and tool bound to the new store.
	assert.Equal(t, "asst_new", configs.configs["cfg-1"].ExternalAssistantID)
	assert.Equal(t, "vs_new", configs.configs["cfg-1"].ExternalStoreID)
	created := provider.assistants["asst_new"]
	assert.True(t, created.HasFileSearch())
	assert.True(t, created.LinkedTo("vs_new"))
}

func TestResolveServedFromCacheWithinTTL(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{configs: map[string]store.AssistantConfig{
		"cfg-1": {ID: "cfg-1", Name: "Analyst"},
	}}
	provider := newFakeProvider()
	sync := newTestSynchronizer(configs, provider, nil)

	_, err := sync.Resolve(context.Background(), "cfg-1")
	require.NoError(t, err)
	roundTrips := provider.createStoreCalls + provider.createAssistantCalls + provider.getCalls

	_, err = sync.Resolve(context.Background(), "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, roundTrips, provider.createStoreCalls+provider.createAssistantCalls+provider.getCalls,
		"second resolve within TTL must not reach the provider")
}

func TestCacheEntryExpires(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache(10 * time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Set("cfg-1", Handle{AssistantID: "asst_a"})
	_, ok := cache.Get("cfg-1")
	assert.True(t, ok)

	now = now.Add(10*time.Minute + time.Second)
	_, ok = cache.Get("cfg-1")
	assert.False(t, ok, "entry past TTL must be treated as absent")
}

func TestResolveRecoversStaleReference(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{configs: map[string]store.AssistantConfig{
		"cfg-1": {ID: "cfg-1", Name: "Analyst", ExternalAssistantID: "asst_gone", ExternalStoreID: "vs_gone"},
	}}
	provider := newFakeProvider() // knows no assistants: GET will 404
	sync := newTestSynchronizer(configs, provider, nil)

	handle, err := sync.Resolve(context.Background(), "cfg-1")
	require.NoError(t, err, "stale reference must be recovered, not surfaced")
	assert.Equal(t, "asst_new", handle.AssistantID)
	assert.Equal(t, 1, configs.clearCalls)
	assert.Equal(t, "asst_new", configs.configs["cfg-1"].ExternalAssistantID)
}

func TestResolveIdempotentWhenCorrect(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{configs: map[string]store.AssistantConfig{
		"cfg-1": {ID: "cfg-1", Name: "Analyst", ExternalAssistantID: "asst_ok", ExternalStoreID: "vs_ok"},
	}}
	provider := newFakeProvider()
	provider.assistants["asst_ok"] = openai.Assistant{
		ID:    "asst_ok",
		Tools: []openai.Tool{{Type: openai.ToolTypeFileSearch}},
		ToolResources: &openai.ToolResources{
			FileSearch: &openai.FileSearchResources{VectorStoreIDs: []string{"vs_ok"}},
		},
	}
	sync := newTestSynchronizer(configs, provider, nil)

	handle, err := sync.Resolve(context.Background(), "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, "asst_ok", handle.AssistantID)
	assert.Zero(t, provider.updateCalls, "correctly configured assistant must not be patched")
}

func TestResolvePatchesMissingTool(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{configs: map[string]store.AssistantConfig{
		"cfg-1": {ID: "cfg-1", Name: "Analyst", ExternalAssistantID: "asst_ok", ExternalStoreID: "vs_ok"},
	}}
	provider := newFakeProvider()
	provider.assistants["asst_ok"] = openai.Assistant{ID: "asst_ok"} // no tool, no linkage
	sync := newTestSynchronizer(configs, provider, nil)

	handle, err := sync.Resolve(context.Background(), "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.updateCalls)
	assert.Equal(t, "vs_ok", handle.StoreID)
	assert.True(t, provider.assistants["asst_ok"].HasFileSearch())
	assert.True(t, provider.assistants["asst_ok"].LinkedTo("vs_ok"))
}

func TestResolveCleansUpWhenPersistFails(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{
		configs: map[string]store.AssistantConfig{"cfg-1": {ID: "cfg-1", Name: "Analyst"}},
		setErr:  errors.New("db down"),
	}
	provider := newFakeProvider()
	sync := newTestSynchronizer(configs, provider, nil)

	_, err := sync.Resolve(context.Background(), "cfg-1")
	require.Error(t, err)
	assert.Contains(t, provider.deletedAssistants, "asst_new")
	assert.Contains(t, provider.deletedStores, "vs_new")
}

func TestResolveUnknownConfig(t *testing.T) {
	t.Parallel()

	sync := newTestSynchronizer(&fakeConfigs{configs: map[string]store.AssistantConfig{}}, newFakeProvider(), nil)

	_, err := sync.Resolve(context.Background(), "cfg-missing")
	assert.ErrorIs(t, err, store.ErrConfigNotFound)
}
