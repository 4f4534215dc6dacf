package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPGHost, cfg.Postgres.Host)
	assert.Equal(t, DefaultPGPort, cfg.Postgres.Port)
	assert.Equal(t, DefaultOpenAIBase, cfg.OpenAI.BaseURL)
	assert.Equal(t, DefaultChatModel, cfg.OpenAI.Model)
	assert.Equal(t, DefaultContextWindow, cfg.Chat.ContextWindow)
	assert.InDelta(t, DefaultCharsPerToken, cfg.Chat.CharsPerToken, 0.001)
	assert.Equal(t, DefaultAssistantCacheTTL, cfg.Chat.AssistantCacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"

[openai]
api_key = "sk-test"
model = "gpt-4o-mini"

[chat]
context_window = 8000
chars_per_token = 4.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 8000, cfg.Chat.ContextWindow)
	assert.InDelta(t, 4.0, cfg.Chat.CharsPerToken, 0.001)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultPGDatabase, cfg.Postgres.Database)
}

func TestPostgresDSN(t *testing.T) {
	t.Parallel()

	cfg := PostgresConfig{
		Host: "db", Port: 5433, User: "app", Password: "secret",
		Database: "assistant", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://app:secret@db:5433/assistant?sslmode=disable", cfg.DSN())
}
