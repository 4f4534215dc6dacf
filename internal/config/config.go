package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "assistant"
	DefaultPGSSLMode    = "disable"
	DefaultOpenAIBase   = "https://api.openai.com/v1"
	DefaultChatModel    = "gpt-4o"

	// DefaultContextWindow is the completion-path token ceiling. Requests
	// estimated at or above it go through the provider-managed session path.
	DefaultContextWindow = 16000
	// DefaultCharsPerToken is an approximation, not a tokenizer.
	DefaultCharsPerToken     = 3.5
	DefaultAssistantCacheTTL = "10m"
	DefaultOpenAITimeoutSecs = 60
	DefaultMigrationsPath    = "db/migrations"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Chat     ChatConfig     `toml:"chat"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	Database       string `toml:"database"`
	SSLMode        string `toml:"sslmode"`
	MigrationsPath string `toml:"migrations_path"`
}

// DSN renders the connection string used by both the pool and migrations.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type OpenAIConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ChatConfig struct {
	ContextWindow     int     `toml:"context_window"`
	CharsPerToken     float64 `toml:"chars_per_token"`
	AssistantCacheTTL string  `toml:"assistant_cache_ttl"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:           DefaultPGHost,
			Port:           DefaultPGPort,
			User:           DefaultPGUser,
			Database:       DefaultPGDatabase,
			SSLMode:        DefaultPGSSLMode,
			MigrationsPath: DefaultMigrationsPath,
		},
		OpenAI: OpenAIConfig{
			BaseURL:        DefaultOpenAIBase,
			Model:          DefaultChatModel,
			TimeoutSeconds: DefaultOpenAITimeoutSecs,
		},
		Chat: ChatConfig{
			ContextWindow:     DefaultContextWindow,
			CharsPerToken:     DefaultCharsPerToken,
			AssistantCacheTTL: DefaultAssistantCacheTTL,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
