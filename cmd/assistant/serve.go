package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/campaignhq/assistant/internal/assistant"
	"github.com/campaignhq/assistant/internal/chat"
	"github.com/campaignhq/assistant/internal/config"
	"github.com/campaignhq/assistant/internal/db"
	"github.com/campaignhq/assistant/internal/handlers"
	"github.com/campaignhq/assistant/internal/logger"
	"github.com/campaignhq/assistant/internal/openai"
	"github.com/campaignhq/assistant/internal/server"
	"github.com/campaignhq/assistant/internal/store"
	"github.com/campaignhq/assistant/internal/thread"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideStore,
			provideOpenAIClient,
			provideAssistantCache,
			provideSynchronizer,
			provideReconciler,
			provideCompletionRelay,
			provideSessionRelay,
			provideChatService,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideChatHandler),
			provideServerHandler(provideThreadHandler),
			provideServer,
		),
		fx.Invoke(
			runMigrations,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideStore(log *slog.Logger, pool *pgxpool.Pool) *store.DBService {
	return store.NewService(log, pool)
}

func provideOpenAIClient(log *slog.Logger, cfg config.Config) *openai.Client {
	timeout := time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second
	return openai.NewClient(log, cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, timeout)
}

func provideAssistantCache(cfg config.Config) assistant.Cache {
	ttl, err := time.ParseDuration(cfg.Chat.AssistantCacheTTL)
	if err != nil || ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return assistant.NewMemoryCache(ttl)
}

func provideSynchronizer(log *slog.Logger, st *store.DBService, client *openai.Client, cache assistant.Cache, cfg config.Config) *assistant.Synchronizer {
	return assistant.NewSynchronizer(log, st, client, cache, cfg.OpenAI.Model)
}

func provideReconciler(log *slog.Logger, st *store.DBService, client *openai.Client) *thread.Reconciler {
	return thread.NewReconciler(log, st, client)
}

func provideCompletionRelay(log *slog.Logger, client *openai.Client, st *store.DBService) *chat.CompletionRelay {
	return chat.NewCompletionRelay(log, client, st)
}

func provideSessionRelay(log *slog.Logger, client *openai.Client, st *store.DBService) *chat.SessionRelay {
	return chat.NewSessionRelay(log, client, st)
}

func provideChatService(
	log *slog.Logger,
	st *store.DBService,
	synchronizer *assistant.Synchronizer,
	reconciler *thread.Reconciler,
	completion *chat.CompletionRelay,
	session *chat.SessionRelay,
	cfg config.Config,
) *chat.Service {
	tuning := chat.Tuning{
		Model:         cfg.OpenAI.Model,
		ContextWindow: cfg.Chat.ContextWindow,
		CharsPerToken: cfg.Chat.CharsPerToken,
	}
	return chat.NewService(log, st, st, st, st, synchronizer, reconciler, completion, session, tuning)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideChatHandler(log *slog.Logger, service *chat.Service) *handlers.ChatHandler {
	return handlers.NewChatHandler(log, service)
}

func provideThreadHandler(log *slog.Logger, st *store.DBService) *handlers.ThreadHandler {
	return handlers.NewThreadHandler(log, st, st)
}

type serverParams struct {
	fx.In

	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(p serverParams) *server.Server {
	return server.NewServer(p.Config.Server.Addr, p.Config.Auth.JWTSecret, p.Handlers)
}

func runMigrations(log *slog.Logger, cfg config.Config) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return err
	}
	log.Info("database schema up to date")
	return nil
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("http server stopped", slog.Any("error", err))
				}
			}()
			log.Info("http server listening", slog.String("addr", cfg.Server.Addr))
			return nil
		},
	})
}
