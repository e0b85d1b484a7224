package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/agent"
	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/dispatcher"
	"github.com/nextlevelbuilder/autoreply/internal/gateway"
	"github.com/nextlevelbuilder/autoreply/internal/history"
	"github.com/nextlevelbuilder/autoreply/internal/sender"
	"github.com/nextlevelbuilder/autoreply/internal/store"
	"github.com/nextlevelbuilder/autoreply/internal/store/pg"
	"github.com/nextlevelbuilder/autoreply/internal/tracing"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration, refusing to start", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, "autoreply", traceEndpoint(cfg))
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	msgLog, err := openMessageLog(ctx, cfg)
	if err != nil {
		slog.Error("failed to open message log", "error", err)
		os.Exit(1)
	}
	defer msgLog.Close()

	transcripts := history.NewStore(cfg.History.MaxMessages, cfg.History.ConversationTTL(), cfg.History.CleanupInterval())
	transcripts.Start(ctx)
	defer transcripts.Stop()

	backend := agent.NewClient(cfg.Agent.BaseURL,
		agent.WithAPIKey(cfg.Agent.APIKey),
		agent.WithModel(cfg.Agent.Model),
		agent.WithTimeout(cfg.Agent.Timeout()),
		agent.WithCacheTTL(cfg.Agent.CacheTTL()),
		agent.WithRetryConfig(agent.RetryConfig{
			MaxAttempts: cfg.Agent.MaxRetries,
			BaseDelay:   cfg.Agent.RetryBaseDelay(),
		}),
	)

	msgBus := bus.NewMessageBus(cfg.Gateway.QueueSize)
	disp := dispatcher.New(cfg, dispatcher.Deps{
		Bus:         msgBus,
		Transcripts: transcripts,
		Backend:     backend,
		Log:         msgLog,
		Send:        sender.NewClient(cfg.Sender.BaseURL, cfg.Sender.Token, cfg.Sender.MessageType),
	})
	disp.Start(ctx)
	defer disp.Stop()

	srv := gateway.NewServer(cfg, msgBus, disp.Stats)
	if err := srv.Start(); err != nil {
		slog.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	slog.Info("autoreply started",
		"version", Version,
		"merge_enabled", cfg.Reply.MergeEnabled,
		"max_concurrent_jobs", cfg.Reply.MaxConcurrentJobs,
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("gateway shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracing shutdown error", "error", err)
	}
}

// openMessageLog selects the log backend: Postgres when a DSN is configured,
// SQLite otherwise, and a no-op log when the SQLite path is explicitly empty.
func openMessageLog(ctx context.Context, cfg *config.Config) (store.MessageLog, error) {
	if cfg.Store.PostgresDSN != "" {
		return pg.New(ctx, cfg.Store.PostgresDSN)
	}
	if cfg.Store.SQLitePath == "" {
		return store.NopLog{}, nil
	}
	return store.OpenSQLite(cfg.Store.SQLitePath)
}

func traceEndpoint(cfg *config.Config) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.Telemetry.Endpoint
}
