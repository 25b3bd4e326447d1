// Command sous runs the Sous recipe assistant server: the REST API for
// managing recipes and the WebSocket relay that connects cooking clients to
// the voice agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shgupte/sous/internal/assist"
	"github.com/shgupte/sous/internal/config"
	"github.com/shgupte/sous/internal/observe"
	"github.com/shgupte/sous/internal/recipe"
	"github.com/shgupte/sous/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Secrets usually live in a .env file during local development. Missing
	// file is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sous: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sous: %v\n", err)
		}
		return 1
	}
	applyEnvOverrides(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("sous starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// Watch the config file so the log level can be adjusted without a
	// restart. Everything else (addresses, credentials) still needs one.
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		if old.Server.LogLevel != updated.Server.LogLevel {
			logLevel.Set(slogLevel(updated.Server.LogLevel))
			slog.Info("log level changed", "log_level", updated.Server.LogLevel)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "sous",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Recipe store ──────────────────────────────────────────────────────────
	if cfg.Database.PostgresDSN == "" {
		slog.Error("database.postgres_dsn is required")
		return 1
	}
	store, err := recipe.NewPostgresStore(ctx, cfg.Database.PostgresDSN, cfg.Database.EmbeddingDimensions)
	if err != nil {
		slog.Error("failed to open recipe store", "err", err)
		return 1
	}
	defer store.Close()
	slog.Info("recipe store ready", "embedding_dimensions", cfg.Database.EmbeddingDimensions)

	// ── Embeddings ────────────────────────────────────────────────────────────
	var embedOpts []recipe.EmbedderOption
	if cfg.Embeddings.BaseURL != "" {
		embedOpts = append(embedOpts, recipe.WithEmbedderBaseURL(cfg.Embeddings.BaseURL))
	}
	embedder, err := recipe.NewOpenAIEmbedder(cfg.Embeddings.APIKey, cfg.Embeddings.Model, embedOpts...)
	if err != nil {
		slog.Error("failed to create embedder", "err", err)
		return 1
	}

	// ── Condenser (optional) ──────────────────────────────────────────────────
	var condenser *recipe.Condenser
	if cfg.Embeddings.APIKey != "" {
		condenser, err = recipe.NewCondenser(cfg.Embeddings.APIKey, recipe.DefaultCondenseModel)
		if err != nil {
			slog.Warn("condenser unavailable, parsed recipes will be returned raw", "err", err)
		}
	}

	// ── Voice agent ───────────────────────────────────────────────────────────
	var agent server.AgentDialer
	if cfg.Agent.APIKey != "" {
		agent = assist.New(cfg.Agent.APIKey, agentOptions(cfg.Agent)...)
		slog.Info("voice agent configured",
			"listen_model", cfg.Agent.ListenModel,
			"think_model", cfg.Agent.ThinkModel,
			"speak_model", cfg.Agent.SpeakModel,
		)
	} else {
		slog.Warn("agent.api_key not set — /listen sessions disabled")
	}

	srv := server.New(cfg, server.Deps{
		Store:     store,
		Embedder:  embedder,
		Agent:     agent,
		Condenser: condenser,
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// agentOptions maps the agent config onto assist provider options, leaving
// built-in defaults in place for empty fields.
func agentOptions(cfg config.AgentConfig) []assist.Option {
	var opts []assist.Option
	if cfg.Endpoint != "" {
		opts = append(opts, assist.WithBaseURL(cfg.Endpoint))
	}
	if cfg.ListenModel != "" {
		opts = append(opts, assist.WithListenModel(cfg.ListenModel))
	}
	if cfg.ThinkModel != "" {
		opts = append(opts, assist.WithThinkModel(cfg.ThinkModel))
	}
	if cfg.SpeakModel != "" {
		opts = append(opts, assist.WithSpeakModel(cfg.SpeakModel))
	}
	if cfg.Prompt != "" {
		opts = append(opts, assist.WithPrompt(cfg.Prompt))
	}
	if cfg.KeepAliveInterval > 0 {
		opts = append(opts, assist.WithKeepAliveInterval(cfg.KeepAliveInterval))
	}
	return opts
}

// applyEnvOverrides fills in secrets from the environment so API keys and the
// database DSN never need to live in the config file.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embeddings.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.PostgresDSN = v
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
