package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for zero fields. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Agent
	if cfg.Agent.Endpoint != "" && !strings.HasPrefix(cfg.Agent.Endpoint, "ws://") && !strings.HasPrefix(cfg.Agent.Endpoint, "wss://") {
		errs = append(errs, fmt.Errorf("agent.endpoint %q must be a ws:// or wss:// URL", cfg.Agent.Endpoint))
	}
	if cfg.Agent.Endpoint != "" && cfg.Agent.APIKey == "" {
		errs = append(errs, errors.New("agent.api_key is required when agent.endpoint is set"))
	}
	if cfg.Agent.Endpoint == "" {
		slog.Warn("agent.endpoint is empty; voice sessions will be rejected")
	}
	if cfg.Agent.KeepAliveInterval < 0 {
		errs = append(errs, fmt.Errorf("agent.keep_alive_interval %s must not be negative", cfg.Agent.KeepAliveInterval))
	}
	if cfg.Agent.KeepAliveInterval == 0 {
		cfg.Agent.KeepAliveInterval = DefaultKeepAliveInterval
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; recipe storage and retrieval will not be available")
	}
	if cfg.Database.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("database.embedding_dimensions %d must not be negative", cfg.Database.EmbeddingDimensions))
	}
	if cfg.Database.EmbeddingDimensions == 0 {
		cfg.Database.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	// Embeddings
	if cfg.Database.PostgresDSN != "" && cfg.Embeddings.APIKey == "" {
		slog.Warn("embeddings.api_key is empty; recipe chunks cannot be embedded for retrieval")
	}

	// Recipes
	if cfg.Recipes.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("recipes.chunk_size %d must not be negative", cfg.Recipes.ChunkSize))
	}
	if cfg.Recipes.ChunkSize == 0 {
		cfg.Recipes.ChunkSize = DefaultChunkSize
	}
	if cfg.Recipes.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("recipes.chunk_overlap %d must not be negative", cfg.Recipes.ChunkOverlap))
	}
	if cfg.Recipes.ChunkOverlap == 0 {
		cfg.Recipes.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Recipes.ChunkOverlap >= cfg.Recipes.ChunkSize {
		errs = append(errs, fmt.Errorf("recipes.chunk_overlap %d must be smaller than recipes.chunk_size %d", cfg.Recipes.ChunkOverlap, cfg.Recipes.ChunkSize))
	}
	if cfg.Recipes.ContextChunks < 0 {
		errs = append(errs, fmt.Errorf("recipes.context_chunks %d must not be negative", cfg.Recipes.ContextChunks))
	}
	if cfg.Recipes.ContextChunks == 0 {
		cfg.Recipes.ContextChunks = DefaultContextChunks
	}

	// Parser
	if cfg.Parser.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("parser.fetch_timeout %s must not be negative", cfg.Parser.FetchTimeout))
	}
	if cfg.Parser.FetchTimeout == 0 {
		cfg.Parser.FetchTimeout = DefaultFetchTimeout
	}

	return errors.Join(errs...)
}
