package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shgupte/sous/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

agent:
  endpoint: "wss://agent.deepgram.com/v1/agent/converse"
  api_key: dg-test
  listen_model: nova-3
  speak_model: aura-2-thalia-en
  think_model: gpt-4o-mini
  keep_alive_interval: 5s

database:
  postgres_dsn: "postgres://localhost:5432/sous?sslmode=disable"
  embedding_dimensions: 1536

embeddings:
  api_key: sk-test
  model: text-embedding-3-small

recipes:
  chunk_size: 1000
  chunk_overlap: 200
  context_chunks: 6

parser:
  fetch_timeout: 15s
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Agent.ListenModel != "nova-3" {
		t.Errorf("listen_model: got %q, want nova-3", cfg.Agent.ListenModel)
	}
	if cfg.Agent.KeepAliveInterval != 5*time.Second {
		t.Errorf("keep_alive_interval: got %s, want 5s", cfg.Agent.KeepAliveInterval)
	}
	if cfg.Database.EmbeddingDimensions != 1536 {
		t.Errorf("embedding_dimensions: got %d, want 1536", cfg.Database.EmbeddingDimensions)
	}
	if cfg.Recipes.ChunkSize != 1000 || cfg.Recipes.ChunkOverlap != 200 {
		t.Errorf("chunking: got size=%d overlap=%d, want 1000/200", cfg.Recipes.ChunkSize, cfg.Recipes.ChunkOverlap)
	}
	if cfg.Embeddings.Model != "text-embedding-3-small" {
		t.Errorf("embeddings.model: got %q", cfg.Embeddings.Model)
	}
}

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
agent:
  endpoint: "wss://agent.example.com/converse"
  api_key: key
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recipes.ChunkSize != config.DefaultChunkSize {
		t.Errorf("chunk_size default: got %d, want %d", cfg.Recipes.ChunkSize, config.DefaultChunkSize)
	}
	if cfg.Recipes.ChunkOverlap != config.DefaultChunkOverlap {
		t.Errorf("chunk_overlap default: got %d, want %d", cfg.Recipes.ChunkOverlap, config.DefaultChunkOverlap)
	}
	if cfg.Recipes.ContextChunks != config.DefaultContextChunks {
		t.Errorf("context_chunks default: got %d, want %d", cfg.Recipes.ContextChunks, config.DefaultContextChunks)
	}
	if cfg.Agent.KeepAliveInterval != config.DefaultKeepAliveInterval {
		t.Errorf("keep_alive_interval default: got %s, want %s", cfg.Agent.KeepAliveInterval, config.DefaultKeepAliveInterval)
	}
	if cfg.Parser.FetchTimeout != config.DefaultFetchTimeout {
		t.Errorf("fetch_timeout default: got %s, want %s", cfg.Parser.FetchTimeout, config.DefaultFetchTimeout)
	}
	if cfg.Database.EmbeddingDimensions != config.DefaultEmbeddingDimensions {
		t.Errorf("embedding_dimensions default: got %d, want %d", cfg.Database.EmbeddingDimensions, config.DefaultEmbeddingDimensions)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  lsiten_addr_typo: ":9090"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown YAML field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_AgentEndpointScheme(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  endpoint: "https://agent.example.com/converse"
  api_key: key
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-WebSocket agent endpoint, got nil")
	}
	if !strings.Contains(err.Error(), "ws://") {
		t.Errorf("error should mention the expected scheme, got: %v", err)
	}
}

func TestValidate_AgentEndpointRequiresKey(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  endpoint: "wss://agent.example.com/converse"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for agent endpoint without api_key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidate_OverlapMustBeSmallerThanChunkSize(t *testing.T) {
	t.Parallel()
	yaml := `
recipes:
  chunk_size: 100
  chunk_overlap: 100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for overlap >= chunk size, got nil")
	}
	if !strings.Contains(err.Error(), "chunk_overlap") {
		t.Errorf("error should mention chunk_overlap, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: "/etc/sous/cert.pem"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for TLS without key file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
recipes:
  chunk_size: -5
  context_chunks: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "chunk_size", "context_chunks"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/sous.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}
