package recipe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// DefaultEmbeddingModel is the default embeddings model.
const DefaultEmbeddingModel = oai.EmbeddingModelTextEmbedding3Small

// Embedder maps text to dense float32 vectors for chunk retrieval. All
// vectors from a single Embedder share the same dimensionality.
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The i-th result corresponds to texts[i]; on error the
	// entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector this Embedder
	// produces.
	Dimensions() int
}

// Ensure OpenAIEmbedder implements the Embedder interface.
var _ Embedder = (*OpenAIEmbedder)(nil)

// OpenAIEmbedder implements [Embedder] using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client oai.Client
	model  string
}

// EmbedderOption is a functional option for [NewOpenAIEmbedder].
type EmbedderOption func(*embedderConfig)

type embedderConfig struct {
	baseURL string
	timeout time.Duration
}

// WithEmbedderBaseURL overrides the default OpenAI API base URL.
func WithEmbedderBaseURL(url string) EmbedderOption {
	return func(c *embedderConfig) {
		c.baseURL = url
	}
}

// WithEmbedderTimeout sets a per-request HTTP timeout.
func WithEmbedderTimeout(d time.Duration) EmbedderOption {
	return func(c *embedderConfig) {
		c.timeout = d
	}
}

// NewOpenAIEmbedder constructs an [OpenAIEmbedder]. If model is empty,
// [DefaultEmbeddingModel] is used.
func NewOpenAIEmbedder(apiKey, model string, opts ...EmbedderOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedder: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}

	cfg := &embedderConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &OpenAIEmbedder{client: client, model: model}, nil
}

// Embed implements [Embedder].
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedder: empty response")
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch implements [Embedder].
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embedder: unexpected index %d", d.Index)
		}
		result[d.Index] = float64ToFloat32(d.Embedding)
	}
	return result, nil
}

// Dimensions implements [Embedder].
func (e *OpenAIEmbedder) Dimensions() int {
	lower := strings.ToLower(e.model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"):
		return 1536
	case strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

// float64ToFloat32 converts a []float64 slice to []float32.
func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
