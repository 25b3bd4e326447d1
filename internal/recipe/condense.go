package recipe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// DefaultCondenseModel is the default chat model used for condensing.
const DefaultCondenseModel = "gpt-4o-mini"

// condensePrompt asks the model to strip page fluff while keeping every
// cooking-relevant detail.
const condensePrompt = "You are an AI cooking assistant trained by an expert chef. Turn " +
	"the following recipe into a concise version that removes any fluff but keeps every detail " +
	"related to the cooking process and ingredients. It should not be longer than the original recipe. " +
	"Here is the recipe: \n "

// Condenser rewrites scraped recipe text into a concise version via a chat
// model. Scraped pages and video transcripts carry a lot of filler that
// wastes retrieval-context budget.
type Condenser struct {
	client oai.Client
	model  string
}

// CondenserOption is a functional option for [NewCondenser].
type CondenserOption func(*condenserConfig)

type condenserConfig struct {
	baseURL string
	timeout time.Duration
}

// WithCondenserBaseURL overrides the default API base URL.
func WithCondenserBaseURL(url string) CondenserOption {
	return func(c *condenserConfig) {
		c.baseURL = url
	}
}

// WithCondenserTimeout sets a per-request HTTP timeout.
func WithCondenserTimeout(d time.Duration) CondenserOption {
	return func(c *condenserConfig) {
		c.timeout = d
	}
}

// NewCondenser constructs a Condenser. If model is empty,
// [DefaultCondenseModel] is used.
func NewCondenser(apiKey, model string, opts ...CondenserOption) (*Condenser, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("condenser: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultCondenseModel
	}

	cfg := &condenserConfig{}
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

	return &Condenser{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Condense rewrites text into a concise recipe. The completion budget scales
// with the input so the result cannot outgrow the original.
func (c *Condenser) Condense(ctx context.Context, text string) (string, error) {
	// Rough token estimate at 4 characters per token.
	tokenBudget := int64(len(text) / 4)
	if tokenBudget < 256 {
		tokenBudget = 256
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(condensePrompt + text),
		},
		Temperature:         param.NewOpt(0.4),
		TopP:                param.NewOpt(0.8),
		MaxCompletionTokens: param.NewOpt(tokenBudget),
	})
	if err != nil {
		return "", fmt.Errorf("condenser: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("condenser: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
