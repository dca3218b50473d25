// Package openai adapts OpenAI-compatible chat completion APIs. It registers
// two providers: "openai" and "groq", which speaks the same protocol on a
// different base URL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/wilhg/claw/pkg/adapters/llm"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultGroqModel = "mixtral-8x7b-32768"
	groqBaseURL      = "https://api.groq.com/openai/v1"
)

type clientWrapper struct {
	name      string
	client    oa.Client
	model     string
	maxTokens int
	tokens    *llm.LazyEstimator
}

var _ llm.Provider = (*clientWrapper)(nil)

func (c *clientWrapper) Name() string  { return c.name }
func (c *clientWrapper) Model() string { return c.model }

func (c *clientWrapper) params(messages []llm.Message, system string) oa.ChatCompletionNewParams {
	msgs := llm.WithSystem(messages, system)
	mm := make([]oa.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			mm = append(mm, oa.SystemMessage(m.Content))
		case "assistant":
			mm = append(mm, oa.AssistantMessage(m.Content))
		default:
			mm = append(mm, oa.UserMessage(m.Content))
		}
	}
	return oa.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    mm,
		MaxTokens:   oa.Int(int64(c.maxTokens)),
		Temperature: oa.Float(llm.DefaultTemperature),
	}
}

func (c *clientWrapper) Complete(ctx context.Context, messages []llm.Message, system string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(messages, system))
	if err != nil {
		return "", c.wrap(err)
	}
	var out string
	if len(resp.Choices) > 0 {
		out = resp.Choices[0].Message.Content
	}
	if out == "" {
		out = llm.EmptyCompletion
	}
	return out, nil
}

func (c *clientWrapper) StreamComplete(ctx context.Context, messages []llm.Message, onChunk llm.ChunkFunc, system string) error {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages, system))
	defer stream.Close()
	for stream.Next() {
		event := stream.Current()
		if len(event.Choices) == 0 {
			continue
		}
		if d := event.Choices[0].Delta.Content; d != "" {
			onChunk(d)
		}
	}
	if err := stream.Err(); err != nil {
		return c.wrap(err)
	}
	return nil
}

// CheckHealth looks up the configured model, which needs a valid key but
// costs no tokens.
func (c *clientWrapper) CheckHealth(ctx context.Context) bool {
	_, err := c.client.Models.Get(ctx, c.model)
	return err == nil
}

func (c *clientWrapper) EstimateTokenCount(text string) int { return c.tokens.Count(text) }

func (c *clientWrapper) wrap(err error) error {
	var apiErr *oa.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", c.name, llm.StatusError(c.name, apiErr.StatusCode, apiErr.Message))
	}
	return fmt.Errorf("%s: %w", c.name, err)
}

func newClient(name, envKey, defModel, defBaseURL string, cfg map[string]any) (llm.Provider, error) {
	apiKey := llm.StringOpt(cfg, "api_key", os.Getenv(envKey))
	if apiKey == "" {
		return nil, fmt.Errorf("%s: missing API key; set %s or cfg.api_key", name, envKey)
	}
	model := llm.StringOpt(cfg, "model", defModel)
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(llm.NewHTTPClient(0)),
	}
	if base := llm.StringOpt(cfg, "base_url", defBaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &clientWrapper{
		name:      name,
		client:    oa.NewClient(opts...),
		model:     model,
		maxTokens: llm.IntOpt(cfg, "max_tokens", llm.DefaultMaxTokens),
		tokens:    llm.NewLazyEstimator(model),
	}, nil
}

// Factory builds the OpenAI provider. cfg keys: api_key, model, max_tokens, base_url.
func Factory(ctx context.Context, cfg map[string]any) (llm.Provider, error) { // nolint: revive
	return newClient("openai", "OPENAI_API_KEY", defaultModel, "", cfg)
}

// GroqFactory builds the Groq provider, reading GROQ_API_KEY by default.
func GroqFactory(ctx context.Context, cfg map[string]any) (llm.Provider, error) { // nolint: revive
	return newClient("groq", "GROQ_API_KEY", defaultGroqModel, groqBaseURL, cfg)
}

func init() {
	_ = llm.Register("openai", Factory)
	_ = llm.Register("groq", GroqFactory)
}
