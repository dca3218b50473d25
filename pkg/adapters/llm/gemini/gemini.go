package gemini

import (
	"context"
	"fmt"
	"os"

	"github.com/wilhg/claw/pkg/adapters/llm"
	genai "google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash-lite"

type clientWrapper struct {
	client    *genai.Client
	model     string
	maxTokens int
}

var _ llm.Provider = (*clientWrapper)(nil)

func (c *clientWrapper) Name() string  { return "gemini" }
func (c *clientWrapper) Model() string { return c.model }

// request maps messages to Gemini contents. Gemini has no system role inside
// contents, so system messages are folded into SystemInstruction.
func (c *clientWrapper) request(messages []llm.Message, system string) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.maxTokens),
		Temperature:     genai.Ptr[float32](llm.DefaultTemperature),
	}
	var sys []*genai.Part
	if system != "" {
		sys = append(sys, &genai.Part{Text: system})
	}
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			sys = append(sys, &genai.Part{Text: m.Content})
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(sys) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: sys}
	}
	return contents, cfg
}

func (c *clientWrapper) Complete(ctx context.Context, messages []llm.Message, system string) (string, error) {
	contents, cfg := c.request(messages, system)
	res, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	out := res.Text()
	if out == "" {
		out = llm.EmptyCompletion
	}
	return out, nil
}

func (c *clientWrapper) StreamComplete(ctx context.Context, messages []llm.Message, onChunk llm.ChunkFunc, system string) error {
	contents, cfg := c.request(messages, system)
	for res, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return fmt.Errorf("gemini: %w", err)
		}
		if t := res.Text(); t != "" {
			onChunk(t)
		}
	}
	return nil
}

func (c *clientWrapper) CheckHealth(ctx context.Context) bool {
	_, err := c.client.Models.Get(ctx, c.model, nil)
	return err == nil
}

func (c *clientWrapper) EstimateTokenCount(text string) int { return llm.ApproxTokens(text) }

// Factory creates a Gemini LLM client using GOOGLE_API_KEY by default.
func Factory(ctx context.Context, cfg map[string]any) (llm.Provider, error) { // nolint: revive
	apiKey := llm.StringOpt(cfg, "api_key", os.Getenv("GOOGLE_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key; set GOOGLE_API_KEY or cfg.api_key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: llm.NewHTTPClient(0),
	})
	if err != nil {
		return nil, err
	}
	return &clientWrapper{
		client:    client,
		model:     llm.StringOpt(cfg, "model", defaultModel),
		maxTokens: llm.IntOpt(cfg, "max_tokens", llm.DefaultMaxTokens),
	}, nil
}

func init() {
	_ = llm.Register("gemini", Factory)
}
