package gemini

import (
	"context"
	"fmt"
	"os"

	"github.com/wilhg/claw/pkg/adapters/embedding"
	"github.com/wilhg/claw/pkg/adapters/llm"
	genai "google.golang.org/genai"
)

const defaultEmbeddingModel = "gemini-embedding-001"

type embedClient struct {
	client *genai.Client
	model  string
	dim    int32
}

func (e *embedClient) Name() string { return "gemini" }

func (e *embedClient) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(inputs))
	for _, s := range inputs {
		contents = append(contents, genai.NewContentFromText(s, genai.RoleUser))
	}
	res, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(e.dim),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: embed: %w", err)
	}
	out := make([]embedding.Vector, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		out = append(out, embedding.Vector(append([]float32(nil), emb.Values...)))
	}
	return out, nil
}

// Factory creates a Gemini embedder using GOOGLE_API_KEY by default.
func Factory(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) { // nolint: revive
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
	return &embedClient{
		client: client,
		model:  llm.StringOpt(cfg, "model", defaultEmbeddingModel),
		dim:    int32(embedding.Dimensions(cfg)),
	}, nil
}

func init() {
	_ = embedding.Register("gemini", Factory)
}
