package openai

import (
	"context"
	"fmt"
	"os"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/wilhg/claw/pkg/adapters/embedding"
	"github.com/wilhg/claw/pkg/adapters/llm"
)

const defaultEmbeddingModel = "text-embedding-3-small"

type embedClient struct {
	client oa.Client
	model  string
	dim    int
}

func (e *embedClient) Name() string { return "openai" }

func (e *embedClient) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	// text-embedding-3 models shorten natively, so vectors match the store width.
	resp, err := e.client.Embeddings.New(ctx, oa.EmbeddingNewParams{
		Model:      oa.EmbeddingModel(e.model),
		Input:      oa.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Dimensions: oa.Int(int64(e.dim)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}
	out := make([]embedding.Vector, len(inputs))
	for _, d := range resp.Data {
		if int(d.Index) >= len(out) {
			continue
		}
		vec := make(embedding.Vector, len(d.Embedding))
		for i := range d.Embedding {
			vec[i] = float32(d.Embedding[i])
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Factory builds the OpenAI embedder. cfg keys: api_key, model, dimensions, base_url.
func Factory(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) { // nolint: revive
	apiKey := llm.StringOpt(cfg, "api_key", os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing API key; set OPENAI_API_KEY or cfg.api_key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(llm.NewHTTPClient(0))}
	if base := llm.StringOpt(cfg, "base_url", ""); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &embedClient{
		client: oa.NewClient(opts...),
		model:  llm.StringOpt(cfg, "model", defaultEmbeddingModel),
		dim:    embedding.Dimensions(cfg),
	}, nil
}

func init() {
	_ = embedding.Register("openai", Factory)
}
