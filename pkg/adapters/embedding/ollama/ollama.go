// Package ollama embeds text with a local Ollama daemon.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wilhg/claw/pkg/adapters/embedding"
	"github.com/wilhg/claw/pkg/adapters/llm"
	llmollama "github.com/wilhg/claw/pkg/adapters/llm/ollama"
)

// all-minilm produces 384-wide vectors, matching the default store width.
const defaultEmbeddingModel = "all-minilm"

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type embedClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func (e *embedClient) Name() string { return "ollama" }

func (e *embedClient) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(embedRequest{Model: e.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, llm.StatusError("ollama", resp.StatusCode, string(body))
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama: got %d embeddings for %d inputs", len(out.Embeddings), len(inputs))
	}
	vecs := make([]embedding.Vector, len(out.Embeddings))
	for i, v := range out.Embeddings {
		vecs[i] = v
	}
	return vecs, nil
}

// Factory builds the embedder. cfg keys: model, base_url (falls back to OLLAMA_HOST).
func Factory(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) { // nolint: revive
	return &embedClient{
		baseURL:    llmollama.BaseURL(cfg),
		model:      llm.StringOpt(cfg, "model", defaultEmbeddingModel),
		httpClient: llm.NewHTTPClient(0),
	}, nil
}

func init() {
	_ = embedding.Register("ollama", Factory)
}
