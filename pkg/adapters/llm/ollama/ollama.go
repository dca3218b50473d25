// Package ollama talks to a local Ollama daemon through /api/generate.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/wilhg/claw/pkg/adapters/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
	healthTimeout  = 5 * time.Second
)

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Client implements llm.Provider for one local model.
type Client struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

var _ llm.Provider = (*Client)(nil)

func (c *Client) Name() string  { return "ollama" }
func (c *Client) Model() string { return c.model }

// Prompt flattens a conversation into the transcript format /api/generate expects.
func Prompt(messages []llm.Message, system string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("System: " + system + "\n\n")
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			b.WriteString("System: " + m.Content + "\n")
		case "assistant":
			b.WriteString("Assistant: " + m.Content + "\n")
		default:
			b.WriteString("User: " + m.Content + "\n")
		}
	}
	b.WriteString("Assistant:")
	return b.String()
}

func (c *Client) post(ctx context.Context, messages []llm.Message, system string, stream bool) (*http.Response, error) {
	req := generateRequest{
		Model:   c.model,
		Prompt:  Prompt(messages, system),
		Stream:  stream,
		Options: options{Temperature: llm.DefaultTemperature, NumPredict: c.maxTokens},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("ollama: not running at %s (run: ollama serve): %w", c.baseURL, err)
		}
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, llm.StatusError("ollama", resp.StatusCode, string(body))
	}
	return resp, nil
}

func (c *Client) Complete(ctx context.Context, messages []llm.Message, system string) (string, error) {
	resp, err := c.post(ctx, messages, system, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	if out.Response == "" {
		return llm.EmptyCompletion, nil
	}
	return out.Response, nil
}

// StreamComplete reads the newline-delimited JSON stream until done.
func (c *Client) StreamComplete(ctx context.Context, messages []llm.Message, onChunk llm.ChunkFunc, system string) error {
	resp, err := c.post(ctx, messages, system, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk generateChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("ollama: decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Response != "" {
			onChunk(chunk.Response)
		}
		if chunk.Done {
			return nil
		}
	}
}

// CheckHealth lists installed models; any 200 counts as healthy.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) EstimateTokenCount(text string) int { return llm.ApproxTokens(text) }

// BaseURL resolves the daemon address from cfg, then OLLAMA_HOST, then the default.
func BaseURL(cfg map[string]any) string {
	base := llm.StringOpt(cfg, "base_url", os.Getenv("OLLAMA_HOST"))
	if base == "" {
		base = defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}

// Factory builds the client. cfg keys: model, max_tokens, base_url.
func Factory(ctx context.Context, cfg map[string]any) (llm.Provider, error) { // nolint: revive
	return &Client{
		baseURL:    BaseURL(cfg),
		model:      llm.StringOpt(cfg, "model", defaultModel),
		maxTokens:  llm.IntOpt(cfg, "max_tokens", llm.DefaultMaxTokens),
		httpClient: llm.NewHTTPClient(0),
	}, nil
}

func init() {
	_ = llm.Register("ollama", Factory)
}
