// Package anthropic talks to the Anthropic Messages API over plain HTTP with
// server-sent events for streaming.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/wilhg/claw/pkg/adapters/llm"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultModel   = "claude-3-haiku-20240307"
	apiVersion     = "2023-06-01"
	nonTextReply   = "Claude responded with something other than text."
)

type request struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type response struct {
	Content []content `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client implements llm.Provider for one Anthropic model.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

var _ llm.Provider = (*Client)(nil)

func (c *Client) Name() string  { return "anthropic" }
func (c *Client) Model() string { return c.model }

// body builds the request payload. The Messages API takes the system prompt
// as a top-level field, so system-role messages are merged into it.
func (c *Client) body(messages []llm.Message, system string, stream bool) request {
	req := request{Model: c.model, MaxTokens: c.maxTokens, Stream: stream}
	var sys []string
	if system != "" {
		sys = append(sys, system)
	}
	for _, m := range messages {
		if m.Role == "system" {
			sys = append(sys, m.Content)
			continue
		}
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		req.Messages = append(req.Messages, message{Role: role, Content: m.Content})
	}
	req.System = strings.Join(sys, "\n\n")
	return req
}

func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, llm.StatusError("anthropic", resp.StatusCode, string(body))
	}
	return resp, nil
}

func (c *Client) Complete(ctx context.Context, messages []llm.Message, system string) (string, error) {
	resp, err := c.do(ctx, c.body(messages, system, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}
	if len(out.Content) == 0 {
		return llm.EmptyCompletion, nil
	}
	if out.Content[0].Type != "text" {
		return nonTextReply, nil
	}
	return out.Content[0].Text, nil
}

func (c *Client) StreamComplete(ctx context.Context, messages []llm.Message, onChunk llm.ChunkFunc, system string) error {
	resp, err := c.do(ctx, c.body(messages, system, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				onChunk(ev.Delta.Text)
			}
		case "error":
			if ev.Error != nil {
				return fmt.Errorf("anthropic: stream error %s: %s", ev.Error.Type, ev.Error.Message)
			}
		case "message_stop":
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("anthropic: read stream: %w", err)
	}
	return nil
}

// CheckHealth sends a one-token request to the configured model.
func (c *Client) CheckHealth(ctx context.Context) bool {
	req := request{
		Model:     c.model,
		Messages:  []message{{Role: "user", Content: "hi"}},
		MaxTokens: 1,
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// EstimateTokenCount uses Claude's denser 3.5 chars per token ratio.
func (c *Client) EstimateTokenCount(text string) int {
	return int(math.Ceil(float64(len(text)) / 3.5))
}

// Factory builds the client. cfg keys: api_key, model, max_tokens, base_url.
func Factory(ctx context.Context, cfg map[string]any) (llm.Provider, error) { // nolint: revive
	apiKey := llm.StringOpt(cfg, "api_key", os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key; set ANTHROPIC_API_KEY or cfg.api_key")
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(llm.StringOpt(cfg, "base_url", defaultBaseURL), "/"),
		model:      llm.StringOpt(cfg, "model", defaultModel),
		maxTokens:  llm.IntOpt(cfg, "max_tokens", llm.DefaultMaxTokens),
		httpClient: llm.NewHTTPClient(0),
	}, nil
}

func init() {
	_ = llm.Register("anthropic", Factory)
}
