// Package mcpskill bridges the skill registry and the Model Context Protocol.
//
// Client side, a Skill wraps a session with an MCP server and exposes the
// server's tools to the agent. Server side, Serve publishes a skill registry
// to MCP clients.
package mcpskill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wilhg/claw/pkg/skill"
)

// Version is reported to MCP peers.
const Version = "0.1.0"

// ServerConfig describes how to reach one MCP server. Exactly one of Command
// or URL is set.
type ServerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	URL     string   `koanf:"url"`
}

// Transport builds the client transport for cfg.
func (cfg ServerConfig) Transport() (mcp.Transport, error) {
	switch {
	case cfg.Command != "" && cfg.URL != "":
		return nil, fmt.Errorf("mcpskill: %s sets both command and url", cfg.Name)
	case cfg.Command != "":
		return &mcp.CommandTransport{Command: exec.Command(cfg.Command, cfg.Args...)}, nil
	case cfg.URL != "":
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil
	}
	return nil, fmt.Errorf("mcpskill: %s needs a command or url", cfg.Name)
}

// Skill exposes the tools of one MCP server session.
type Skill struct {
	name    string
	session *mcp.ClientSession
	tools   []skill.Tool
}

var _ skill.Skill = (*Skill)(nil)

// Dial connects to the server described by cfg.
func Dial(ctx context.Context, cfg ServerConfig) (*Skill, error) {
	t, err := cfg.Transport()
	if err != nil {
		return nil, err
	}
	return Connect(ctx, cfg.Name, t)
}

// Connect opens a session over transport and loads the server's tool list.
func Connect(ctx context.Context, name string, transport mcp.Transport) (*Skill, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "claw", Version: Version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpskill: connect %s: %w", name, err)
	}
	s := &Skill{name: name, session: session}
	if err := s.Refresh(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	return s, nil
}

// Refresh reloads the tool list from the server.
func (s *Skill) Refresh(ctx context.Context) error {
	res, err := s.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("mcpskill: list tools on %s: %w", s.name, err)
	}
	tools := make([]skill.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, skill.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toSchema(t.InputSchema),
		})
	}
	s.tools = tools
	return nil
}

// toSchema converts whatever the SDK decoded the input schema into.
func toSchema(v any) *jsonschema.Schema {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var sch jsonschema.Schema
	if err := json.Unmarshal(raw, &sch); err != nil {
		return nil
	}
	return &sch
}

func (s *Skill) Name() string        { return s.name }
func (s *Skill) Description() string { return "tools served by MCP server " + s.name }
func (s *Skill) Tools() []skill.Tool { return append([]skill.Tool(nil), s.tools...) }

// Execute calls the tool on the server. Text content parts are joined with
// newlines; a result flagged as an error becomes a Go error.
func (s *Skill) Execute(ctx context.Context, tool string, args map[string]any) (string, error) {
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcpskill: call %s on %s: %w", tool, s.name, err)
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		if text == "" {
			text = "tool " + tool + " failed"
		}
		return "", errors.New(text)
	}
	return text, nil
}

// Close ends the session.
func (s *Skill) Close() error { return s.session.Close() }
