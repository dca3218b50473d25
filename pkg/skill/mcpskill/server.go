package mcpskill

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wilhg/claw/pkg/skill"
)

// NewServer exports every tool in reg through an MCP server. Calls go through
// reg.Execute, so argument validation and ToolNotFound behave as they do for
// the agent; failures are reported as error results.
func NewServer(reg *skill.Registry) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "claw", Version: Version}, nil)
	for _, t := range reg.ListTools() {
		name := t.Name
		params := t.Parameters
		if params == nil {
			params = &jsonschema.Schema{Type: "object"}
		}
		srv.AddTool(&mcp.Tool{Name: name, Description: t.Description, InputSchema: params},
			func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				var args map[string]any
				if len(req.Params.Arguments) > 0 {
					if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
						return errorResult(err), nil
					}
				}
				out, err := reg.Execute(ctx, name, args)
				if err != nil {
					return errorResult(err), nil
				}
				return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: out}}}, nil
			})
	}
	return srv
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}
}

// Serve runs an MCP server for reg over transport until the client
// disconnects or ctx is done.
func Serve(ctx context.Context, reg *skill.Registry, transport mcp.Transport) error {
	return NewServer(reg).Run(ctx, transport)
}
