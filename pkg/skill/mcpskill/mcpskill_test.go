package mcpskill

import (
	"context"
	"errors"
	"testing"
	"time"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/claw/pkg/skill"
)

func echoRegistry(t *testing.T) *skill.Registry {
	t.Helper()
	reg := skill.NewRegistry(nil)
	s := skill.NewFuncSkill("echo", "echoes").
		Add(skill.Tool{
			Name:        "echo",
			Description: "echoes msg",
			Parameters:  skill.Object(map[string]*skill.Schema{"msg": skill.String("text")}, "msg"),
		}, func(ctx context.Context, args map[string]any) (string, error) {
			return "echo: " + args["msg"].(string), nil
		}).
		Add(skill.Tool{Name: "boom", Description: "fails"}, func(context.Context, map[string]any) (string, error) {
			return "", errors.New("kaboom")
		})
	require.NoError(t, reg.Register(s))
	return reg
}

// connectLoopback serves reg over in-memory transports and returns a client skill.
func connectLoopback(t *testing.T, reg *skill.Registry) *Skill {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := NewServer(reg).Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	s, err := Connect(ctx, "loopback", clientT)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoopback_ListsAndCallsTools(t *testing.T) {
	s := connectLoopback(t, echoRegistry(t))

	tools := s.Tools()
	require.Len(t, tools, 2)
	names := []string{tools[0].Name, tools[1].Name}
	assert.ElementsMatch(t, []string{"echo", "boom"}, names)
	for _, tl := range tools {
		if tl.Name == "echo" {
			require.NotNil(t, tl.Parameters)
			assert.Equal(t, []string{"msg"}, tl.Parameters.Required)
		}
	}

	out, err := s.Execute(context.Background(), "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)

	_, err = s.Execute(context.Background(), "boom", nil)
	require.EqualError(t, err, "kaboom")
}

func TestLoopback_RegistersIntoLocalRegistry(t *testing.T) {
	remote := connectLoopback(t, echoRegistry(t))
	local := skill.NewRegistry(nil)
	require.NoError(t, local.Register(remote))
	assert.True(t, local.HasTool("echo"))

	out, err := local.Execute(context.Background(), "echo", map[string]any{"msg": "via registry"})
	require.NoError(t, err)
	assert.Equal(t, "echo: via registry", out)

	// Local validation rejects bad args before they reach the server.
	_, err = local.Execute(context.Background(), "echo", map[string]any{})
	require.Error(t, err)
}

func TestServerConfigTransport(t *testing.T) {
	_, err := ServerConfig{Name: "none"}.Transport()
	require.Error(t, err)
	_, err = ServerConfig{Name: "both", Command: "x", URL: "http://y"}.Transport()
	require.Error(t, err)

	tr, err := ServerConfig{Name: "cmd", Command: "mcp-server", Args: []string{"--stdio"}}.Transport()
	require.NoError(t, err)
	assert.IsType(t, &mcp.CommandTransport{}, tr)

	tr, err = ServerConfig{Name: "http", URL: "http://localhost:9000/mcp"}.Transport()
	require.NoError(t, err)
	assert.IsType(t, &mcp.StreamableClientTransport{}, tr)
}
