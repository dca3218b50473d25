package skill

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/claw/pkg/errmodel"
)

func mathSkill() *FuncSkill {
	return NewFuncSkill("math", "arithmetic").
		Add(Tool{
			Name:        "sum",
			Description: "adds two numbers",
			Parameters:  Object(map[string]*Schema{"a": Number("first"), "b": Number("second")}, "a", "b"),
		}, func(ctx context.Context, args map[string]any) (string, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return fmt.Sprintf("%g", a+b), nil
		}).
		Add(Tool{Name: "fail", Description: "always fails"}, func(context.Context, map[string]any) (string, error) {
			return "", errors.New("division by zero")
		})
}

func TestRegistry_ListAndHas(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(mathSkill()))

	tools := r.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "sum", tools[0].Name)
	assert.Equal(t, "fail", tools[1].Name)
	assert.True(t, r.HasTool("sum"))
	assert.False(t, r.HasTool("nope"))
	assert.Equal(t, []string{"math"}, r.Skills())
	assert.JSONEq(t, `{"type":"object","required":["a","b"],"properties":{"a":{"type":"number","description":"first"},"b":{"type":"number","description":"second"}}}`, tools[0].ParametersJSON())
	assert.Equal(t, "{}", tools[1].ParametersJSON())
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(mathSkill()))
	ctx := context.Background()

	out, err := r.Execute(ctx, "sum", map[string]any{"a": 1.5, "b": 2.0})
	require.NoError(t, err)
	assert.Equal(t, "3.5", out)

	_, err = r.Execute(ctx, "sum", map[string]any{"a": "x", "b": 2.0})
	require.Error(t, err)
	assert.True(t, errmodel.IsCode(err, errmodel.CategoryValidation, errmodel.CodeInvalidArgs))

	_, err = r.Execute(ctx, "sum", nil)
	require.Error(t, err, "missing required args")

	_, err = r.Execute(ctx, "fail", nil)
	require.EqualError(t, err, "division by zero")

	_, err = r.Execute(ctx, "ghost", nil)
	require.Error(t, err)
	assert.True(t, errmodel.IsCode(err, errmodel.CategoryTool, errmodel.CodeNotFound))
}

func TestRegistry_Duplicates(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(mathSkill()))

	err := r.Register(mathSkill())
	assert.True(t, errmodel.IsCode(err, errmodel.CategoryValidation, errmodel.CodeDuplicate))

	clash := NewFuncSkill("other", "").Add(Tool{Name: "sum"}, nil)
	err = r.Register(clash)
	assert.True(t, errmodel.IsCode(err, errmodel.CategoryValidation, errmodel.CodeDuplicate))
	assert.Equal(t, []string{"math"}, r.Skills())

	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(NewFuncSkill("", "")))
}

func TestRegistry_RejectsBadSchema(t *testing.T) {
	r := NewRegistry(nil)
	bad := NewFuncSkill("bad", "").Add(Tool{Name: "x", Parameters: &Schema{Type: "no-such-type"}}, nil)
	err := r.Register(bad)
	require.Error(t, err)
	assert.False(t, r.HasTool("x"))
}
