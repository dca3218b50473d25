package embedding_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/claw/pkg/adapters/embedding"
	fakeembed "github.com/wilhg/claw/pkg/adapters/embedding/fake"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	name := "test-embedder"
	_, ok := embedding.Resolve(name)
	require.False(t, ok, "%s unexpectedly pre-registered", name)
	require.NoError(t, embedding.Register(name, func(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) {
		return fakeembed.New(8), nil
	}))
	require.Error(t, embedding.Register(name, nil))

	f, ok := embedding.Resolve(name)
	require.True(t, ok)
	e, err := f(ctx, nil)
	require.NoError(t, err)
	vecs, err := e.Embed(ctx, []string{"a", "b"}, nil)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 8)
	assert.Contains(t, embedding.Names(), "fake")
}

func TestFakeIsDeterministicAndNormalised(t *testing.T) {
	ctx := context.Background()
	e := fakeembed.New(embedding.DefaultDimensions)
	a, err := embedding.EmbedOne(ctx, e, "Deploy the staging cluster")
	require.NoError(t, err)
	b, err := embedding.EmbedOne(ctx, e, "deploy the STAGING cluster!")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 384)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	empty, err := embedding.EmbedOne(ctx, e, "")
	require.NoError(t, err)
	assert.Len(t, empty, 384)
}

func TestDimensions(t *testing.T) {
	assert.Equal(t, 384, embedding.Dimensions(nil))
	assert.Equal(t, 768, embedding.Dimensions(map[string]any{"dimensions": 768}))
	assert.Equal(t, 256, embedding.Dimensions(map[string]any{"dimensions": float64(256)}))
}
