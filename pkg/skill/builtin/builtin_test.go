package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/claw/pkg/memory"
	"github.com/wilhg/claw/pkg/skill"
	"github.com/wilhg/claw/pkg/store"
)

func registry(t *testing.T, skills ...skill.Skill) *skill.Registry {
	t.Helper()
	reg := skill.NewRegistry(nil)
	for _, s := range skills {
		require.NoError(t, reg.Register(s))
	}
	return reg
}

func TestFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"notes/todo.md": {Data: []byte("buy milk")},
		"readme.txt":    {Data: []byte("hello")},
		"big.txt":       {Data: []byte(strings.Repeat("x", MaxFileBytes+10))},
	}
	reg := registry(t, Files(fsys))
	ctx := context.Background()

	out, err := reg.Execute(ctx, "file_read", map[string]any{"path": "notes/todo.md"})
	require.NoError(t, err)
	assert.Equal(t, "buy milk", out)

	out, err = reg.Execute(ctx, "file_read", map[string]any{"path": "big.txt"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\n[truncated]"))
	assert.Len(t, out, MaxFileBytes+len("\n[truncated]"))

	for _, p := range []string{"/etc/passwd", "../secret", "notes/../readme.txt", "./readme.txt"} {
		_, err := reg.Execute(ctx, "file_read", map[string]any{"path": p})
		assert.ErrorIs(t, err, errInvalidPath, p)
	}

	_, err = reg.Execute(ctx, "file_read", map[string]any{})
	assert.Error(t, err, "path is required by the schema")

	out, err = reg.Execute(ctx, "file_list", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "big.txt\nnotes/\nreadme.txt", out)
}

func TestFiles_NoWorkspace(t *testing.T) {
	_, err := Files(nil).Execute(context.Background(), "file_read", map[string]any{"path": "a"})
	assert.EqualError(t, err, "no workspace configured")
}

func TestWeb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("y", MaxBodyBytes+5)))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}
	}))
	t.Cleanup(srv.Close)
	reg := registry(t, Web(nil))
	ctx := context.Background()

	out, err := reg.Execute(ctx, "http_get", map[string]any{"url": srv.URL + "/pot"})
	require.NoError(t, err)
	assert.Equal(t, "HTTP 418\n\nshort and stout", out)

	out, err = reg.Execute(ctx, "http_get", map[string]any{"url": srv.URL + "/big"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\n[truncated]"))

	_, err = reg.Execute(ctx, "http_get", map[string]any{"url": srv.URL + "/slow", "timeout_ms": 20})
	assert.Error(t, err)

	_, err = reg.Execute(ctx, "http_get", map[string]any{"url": "file:///etc/passwd"})
	assert.ErrorContains(t, err, "invalid url")
}

type fakeMemories struct {
	query   string
	limit   int
	entries []store.MemoryEntry
	written []memory.WriteOptions
	content []string
	days    int
}

func (f *fakeMemories) Recent(_ context.Context, days int) ([]store.MemoryEntry, error) {
	f.days = days
	return f.entries, nil
}

func (f *fakeMemories) Search(_ context.Context, query string, limit int) ([]store.MemoryEntry, error) {
	f.query, f.limit = query, limit
	return f.entries, nil
}

func (f *fakeMemories) Write(_ context.Context, content string, opts memory.WriteOptions) (store.MemoryEntry, error) {
	f.content = append(f.content, content)
	f.written = append(f.written, opts)
	return store.MemoryEntry{ID: "mem-1", Content: content}, nil
}

func TestMemory(t *testing.T) {
	fm := &fakeMemories{}
	reg := registry(t, Memory(fm))
	ctx := context.Background()

	out, err := reg.Execute(ctx, "memory_search", map[string]any{"query": "cluster"})
	require.NoError(t, err)
	assert.Equal(t, NoMemories, out)
	assert.Equal(t, "cluster", fm.query)
	assert.Equal(t, memory.DefaultSearchLimit, fm.limit)

	day := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	fm.entries = []store.MemoryEntry{
		{Content: "upgraded the cluster", Mood: memory.MoodChaotic, CreatedAt: day},
		{Content: "cluster was fine", Mood: memory.MoodNeutral, CreatedAt: day.Add(24 * time.Hour)},
	}
	out, err = reg.Execute(ctx, "memory_search", map[string]any{"query": "cluster", "limit": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, fm.limit)
	assert.Equal(t, "- (2026-10-16, chaotic) upgraded the cluster\n- (2026-10-17, neutral) cluster was fine", out)

	out, err = reg.Execute(ctx, "memory_store", map[string]any{"content": "  likes tea ", "tags": []any{"prefs"}})
	require.NoError(t, err)
	assert.Equal(t, "Stored memory mem-1", out)
	assert.Equal(t, []string{"likes tea"}, fm.content)
	assert.Equal(t, []string{"prefs"}, fm.written[0].Tags)

	assert.Empty(t, fm.written[0].SourceFile)

	_, err = reg.Execute(ctx, "memory_store", map[string]any{"content": "deploys on friday", "source": " notes/2026-10-16.md "})
	require.NoError(t, err)
	assert.Equal(t, "notes/2026-10-16.md", fm.written[1].SourceFile)

	_, err = reg.Execute(ctx, "memory_store", map[string]any{"content": "   "})
	assert.EqualError(t, err, "content required")

	out, err = reg.Execute(ctx, "memory_recent", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, memory.DefaultRecentDays, fm.days)
	assert.Equal(t, "- (2026-10-16, chaotic) upgraded the cluster\n- (2026-10-17, neutral) cluster was fine", out)

	fm.entries = nil
	out, err = reg.Execute(ctx, "memory_recent", map[string]any{"days": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, fm.days)
	assert.Equal(t, NoMemories, out)
}
