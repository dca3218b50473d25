package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/claw/pkg/adapters/embedding"
	"github.com/wilhg/claw/pkg/adapters/embedding/fake"
	"github.com/wilhg/claw/pkg/adapters/llm/llmtest"
	vsmemory "github.com/wilhg/claw/pkg/adapters/vectorstore/memory"
	"github.com/wilhg/claw/pkg/model/modeltest"
	"github.com/wilhg/claw/pkg/store"
	"github.com/wilhg/claw/pkg/store/sqlstore"
)

var testNow = time.Date(2026, 10, 14, 16, 0, 0, 0, time.UTC) // Wednesday, coding hours

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	st, err := sqlstore.Open(ctx, "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	return st
}

func seed(t *testing.T, st store.Store, session string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_, err := st.AppendMessage(context.Background(), store.Message{
			SessionID: session, Role: role, Content: fmt.Sprintf("message %d", i),
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
}

func newManager(t *testing.T, opts ...Option) (*Manager, *sqlstore.Store, *modeltest.Fixture) {
	t.Helper()
	st := openStore(t)
	fx := modeltest.New(t)
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(st, fx.Router, opts...), st, fx
}

func TestCompressSession_BelowThresholdIsNoop(t *testing.T) {
	m, st, fx := newManager(t)
	ctx := context.Background()
	seed(t, st, "s1", 50, testNow.Add(-time.Hour))

	c, err := m.CompressSession(ctx, "s1", false)
	require.NoError(t, err)
	assert.Nil(t, c)

	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, msgs, 50)
	_, err = m.SessionSummary(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, fx.Groq.Calls())
}

func TestCompressSession_EmptySession(t *testing.T) {
	m, _, fx := newManager(t)
	c, err := m.CompressSession(context.Background(), "nobody", true)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, fx.Groq.Calls())
}

func TestCompressSession_Forced(t *testing.T) {
	m, st, fx := newManager(t)
	ctx := context.Background()
	start := testNow.Add(-time.Hour)
	seed(t, st, "s1", 3, start)
	_, err := st.AppendMessage(ctx, store.Message{SessionID: "s1", Role: "user", Content: "hi", Metadata: map[string]any{"mood": "chaotic"}, CreatedAt: testNow.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = st.AppendMessage(ctx, store.Message{SessionID: "s1", Role: "assistant", Content: "yo", Metadata: map[string]any{"agentLoop": false}, CreatedAt: testNow.Add(-30 * time.Second)})
	require.NoError(t, err)
	fx.Groq.Push(llmtest.Text("SUMMARY:\n- greetings"))

	c, err := m.CompressSession(ctx, "s1", true)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 5, c.Messages)
	assert.Equal(t, "SUMMARY:\n- greetings", c.Summary)

	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	summary, err := m.SessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "## Session Summary (5 messages)\n\nSUMMARY:\n- greetings", summary)

	e, err := st.LatestTagged(ctx, TagSummary, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"summary", "s1", "auto-compressed"}, e.Tags)
	assert.Equal(t, MoodCompressed, e.Mood)
	assert.Equal(t, float64(5), e.Metadata["originalMessageCount"])
	dr, _ := e.Metadata["dateRange"].(map[string]any)
	assert.Equal(t, start.UTC().Format(time.RFC3339Nano), dr["from"])

	calls := fx.Groq.Calls()
	require.Len(t, calls, 1)
	p := calls[0].Messages[0].Content
	assert.Contains(t, p, "Conversation:\nuser: message 0\nassistant: message 1\nuser: message 2\nuser [chaotic]: hi\nassistant [neutral]: yo\n")
	assert.Empty(t, fx.OpenAI.Calls(), "compression stays on the free tier")
}

func TestCompressSession_SummaryForSessionWithMarkupCharacters(t *testing.T) {
	m, st, fx := newManager(t)
	ctx := context.Background()
	const session = "a&b<c>"
	seed(t, st, session, 3, testNow.Add(-time.Hour))
	fx.Groq.Push(llmtest.Text("SUMMARY:\n- escaped"))

	c, err := m.CompressSession(ctx, session, true)
	require.NoError(t, err)
	require.NotNil(t, c)

	msgs, err := st.ListMessages(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	summary, err := m.SessionSummary(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, "## Session Summary (3 messages)\n\nSUMMARY:\n- escaped", summary)
}

func TestCompressSession_ThresholdReached(t *testing.T) {
	m, st, fx := newManager(t, WithThreshold(10))
	seed(t, st, "s1", 10, testNow.Add(-time.Hour))
	fx.Groq.Push(llmtest.Text("ok"))
	c, err := m.CompressSession(context.Background(), "s1", false)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestCompressSession_TranscriptIsTruncated(t *testing.T) {
	m, st, fx := newManager(t, WithCharBudget(20))
	seed(t, st, "s1", 5, testNow.Add(-time.Hour))
	fx.Groq.Push(llmtest.Text("ok"))
	_, err := m.CompressSession(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.Contains(t, fx.Groq.Calls()[0].Messages[0].Content, "Conversation:\nuser: message 0\nassi\n\nRespond")
}

func TestCompressSession_SummarizerFailureKeepsMessages(t *testing.T) {
	m, st, fx := newManager(t)
	ctx := context.Background()
	seed(t, st, "s1", 5, testNow.Add(-time.Hour))
	fx.Groq.Push(llmtest.Fail(errors.New("groq down")))

	c, err := m.CompressSession(ctx, "s1", true)
	require.Error(t, err)
	assert.Nil(t, c)
	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
	_, err = m.SessionSummary(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPeriodicCompression(t *testing.T) {
	m, st, fx := newManager(t)
	ctx := context.Background()
	old := testNow.AddDate(0, 0, -10)
	seed(t, st, "old-big", 25, old)
	seed(t, st, "old-small", 20, old)
	seed(t, st, "fresh-big", 25, testNow.Add(-time.Hour))
	seed(t, st, "old-broken", 21, old.Add(time.Hour))
	// old-big sweeps first (oldest activity), then old-broken.
	fx.Groq.Push(llmtest.Text("summary of old-big"), llmtest.Fail(errors.New("boom")))

	n, err := m.PeriodicCompression(ctx, 7, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left := func(id string) int {
		msgs, err := st.ListMessages(ctx, id)
		require.NoError(t, err)
		return len(msgs)
	}
	assert.Equal(t, 0, left("old-big"))
	assert.Equal(t, 20, left("old-small"))
	assert.Equal(t, 25, left("fresh-big"))
	assert.Equal(t, 21, left("old-broken"))
	assert.Len(t, fx.Groq.Calls(), 2)
}

func TestWrite_DefaultsMoodAndTags(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()

	e, err := m.Write(ctx, "refactored the router", WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, MoodCoding, e.Mood)
	assert.Equal(t, []string{MoodCoding}, e.Tags)
	assert.Nil(t, e.Embedding)

	e2, err := m.Write(ctx, "soup", WriteOptions{Mood: MoodLunchBreak, Tags: []string{"lunch", "food"}})
	require.NoError(t, err)
	got, err := st.GetMemories(ctx, []string{e.ID, e2.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"lunch", "food"}, got[e2.ID].Tags)
}

type failingEmbedder struct{}

func (failingEmbedder) Name() string { return "failing" }
func (failingEmbedder) Embed(context.Context, []string, map[string]any) ([]embedding.Vector, error) {
	return nil, errors.New("no embeddings today")
}

func TestWrite_EmbeddingFailureStoresWithoutVector(t *testing.T) {
	vs := vsmemory.New()
	m, _, _ := newManager(t, WithVectors(vs), WithEmbedder(failingEmbedder{}))
	e, err := m.Write(context.Background(), "hello", WriteOptions{})
	require.NoError(t, err)
	assert.Nil(t, e.Embedding)
	assert.Equal(t, 0, vs.Len(VectorNamespace))
}

func TestWrite_DimensionMismatchDropsVector(t *testing.T) {
	vs := vsmemory.New()
	m, _, _ := newManager(t, WithVectors(vs), WithEmbedder(fake.New(16)))
	e, err := m.Write(context.Background(), "hello", WriteOptions{})
	require.NoError(t, err)
	assert.Nil(t, e.Embedding)

	m2, _, _ := newManager(t, WithVectors(vs), WithEmbedder(fake.New(16)), WithDimensions(16))
	e, err = m2.Write(context.Background(), "hello", WriteOptions{})
	require.NoError(t, err)
	assert.Len(t, e.Embedding, 16)
	assert.Equal(t, 1, vs.Len(VectorNamespace))
}

func unit(v ...float32) []float32 { return v }

func TestHybridSearch_LexicalFirstThenVector(t *testing.T) {
	vs := vsmemory.New()
	m, _, _ := newManager(t, WithVectors(vs), WithDimensions(2))
	ctx := context.Background()

	query := unit(1, 0)
	// A: lexical hit, far in vector space (cosine distance 0.9).
	a := store.MemoryEntry{ID: "A", Content: "a nasty bug", CreatedAt: testNow, Mood: MoodCoding, Tags: []string{"bug"}, Embedding: unit(0.1, 0.99498744)}
	// B: no lexical hit, close in vector space (cosine distance 0.1).
	b := store.MemoryEntry{ID: "B", Content: "parser crashed on empty input", CreatedAt: testNow, Mood: MoodCoding, Tags: []string{"crash"}, Embedding: unit(0.9, 0.43588989)}
	require.NoError(t, m.insert(ctx, a))
	require.NoError(t, m.insert(ctx, b))

	got, err := m.HybridSearch(ctx, "bug", query, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"A", "B"}, []string{got[0].ID, got[1].ID})

	got, err = m.HybridSearch(ctx, "bug", query, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].ID)

	got, err = m.HybridSearch(ctx, "bug", nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "no embedding means lexical only")
}

func TestSearch_WithEmbedderAndHydrate(t *testing.T) {
	st := openStore(t)
	fx := modeltest.New(t)
	ctx := context.Background()
	emb := fake.New(32)
	writer := New(st, fx.Router, WithVectors(vsmemory.New()), WithEmbedder(emb), WithDimensions(32), WithClock(func() time.Time { return testNow }))
	_, err := writer.Write(ctx, "kubernetes cluster upgrade notes", WriteOptions{})
	require.NoError(t, err)
	_, err = writer.Write(ctx, "grocery list: eggs milk", WriteOptions{})
	require.NoError(t, err)

	// A fresh process: empty vector index, rebuilt from the database.
	vs := vsmemory.New()
	reader := New(st, fx.Router, WithVectors(vs), WithEmbedder(emb), WithDimensions(32))
	n, err := reader.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Not a substring of either entry: only the vector half can find it.
	got, err := reader.Search(ctx, "upgrade cluster", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kubernetes cluster upgrade notes", got[0].Content)
}

func TestTranscript(t *testing.T) {
	got := transcript([]store.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b", Metadata: map[string]any{"mood": "sarcastic"}},
	})
	assert.Equal(t, "user: a\nassistant [sarcastic]: b", got)
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestRecent(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, st.InsertMemory(ctx, store.MemoryEntry{ID: "old", Content: "last month", CreatedAt: testNow.AddDate(0, 0, -30), Mood: MoodNeutral}))
	require.NoError(t, st.InsertMemory(ctx, store.MemoryEntry{ID: "week", Content: "few days ago", CreatedAt: testNow.AddDate(0, 0, -3), Mood: MoodNeutral}))
	require.NoError(t, st.InsertMemory(ctx, store.MemoryEntry{ID: "today", Content: "this morning", CreatedAt: testNow.Add(-time.Hour), Mood: MoodNeutral}))

	got, err := m.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "today", got[0].ID)
	assert.Equal(t, "week", got[1].ID)

	got, err = m.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "today", got[0].ID)

	got, err = m.Recent(ctx, 60)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
