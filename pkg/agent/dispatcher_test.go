package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/adapters/llm/llmtest"
	"github.com/wilhg/claw/pkg/errmodel"
	"github.com/wilhg/claw/pkg/model/modeltest"
	"github.com/wilhg/claw/pkg/store"
	"github.com/wilhg/claw/pkg/toolrouter"
)

type fakeSessions struct {
	mu   sync.Mutex
	msgs []store.Message
}

func (f *fakeSessions) Messages(_ context.Context, sessionID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Message
	for _, m := range f.msgs {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSessions) AppendMessage(_ context.Context, m store.Message) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return m, nil
}

func newDispatcher(t *testing.T, sessions Sessions) (*Dispatcher, *modeltest.Fixture) {
	t.Helper()
	fx := modeltest.New(t)
	tools := testTools(t)
	var opts []DispatcherOption
	if sessions != nil {
		opts = append(opts, WithSessions(sessions))
	}
	return NewDispatcher(toolrouter.New(fx.Router, tools), NewLoop(fx.Router, tools), fx.Router, opts...), fx
}

func TestHandle_TrustedSelectionRunsAgentLoop(t *testing.T) {
	d, fx := newDispatcher(t, nil)
	fx.Groq.Push(llmtest.Text(`{"tool":"echo","args":{"text":"hey"},"reasoning":"asked to echo","confidence":0.61}`))
	fx.OpenAI.Push(llmtest.Text(`{"action":"respond","result":"Echoed: hey"}`))

	reply, err := d.Handle(context.Background(), Request{Input: "echo hey"})
	require.NoError(t, err)
	assert.True(t, reply.AgentLoop)
	assert.Equal(t, "Echoed: hey", reply.Text)
	require.NotNil(t, reply.Selection)
	assert.Equal(t, "echo", reply.Selection.Tool)
	require.Len(t, reply.Steps, 2)
	assert.Equal(t, "hey", reply.Steps[0].Result)
	assert.Equal(t, "Echoed: hey", reply.Steps[1].Result)
	assert.Len(t, fx.Groq.Calls(), 1, "only the tool router ran on the free tier")
}

func TestHandle_ThresholdIsExclusive(t *testing.T) {
	d, fx := newDispatcher(t, nil)
	fx.Groq.Push(
		llmtest.Text(`{"tool":"echo","args":{"text":"hey"},"confidence":0.6}`),
		llmtest.Text("Just chatting."),
	)

	reply, err := d.Handle(context.Background(), Request{Input: "echo hey", Personality: "chaotic"})
	require.NoError(t, err)
	assert.False(t, reply.AgentLoop)
	assert.Equal(t, "Just chatting.", reply.Text)
	assert.Empty(t, fx.OpenAI.Calls())

	calls := fx.Groq.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "echo hey", calls[1].Messages[0].Content)
	assert.Contains(t, calls[1].System, "questionable life choices")
}

func TestHandle_DirectPathStreamsWithHistory(t *testing.T) {
	sessions := &fakeSessions{msgs: []store.Message{
		{SessionID: "s1", Role: "user", Content: "earlier question"},
		{SessionID: "s1", Role: "system", Content: "[Compressed Memory] old"},
		{SessionID: "s1", Role: "assistant", Content: "earlier answer"},
		{SessionID: "other", Role: "user", Content: "not mine"},
	}}
	d, fx := newDispatcher(t, sessions)
	fx.Groq.Push(llmtest.Text(toolrouter.NoTool), llmtest.Text("streamed reply here"))

	var chunks []string
	reply, err := d.Handle(context.Background(), Request{
		Input:     "and now?",
		SessionID: "s1",
		OnChunk:   func(c string) { chunks = append(chunks, c) },
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed reply here", reply.Text)
	assert.Equal(t, "streamed reply here", strings.Join(chunks, ""))
	assert.Greater(t, len(chunks), 1)

	direct := fx.Groq.Calls()[1]
	assert.True(t, direct.Stream)
	require.Len(t, direct.Messages, 3)
	assert.Equal(t, []string{"earlier question", "earlier answer", "and now?"},
		[]string{direct.Messages[0].Content, direct.Messages[1].Content, direct.Messages[2].Content})

	all, _ := sessions.Messages(context.Background(), "s1")
	require.Len(t, all, 5)
	assert.Equal(t, "user", all[3].Role)
	assert.Equal(t, "and now?", all[3].Content)
	assert.Equal(t, "assistant", all[4].Role)
	assert.Equal(t, "streamed reply here", all[4].Content)
	assert.Equal(t, map[string]any{"agentLoop": false}, all[4].Metadata)
}

func TestHandle_RecordsAgentExchange(t *testing.T) {
	sessions := &fakeSessions{}
	d, fx := newDispatcher(t, sessions)
	fx.Groq.Push(llmtest.Text(`{"tool":"echo","args":{"text":"x"},"confidence":0.9}`))
	fx.OpenAI.Push(llmtest.Text(`{"action":"respond","result":"done"}`))

	_, err := d.Handle(context.Background(), Request{Input: "echo x", SessionID: "s2", Personality: "sarcastic"})
	require.NoError(t, err)
	require.Len(t, sessions.msgs, 2)
	assert.Equal(t, map[string]any{"agentLoop": true, "mood": "sarcastic"}, sessions.msgs[1].Metadata)
}

func TestHandle_DirectPathFailure(t *testing.T) {
	sessions := &fakeSessions{}
	d, fx := newDispatcher(t, sessions)
	fx.Groq.Push(llmtest.Text(toolrouter.NoTool))

	_, err := d.Handle(context.Background(), Request{Input: "hi", SessionID: "s3"})
	require.Error(t, err)
	e := errmodel.From(err)
	assert.Equal(t, errmodel.CategoryModel, e.Category)
	assert.Equal(t, errmodel.CodeAllModelsFailed, e.Code)
	assert.Empty(t, sessions.msgs, "failed exchanges are not recorded")
}

func TestFitHistory(t *testing.T) {
	msgs := []llm.Message{llm.User("aaaa"), {Role: "assistant", Content: "bb"}, llm.User("cc")}
	count := func(s string) int { return len(s) }

	kept, dropped := fitHistory(msgs, 4, count)
	assert.Equal(t, msgs[1:], kept)
	assert.Equal(t, 1, dropped)

	kept, dropped = fitHistory(msgs, 1, count)
	assert.Empty(t, kept)
	assert.Equal(t, 3, dropped)

	kept, _ = fitHistory(msgs, 0, count)
	assert.Equal(t, msgs, kept)
}

func TestHandle_HistoryBudgetDropsOldest(t *testing.T) {
	sessions := &fakeSessions{msgs: []store.Message{
		{SessionID: "s", Role: "user", Content: "a very old question"},
		{SessionID: "s", Role: "assistant", Content: "old"},
		{SessionID: "s", Role: "user", Content: "new"},
	}}
	fx := modeltest.New(t)
	tools := testTools(t)
	d := NewDispatcher(toolrouter.New(fx.Router, tools), NewLoop(fx.Router, tools), fx.Router,
		WithSessions(sessions), WithHistoryBudget(6, func(s string) int { return len(s) }))
	fx.Groq.Push(llmtest.Text(toolrouter.NoTool), llmtest.Text("ok"))

	_, err := d.Handle(context.Background(), Request{Input: "next", SessionID: "s"})
	require.NoError(t, err)
	direct := fx.Groq.Calls()[1].Messages
	require.Len(t, direct, 3)
	assert.Equal(t, "old", direct[0].Content)
	assert.Equal(t, "next", direct[2].Content)
}
