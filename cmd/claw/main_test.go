package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/claw/pkg/adapters/llm/llmtest"
	"github.com/wilhg/claw/pkg/config"
	"github.com/wilhg/claw/pkg/model"
	"github.com/wilhg/claw/pkg/prompt"
)

type fakes struct {
	groq, ollama, openai, anthropic *llmtest.Provider
}

func newTestApp(t *testing.T) (*app, *fakes) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.URL = "sqlite::memory:"
	cfg.Embedding.Provider = "fake"
	cfg.Embedding.Dimensions = 16
	cfg.Skills.Web = false

	f := &fakes{
		groq:      llmtest.New("groq", "mixtral-8x7b-32768"),
		ollama:    llmtest.New("ollama", "llama3.2"),
		openai:    llmtest.New("openai", "gpt-4o-mini"),
		anthropic: llmtest.New("anthropic", "claude-3-haiku-20240307"),
	}
	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		model.WithFactory("groq", f.groq.Factory()),
		model.WithFactory("ollama", f.ollama.Factory()),
		model.WithFactory("openai", f.openai.Factory()),
		model.WithFactory("anthropic", f.anthropic.Factory()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, f
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	if res.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res, out
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res
}

func TestHealthz(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(buildMux(a))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", string(b))

	var health map[string]bool
	getJSON(t, srv.URL+"/models/health", &health)
	assert.Len(t, health, 6)
	assert.True(t, health["mixtral-groq"])
}

func TestChat_DirectThenCompress(t *testing.T) {
	a, f := newTestApp(t)
	srv := httptest.NewServer(buildMux(a))
	defer srv.Close()

	f.groq.Push(llmtest.Text("NO_TOOL"), llmtest.Text("Hello, human."))
	res, out := postJSON(t, srv.URL+"/chat", `{"input":"hi","session_id":"s1","personality":"sarcastic"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Hello, human.", out["text"])
	assert.Equal(t, false, out["agent_loop"])

	msgs, err := a.memory.Messages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	f.groq.Push(llmtest.Text("User said hi."))
	res, out = postJSON(t, srv.URL+"/sessions/s1/compress", ``)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "User said hi.", out["summary"])
	assert.Equal(t, float64(2), out["messages"])

	var summary map[string]string
	res = getJSON(t, srv.URL+"/sessions/s1/summary", &summary)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "## Session Summary (2 messages)\n\nUser said hi.", summary["summary"])

	res, _ = postJSON(t, srv.URL+"/sessions/s1/compress", ``)
	assert.Equal(t, http.StatusNoContent, res.StatusCode, "nothing left to compress")

	var env map[string]any
	res = getJSON(t, srv.URL+"/sessions/nope/summary", &env)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", env["error"].(map[string]any)["code"])
}

func TestChat_AgentLoopStoresMemory(t *testing.T) {
	a, f := newTestApp(t)
	srv := httptest.NewServer(buildMux(a))
	defer srv.Close()

	f.groq.Push(llmtest.Text(`{"tool":"memory_store","args":{"content":"The user likes green tea"},"reasoning":"explicit request","confidence":0.9}`))
	f.openai.Push(llmtest.Text(`{"action":"respond","result":"Noted."}`))

	res, out := postJSON(t, srv.URL+"/chat", `{"input":"remember that I like green tea"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Noted.", out["text"])
	assert.Equal(t, true, out["agent_loop"])
	assert.Equal(t, "memory_store", out["tool"])
	steps := out["steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, "respond", steps[1].(map[string]any)["action"])
	assert.True(t, strings.HasPrefix(steps[0].(map[string]any)["result"].(string), "Stored memory "))

	var mems []map[string]any
	res = getJSON(t, srv.URL+"/memories?q=green+tea", &mems)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotEmpty(t, mems)
	assert.Equal(t, "The user likes green tea", mems[0]["content"])

	var recent []map[string]any
	res = getJSON(t, srv.URL+"/memories?days=1", &recent)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, recent, 1)
	assert.Equal(t, "The user likes green tea", recent[0]["content"])

	res = getJSON(t, srv.URL+"/memories?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res = getJSON(t, srv.URL+"/memories?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestChat_Errors(t *testing.T) {
	a, f := newTestApp(t)
	srv := httptest.NewServer(buildMux(a))
	defer srv.Close()

	res, _ := postJSON(t, srv.URL+"/chat", `{"input":`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = postJSON(t, srv.URL+"/chat", `{"input":""}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	f.groq.Push(llmtest.Text("NO_TOOL"))
	res, out := postJSON(t, srv.URL+"/chat", `{"input":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "all_models_failed", out["error"].(map[string]any)["code"])
}

func TestAsk_StreamsDirectReply(t *testing.T) {
	a, f := newTestApp(t)
	f.groq.Push(llmtest.Text("NO_TOOL"), llmtest.Text("streamed answer text"))

	var out bytes.Buffer
	require.NoError(t, ask(context.Background(), a, options{ask: "hi", session: "cli"}, &out))
	assert.Equal(t, "streamed answer text\n", out.String())
	assert.True(t, f.groq.Calls()[1].Stream)
}

func TestLoadPrompts(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := loadPrompts(map[string]string{prompt.Compress: "Short summary:\n{{.Transcript}}"}, log)
	require.NoError(t, err)
	got, ok := p.Get(prompt.Compress, 0)
	require.True(t, ok)
	assert.Equal(t, 2, got.Version)

	_, err = loadPrompts(map[string]string{"greeting": "hi"}, log)
	assert.ErrorContains(t, err, `unknown prompt "greeting"`)

	_, err = loadPrompts(map[string]string{prompt.Plan: "{{.Broken"}, log)
	assert.ErrorIs(t, err, prompt.ErrLintFailed)
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, strings.NewReader(""), &out))
	assert.Equal(t, "claw dev (commit=, date=)\n", out.String())

	assert.Error(t, run(context.Background(), []string{"-bogus"}, strings.NewReader(""), io.Discard))
}

func TestRun_EvalPrompts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.json"),
		[]byte(`{"prompt":"compress","data":{"Transcript":"t"},"expect":{"contains":["SUMMARY:"]}}`), 0o644))
	t.Setenv("CLAW_LOG__OUTPUT", filepath.Join(dir, "claw.log"))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-eval-prompts", dir}, strings.NewReader(""), &out))
	assert.Equal(t, "1/1 fixtures passed (score 1.00)\n", out.String())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"),
		[]byte(`{"prompt":"compress","data":{"Transcript":"t"},"expect":{"contains":["NOPE"]}}`), 0o644))
	out.Reset()
	err := run(context.Background(), []string{"-eval-prompts", dir}, strings.NewReader(""), &out)
	assert.EqualError(t, err, "1 prompt fixtures failed")
	assert.Contains(t, out.String(), "FAIL bad: missing: NOPE")
}
