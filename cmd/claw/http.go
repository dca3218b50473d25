package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/claw/pkg/agent"
	"github.com/wilhg/claw/pkg/errmodel"
	"github.com/wilhg/claw/pkg/memory"
	"github.com/wilhg/claw/pkg/store"
)

type chatRequest struct {
	Input       string `json:"input"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	Personality string `json:"personality"`
}

type chatStep struct {
	Action     agent.Action `json:"action"`
	Tool       string       `json:"tool,omitempty"`
	Result     string       `json:"result,omitempty"`
	Reflection string       `json:"reflection,omitempty"`
}

type chatResponse struct {
	Text       string     `json:"text"`
	AgentLoop  bool       `json:"agent_loop"`
	Tool       string     `json:"tool,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Steps      []chatStep `json:"steps,omitempty"`
}

type memoryResponse struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Mood      string    `json:"mood"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type compactionResponse struct {
	SessionID string `json:"session_id"`
	Summary   string `json:"summary"`
	MemoryID  string `json:"memory_id"`
	Messages  int    `json:"messages"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(msg string) error {
	return errmodel.Validation("invalid_request", msg, nil)
}

// buildMux exposes the dispatcher, memory and model health over HTTP.
func buildMux(a *app) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /models/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.models.HealthCheck(r.Context()))
	})

	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			errmodel.WriteHTTP(w, r, badRequest("invalid JSON body"))
			return
		}
		if req.Input == "" {
			errmodel.WriteHTTP(w, r, badRequest("input is required"))
			return
		}
		reply, err := a.dispatcher.Handle(r.Context(), agent.Request{
			Input:       req.Input,
			SessionID:   req.SessionID,
			UserID:      req.UserID,
			Personality: req.Personality,
		})
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		resp := chatResponse{Text: reply.Text, AgentLoop: reply.AgentLoop}
		if reply.Selection != nil {
			resp.Tool = reply.Selection.Tool
			resp.Confidence = reply.Selection.Confidence
		}
		for _, s := range reply.Steps {
			resp.Steps = append(resp.Steps, chatStep{Action: s.Action, Tool: s.Tool, Result: s.Result, Reflection: s.Reflection})
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("GET /memories", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		limit := memory.DefaultSearchLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				errmodel.WriteHTTP(w, r, badRequest("limit must be a positive integer"))
				return
			}
			limit = n
		}
		var (
			entries []store.MemoryEntry
			err     error
		)
		if q == "" {
			days := memory.DefaultRecentDays
			if s := r.URL.Query().Get("days"); s != "" {
				n, perr := strconv.Atoi(s)
				if perr != nil || n <= 0 {
					errmodel.WriteHTTP(w, r, badRequest("days must be a positive integer"))
					return
				}
				days = n
			}
			entries, err = a.memory.Recent(r.Context(), days)
		} else {
			entries, err = a.memory.Search(r.Context(), q, limit)
		}
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		out := make([]memoryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, memoryResponse{ID: e.ID, Content: e.Content, Mood: e.Mood, Tags: e.Tags, CreatedAt: e.CreatedAt})
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("POST /sessions/{id}/compress", func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") != "false"
		c, err := a.memory.CompressSession(r.Context(), r.PathValue("id"), force)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		if c == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, compactionResponse{SessionID: c.SessionID, Summary: c.Summary, MemoryID: c.Entry.ID, Messages: c.Messages})
	})

	mux.HandleFunc("GET /sessions/{id}/summary", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		s, err := a.memory.SessionSummary(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			errmodel.WriteHTTP(w, r, errmodel.Validation(errmodel.CodeNotFound, "no summary for session "+id, nil))
			return
		}
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "summary": s})
	})

	return otelhttp.NewHandler(mux, "claw")
}
