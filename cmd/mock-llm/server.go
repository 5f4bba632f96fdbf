package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// recordedCall is one chat request as seen by the server.
type recordedCall struct {
	Fixture  string        `json:"fixture"`
	Model    string        `json:"model"`
	Call     int           `json:"call"`
	Messages []chatMessage `json:"messages"`
	JSON     bool          `json:"json"`
}

// server answers OpenAI-compatible chat requests from fixtures, keyed by
// the request model with an optional "mock-" prefix.
type server struct {
	fixtures fixtures
	logger   *slog.Logger

	total atomic.Int64

	mu     sync.Mutex
	counts map[string]int
	calls  []recordedCall
}

func newServer(f fixtures, logger *slog.Logger) *server {
	return &server{
		fixtures: f,
		logger:   logger,
		counts:   make(map[string]int),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChat)
	mux.HandleFunc("POST /chat/completions", s.handleChat)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	return mux
}

// resolve finds the fixture sequence for model.
func (s *server) resolve(model string) (string, []string, bool) {
	if seq, ok := s.fixtures[model]; ok {
		return model, seq, true
	}
	name := strings.TrimPrefix(model, "mock-")
	seq, ok := s.fixtures[name]
	return name, seq, ok
}

// next records the call and returns the response for it.
func (s *server) next(name string, seq []string, req chatRequest) (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[name]++
	n := s.counts[name]
	s.calls = append(s.calls, recordedCall{
		Fixture:  name,
		Model:    req.Model,
		Call:     n,
		Messages: req.Messages,
		JSON:     len(req.ResponseFormat) > 0,
	})
	if n > len(seq) {
		return seq[len(seq)-1], n
	}
	return seq[n-1], n
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	total := s.total.Add(1)

	name, seq, ok := s.resolve(req.Model)
	if !ok || len(seq) == 0 {
		s.logger.Warn("No fixture for model", "model", req.Model, "call", total)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	content, n := s.next(name, seq, req)
	s.logger.Info("Chat completion",
		"call", total,
		"model", req.Model,
		"fixture", name,
		"index", n,
		"sequence", len(seq),
		"messages", len(req.Messages))

	now := time.Now()
	writeJSON(w, chatResponse{
		ID:      fmt.Sprintf("mock-%d", now.UnixNano()),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: usageFor(req.Messages, content),
	})
}

// usageFor estimates token counts at four bytes per token.
func usageFor(msgs []chatMessage, content string) chatUsage {
	prompt := 0
	for _, m := range msgs {
		prompt += len(m.Content)
	}
	u := chatUsage{PromptTokens: prompt / 4, CompletionTokens: len(content) / 4}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := s.fixtures.names()
	data := make([]modelEntry, 0, len(names))
	for _, n := range names {
		data = append(data, modelEntry{ID: "mock-" + n, Object: "model", OwnedBy: "desai"})
	}
	writeJSON(w, map[string]any{"object": "list", "data": data})
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	counts := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"total_calls": s.total.Load(),
		"calls":       counts,
	})
}

// handleRequests returns recorded calls, optionally limited to one fixture
// with ?fixture=NAME.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	want := r.URL.Query().Get("fixture")

	s.mu.Lock()
	out := make([]recordedCall, 0, len(s.calls))
	for _, c := range s.calls {
		if want == "" || c.Fixture == want {
			out = append(out, c)
		}
	}
	s.mu.Unlock()

	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
