package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/desai/llm"
	_ "github.com/c360studio/desai/llm/providers" // Register providers
	"github.com/c360studio/desai/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = llm.RetryConfig{
	MaxAttempts:       3,
	BackoffBase:       time.Millisecond,
	BackoffMultiplier: 1.0,
	MaxBackoff:        5 * time.Millisecond,
}

// writeChat writes an OpenAI-compatible completion.
func writeChat(w http.ResponseWriter, modelName, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model": modelName,
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
	})
}

// webRegistry routes the web step to the given endpoints, in order.
func webRegistry(urls ...string) *model.Registry {
	caps := &model.CapabilityConfig{}
	endpoints := make(map[string]*model.EndpointConfig)
	for i, u := range urls {
		name := []string{"primary", "fallback", "third"}[i]
		if i == 0 {
			caps.Preferred = append(caps.Preferred, name)
		} else {
			caps.Fallback = append(caps.Fallback, name)
		}
		endpoints[name] = &model.EndpointConfig{Provider: "ollama", URL: u, Model: name + "-model"}
	}
	return model.NewRegistry(map[model.Capability]*model.CapabilityConfig{model.CapabilityWeb: caps}, endpoints)
}

func webRequest() llm.Request {
	return llm.Request{
		Capability: string(model.CapabilityWeb),
		Messages:   []llm.Message{{Role: "user", Content: "find solar installers"}},
		JSON:       true,
	}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "primary-model", body["model"])
		assert.Contains(t, body, "response_format")

		writeChat(w, "primary-model", `{"items": []}`)
	}))
	defer server.Close()

	client := llm.NewClient(webRegistry(server.URL))
	resp, err := client.Complete(context.Background(), webRequest())

	require.NoError(t, err)
	assert.Equal(t, `{"items": []}`, resp.Content)
	assert.Equal(t, "primary-model", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
}

func TestClient_Complete_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Service temporarily unavailable"))
			return
		}
		writeChat(w, "primary-model", "Success after retries")
	}))
	defer server.Close()

	client := llm.NewClient(webRegistry(server.URL), llm.WithRetryConfig(fastRetry))
	resp, err := client.Complete(context.Background(), webRequest())

	require.NoError(t, err)
	assert.Equal(t, "Success after retries", resp.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Complete_NoRetryOnFatalError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Invalid API key"))
	}))
	defer server.Close()

	client := llm.NewClient(webRegistry(server.URL), llm.WithRetryConfig(fastRetry))
	_, err := client.Complete(context.Background(), webRequest())

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Complete_Fallback(t *testing.T) {
	var primaryAttempts, fallbackAttempts atomic.Int32

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryAttempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackAttempts.Add(1)
		writeChat(w, "fallback-model", "From fallback")
	}))
	defer fallback.Close()

	registry := webRegistry(primary.URL, fallback.URL)
	client := llm.NewClient(registry, llm.WithRetryConfig(fastRetry.WithMaxAttempts(2)))

	resp, err := client.Complete(context.Background(), webRequest())

	require.NoError(t, err)
	assert.Equal(t, "From fallback", resp.Content)
	assert.Equal(t, int32(2), primaryAttempts.Load())
	assert.Equal(t, int32(1), fallbackAttempts.Load())

	health := registry.GetEndpointHealth("primary")
	require.NotNil(t, health)
	assert.Equal(t, 1, health.FailureCount)
}

func TestClient_Complete_GarbledBodyIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"choices": []}`))
			return
		}
		writeChat(w, "primary-model", "ok")
	}))
	defer server.Close()

	client := llm.NewClient(webRegistry(server.URL), llm.WithRetryConfig(fastRetry))
	resp, err := client.Complete(context.Background(), webRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_Complete_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer server.Close()

	client := llm.NewClient(webRegistry(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, webRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}

func TestClient_Complete_ValidationErrors(t *testing.T) {
	client := llm.NewClient(model.NewDefaultRegistry())

	tests := []struct {
		name    string
		req     llm.Request
		wantErr string
	}{
		{
			name:    "empty capability",
			req:     llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}},
			wantErr: "capability is required",
		},
		{
			name:    "no messages",
			req:     llm.Request{Capability: "web"},
			wantErr: "at least one message is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Complete(context.Background(), tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClient_Complete_RecordsCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChat(w, "primary-model", `{"items": [{"title": "A"}]}`)
	}))
	defer server.Close()

	store, err := llm.NewCallStore(t.TempDir())
	require.NoError(t, err)

	client := llm.NewClient(webRegistry(server.URL), llm.WithCallStore(store))
	resp, err := client.Complete(context.Background(), webRequest())
	require.NoError(t, err)

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, resp.RequestID, records[0].RequestID)
	assert.Equal(t, "web", records[0].Capability)
	assert.Equal(t, "ollama", records[0].Provider)
	assert.Equal(t, resp.Content, records[0].Response)
	assert.Empty(t, records[0].Error)
}
