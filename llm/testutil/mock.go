// Package testutil provides test utilities for code that depends on llm.Completer.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/desai/llm"
)

// MockLLMClient is a thread-safe llm.Completer for tests.
//
// Resolution order for each call:
//  1. Handler, if set
//  2. Err, if set
//  3. the next entry in ByCapability[req.Capability]
//  4. the next entry in Responses
//  5. an empty response
//
// Queues are consumed in order; the last entry repeats once a queue is drained.
//
//	mock := &testutil.MockLLMClient{
//	    ByCapability: map[string][]string{
//	        "search_gen":    {`{"searches": [{"query": "solar installers"}]}`},
//	        "search_filter": {`{"ids": ["g0001"]}`},
//	    },
//	}
type MockLLMClient struct {
	Handler      func(req llm.Request) (string, error)
	Err          error
	ByCapability map[string][]string
	Responses    []string

	mu       sync.Mutex
	requests []llm.Request
	capIndex map[string]int
	index    int
}

var _ llm.Completer = (*MockLLMClient)(nil)

// Complete implements llm.Completer.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		content, err := handler(req)
		if err != nil {
			return nil, err
		}
		return &llm.Response{Content: content, Model: "test-model"}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	if queue, ok := m.ByCapability[req.Capability]; ok && len(queue) > 0 {
		if m.capIndex == nil {
			m.capIndex = make(map[string]int)
		}
		i := m.capIndex[req.Capability]
		if i >= len(queue) {
			i = len(queue) - 1
		}
		m.capIndex[req.Capability] = i + 1
		return &llm.Response{Content: queue[i], Model: "test-model"}, nil
	}

	if len(m.Responses) > 0 {
		i := m.index
		if i >= len(m.Responses) {
			i = len(m.Responses) - 1
		}
		m.index = i + 1
		return &llm.Response{Content: m.Responses[i], Model: "test-model"}, nil
	}

	return &llm.Response{Model: "test-model"}, nil
}

// Requests returns a copy of every request received so far.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of Complete calls.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CallsFor returns how many calls were made for a capability.
func (m *MockLLMClient) CallsFor(capability string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Capability == capability {
			n++
		}
	}
	return n
}

// Reset clears captured requests and queue positions.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.capIndex = nil
	m.index = 0
}

// LastUserMessage returns the content of the final user message in req.
func LastUserMessage(req llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}
