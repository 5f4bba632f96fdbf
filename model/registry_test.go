package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	caps := r.ListCapabilities()
	if len(caps) != len(Capabilities) {
		t.Errorf("expected %d capabilities, got %d", len(Capabilities), len(caps))
	}

	// Every step shares the default model, so there is one endpoint.
	if endpoints := r.ListEndpoints(); len(endpoints) != 1 || endpoints[0] != DefaultModel {
		t.Errorf("expected single endpoint %s, got %v", DefaultModel, endpoints)
	}

	ep := r.GetEndpoint(DefaultModel)
	if ep == nil || ep.Provider != "openai" {
		t.Fatalf("expected openai endpoint, got %+v", ep)
	}
}

func TestRegistryFromModels(t *testing.T) {
	r := RegistryFromModels(map[string]string{
		"search_gen":    "big",
		"search_filter": "small",
		"web":           "small",
		"custom_step":   "big",
		"postprocess":   "",
	}, "ollama", "http://localhost:11434/v1")

	tests := []struct {
		capability Capability
		expected   string
	}{
		{CapabilitySearchGen, "big"},
		{CapabilitySearchFilter, "small"},
		{CapabilityWeb, "small"},
		{Capability("custom_step"), "big"},
		{CapabilityPostprocess, DefaultModel}, // empty entries are skipped
	}
	for _, tt := range tests {
		if got := r.Resolve(tt.capability); got != tt.expected {
			t.Errorf("Resolve(%s) = %s, want %s", tt.capability, got, tt.expected)
		}
	}

	if n := len(r.ListEndpoints()); n != 2 {
		t.Errorf("expected 2 endpoints, got %d", n)
	}
	if ep := r.GetEndpoint("small"); ep == nil || ep.URL != "http://localhost:11434/v1" {
		t.Errorf("unexpected endpoint: %+v", ep)
	}
}

func TestGetFallbackChain(t *testing.T) {
	r := NewRegistry(map[Capability]*CapabilityConfig{
		CapabilityWeb: {Preferred: []string{"a", "b"}, Fallback: []string{"c"}},
	}, nil)

	chain := r.GetFallbackChain(CapabilityWeb)
	if strings.Join(chain, ",") != "a,b,c" {
		t.Errorf("unexpected chain %v", chain)
	}
	if chain := r.GetFallbackChain(CapabilitySchemaGen); len(chain) != 1 || chain[0] != DefaultModel {
		t.Errorf("expected default chain, got %v", chain)
	}
}

func TestParseCapability(t *testing.T) {
	if ParseCapability("web") != CapabilityWeb {
		t.Error("expected web to parse")
	}
	if ParseCapability("planning") != "" {
		t.Error("expected unknown capability to be empty")
	}
}

func TestRegistryMarshalJSON(t *testing.T) {
	data, err := json.Marshal(NewDefaultRegistry())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"search_gen"`) {
		t.Errorf("expected search_gen in %s", data)
	}
}

func TestCircuitBreaker(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 2, RecoveryTimeout: 50 * time.Millisecond})

	if r.GetEndpointHealth("m") != nil {
		t.Error("expected no health info before any requests")
	}

	r.MarkEndpointFailure("m")
	if !r.IsEndpointAvailable("m") {
		t.Error("expected endpoint available after 1 failure")
	}

	r.MarkEndpointFailure("m")
	if r.IsEndpointAvailable("m") {
		t.Error("expected circuit open after 2 failures")
	}

	time.Sleep(60 * time.Millisecond)
	if !r.IsEndpointAvailable("m") {
		t.Error("expected half-open after recovery timeout")
	}

	r.MarkEndpointSuccess("m")
	h := r.GetEndpointHealth("m")
	if h == nil || h.CircuitOpen || h.FailureCount != 0 {
		t.Errorf("expected closed circuit after success, got %+v", h)
	}

	r.ResetEndpointHealth("m")
	if r.GetEndpointHealth("m") != nil {
		t.Error("expected health cleared after reset")
	}
}

func TestGetAvailableFallbackChain(t *testing.T) {
	r := NewRegistry(map[Capability]*CapabilityConfig{
		CapabilityWeb: {Preferred: []string{"a"}, Fallback: []string{"b"}},
	}, nil)
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	r.MarkEndpointFailure("a")
	if chain := r.GetAvailableFallbackChain(CapabilityWeb); strings.Join(chain, ",") != "b" {
		t.Errorf("expected [b], got %v", chain)
	}

	r.MarkEndpointFailure("b")
	if chain := r.GetAvailableFallbackChain(CapabilityWeb); len(chain) != 2 {
		t.Errorf("expected full chain when all are down, got %v", chain)
	}
}
