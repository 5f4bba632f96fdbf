// Package model provides step-based model selection for the search pipeline.
// Each pipeline step names a capability and the registry resolves it to an
// ordered chain of model endpoints.
package model

// Capability identifies the pipeline step a model call serves.
type Capability string

const (
	// CapabilitySearchGen proposes candidate search tasks.
	CapabilitySearchGen Capability = "search_gen"

	// CapabilitySearchFilter picks the most promising candidates.
	CapabilitySearchFilter Capability = "search_filter"

	// CapabilitySchemaGen infers output columns from the request.
	CapabilitySchemaGen Capability = "schema_gen"

	// CapabilityWeb runs a search query and returns result items.
	CapabilityWeb Capability = "web"

	// CapabilityPostprocess cleans up the final result set.
	CapabilityPostprocess Capability = "postprocess"
)

// Capabilities lists every known capability.
var Capabilities = []Capability{
	CapabilitySearchGen,
	CapabilitySearchFilter,
	CapabilitySchemaGen,
	CapabilityWeb,
	CapabilityPostprocess,
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilitySearchGen, CapabilitySearchFilter, CapabilitySchemaGen, CapabilityWeb, CapabilityPostprocess:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
