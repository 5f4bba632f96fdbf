package model

// RegistryFromModels builds a registry from a step → model identifier map.
// Steps sharing a model share one endpoint (and its health state). Unknown
// step names are registered as-is so custom steps can be configured.
func RegistryFromModels(models map[string]string, provider, baseURL string) *Registry {
	r := NewRegistry(nil, nil)

	for step, modelID := range models {
		if modelID == "" {
			continue
		}
		c := ParseCapability(step)
		if c == "" {
			c = Capability(step)
		}
		r.capabilities[c] = &CapabilityConfig{
			Description: descriptions[c],
			Preferred:   []string{modelID},
		}
		if _, ok := r.endpoints[modelID]; !ok {
			r.endpoints[modelID] = &EndpointConfig{
				Provider: provider,
				URL:      baseURL,
				Model:    modelID,
			}
		}
	}

	return r
}
