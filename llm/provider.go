package llm

import (
	"net/http"
	"slices"
	"strings"
	"sync"
)

// Provider adapts the client to one vendor's chat API.
type Provider interface {
	// Name is the value used in llm.provider, e.g. "openai".
	Name() string

	// BuildURL returns the chat endpoint for a configured base URL.
	// An empty base URL selects the vendor default.
	BuildURL(baseURL string) string

	SetHeaders(req *http.Request)
	BuildRequestBody(model string, req Request) ([]byte, error)
	ParseResponse(body []byte, model string) (*Response, error)
}

var providers = struct {
	sync.RWMutex
	byName map[string]Provider
}{byName: make(map[string]Provider)}

// RegisterProvider makes p available under its lowercased name. Provider
// packages call it from init; registering a name twice panics.
func RegisterProvider(p Provider) {
	name := strings.ToLower(p.Name())

	providers.Lock()
	defer providers.Unlock()
	if _, dup := providers.byName[name]; dup {
		panic("llm: provider registered twice: " + name)
	}
	providers.byName[name] = p
}

// GetProvider returns the provider for name, ignoring case, or nil.
func GetProvider(name string) Provider {
	providers.RLock()
	defer providers.RUnlock()
	return providers.byName[strings.ToLower(strings.TrimSpace(name))]
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	providers.RLock()
	defer providers.RUnlock()

	names := make([]string, 0, len(providers.byName))
	for name := range providers.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
