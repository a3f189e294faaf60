package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/model"
)

// Family describes one caller-facing model id (e.g. "onekey-docs") exposed by
// GET /v1/models, together with the backend that actually serves it.
type Family struct {
	ID            string
	Backend       Backend
	BaseURL       string
	UpstreamModel string
}

// Registry resolves a caller-facing model id to a constructed
// model.ToolCallingChatModel. It is built once at startup from configuration
// and treated as immutable thereafter — concurrent requests only read it.
type Registry struct {
	mu       sync.RWMutex
	families map[string]Family
	models   map[string]model.ToolCallingChatModel
	order    []string
}

// NewRegistry constructs chat models for every family using cfg as the
// shared backend credential source, and the family's own Backend/
// UpstreamModel overriding cfg.Backend/model name. A family whose model
// fails to construct makes NewRegistry fail fast — a broken backend
// configuration should surface at startup, not on the first request.
func NewRegistry(ctx context.Context, base *Config, families []Family) (*Registry, error) {
	r := &Registry{
		families: make(map[string]Family, len(families)),
		models:   make(map[string]model.ToolCallingChatModel, len(families)),
	}
	for _, f := range families {
		cfg := *base
		cfg.Backend = f.Backend
		applyUpstreamModel(&cfg, f)

		m, err := New(ctx, &cfg)
		if err != nil {
			return nil, fmt.Errorf("provider: registry: family %q: %w", f.ID, err)
		}
		r.families[f.ID] = f
		r.models[f.ID] = m
		r.order = append(r.order, f.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

// applyUpstreamModel overrides the resolved backend's model name with the
// family's explicit upstream model, when given.
func applyUpstreamModel(cfg *Config, f Family) {
	if f.UpstreamModel == "" {
		return
	}
	switch f.Backend {
	case BackendOllama:
		cfg.Ollama.Model = f.UpstreamModel
	case BackendOpenAI:
		cfg.OpenAI.Model = f.UpstreamModel
	case BackendAzure:
		cfg.AzureOpenAI.Deployment = f.UpstreamModel
	case BackendBedrock:
		cfg.Bedrock.ModelID = f.UpstreamModel
	case BackendGemini:
		cfg.Gemini.Model = f.UpstreamModel
	}
	if f.BaseURL != "" && f.Backend == BackendOllama {
		cfg.Ollama.Host = f.BaseURL
	}
}

// Resolve returns the chat model and metadata for a caller-facing model id.
func (r *Registry) Resolve(id string) (model.ToolCallingChatModel, Family, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, Family{}, false
	}
	return m, r.families[id], true
}

// List returns every registered family id in sorted order, for GET /v1/models.
func (r *Registry) List() []Family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Family, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.families[id])
	}
	return out
}
