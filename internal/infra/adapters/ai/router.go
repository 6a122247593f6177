// File: internal/infra/adapters/ai/router.go
package ai

import (
	"sort"
	"strings"

	"health-triage/internal/domain/ports/adapter"
)

// Router picks the provider serving a model name.
type Router struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.ModelProvider
	modelToProvider map[string]string // model -> provider ("openai" | "gemini" | "noop")
}

func NewRouter(
	defaultProvider string,
	byProvider map[string]adapter.ModelProvider,
	modelToProvider map[string]string,
) *Router {
	norm := make(map[string]adapter.ModelProvider, len(byProvider))
	for k, v := range byProvider {
		if v != nil {
			norm[strings.ToLower(k)] = v
		}
	}
	return &Router{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      norm,
		modelToProvider: modelToProvider,
	}
}

func (r *Router) providerName(model string) string {
	if p := r.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"):
		return "openai"
	default:
		return r.defaultProvider
	}
}

// Resolve returns the provider for model, falling back to the default and
// then to the first registered provider by name. Nil means none configured.
func (r *Router) Resolve(model string) adapter.ModelProvider {
	if p := r.byProvider[r.providerName(model)]; p != nil {
		return p
	}
	if p := r.byProvider[r.defaultProvider]; p != nil {
		return p
	}
	names := make([]string, 0, len(r.byProvider))
	for n := range r.byProvider {
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return r.byProvider[names[0]]
}

// Providers lists registered provider names.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.byProvider))
	for n := range r.byProvider {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
