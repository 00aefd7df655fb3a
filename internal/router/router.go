// Package router picks the adapter for a normalized provider.
package router

import (
	"fmt"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/felipepmaragno/keyring-gateway/internal/provider"
)

type Router struct {
	openai    provider.Adapter
	anthropic provider.Adapter
}

func New(openai, anthropic provider.Adapter) *Router {
	return &Router{
		openai:    openai,
		anthropic: anthropic,
	}
}

// Select returns the adapter for id. Providers that normalize but have no
// adapter (azure-openai) and unknown names fail with ErrUnsupportedProvider.
func (r *Router) Select(id domain.ProviderID) (provider.Adapter, error) {
	var adapter provider.Adapter

	switch id {
	case domain.ProviderOpenAI:
		adapter = r.openai
	case domain.ProviderAnthropic:
		adapter = r.anthropic
	case domain.ProviderAzureOpenAI:
		// normalized, no adapter yet
	}

	if adapter == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, id)
	}
	return adapter, nil
}

// ProviderInfo describes one dispatchable provider.
type ProviderInfo struct {
	ID      domain.ProviderID `json:"id"`
	Aliases []string          `json:"aliases"`
}

func (r *Router) ListProviders() []ProviderInfo {
	var out []ProviderInfo
	for _, id := range []domain.ProviderID{domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderAzureOpenAI} {
		if _, err := r.Select(id); err != nil {
			continue
		}
		out = append(out, ProviderInfo{ID: id, Aliases: domain.ProviderAliases[id]})
	}
	return out
}
