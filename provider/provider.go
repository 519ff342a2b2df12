package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mohammad-safakhou/glance/config"
	"github.com/mohammad-safakhou/glance/internal/telemetry"
	"github.com/mohammad-safakhou/glance/models"
	"github.com/mohammad-safakhou/glance/provider/anthropic"
	"github.com/mohammad-safakhou/glance/provider/openai"
	"github.com/mohammad-safakhou/glance/session/session_models"
)

// Provider hides the specific LLM backend behind the invoke boundary.
type Provider interface {
	Invoke(ctx context.Context, messages []session_models.Message, tools models.ToolContext) (models.Completion, error)
}

// NewProvider creates an LLM client from configuration. The provider carrying
// the routed analysis model wins (then the fallback model); otherwise the
// first provider in name order, so the choice never depends on map iteration.
func NewProvider(cfg config.LLMConfig, tele *telemetry.Telemetry) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("no LLM providers configured")
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	name := names[0]
	for _, routed := range []string{cfg.Routing.Analysis, cfg.Routing.Fallback} {
		if routed == "" {
			continue
		}
		if picked, ok := providerWithModel(cfg.Providers, names, routed); ok {
			name = picked
			break
		}
	}

	p := cfg.Providers[name]
	model, ok := pickModel(p, cfg.Routing)
	if !ok || model.APIName == "" {
		return nil, fmt.Errorf("provider %s has no usable model", name)
	}
	switch p.Type {
	case "anthropic":
		return anthropic.NewClient(p.APIKey, p.BaseURL, model, p.Timeout, tele), nil
	case "openai":
		return openai.NewClient(p.APIKey, p.BaseURL, model, p.Timeout, tele), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type %q (provider %s)", p.Type, name)
	}
}

func providerWithModel(providers map[string]config.LLMProvider, names []string, model string) (string, bool) {
	for _, name := range names {
		if _, ok := providers[name].Models[model]; ok {
			return name, true
		}
	}
	return "", false
}

// pickModel resolves the routed analysis model, then the fallback, then the
// provider's first model in name order.
func pickModel(p config.LLMProvider, routing config.LLMRoutingConfig) (config.LLMModel, bool) {
	if m, ok := p.Models[routing.Analysis]; ok {
		return m, true
	}
	if m, ok := p.Models[routing.Fallback]; ok {
		return m, true
	}
	keys := make([]string, 0, len(p.Models))
	for k := range p.Models {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return config.LLMModel{}, false
	}
	sort.Strings(keys)
	return p.Models[keys[0]], true
}
