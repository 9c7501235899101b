package provider

import (
	"context"
	"fmt"

	"helmsman/internal/config"
)

// New builds the provider the configuration names.
func New(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini needs an api key", ErrNotConfig)
		}
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	case "openai":
		if cfg.BaseURL != "" {
			return NewOpenAICompatProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai needs an api key or base url", ErrNotConfig)
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadBackend, cfg.Kind)
	}
}
