package oracle

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lucasnoah/refactorswarm/internal/config"
)

// Generator is a text-completion backend.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Provider() string
	Model() string
}

// systemPrompt is sent as the system role where the backend supports one.
const systemPrompt = "You are a meticulous senior Python engineer. Follow the response format exactly."

// NewGenerator builds the backend selected by cfg. lookup resolves
// environment variables; nil means os.LookupEnv.
func NewGenerator(ctx context.Context, cfg config.OracleConfig, lookup func(string) (string, bool)) (Generator, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	switch cfg.Provider {
	case "gemini":
		key := apiKey(lookup, cfg.APIKeyEnv, "GEMINI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("gemini: no API key in %s", cfg.APIKeyEnv)
		}
		return NewGeminiGenerator(ctx, key, cfg.Model, cfg.Temperature)
	case "openai":
		key := apiKey(lookup, cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("openai: no API key in %s", cfg.APIKeyEnv)
		}
		return NewOpenAIGenerator(key, cfg.BaseURL, cfg.Model, cfg.Temperature), nil
	case "ollama":
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}

func apiKey(lookup func(string) (string, bool), envs ...string) string {
	for _, env := range envs {
		if env == "" {
			continue
		}
		if v, ok := lookup(env); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
