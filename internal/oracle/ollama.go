package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaGenerator calls a local or remote Ollama server.
type OllamaGenerator struct {
	client      *api.Client
	model       string
	temperature float32
}

// NewOllamaGenerator creates an Ollama backend.
func NewOllamaGenerator(baseURL, model string, temperature float32) (*OllamaGenerator, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", baseURL, err)
	}
	return &OllamaGenerator{
		client:      api.NewClient(u, &http.Client{}),
		model:       model,
		temperature: temperature,
	}, nil
}

func (o *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream: Ptr(false),
		Options: map[string]interface{}{
			"temperature": o.temperature,
		},
	}

	var out strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return out.String(), nil
}

func (o *OllamaGenerator) Provider() string { return "ollama" }

func (o *OllamaGenerator) Model() string { return o.model }
