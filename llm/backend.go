package llm

import (
	"context"
	"fmt"

	"github.com/lexcodex/cellmate/framework"
)

// Backend is implemented by every provider client.
type Backend interface {
	Chat(ctx context.Context, req framework.ChatRequest) (string, error)
}

// Endpoints locates the provider servers.
type Endpoints struct {
	Ollama       string
	LMStudio     string
	GeminiAPIKey string
	GeminiURL    string
}

// Adapter routes requests to the backend named in the request options and
// implements framework.LanguageModel.
type Adapter struct {
	backends map[framework.Provider]Backend
}

// NewAdapter wires the three supported providers.
func NewAdapter(endpoints Endpoints, debug bool) *Adapter {
	ollama := NewClient(endpoints.Ollama, "")
	ollama.Debug = debug
	lmstudio := NewOpenAIClient(endpoints.LMStudio, "")
	lmstudio.Debug = debug
	gemini := NewGeminiClient(endpoints.GeminiAPIKey, "")
	gemini.Debug = debug
	if endpoints.GeminiURL != "" {
		gemini.BaseURL = endpoints.GeminiURL
	}
	return &Adapter{backends: map[framework.Provider]Backend{
		framework.ProviderOllama:   ollama,
		framework.ProviderLMStudio: lmstudio,
		framework.ProviderGemini:   gemini,
	}}
}

// NewAdapterWith builds an adapter from explicit backends.
func NewAdapterWith(backends map[framework.Provider]Backend) *Adapter {
	return &Adapter{backends: backends}
}

// Send implements framework.LanguageModel.
func (a *Adapter) Send(ctx context.Context, req framework.ChatRequest) (string, error) {
	provider := req.Options.Provider
	if provider == "" {
		provider = framework.ProviderOllama
	}
	backend, ok := a.backends[provider]
	if !ok {
		return "", &framework.BackendError{Provider: string(provider), Message: fmt.Sprintf("unsupported provider %q", provider)}
	}
	text, err := backend.Chat(ctx, req)
	if err != nil && ctx.Err() != nil {
		return "", framework.ErrCancelled
	}
	return text, err
}

// ParseProvider validates a provider name from flags or config.
func ParseProvider(name string) (framework.Provider, error) {
	switch p := framework.Provider(name); p {
	case framework.ProviderOllama, framework.ProviderLMStudio, framework.ProviderGemini:
		return p, nil
	case "":
		return framework.ProviderOllama, nil
	default:
		return "", fmt.Errorf("unknown provider %q (want ollama, lmstudio or gemini)", name)
	}
}
