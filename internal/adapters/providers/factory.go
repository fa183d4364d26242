package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/manthysbr/librarian/internal/adapters/llm"
	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/ports"
)

// Build creates the chat model from app configuration. It hides
// local/remote provider selection from callers.
func Build(config *domain.AppConfig) (ports.ChatModel, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}

	mode := strings.ToLower(strings.TrimSpace(config.Providers.LLM.Mode))
	switch mode {
	case "", "local":
		baseURL := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
		if baseURL == "" {
			baseURL = strings.TrimSpace(config.Providers.LLM.LocalURL)
		}
		return llm.NewOllamaModel(normalizeOllamaBaseURL(baseURL), strings.TrimSpace(config.Providers.LLM.DefaultModel)), nil
	case "remote":
		if strings.TrimSpace(config.Providers.LLM.RemoteURL) == "" {
			return nil, fmt.Errorf("llm remote_url is required when mode=remote")
		}
		return llm.NewOpenAIModel(
			strings.TrimRight(strings.TrimSpace(config.Providers.LLM.RemoteURL), "/"),
			strings.TrimSpace(config.Providers.LLM.APIKey),
			strings.TrimSpace(config.Providers.LLM.DefaultModel),
		), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider mode: %s", config.Providers.LLM.Mode)
	}
}

func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1")
	}
	return trimmed
}
