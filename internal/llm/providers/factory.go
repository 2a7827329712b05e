package providers

import (
	"fmt"
	"net/http"

	"weavechat/internal/config"
	"weavechat/internal/llm"
	"weavechat/internal/llm/anthropic"
	"weavechat/internal/llm/google"
	openaillm "weavechat/internal/llm/openai"
)

// Build constructs an llm.Provider based on the configured provider name.
// - openai: uses the OpenAI client
// - local: uses the OpenAI client with completions API
// - anthropic: uses the Anthropic Messages API client
// - google: uses the Google Gemini client
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLMClient.Provider {
	case "", "openai":
		return openaillm.New(cfg.LLMClient.OpenAI, httpClient), nil
	case "local":
		oc := cfg.LLMClient.OpenAI
		oc.API = "completions"
		return openaillm.New(oc, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLMClient.Anthropic, httpClient), nil
	case "google":
		prov, err := google.New(cfg.LLMClient.Google, httpClient)
		if err != nil {
			return nil, err
		}
		return prov, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLMClient.Provider)
	}
}
