package llm

import "fmt"

// NewClient builds a Client for the named provider.
func NewClient(provider, model, ollamaURL, openAIBaseURL, openAIKey string) (Client, error) {
	switch provider {
	case "ollama":
		return NewOllamaClient(ollamaURL, model)
	case "openai":
		return NewOpenAICompatibleClient(openAIKey, openAIBaseURL, model)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", provider)
	}
}
