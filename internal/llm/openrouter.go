package llm

// NewOpenRouterProvider returns an OpenRouter-backed LLMProvider. OpenRouter
// speaks the OpenAI chat completions protocol, so it reuses OpenAIProvider.
func NewOpenRouterProvider(apiKey, model string) *OpenAIProvider {
	p := NewOpenAIProvider(apiKey, model)
	p.baseURL = "https://openrouter.ai/api/v1/chat/completions"
	p.name = "openrouter"
	return p
}
