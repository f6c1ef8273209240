package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"toolchat/internal/domain"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiProvider calls the Google Gemini generateContent API.
type GeminiProvider struct {
	endpoint
	apiKey  string
	model   string
	baseURL string
}

// NewGeminiProvider returns a Gemini-backed LLMProvider.
func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{endpoint: newEndpoint("gemini"), apiKey: apiKey, model: model, baseURL: geminiAPIBase}
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  geminiGeneration `json:"generationConfig"`
}

type geminiGeneration struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// geminiRole maps chat roles onto Gemini's user/model pair.
func geminiRole(r domain.MessageRole) string {
	if r == domain.RoleAssistant {
		return "model"
	}
	return "user"
}

// Complete implements domain.LLMProvider. JSON mode asks for an
// application/json response.
func (p *GeminiProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	body := geminiRequest{
		GenerationConfig: geminiGeneration{Temperature: req.Temperature, MaxOutputTokens: req.MaxTokens},
	}
	if req.JSONMode {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if sys := req.SystemPrompt(); sys != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}
	for _, m := range req.Conversation() {
		body.Contents = append(body.Contents, geminiContent{Role: geminiRole(m.Role), Parts: []geminiPart{{Text: m.Content}}})
	}
	target := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, url.PathEscape(modelFor(req, p.model)), url.QueryEscape(p.apiKey))
	var out geminiResponse
	if err := p.post(ctx, target, nil, body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("%s: no candidates in response", p.name)
	}
	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

var _ domain.LLMProvider = (*GeminiProvider)(nil)
