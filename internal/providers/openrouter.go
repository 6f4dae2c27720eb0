package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type OpenRouterConfig struct {
	BaseURL string
	APIKey  string
	Referer string
	Title   string
}

// OpenRouterProvider streams chat completions from any model routed by OpenRouter.
type OpenRouterProvider struct {
	chat  chatEndpoint
	model string
}

func NewOpenRouterProvider(cfg OpenRouterConfig, defaultModel string) *OpenRouterProvider {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		model: defaultModel,
		chat: chatEndpoint{
			name:   "openrouter",
			url:    base + "/chat/completions",
			apiKey: cfg.APIKey,
			headers: map[string]string{
				"HTTP-Referer": cfg.Referer,
				"X-Title":      cfg.Title,
			},
			// long reviews stream for minutes; callers bound them with ctx
			client: &http.Client{Timeout: 10 * time.Minute},
		},
	}
}

func (o *OpenRouterProvider) Stream(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) (ProviderInfo, error) {
	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = o.model
	}
	info := ProviderInfo{Name: "openrouter", Model: model}
	if o.chat.apiKey == "" {
		return info, fmt.Errorf("openrouter key missing")
	}
	err := o.chat.stream(ctx, chatPayload{
		Model:       model,
		Messages:    req.Messages,
		Temperature: floatPtr(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        floatPtr(1),
	}, onDelta)
	return info, err
}

func (o *OpenRouterProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "openrouter", Model: o.model}
	if o.chat.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("openrouter key missing")
	}
	text, err := o.chat.complete(ctx, chatPayload{Model: o.model, Messages: generateMessages(defaultSystemPrompt, req), Temperature: floatPtr(0)})
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}
