package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider streams completions through the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	hasKey bool
}

func NewAnthropicProvider(apiKey, defaultModel string) *AnthropicProvider {
	if strings.TrimSpace(defaultModel) == "" || strings.Contains(defaultModel, "/") {
		defaultModel = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
		hasKey: strings.TrimSpace(apiKey) != "",
	}
}

func (a *AnthropicProvider) params(req CompletionRequest) anthropic.MessageNewParams {
	model := strings.TrimPrefix(strings.TrimSpace(req.Model), "anthropic/")
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		p.System = system
	}
	if req.Temperature > 0 {
		p.Temperature = anthropic.Float(req.Temperature)
	}
	return p
}

func (a *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) (ProviderInfo, error) {
	params := a.params(req)
	info := ProviderInfo{Name: "anthropic", Model: string(params.Model)}
	if !a.hasKey {
		return info, fmt.Errorf("anthropic key missing")
	}
	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()
	for stream.Next() {
		event := stream.Current()
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		if err := onDelta(delta.Text); err != nil {
			return info, err
		}
	}
	if err := stream.Err(); err != nil {
		return info, fmt.Errorf("anthropic stream failed: %w", err)
	}
	return info, nil
}

func (a *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	params := a.params(CompletionRequest{Messages: generateMessages(defaultSystemPrompt, req), MaxTokens: 1024})
	info := ProviderInfo{Name: "anthropic", Model: string(params.Model)}
	if !a.hasKey {
		return GenerateResponse{}, info, fmt.Errorf("anthropic key missing")
	}
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("anthropic generate failed: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return GenerateResponse{}, info, fmt.Errorf("anthropic returned no text")
	}
	return GenerateResponse{Text: b.String()}, info, nil
}
