package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// GroqProvider supports LLM generation via Groq's OpenAI-compatible API.
type GroqProvider struct {
	keyName string
	model   string
	chat    chatEndpoint
}

func NewGroqProvider(keyName string) *GroqProvider {
	model := os.Getenv("LITGROUND_GROQ_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "llama-3.1-8b-instant"
	}
	return &GroqProvider{
		keyName: keyName,
		model:   model,
		chat: chatEndpoint{
			name:   "groq",
			url:    "https://api.groq.com/openai/v1/chat/completions",
			apiKey: resolveKey("GROQ", keyName),
			client: &http.Client{Timeout: 60 * time.Second},
		},
	}
}

func (g *GroqProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "groq", Key: g.keyName, Model: g.model}
	if g.chat.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("groq key missing for alias %q", g.keyName)
	}
	text, err := g.chat.complete(ctx, chatPayload{Model: g.model, Messages: generateMessages(defaultSystemPrompt, req), Temperature: floatPtr(0)})
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}
