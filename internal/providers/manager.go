package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"litground/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
	completer      Completer
	embedDim       int
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{embedDim: cfg.EmbedDim}
	for _, ref := range ParseProviderList(cfg.LLMProviders) {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	c, err := buildCompleter(cfg)
	if err != nil {
		return nil, err
	}
	m.completer = c
	return m, nil
}

func (m *Manager) Completer() Completer {
	return m.completer
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func (m *Manager) PreferredEmbedOrder() []int {
	return preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) })
}

// preferredOrder puts real providers ahead of mock ones.
func preferredOrder(n int, nameAt func(i int) string) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func (m *Manager) FindLLMProviderByName(name string) (LLMProvider, ProviderRef, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return nil, ProviderRef{}, false
	}
	for i := range m.llmProviders {
		if strings.ToLower(m.llmProviders[i].Ref.Name) == target {
			return m.llmProviders[i].Provider, m.llmProviders[i].Ref, true
		}
	}
	return nil, ProviderRef{}, false
}

// Generate tries LLM providers in preferred order and returns the first success.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var errs []error
	for _, i := range m.PreferredLLMOrder() {
		resp, info, err := m.llmProviders[i].Provider.Generate(ctx, req)
		if err == nil {
			return resp, info, nil
		}
		if ctx.Err() != nil {
			return GenerateResponse{}, info, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s (%s): %w", m.llmProviders[i].Ref.Raw, ClassifyError(err), err))
	}
	if len(errs) == 0 {
		return GenerateResponse{}, ProviderInfo{}, fmt.Errorf("no llm providers configured")
	}
	return GenerateResponse{}, ProviderInfo{}, errors.Join(errs...)
}

// Embed satisfies vector.Embedder with failover across embedding providers.
func (m *Manager) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	var errs []error
	for _, i := range m.PreferredEmbedOrder() {
		vecs, _, err := m.embedProviders[i].Provider.Embed(ctx, EmbedRequest{
			Operation: "embed",
			Inputs:    inputs,
			Dimension: m.embedDim,
		})
		if err == nil && len(vecs) == len(inputs) {
			return vecs, nil
		}
		if err == nil {
			err = fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(inputs))
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.embedProviders[i].Ref.Raw, err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no embedding providers configured")
	}
	return nil, errors.Join(errs...)
}

func buildProvider(ref ProviderRef, cfg config.Config) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(cfg.EmbedDim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	case "openrouter":
		return NewOpenRouterProvider(openRouterConfig(cfg), modelOr(ref.KeyAlias, cfg.CompletionModel)), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.AnthropicAPIKey, modelOr(ref.KeyAlias, cfg.CompletionModel)), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}

func buildCompleter(cfg config.Config) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.CompletionProvider)) {
	case "", "mock":
		return NewMockProvider(cfg.EmbedDim), nil
	case "openrouter":
		return NewOpenRouterProvider(openRouterConfig(cfg), cfg.CompletionModel), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.CompletionModel), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.CompletionProvider)
	}
}

func openRouterConfig(cfg config.Config) OpenRouterConfig {
	return OpenRouterConfig{
		BaseURL: cfg.OpenRouterBaseURL,
		APIKey:  cfg.OpenRouterAPIKey,
		Referer: cfg.AppReferer,
		Title:   cfg.AppTitle,
	}
}

func modelOr(alias, fallback string) string {
	if strings.TrimSpace(alias) != "" {
		return alias
	}
	return fallback
}
