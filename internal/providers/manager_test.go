package providers

import (
	"context"
	"errors"
	"testing"

	"litground/internal/config"

	"github.com/stretchr/testify/require"
)

type failingLLM struct{ calls int }

func (f *failingLLM) Generate(context.Context, GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	f.calls++
	return GenerateResponse{}, ProviderInfo{Name: "broken"}, errors.New("503 temporarily unavailable")
}

func TestManagerDefaultsToMock(t *testing.T) {
	m, err := NewManager(config.Config{LLMProviders: "", EmbedProviders: "", EmbedDim: 8})
	require.NoError(t, err)
	require.Equal(t, 1, m.LLMCount())

	vecs, err := m.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Len(t, vecs[0], 8)

	_, ok := m.Completer().(*MockProvider)
	require.True(t, ok)
}

func TestManagerGenerateFailsOver(t *testing.T) {
	broken := &failingLLM{}
	m := &Manager{llmProviders: []NamedLLMProvider{
		{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider(4)},
		{Ref: ProviderRef{Raw: "broken", Name: "broken"}, Provider: broken},
	}}
	resp, info, err := m.Generate(context.Background(), GenerateRequest{Operation: "citation_extract"})
	require.NoError(t, err)
	require.Equal(t, 1, broken.calls, "real providers are tried before mock")
	require.Equal(t, "mock", info.Name)
	require.Contains(t, resp.Text, "Mock, A.")
}

func TestManagerGenerateAllFail(t *testing.T) {
	m := &Manager{llmProviders: []NamedLLMProvider{{Ref: ProviderRef{Raw: "broken", Name: "broken"}, Provider: &failingLLM{}}}}
	_, _, err := m.Generate(context.Background(), GenerateRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "transient")
}

func TestManagerRejectsUnknownCompleter(t *testing.T) {
	_, err := NewManager(config.Config{CompletionProvider: "carrier-pigeon"})
	require.Error(t, err)
}

func TestMockStreamHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	_, err := NewMockProvider(4).Stream(ctx, CompletionRequest{}, func(string) error {
		n++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, n)
}

func TestDeterministicVectorIsUnitLength(t *testing.T) {
	v := deterministicVector("audit", 16)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, sum, 1e-4)
	require.Equal(t, v, deterministicVector("audit", 16))
}
