package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, status int, events []string, seen *chatPayload) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.Equal(t, "litground-test", r.Header.Get("X-Title"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.WriteHeader(status)
		for _, e := range events {
			fmt.Fprintf(w, "%s\n\n", e)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
}

func TestOpenRouterStreamDeliversDeltasInOrder(t *testing.T) {
	var seen chatPayload
	srv := sseServer(t, http.StatusOK, []string{
		": keep-alive",
		`data: {"choices":[{"delta":{"content":"Audit "}}]}`,
		`data: {"choices":[{"delta":{}}]}`,
		`data: {"choices":[{"delta":{"content":"quality."}}]}`,
		"data: [DONE]",
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	}, &seen)
	defer srv.Close()

	p := NewOpenRouterProvider(OpenRouterConfig{BaseURL: srv.URL, APIKey: "key", Title: "litground-test"}, "default/model")
	var parts []string
	info, err := p.Stream(context.Background(), CompletionRequest{
		Model:       "anthropic/claude-3.5-sonnet",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: 0.3,
		MaxTokens:   400,
	}, func(d string) error {
		parts = append(parts, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Audit ", "quality."}, parts)
	require.Equal(t, "anthropic/claude-3.5-sonnet", info.Model)
	require.True(t, seen.Stream)
	require.Equal(t, 400, seen.MaxTokens)
	require.NotNil(t, seen.TopP)
}

func TestOpenRouterStreamNon200IsError(t *testing.T) {
	srv := sseServer(t, http.StatusTooManyRequests, []string{`{"error":"rate limited"}`}, nil)
	defer srv.Close()
	p := NewOpenRouterProvider(OpenRouterConfig{BaseURL: srv.URL, APIKey: "key", Title: "litground-test"}, "m")
	_, err := p.Stream(context.Background(), CompletionRequest{}, func(string) error { return nil })
	require.Error(t, err)
	require.Equal(t, ErrorRate, ClassifyError(err))
}

func TestReadSSEStopsWhenConsumerFails(t *testing.T) {
	stop := errors.New("client went away")
	body := strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	calls := 0
	err := readSSE(body, func(string) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestOpenRouterMissingKey(t *testing.T) {
	p := NewOpenRouterProvider(OpenRouterConfig{}, "m")
	_, err := p.Stream(context.Background(), CompletionRequest{}, func(string) error { return nil })
	require.Error(t, err)
}
