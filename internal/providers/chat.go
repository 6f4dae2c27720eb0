package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// chatEndpoint talks to OpenAI-compatible chat/completions APIs.
type chatEndpoint struct {
	name    string
	url     string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

func (e chatEndpoint) newRequest(ctx context.Context, p chatPayload) (*http.Request, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", e.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", e.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (e chatEndpoint) complete(ctx context.Context, p chatPayload) (string, error) {
	p.Stream = false
	req, err := e.newRequest(ctx, p)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s generate request failed: %w", e.name, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s generate error %d: %s", e.name, resp.StatusCode, string(body))
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", e.name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s returned empty choices", e.name)
	}
	return parsed.Choices[0].Message.Content, nil
}

var errStreamDone = errors.New("stream done")

// stream posts with stream=true and feeds every choices[0].delta.content to onDelta.
func (e chatEndpoint) stream(ctx context.Context, p chatPayload, onDelta DeltaFunc) error {
	p.Stream = true
	req, err := e.newRequest(ctx, p)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s stream request failed: %w", e.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s stream error %d: %s", e.name, resp.StatusCode, string(body))
	}
	err = readSSE(resp.Body, onDelta)
	if errors.Is(err, errStreamDone) {
		return nil
	}
	return err
}

func readSSE(r io.Reader, onDelta DeltaFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return errStreamDone
		}
		var ev struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Error != nil {
			return fmt.Errorf("stream error: %s", ev.Error.Message)
		}
		if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onDelta(ev.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func generateMessages(system string, req GenerateRequest) []Message {
	prompt := req.Prompt
	if len(req.Context) > 0 {
		prompt += "\n\nContext:\n" + strings.Join(req.Context, "\n\n")
	}
	if strings.TrimSpace(req.System) != "" {
		system = req.System
	}
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: prompt},
	}
}

func floatPtr(f float64) *float64 { return &f }
