package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// compatClient is a minimal client for the OpenAI chat-completions wire
// format, shared by every vendor speaking it (OpenAI itself, OpenRouter,
// LiteLLM gateways).
type compatClient struct {
	baseURL      string
	apiKey       string
	model        string
	maxTokens    int // 0 means omit, vendor decides
	extraHeaders map[string]string
	httpClient   *http.Client

	// streamClient carries no client timeout; stream lifetime is governed
	// by the request context and the consumer's idle timer.
	streamClient *http.Client
}

func newCompatClient(baseURL, apiKey, model string) *compatClient {
	return &compatClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		streamClient: &http.Client{},
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

// parseOpenAIDelta normalizes one chat-completions stream document. A
// document with no choices (usage-only frames) yields an empty delta.
func parseOpenAIDelta(payload []byte) (StreamDelta, error) {
	var chunk openAIStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return StreamDelta{}, fmt.Errorf("decoding stream chunk: %w", err)
	}
	if chunk.Error != nil {
		return StreamDelta{}, fmt.Errorf("upstream stream error: %s", chunk.Error.Message)
	}
	if len(chunk.Choices) == 0 {
		return StreamDelta{}, nil
	}
	delta := StreamDelta{Token: chunk.Choices[0].Delta.Content}
	if fr := chunk.Choices[0].FinishReason; fr != nil && *fr != "" {
		delta.Done = true
	}
	return delta, nil
}

func (c *compatClient) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

// chatCompletion performs a blocking completion. A vendor response with
// zero choices returns ("", nil).
func (c *compatClient) chatCompletion(ctx context.Context, messages []Message, temperature float64) (string, error) {
	req, err := c.newRequest(ctx, "/chat/completions", chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling chat completions: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("upstream error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// streamChatCompletion opens a streaming completion. The returned stream
// owns the response body.
func (c *compatClient) streamChatCompletion(ctx context.Context, messages []Message, temperature float64) (CompletionStream, error) {
	req, err := c.newRequest(ctx, "/chat/completions", chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		Stream:      true,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening completion stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("completion stream returned %d: %s", resp.StatusCode, string(raw))
	}
	return newSSEStream(resp.Body, parseOpenAIDelta), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
