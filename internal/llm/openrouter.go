package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultHTTPTimeout   = 60 * time.Second
)

// OpenRouter talks to the OpenRouter chat completions API.
type OpenRouter struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
}

// NewOpenRouter creates a client for model. An empty baseURL uses the public endpoint.
func NewOpenRouter(apiKey, model, baseURL string, retry RetryPolicy) *OpenRouter {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	return &OpenRouter{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		retry:      retry,
	}
}

// Name implements Provider.
func (c *OpenRouter) Name() string { return "openrouter:" + c.model }

type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Generate implements Provider. 429 and 5xx responses are retried under the
// client's RetryPolicy.
func (c *OpenRouter) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{Model: c.model, Messages: req.wire()})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var reply string
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		reply, err = c.doChat(ctx, body)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("openrouter %s: %w", c.model, err)
	}
	return reply, nil
}

func (c *OpenRouter) doChat(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return out.Choices[0].Message.Content, nil
}

// Ping checks the API answers the models listing.
func (c *OpenRouter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{status: resp.StatusCode}
	}
	return nil
}

func (c *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/fridaysatfour/wingman")
	req.Header.Set("X-Title", "wingman")
}
