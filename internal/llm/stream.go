package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Streamer is a Provider that can deliver a reply incrementally. onChunk is
// called for every non-empty text delta; returning an error aborts the stream.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error)
}

type chatStreamRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream implements Streamer over OpenRouter server-sent events. Only
// opening the stream is retried; a failure mid-stream is returned as is.
func (c *OpenRouter) Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	body, err := json.Marshal(chatStreamRequest{Model: c.model, Messages: req.wire(), Stream: true})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var resp *http.Response
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.openStream(ctx, body)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("openrouter %s: %w", c.model, err)
	}
	defer resp.Body.Close()

	text, err := readSSE(resp.Body, onChunk)
	if err != nil {
		return text, fmt.Errorf("openrouter %s stream: %w", c.model, err)
	}
	return text, nil
}

func (c *OpenRouter) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &statusError{status: resp.StatusCode, body: string(respBody)}
	}
	return resp, nil
}

// readSSE accumulates "data:" events until [DONE] or EOF. Comment lines and
// undecodable events are skipped.
func readSSE(r io.Reader, onChunk func(string) error) (string, error) {
	var full strings.Builder
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return full.String(), nil
			}
			var chunk chatStreamChunk
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
				slog.Debug("skipping undecodable stream event", "error", jerr)
			} else if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				delta := chunk.Choices[0].Delta.Content
				full.WriteString(delta)
				if cerr := onChunk(delta); cerr != nil {
					return full.String(), cerr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if full.Len() == 0 {
					return "", fmt.Errorf("empty completion")
				}
				return full.String(), nil
			}
			return full.String(), err
		}
	}
}

// Stream tries providers in order like Generate. Providers without
// streaming support deliver their whole reply as one chunk. Once a provider
// has emitted text its failure is returned without falling back, since the
// caller has already shown part of that answer.
func (r *Router) Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	if len(r.providers) == 0 {
		return "", fmt.Errorf("no providers configured: %w", ErrUnavailable)
	}

	var errs []error
	for _, p := range r.providers {
		emitted := false
		text, err := r.stream(ctx, p, req, func(s string) error {
			emitted = true
			return onChunk(s)
		})
		if err == nil {
			return text, nil
		}
		if emitted {
			return text, err
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
		slog.Warn("llm provider stream failed", "provider", p.Name(), "error", err)
		errs = append(errs, err)
	}
	return "", fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

func (r *Router) stream(ctx context.Context, p Provider, req Request, onChunk func(string) error) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if s, ok := p.(Streamer); ok {
		return s.Stream(ctx, req, onChunk)
	}
	text, err := p.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return text, onChunk(text)
}
