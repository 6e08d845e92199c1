// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package anthropic implements the provider interfaces against the Anthropic
// Messages API, both the synchronous endpoint and Message Batches.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/catalog-enricher/internal/httputil"
	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// DefaultBaseURL is the Anthropic API root.
const DefaultBaseURL = "https://api.anthropic.com"

const apiVersion = "2023-06-01"

// Client calls the Anthropic API. It satisfies provider.Completer and
// provider.BatchProvider.
type Client struct {
	APIKey     string
	Model      string
	MaxTokens  int
	MaxRetries int
	BaseURL    string
	UserAgent  string
	HTTP       *http.Client
}

// NewClient builds a client from cfg. cfg should already have defaults applied.
func NewClient(cfg types.AIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		MaxRetries: cfg.MaxRetries,
		BaseURL:    strings.TrimRight(base, "/"),
		UserAgent:  cfg.UserAgent,
		HTTP:       &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// messageRequest is the request body for the Messages API.
type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messageResponse is the response body from the Messages API.
type messageResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// apiError is the error envelope returned on non-2xx responses.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) params(prompt string) messageRequest {
	return messageRequest{
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
}

// Complete sends one prompt to the Messages API and returns the text reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var resp messageResponse
	if err := c.do(ctx, "messages", http.MethodPost, c.BaseURL+"/v1/messages", c.params(prompt), &resp); err != nil {
		return "", err
	}
	text := resp.text()
	if text == "" {
		return "", provider.Fatal("messages", errors.New("empty response content"))
	}
	return text, nil
}

func (r messageResponse) text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// do sends a JSON request and decodes a JSON response into out. Retryable
// statuses are retried in-call by httputil.DoWithRetry; what remains is
// classified as transient (429, overload, 5xx, network) or fatal (other 4xx,
// undecodable bodies).
func (c *Client) do(ctx context.Context, op, method, url string, in, out any) error {
	resp, err := c.send(ctx, op, method, url, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Fatal(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// send performs the request and returns a 2xx response or a classified error.
func (c *Client) send(ctx context.Context, op, method, url string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, c.HTTP, req, c.MaxRetries)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, err
		}
		return nil, provider.Transient(op, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	err = statusError(resp.StatusCode, raw)
	if httputil.Retryable(resp.StatusCode) || resp.StatusCode >= 500 {
		return nil, provider.Transient(op, err)
	}
	return nil, provider.Fatal(op, err)
}

func statusError(status int, raw []byte) error {
	var ae apiError
	if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
		return fmt.Errorf("status %d: %s: %s", status, ae.Error.Type, ae.Error.Message)
	}
	return fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(raw)))
}
