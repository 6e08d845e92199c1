// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gemini implements provider.Completer on the Google Gemini API. It
// has no batch mode; runs that select gemini use the synchronous path.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"github.com/pdiddy/catalog-enricher/internal/httputil"
	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Client is a thin wrapper around the genai client.
type Client struct {
	cli       *genai.Client
	model     string
	maxTokens int32
}

// NewClient builds a Gemini client from cfg.
func NewClient(ctx context.Context, cfg types.AIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &Client{cli: cli, model: cfg.Model, maxTokens: int32(cfg.MaxTokens)}, nil
}

// Complete sends one prompt and returns the first candidate's text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.cli.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{MaxOutputTokens: c.maxTokens},
	)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", provider.Fatal("generate", errors.New("response has no candidates"))
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// classify maps a genai error onto the provider error kinds.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	if code, ok := apiCode(err); ok {
		if httputil.Retryable(code) || code >= 500 {
			return provider.Transient("generate", err)
		}
		return provider.Fatal("generate", err)
	}
	// Transport failures carry no status.
	return provider.Transient("generate", err)
}

func apiCode(err error) (int, bool) {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	var pae *genai.APIError
	if errors.As(err, &pae) {
		return pae.Code, true
	}
	return 0, false
}
