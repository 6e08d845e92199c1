// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	genai "google.golang.org/genai"

	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), types.AIConfig{Model: "gemini-2.5-flash"})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", genai.APIError{Code: 429, Message: "quota"}, true},
		{"unavailable", fmt.Errorf("call: %w", genai.APIError{Code: 503}), true},
		{"internal", genai.APIError{Code: 500}, true},
		{"bad request", genai.APIError{Code: 400, Message: "invalid argument"}, false},
		{"permission", genai.APIError{Code: 403}, false},
		{"transport", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(ctx, tt.err)
			assert.Equal(t, tt.transient, provider.IsTransient(err))
			assert.Equal(t, !tt.transient, provider.IsFatal(err))
		})
	}
}

func TestClassifyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := classify(ctx, context.Canceled)
	assert.False(t, provider.IsTransient(err))
	assert.False(t, provider.IsFatal(err))
}
