// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// fakeCompleter returns canned replies and records the prompts it saw.
type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n<p>hi</p>\n```\n", "<p>hi</p>"},
		{"  plain text  ", "plain text"},
		{"```", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFences(tt.in), "input %q", tt.in)
	}
}

func TestParseClassification(t *testing.T) {
	text := "```json\n" + `{
		"department": "Pet Supplies",
		"category": "Dogs",
		"subcategory": "Dog Food",
		"purchase_consideration": "Check the life stage.",
		"purchase_options": [1, 2, 2, 3],
		"weight_hints": {"text": "50 lb bag", "dimensions": {"length": 24, "width": 16, "height": 5}},
		"needs_review": false
	}` + "\n```"

	c, err := ParseClassification(text)
	require.NoError(t, err)
	assert.Equal(t, "Pet Supplies > Dogs > Dog Food", c.Path().String())
	assert.Equal(t, []types.PurchaseOption{types.OptionDelivery, types.OptionStorePickup, types.OptionLocalDelivery}, c.PurchaseOptions)
	assert.Equal(t, "50 lb bag", c.WeightHints.Text)
	require.NotNil(t, c.WeightHints.Dimensions)
	assert.Equal(t, 24.0, c.WeightHints.Dimensions.Length)
}

func TestParseClassification_StringWeightHint(t *testing.T) {
	c, err := ParseClassification(`Here you go: {"department":"Hardware","category":"Fasteners","purchase_options":[1],"weight_hints":"5 lb box"}`)
	require.NoError(t, err)
	assert.Equal(t, "5 lb box", c.WeightHints.Text)
}

func TestParseClassification_Fatal(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "I cannot classify this product."},
		{"missing category", `{"department":"Pet Supplies","purchase_options":[1]}`},
		{"option out of range", `{"department":"Pet Supplies","category":"Dogs","purchase_options":[1,6]}`},
		{"option zero", `{"department":"Pet Supplies","category":"Dogs","purchase_options":[0]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClassification(tt.text)
			require.Error(t, err)
			assert.True(t, IsFatal(err))
			assert.False(t, IsTransient(err))
		})
	}
}

func TestParseValidation(t *testing.T) {
	res, err := ParseValidation(`{"external_id":"gid://shopify/TaxonomyCategory/hg-4-7","confidence":"High","reasoning":"patio pavers"}`)
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/TaxonomyCategory/hg-4-7", res.ExternalID)
	assert.Equal(t, types.ConfidenceHigh, res.Confidence)

	res, err = ParseValidation(`{"external_id":"","confidence":"","reasoning":"nothing fits"}`)
	require.NoError(t, err)
	assert.Empty(t, res.ExternalID)

	_, err = ParseValidation(`{"external_id":"x","confidence":"certain"}`)
	assert.True(t, IsFatal(err))
}

func TestParseDescription(t *testing.T) {
	html, err := ParseDescription("```html\n<p>Fresh</p>\n```")
	require.NoError(t, err)
	assert.Equal(t, "<p>Fresh</p>", html)

	_, err = ParseDescription("  ")
	assert.True(t, IsFatal(err))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Transient("call", errors.New("429"))))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(Fatal("parse", errors.New("bad"))))
	assert.False(t, IsTransient(nil))
}

func TestPrompts(t *testing.T) {
	p := &types.Product{
		Title:           "Holland Paver",
		DescriptionHTML: "<p>Classic brick paver.</p>",
		Tags:            []string{"patio", "paver"},
	}
	prompt, err := ClassifyPrompt(p)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Product title: Holland Paver")
	assert.Contains(t, prompt, "Tags: patio, paver")
	assert.Contains(t, prompt, "Classic brick paver.")
	assert.NotContains(t, prompt, "Current taxonomy")

	prompt, err = ValidatePrompt(ValidationRequest{
		Path: types.CategoryPath{Department: "Landscape and Construction", Category: "Pavers and Hardscaping", Subcategory: "Pavers"},
		Candidates: []types.TaxonomyNode{
			{ID: "gid://shopify/TaxonomyCategory/hg-4-7", Name: "Pavers", Path: []string{"Home & Garden", "Outdoor Living", "Pavers"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Landscape and Construction > Pavers and Hardscaping > Pavers")
	assert.Contains(t, prompt, "- gid://shopify/TaxonomyCategory/hg-4-7 : Home & Garden > Outdoor Living > Pavers")
	assert.True(t, strings.Contains(prompt, "Never return an id that is not listed"))
}

func TestService(t *testing.T) {
	fc := &fakeCompleter{reply: `{"department":"Pet Supplies","category":"Dogs","purchase_options":[1,2]}`}
	s := NewService(fc, nil)

	c, err := s.Classify(context.Background(), &types.Product{Title: "Dog Food"})
	require.NoError(t, err)
	assert.Equal(t, "Dogs", c.Category)
	require.Len(t, fc.prompts, 1)

	fc.reply = "<p>Great food.</p>"
	html, err := s.Rewrite(context.Background(), &types.Product{Title: "Dog Food"}, c)
	require.NoError(t, err)
	assert.Equal(t, "<p>Great food.</p>", html)
	assert.Contains(t, fc.prompts[1], "Category: Pet Supplies > Dogs")

	fc.err = Transient("complete", errors.New("overloaded"))
	_, err = s.Classify(context.Background(), &types.Product{Title: "Dog Food"})
	assert.True(t, IsTransient(err))
}

func TestBatchHelpers(t *testing.T) {
	wire := WireID(KindRewrite, "p-0007")
	kind, id, ok := ParseWireID(wire)
	require.True(t, ok)
	assert.Equal(t, KindRewrite, kind)
	assert.Equal(t, "p-0007", id)

	_, _, ok = ParseWireID("taxonomy-1")
	assert.False(t, ok)

	_, err := RenderRequest(BatchRequest{CustomID: "x", Kind: KindRewrite, Product: &types.Product{}})
	assert.Error(t, err)

	res := ParseResult("p-1", KindClassify, `{"department":"Hardware","category":"Tools","purchase_options":[9]}`)
	assert.True(t, IsFatal(res.Err))
	assert.Nil(t, res.Classification)
}
