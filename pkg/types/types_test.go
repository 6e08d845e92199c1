// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_PassThroughFields(t *testing.T) {
	in := `{
		"id": "gid://shopify/Product/1",
		"title": "Dog Food",
		"vendor": "Acme",
		"options": [{"name": "Size", "values": ["50 lb"]}],
		"variants": [{"sku": "DF-50", "weight": 50, "inventory_policy": "deny"}]
	}`

	var p Product
	require.NoError(t, json.Unmarshal([]byte(in), &p))

	assert.Equal(t, "Dog Food", p.Title)
	assert.Contains(t, p.Raw, "vendor")
	assert.Contains(t, p.Raw, "options")
	require.Len(t, p.Variants, 1)
	assert.Contains(t, p.Variants[0].Raw, "inventory_policy")

	out, err := json.Marshal(p)
	require.NoError(t, err)

	var round map[string]any
	require.NoError(t, json.Unmarshal(out, &round))
	assert.Equal(t, "Acme", round["vendor"])
	assert.NotNil(t, round["options"])
	variant := round["variants"].([]any)[0].(map[string]any)
	assert.Equal(t, "deny", variant["inventory_policy"])
	assert.Equal(t, 50.0, variant["weight"])
}

func TestProduct_OwnedFieldWinsOverRaw(t *testing.T) {
	p := Product{
		Title:           "new",
		DescriptionHTML: "<p>new</p>",
		Raw: map[string]json.RawMessage{
			"title":           json.RawMessage(`"old"`),
			"descriptionHtml": json.RawMessage(`"<p>old</p>"`),
		},
	}
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"old","descriptionHtml":"<p>new</p>"}`, string(out))
}

func TestProduct_EmptyInputFieldsSurvive(t *testing.T) {
	in := `{
		"id": "",
		"handle": "dog-food",
		"title": "",
		"product_type": "",
		"tags": [],
		"dimensions": {"length": 0, "width": 2, "height": 3},
		"body_html": "",
		"descriptionHtml": "",
		"needs_review": true,
		"review_reasons": ["weight defaulted"],
		"variants": [{"sku": "", "weight": 0, "grams": 0}]
	}`

	var p Product
	require.NoError(t, json.Unmarshal([]byte(in), &p))
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))

	q := p.Clone()
	q.NeedsReview = false
	q.ReviewReasons = nil
	out, err = json.Marshal(q)
	require.NoError(t, err)

	var round map[string]any
	require.NoError(t, json.Unmarshal(out, &round))
	assert.Equal(t, false, round["needs_review"])
	assert.Equal(t, []any{}, round["review_reasons"])
	assert.Equal(t, []any{}, round["tags"])
	assert.Equal(t, "", round["product_type"])
	assert.Equal(t, map[string]any{"length": 0.0, "width": 2.0, "height": 3.0}, round["dimensions"])
}

func TestProduct_NewRecordOmitsEmptyFields(t *testing.T) {
	out, err := json.Marshal(Product{Handle: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"handle":"x"}`, string(out))
}

func TestProduct_Description(t *testing.T) {
	assert.Equal(t, "new", (&Product{DescriptionHTML: "new", BodyHTML: "old"}).Description())
	assert.Equal(t, "old", (&Product{BodyHTML: "old"}).Description())
}

func TestProduct_CloneIsDeep(t *testing.T) {
	w := 3.0
	p := Product{Title: "x", Variants: []Variant{{Weight: &w}}, Taxonomy: &Taxonomy{Department: "A"}}
	c := p.Clone()
	*c.Variants[0].Weight = 9
	c.Taxonomy.Department = "B"
	assert.Equal(t, 3.0, *p.Variants[0].Weight)
	assert.Equal(t, "A", p.Taxonomy.Department)
}

func TestProduct_FlagForReviewDeduplicates(t *testing.T) {
	var p Product
	p.FlagForReview("weight defaulted")
	p.FlagForReview("weight defaulted")
	assert.True(t, p.NeedsReview)
	assert.Equal(t, []string{"weight defaulted"}, p.ReviewReasons)
}

func TestCategoryPath_Key(t *testing.T) {
	tests := []struct {
		name string
		path CategoryPath
		want string
	}{
		{"lowercases", CategoryPath{"Pet Supplies", "Dog", "Food"}, "pet supplies > dog > food"},
		{"collapses whitespace", CategoryPath{"  Pet   Supplies ", "Dog\t", " Food"}, "pet supplies > dog > food"},
		{"keeps empty levels in place", CategoryPath{"Pet Supplies", "", "Food"}, "pet supplies > > food"},
		{"two levels", CategoryPath{"Pet Supplies", "Food", ""}, "pet supplies > food >"},
		{"escapes separator", CategoryPath{"A", "B", "C > D"}, `a > b > c \> d`},
		{"empty", CategoryPath{}, "> >"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.path.Key())
		})
	}
}

func TestCategoryPath_KeyIsPositional(t *testing.T) {
	paths := []CategoryPath{
		{"A", "", "C"},
		{"A", "C", ""},
		{"A > B", "C", ""},
		{"A", "B", "C"},
		{"A", "B > C", ""},
	}
	seen := make(map[string]CategoryPath)
	for _, p := range paths {
		k := p.Key()
		if prev, ok := seen[k]; ok {
			t.Fatalf("%+v and %+v share key %q", prev, p, k)
		}
		seen[k] = p
		assert.Equal(t, k, NormalizeKey(k), "keys are already normalized")
	}
	assert.Equal(t, ParseCategoryPath("A > B > C > D").Key(), CategoryPath{"a", "b", "c > d"}.Key())
}

func TestCategoryPath_Within(t *testing.T) {
	aggregates := ParseCategoryPath("Landscape and Construction > Aggregates")
	assert.True(t, CategoryPath{"Landscape and Construction", "Aggregates", "Gravel"}.Within(aggregates))
	assert.True(t, CategoryPath{"landscape  and construction", "AGGREGATES", ""}.Within(aggregates))
	assert.False(t, CategoryPath{"Landscape and Construction", "Pavers", "Gravel"}.Within(aggregates))
	assert.True(t, CategoryPath{"Services", "Installation", "Fence"}.Within(ParseCategoryPath("Services")))
	assert.False(t, CategoryPath{"Services", "", ""}.Within(CategoryPath{}))
}

func TestParseCategoryPath(t *testing.T) {
	p := ParseCategoryPath("Landscape and Construction > Pavers and Hardscaping > Pavers")
	assert.Equal(t, CategoryPath{"Landscape and Construction", "Pavers and Hardscaping", "Pavers"}, p)
	assert.Equal(t, "Pavers", p.Leaf())

	deep := ParseCategoryPath("A > B > C > D")
	assert.Equal(t, "C > D", deep.Subcategory)
}

func TestConfidence(t *testing.T) {
	assert.True(t, ConfidenceHigh.AtLeast(ConfidenceMedium))
	assert.False(t, ConfidenceLow.AtLeast(ConfidenceMedium))
	assert.True(t, ConfidenceLow.AtLeast(ConfidenceLow))

	c, err := ParseConfidence(" Medium ")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceMedium, c)

	_, err = ParseConfidence("certain")
	assert.Error(t, err)
}

func TestPipelineConfig_WithDefaults(t *testing.T) {
	cfg := PipelineConfig{}.WithDefaults()

	assert.Equal(t, 30*24*time.Hour, cfg.Taxonomy.FreshnessWindow)
	assert.Equal(t, ConfidenceLow, cfg.Resolver.MinConfidence)
	assert.Equal(t, 25, cfg.Resolver.MaxCandidates)
	assert.Equal(t, ModeSkipProcessed, cfg.Enrich.Mode)
	assert.Equal(t, 60*time.Second, cfg.Enrich.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.Enrich.MaxWait)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.Equal(t, DefaultNonShipped, cfg.Enrich.NonShipped)

	custom := PipelineConfig{Enrich: EnrichConfig{Workers: 9, NonShipped: []string{}}}.WithDefaults()
	assert.Equal(t, 9, custom.Enrich.Workers)
	assert.Empty(t, custom.Enrich.NonShipped)
}
