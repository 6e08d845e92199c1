// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

var classifyPromptTmpl = template.Must(template.New("classify").Parse(`You are a product catalog specialist. Classify the product below into our internal three-level taxonomy and describe how it can be purchased.

Return:
- department, category, subcategory: the internal taxonomy path (subcategory may be empty)
- purchase_consideration: one short sentence on what a buyer should weigh before purchasing
- purchase_options: the fulfilment options that apply, as numbers:
  1 = Delivery (shipped by carrier)
  2 = Store Pickup
  3 = Local Delivery
  4 = White Glove Delivery
  5 = Customer Pickup Only (bulk, loose, or oversize items)
- weight_hints.text: any weight or liquid volume stated or strongly implied, e.g. "50 lb bag" or "5 gallon", else ""
- weight_hints.dimensions: length, width, height in inches if stated, else omit
- needs_review: true if the product is unusual or you are unsure

Respond with a JSON object only, no markdown and no commentary:
{"department": "", "category": "", "subcategory": "", "purchase_consideration": "", "purchase_options": [1, 2], "weight_hints": {"text": ""}, "needs_review": false}

Product title: {{.Title}}
{{- if .ProductType}}
Product type: {{.ProductType}}{{end}}
{{- if .Tags}}
Tags: {{.Tags}}{{end}}
{{- if .Current}}
Current taxonomy: {{.Current}}{{end}}
Description:
{{.Description}}
`))

var rewritePromptTmpl = template.Must(template.New("rewrite").Parse(`You are a copywriter for a farm, garden, and pet supply retailer. Rewrite the product description below.

Keep every factual detail (sizes, weights, materials, ingredients, instructions). Do not invent features. Use a friendly, knowledgeable voice. Output clean HTML using only <p>, <ul>, <li>, and <strong>. Return the HTML only, no markdown fences and no commentary.

Product title: {{.Title}}
Category: {{.Path}}
{{- if .Consideration}}
Purchase consideration: {{.Consideration}}{{end}}
Current description:
{{.Description}}
`))

var validatePromptTmpl = template.Must(template.New("validate").Parse(`You map an internal product category onto an external product taxonomy.

Internal category path: {{.Path}}

Judge every candidate against the ENTIRE internal path, not only its last term. Reject a candidate whose context is wrong even if its name matches literally (for example a term that names industrial equipment when the internal path describes a consumer or garden product).

{{- if .Candidates}}

Candidates:
{{- range .Candidates}}
- {{.ID}} : {{.FullName}}
{{- end}}

Choose the single best candidate id from the list above. Never return an id that is not listed.
{{- else}}

No literal candidates were found. Name the best external category id you know for this path, using the gid://shopify/TaxonomyCategory/ form.
{{- end}}

Confidence:
- "high": exact term match and correct context
- "medium": correct context without an exact term match
- "low": only a generic or uncertain fit

If nothing fits, return an empty external_id.

Respond with a JSON object only, no markdown and no commentary:
{"external_id": "", "confidence": "high|medium|low", "reasoning": ""}
`))

// ClassifyPrompt renders the classification prompt for p.
func ClassifyPrompt(p *types.Product) (string, error) {
	data := struct {
		Title, ProductType, Tags, Current, Description string
	}{
		Title:       p.Title,
		ProductType: p.ProductType,
		Tags:        strings.Join(p.Tags, ", "),
		Description: p.Description(),
	}
	if p.Taxonomy != nil {
		data.Current = p.Taxonomy.Path().String()
	}
	return render(classifyPromptTmpl, data)
}

// RewritePrompt renders the description prompt for p classified as c.
func RewritePrompt(p *types.Product, c types.Classification) (string, error) {
	return render(rewritePromptTmpl, struct {
		Title, Path, Consideration, Description string
	}{
		Title:         p.Title,
		Path:          c.Path().String(),
		Consideration: c.PurchaseConsideration,
		Description:   p.Description(),
	})
}

// ValidatePrompt renders the semantic validation prompt.
func ValidatePrompt(req ValidationRequest) (string, error) {
	return render(validatePromptTmpl, struct {
		Path       string
		Candidates []types.TaxonomyNode
	}{
		Path:       req.Path.String(),
		Candidates: req.Candidates,
	})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
