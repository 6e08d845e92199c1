// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// StripFences removes a surrounding Markdown code fence (```json ... ```)
// and whitespace from a model response.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the info string ("json", "html").
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractObject returns the outermost JSON object in s, tolerating prose
// around it.
func extractObject(s string) string {
	s = StripFences(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

type classificationResponse struct {
	Department            string          `json:"department"`
	Category              string          `json:"category"`
	Subcategory           string          `json:"subcategory"`
	PurchaseConsideration string          `json:"purchase_consideration"`
	PurchaseOptions       []int           `json:"purchase_options"`
	WeightHints           json.RawMessage `json:"weight_hints"`
	NeedsReview           bool            `json:"needs_review"`
}

// ParseClassification interprets a classify response. Malformed JSON, a
// missing department or category, or a purchase option outside 1..5 is a
// *FatalError.
func ParseClassification(text string) (types.Classification, error) {
	const op = "parse classification"
	var r classificationResponse
	if err := json.Unmarshal([]byte(extractObject(text)), &r); err != nil {
		return types.Classification{}, Fatal(op, fmt.Errorf("malformed response: %w", err))
	}
	c := types.Classification{
		Department:            strings.TrimSpace(r.Department),
		Category:              strings.TrimSpace(r.Category),
		Subcategory:           strings.TrimSpace(r.Subcategory),
		PurchaseConsideration: strings.TrimSpace(r.PurchaseConsideration),
		NeedsReview:           r.NeedsReview,
	}
	if c.Department == "" || c.Category == "" {
		return types.Classification{}, Fatal(op, errors.New("response has no department or category"))
	}

	seen := make(map[types.PurchaseOption]bool, len(r.PurchaseOptions))
	for _, n := range r.PurchaseOptions {
		o := types.PurchaseOption(n)
		if !o.Valid() {
			return types.Classification{}, Fatal(op, fmt.Errorf("invalid purchase option %d", n))
		}
		if !seen[o] {
			seen[o] = true
			c.PurchaseOptions = append(c.PurchaseOptions, o)
		}
	}

	if len(r.WeightHints) > 0 && string(r.WeightHints) != "null" {
		// Models sometimes return the hint as a bare string.
		var s string
		if err := json.Unmarshal(r.WeightHints, &s); err == nil {
			c.WeightHints.Text = strings.TrimSpace(s)
		} else if err := json.Unmarshal(r.WeightHints, &c.WeightHints); err != nil {
			return types.Classification{}, Fatal(op, fmt.Errorf("malformed weight_hints: %w", err))
		}
	}
	return c, nil
}

// ParseDescription interprets a rewrite response. An empty description is a
// *FatalError.
func ParseDescription(text string) (string, error) {
	html := StripFences(text)
	if html == "" {
		return "", Fatal("parse description", errors.New("empty description"))
	}
	return html, nil
}

type validationResponse struct {
	ExternalID string `json:"external_id"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// ParseValidation interprets a validate response. An unknown confidence
// level is a *FatalError; an empty external_id is a valid "no match".
func ParseValidation(text string) (ValidationResult, error) {
	const op = "parse validation"
	var r validationResponse
	if err := json.Unmarshal([]byte(extractObject(text)), &r); err != nil {
		return ValidationResult{}, Fatal(op, fmt.Errorf("malformed response: %w", err))
	}
	res := ValidationResult{
		ExternalID: strings.TrimSpace(r.ExternalID),
		Reasoning:  strings.TrimSpace(r.Reasoning),
	}
	if res.ExternalID == "" {
		return res, nil
	}
	conf, err := types.ParseConfidence(r.Confidence)
	if err != nil {
		return ValidationResult{}, Fatal(op, err)
	}
	res.Confidence = conf
	return res, nil
}
