// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package weight estimates shipping weights from product attributes. The
// estimator is pure: it performs no I/O and calls no AI service, so the same
// input always yields the same estimate.
//
// A base weight comes from the first rule that applies: an existing variant
// weight, a weight stated in the text, a liquid volume stated in the text,
// the physical dimensions, or a department default. A packaging allowance
// keyed by department (or department and category) is added and a safety
// margin applied: final = (base + packaging) * (1 + margin).
package weight

import (
	"fmt"
	"math"
	"strings"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// DefaultMargin is the safety margin applied after packaging.
const DefaultMargin = 0.10

// fallbackBase is used when a department has no default weight.
const fallbackBase = 5.0

// fallbackPackaging is used when neither department nor category has an allowance.
const fallbackPackaging = 1.0

// fallbackDensity is the dimensional density in lb/ft³ for unlisted departments.
const fallbackDensity = 10.0

// defaultPackaging maps "department" or "department > category" (normalized) to lb.
var defaultPackaging = map[string]float64{
	"pet supplies":               2.0,
	"livestock and farm":         2.0,
	"landscape and construction": 5.0,
	"lawn and garden":            1.5,
	"home and garden":            1.5,
	"hardware":                   1.0,
	"tools":                      1.5,
	"furniture":                  10.0,
	"appliances":                 8.0,

	"pet supplies > aquariums":                            4.0,
	"landscape and construction > pavers and hardscaping": 3.0,
	"landscape and construction > aggregates":             0.5,
}

// defaultBase maps a department to its fallback base weight in lb.
var defaultBase = map[string]float64{
	"pet supplies":               15.0,
	"livestock and farm":         40.0,
	"landscape and construction": 50.0,
	"lawn and garden":            10.0,
	"home and garden":            8.0,
	"hardware":                   3.0,
	"tools":                      6.0,
	"furniture":                  45.0,
	"appliances":                 60.0,
}

// defaultDensity maps "department" or "department > category" to lb/ft³.
var defaultDensity = map[string]float64{
	"landscape and construction": 150.0,
	"pet supplies":               25.0,
	"livestock and farm":         30.0,
	"furniture":                  12.0,
	"hardware":                   40.0,

	"landscape and construction > pavers and hardscaping": 150.0,
	"landscape and construction > natural stone":          165.0,
}

// Input is everything the estimator reads about one product.
type Input struct {
	Title       string
	Description string // may contain HTML
	Department  string
	Category    string

	// VariantWeight is the existing weight in lb, if any.
	VariantWeight *float64
	Dimensions    *types.Dimensions

	// HintText and HintDimensions come from the classifier and are used only
	// when the product's own fields carry nothing.
	HintText       string
	HintDimensions *types.Dimensions
}

// InputFor builds an Input from a product and its classification. c may be nil.
func InputFor(p *types.Product, c *types.Classification) Input {
	in := Input{
		Title:       p.Title,
		Description: p.Description(),
		Dimensions:  p.Dimensions,
	}
	if w, ok := p.ExistingWeight(); ok {
		in.VariantWeight = &w
	}
	if p.Taxonomy != nil {
		in.Department = p.Taxonomy.Department
		in.Category = p.Taxonomy.Category
	}
	if c != nil {
		in.Department = c.Department
		in.Category = c.Category
		in.HintText = c.WeightHints.Text
		in.HintDimensions = c.WeightHints.Dimensions
	}
	return in
}

// Estimator holds the lookup tables.
type Estimator struct {
	packaging map[string]float64
	defaults  map[string]float64
	density   map[string]float64
	margin    float64
}

// New returns an estimator with the built-in tables overlaid by cfg.
func New(cfg types.WeightConfig) *Estimator {
	e := &Estimator{
		packaging: merge(defaultPackaging, cfg.Packaging),
		defaults:  merge(defaultBase, cfg.Defaults),
		density:   copyTable(defaultDensity),
		margin:    cfg.Margin,
	}
	if e.margin <= 0 {
		e.margin = DefaultMargin
	}
	return e
}

func copyTable(src map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func merge(base, over map[string]float64) map[string]float64 {
	out := copyTable(base)
	for k, v := range over {
		out[types.NormalizeKey(k)] = v
	}
	return out
}

// lookup prefers the "department > category" row over the department row.
func lookup(table map[string]float64, dept, cat string) (float64, bool) {
	d := types.NormalizeKey(dept)
	if c := types.NormalizeKey(cat); c != "" {
		if v, ok := table[d+" > "+c]; ok {
			return v, true
		}
	}
	v, ok := table[d]
	return v, ok
}

// Packaging returns the packaging allowance in lb for a department and category.
func (e *Estimator) Packaging(dept, cat string) float64 {
	if v, ok := lookup(e.packaging, dept, cat); ok {
		return v
	}
	return fallbackPackaging
}

// Estimate computes the shipping weight for in.
func (e *Estimator) Estimate(in Input) types.WeightEstimate {
	est := e.baseWeight(in)
	est.Packaging = e.Packaging(in.Department, in.Category)
	est.FinalWeight = Round2((est.BaseWeight + est.Packaging) * (1 + e.margin))
	est.Reasoning = fmt.Sprintf("%s; packaging %s lb for %s; (%s + %s) x %s = %s lb",
		est.Reasoning,
		formatLb(est.Packaging), packagingKey(in.Department, in.Category),
		formatLb(est.BaseWeight), formatLb(est.Packaging),
		formatLb(1+e.margin), formatLb(est.FinalWeight))
	if in.VariantWeight != nil && *in.VariantWeight > 0 {
		w := *in.VariantWeight
		est.OriginalWeight = &w
	}
	return est
}

// baseWeight applies the rules in order and returns the first that fires.
func (e *Estimator) baseWeight(in Input) types.WeightEstimate {
	if in.VariantWeight != nil && *in.VariantWeight > 0 {
		return types.WeightEstimate{
			BaseWeight: *in.VariantWeight,
			Confidence: types.ConfidenceHigh,
			Source:     types.SourceVariantWeight,
			Reasoning:  fmt.Sprintf("variant weight %s lb", formatLb(*in.VariantWeight)),
		}
	}

	text := StripHTML(in.Title + "\n" + in.Description)
	for _, t := range []string{text, in.HintText} {
		if m, ok := ExtractWeight(t); ok {
			return types.WeightEstimate{
				BaseWeight: Round2(m.Pounds),
				Confidence: types.ConfidenceMedium,
				Source:     types.SourceExtractedText,
				Reasoning:  fmt.Sprintf("extracted %q from text = %s lb", m.Match, formatLb(m.Pounds)),
			}
		}
	}
	for _, t := range []string{text, in.HintText} {
		if m, ok := ExtractLiquid(t); ok {
			return types.WeightEstimate{
				BaseWeight: Round2(m.Pounds),
				Confidence: types.ConfidenceMedium,
				Source:     types.SourceLiquidConversion,
				Reasoning: fmt.Sprintf("liquid %q = %s gal x %s lb/gal = %s lb",
					m.Match, formatLb(m.Gallons), formatLb(LbPerGallon), formatLb(m.Pounds)),
			}
		}
	}

	for _, d := range []*types.Dimensions{in.Dimensions, in.HintDimensions} {
		if vol := d.Volume(); vol > 0 {
			density, ok := lookup(e.density, in.Department, in.Category)
			if !ok {
				density = fallbackDensity
			}
			cuft := vol / 1728
			lb := Round2(cuft * density)
			return types.WeightEstimate{
				BaseWeight: lb,
				Confidence: types.ConfidenceLow,
				Source:     types.SourceDimensional,
				Reasoning: fmt.Sprintf("dimensions %sx%sx%s in = %s ft³ x %s lb/ft³ = %s lb",
					formatLb(d.Length), formatLb(d.Width), formatLb(d.Height),
					formatLb(Round2(cuft)), formatLb(density), formatLb(lb)),
			}
		}
	}

	lb, ok := lookup(e.defaults, in.Department, in.Category)
	dept := in.Department
	if !ok {
		lb = fallbackBase
		dept = "unknown department"
	}
	return types.WeightEstimate{
		BaseWeight:  lb,
		Confidence:  types.ConfidenceLow,
		Source:      types.SourceDefault,
		Reasoning:   fmt.Sprintf("no weight information, default %s lb for %s", formatLb(lb), dept),
		NeedsReview: true,
	}
}

func packagingKey(dept, cat string) string {
	switch {
	case dept == "":
		return "unknown department"
	case cat == "":
		return dept
	}
	return dept + " > " + cat
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatLb(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Grams converts pounds to whole grams.
func Grams(lb float64) int {
	return int(math.Round(lb * types.PoundsToGrams))
}
