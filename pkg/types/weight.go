// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// WeightSource names the rule that produced a base weight.
type WeightSource string

const (
	SourceVariantWeight    WeightSource = "variant_weight"
	SourceExtractedText    WeightSource = "extracted_text"
	SourceLiquidConversion WeightSource = "liquid_conversion"
	SourceDimensional      WeightSource = "dimensional"
	SourceDefault          WeightSource = "default"
)

// WeightEstimate is an estimated shipping weight in pounds.
type WeightEstimate struct {
	// OriginalWeight is the weight the product already carried, if any.
	OriginalWeight *float64 `json:"original_weight" yaml:"original_weight"`

	BaseWeight  float64 `json:"base_weight" yaml:"base_weight"`
	Packaging   float64 `json:"packaging_weight" yaml:"packaging_weight"`
	FinalWeight float64 `json:"final_shipping_weight" yaml:"final_shipping_weight"`

	Confidence  Confidence   `json:"confidence" yaml:"confidence"`
	Source      WeightSource `json:"source" yaml:"source"`
	Reasoning   string       `json:"reasoning" yaml:"reasoning"`
	NeedsReview bool         `json:"needs_review" yaml:"needs_review"`
}

// PoundsToGrams converts pounds to whole grams.
const PoundsToGrams = 453.592
