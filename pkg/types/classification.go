// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Classification is the structured result of classifying one product.
type Classification struct {
	Department  string `json:"department" yaml:"department"`
	Category    string `json:"category" yaml:"category"`
	Subcategory string `json:"subcategory" yaml:"subcategory"`

	// PurchaseConsideration is a short note on what a buyer should weigh
	// (assembly, delivery access, and the like).
	PurchaseConsideration string           `json:"purchase_consideration" yaml:"purchase_consideration"`
	PurchaseOptions       []PurchaseOption `json:"purchase_options" yaml:"purchase_options"`

	WeightHints WeightHints `json:"weight_hints" yaml:"weight_hints"`

	// NeedsReview is set when the classifier itself was unsure.
	NeedsReview bool `json:"needs_review" yaml:"needs_review"`
}

// Path returns the internal category path of the classification.
func (c Classification) Path() CategoryPath {
	return CategoryPath{Department: c.Department, Category: c.Category, Subcategory: c.Subcategory}
}

// WeightHints carries what the classifier read about size and weight.
type WeightHints struct {
	// Text is any weight or volume expression the classifier found, e.g. "50 lb bag".
	Text       string      `json:"text,omitempty" yaml:"text,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}
