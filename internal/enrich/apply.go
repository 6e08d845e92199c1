// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"fmt"

	"github.com/pdiddy/catalog-enricher/internal/resolve"
	"github.com/pdiddy/catalog-enricher/internal/weight"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Review reasons written onto records.
const (
	reasonUnresolved     = "no confident external taxonomy match"
	reasonUnavailable    = "external taxonomy unavailable"
	reasonDefaultWeight  = "shipping weight is a department default"
	reasonClassifier     = "classifier marked the product uncertain"
	reasonRewriteFailure = "description rewrite failed"
)

// merge returns a copy of p carrying the classification, the resolved
// external category, and the weight estimate. Fields owned by the
// pipeline are reset first so a re-run never accumulates stale flags.
func (o *Orchestrator) merge(p *types.Product, c types.Classification, entry types.ResolutionEntry) *types.Product {
	q := p.Clone()
	q.NeedsReview = false
	q.ReviewReasons = nil
	q.ExternalCategoryID = nil
	q.ExternalCategory = ""
	q.ExternalCategoryConfidence = ""
	q.WeightData = nil

	q.Taxonomy = &types.Taxonomy{Department: c.Department, Category: c.Category, Subcategory: c.Subcategory}
	q.PurchaseOptions = append([]types.PurchaseOption(nil), c.PurchaseOptions...)
	q.PurchaseConsideration = c.PurchaseConsideration
	if c.NeedsReview {
		q.FlagForReview(reasonClassifier)
	}

	switch {
	case entry.Resolved():
		id := entry.ID()
		q.ExternalCategoryID = &id
		q.ExternalCategory = entry.ExternalName
		q.ExternalCategoryConfidence = entry.Confidence
	case entry.Strategy == resolve.StrategyUnavailable:
		q.FlagForReview(reasonUnavailable)
	default:
		q.ExternalCategoryConfidence = entry.Confidence
		q.FlagForReview(reasonUnresolved)
	}

	if o.ships(c) {
		est := o.estimator.Estimate(weightInput(p, c))
		q.WeightData = &est
		if est.NeedsReview {
			q.FlagForReview(reasonDefaultWeight)
		}
		for i := range q.Variants {
			w := est.FinalWeight
			g := weight.Grams(w)
			q.Variants[i].Weight = &w
			q.Variants[i].Grams = &g
		}
	}
	return &q
}

// applyRewrite sets the rewritten description, or keeps the original and
// flags the product when the rewrite failed.
func applyRewrite(q *types.Product, html string, err error) {
	if err != nil {
		q.FlagForReview(fmt.Sprintf("%s: %v", reasonRewriteFailure, err))
		return
	}
	q.DescriptionHTML = html
}

// ships reports whether a classified product is shipped to the buyer. A
// product ships only when delivery is offered and its category is not
// listed as non-shipped.
func (o *Orchestrator) ships(c types.Classification) bool {
	delivery := false
	for _, opt := range c.PurchaseOptions {
		if opt == types.OptionDelivery {
			delivery = true
			break
		}
	}
	if !delivery {
		return false
	}
	for _, ns := range o.nonShipped {
		if c.Path().Within(ns) {
			return false
		}
	}
	return true
}

// weightInput builds the estimator input. A record enriched before carries
// the estimate on its variants, so the pre-enrichment weight is used instead.
func weightInput(p *types.Product, c types.Classification) weight.Input {
	in := weight.InputFor(p, &c)
	if p.WeightData != nil {
		in.VariantWeight = p.WeightData.OriginalWeight
	}
	return in
}
