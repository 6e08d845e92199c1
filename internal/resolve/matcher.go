// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Strategy tags recorded on resolution entries.
const (
	StrategyLeafExact   = "leaf_exact"
	StrategyContains    = "contains"
	StrategyKeyword     = "keyword"
	StrategySemantic    = "semantic"
	StrategyUnresolved  = "unresolved"
	StrategyUnavailable = "taxonomy_unavailable"
)

// Request is the state threaded through the matcher chain for one path.
// Candidate matchers fill Candidates and Strategy; the first matcher that
// returns an entry ends the chain.
type Request struct {
	Path       types.CategoryPath
	Candidates []types.TaxonomyNode
	Strategy   string
}

// Matcher is one step of the resolution chain.
type Matcher interface {
	Name() string
	// TryMatch returns an entry when this step decides the resolution, or
	// nil to pass the request on.
	TryMatch(ctx context.Context, req *Request) (*types.ResolutionEntry, error)
}

// leafMatcher collects nodes whose own name equals the path's leaf segment.
type leafMatcher struct{ r *Resolver }

func (m leafMatcher) Name() string { return StrategyLeafExact }

func (m leafMatcher) TryMatch(_ context.Context, req *Request) (*types.ResolutionEntry, error) {
	if len(req.Candidates) > 0 {
		return nil, nil
	}
	if c := m.r.snap.ByLeafName(req.Path.Leaf()); len(c) > 0 {
		req.Candidates = m.r.cap(c)
		req.Strategy = StrategyLeafExact
	}
	return nil, nil
}

// containsMatcher collects nodes whose name contains the leaf term.
type containsMatcher struct{ r *Resolver }

func (m containsMatcher) Name() string { return StrategyContains }

func (m containsMatcher) TryMatch(_ context.Context, req *Request) (*types.ResolutionEntry, error) {
	if len(req.Candidates) > 0 {
		return nil, nil
	}
	c := m.r.scan(StrategyContains, req.Path.Leaf(), m.r.snap.NameContains)
	if len(c) > 0 {
		req.Candidates = c
		req.Strategy = StrategyContains
	}
	return nil, nil
}

// keywordMatcher collects nodes sharing keyword tokens with the whole path.
type keywordMatcher struct{ r *Resolver }

func (m keywordMatcher) Name() string { return StrategyKeyword }

func (m keywordMatcher) TryMatch(_ context.Context, req *Request) (*types.ResolutionEntry, error) {
	if len(req.Candidates) > 0 {
		return nil, nil
	}
	text := req.Path.String()
	c := m.r.scan(StrategyKeyword, text, m.r.snap.KeywordMatch)
	if len(c) > 0 {
		req.Candidates = c
		req.Strategy = StrategyKeyword
	}
	return nil, nil
}

// semanticMatcher asks the validator to judge the candidates against the
// whole path. With no candidates the validator picks from the tree by name.
type semanticMatcher struct{ r *Resolver }

func (m semanticMatcher) Name() string { return StrategySemantic }

func (m semanticMatcher) TryMatch(ctx context.Context, req *Request) (*types.ResolutionEntry, error) {
	res, err := m.r.validator.Validate(ctx, provider.ValidationRequest{
		Path:       req.Path,
		Candidates: req.Candidates,
	})
	if err != nil {
		if provider.IsFatal(err) {
			// An uninterpretable verdict is a non-match, not a product failure.
			m.r.log.Warn("validator response rejected", zap.String("path", req.Path.String()), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("validating %q: %w", req.Path.String(), err)
	}
	if res.ExternalID == "" {
		return nil, nil
	}

	node, ok := m.r.snap.Node(res.ExternalID)
	if !ok || (len(req.Candidates) > 0 && !contains(req.Candidates, res.ExternalID)) {
		m.r.log.Warn("validator returned unknown id",
			zap.String("path", req.Path.String()),
			zap.String("external_id", res.ExternalID))
		return nil, nil
	}
	if !res.Confidence.AtLeast(m.r.minConfidence) {
		m.r.log.Debug("match below threshold",
			zap.String("path", req.Path.String()),
			zap.String("external_id", res.ExternalID),
			zap.String("confidence", string(res.Confidence)))
		return nil, nil
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategySemantic
	}
	id := node.ID
	return &types.ResolutionEntry{
		Path:         req.Path,
		ExternalID:   &id,
		ExternalName: node.FullName(),
		Confidence:   res.Confidence,
		Strategy:     strategy,
	}, nil
}

// fallbackMatcher records NoConfidentMatch.
type fallbackMatcher struct{}

func (fallbackMatcher) Name() string { return StrategyUnresolved }

func (fallbackMatcher) TryMatch(_ context.Context, req *Request) (*types.ResolutionEntry, error) {
	return &types.ResolutionEntry{
		Path:       req.Path,
		Confidence: types.ConfidenceLow,
		Strategy:   StrategyUnresolved,
	}, nil
}

func contains(nodes []types.TaxonomyNode, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
