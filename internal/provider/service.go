// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Completer sends one prompt to a model and returns its text reply. Backends
// return *TransientError or *FatalError so callers can decide on retries.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Service implements Provider on top of any Completer.
type Service struct {
	c   Completer
	log *zap.Logger
}

// NewService returns a Provider backed by c. log may be nil.
func NewService(c Completer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{c: c, log: log}
}

// Classify implements Classifier.
func (s *Service) Classify(ctx context.Context, p *types.Product) (types.Classification, error) {
	prompt, err := ClassifyPrompt(p)
	if err != nil {
		return types.Classification{}, fmt.Errorf("rendering classify prompt: %w", err)
	}
	text, err := s.c.Complete(ctx, prompt)
	if err != nil {
		return types.Classification{}, err
	}
	c, err := ParseClassification(text)
	if err != nil {
		s.log.Debug("unparseable classification", zap.String("product", p.Key()), zap.String("response", text))
		return types.Classification{}, err
	}
	return c, nil
}

// Rewrite implements Rewriter.
func (s *Service) Rewrite(ctx context.Context, p *types.Product, c types.Classification) (string, error) {
	prompt, err := RewritePrompt(p, c)
	if err != nil {
		return "", fmt.Errorf("rendering rewrite prompt: %w", err)
	}
	text, err := s.c.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return ParseDescription(text)
}

// Validate implements Validator.
func (s *Service) Validate(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	prompt, err := ValidatePrompt(req)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("rendering validate prompt: %w", err)
	}
	text, err := s.c.Complete(ctx, prompt)
	if err != nil {
		return ValidationResult{}, err
	}
	res, err := ParseValidation(text)
	if err != nil {
		s.log.Debug("unparseable validation", zap.String("path", req.Path.String()), zap.String("response", text))
		return ValidationResult{}, err
	}
	return res, nil
}

// RenderRequest renders the prompt for one batch request.
func RenderRequest(r BatchRequest) (string, error) {
	switch r.Kind {
	case KindClassify:
		return ClassifyPrompt(r.Product)
	case KindRewrite:
		if r.Classification == nil {
			return "", fmt.Errorf("rewrite request %s has no classification", r.CustomID)
		}
		return RewritePrompt(r.Product, *r.Classification)
	}
	return "", fmt.Errorf("unknown batch kind %q", r.Kind)
}

// ParseResult interprets the text of one batch result according to kind.
func ParseResult(customID string, kind BatchKind, text string) BatchResult {
	res := BatchResult{CustomID: customID}
	switch kind {
	case KindClassify:
		c, err := ParseClassification(text)
		if err != nil {
			res.Err = err
			return res
		}
		res.Classification = &c
	case KindRewrite:
		res.Text, res.Err = ParseDescription(text)
	default:
		res.Err = Fatal("parse result", fmt.Errorf("unknown batch kind %q", kind))
	}
	return res
}

// WireID prefixes a custom id with its kind so results decode without
// extra state. Anthropic limits ids to 64 characters of [a-zA-Z0-9_-].
func WireID(kind BatchKind, customID string) string {
	return string(kind) + "-" + customID
}

// ParseWireID reverses WireID.
func ParseWireID(wire string) (BatchKind, string, bool) {
	for _, k := range []BatchKind{KindClassify, KindRewrite} {
		if id, ok := strings.CutPrefix(wire, string(k)+"-"); ok {
			return k, id, true
		}
	}
	return "", wire, false
}
