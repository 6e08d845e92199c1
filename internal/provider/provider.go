// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provider is the boundary to the generative AI service. The pipeline
// sees the service only through the interfaces declared here: classify a
// product, rewrite its description, validate taxonomy candidates, and the
// asynchronous batch form of classify and rewrite.
//
// Errors returned through these interfaces are classified as transient
// (timeouts, rate limits, overload; worth retrying) or fatal (a response
// that cannot be interpreted; retrying will not help).
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Classifier assigns an internal category, purchase options, and weight
// hints to a product.
type Classifier interface {
	Classify(ctx context.Context, p *types.Product) (types.Classification, error)
}

// Rewriter produces a new HTML description for a classified product.
type Rewriter interface {
	Rewrite(ctx context.Context, p *types.Product, c types.Classification) (string, error)
}

// ValidationRequest asks which candidate node fits an internal path. When
// Candidates is empty the validator chooses from the whole tree by name.
type ValidationRequest struct {
	Path       types.CategoryPath
	Candidates []types.TaxonomyNode
}

// ValidationResult is the validator's choice. An empty ExternalID means no
// candidate fits the path.
type ValidationResult struct {
	ExternalID string
	Confidence types.Confidence
	Reasoning  string
}

// Validator scores taxonomy candidates against the full internal path.
type Validator interface {
	Validate(ctx context.Context, req ValidationRequest) (ValidationResult, error)
}

// Provider is the synchronous form of the whole boundary.
type Provider interface {
	Classifier
	Rewriter
	Validator
}

// BatchKind selects the operation of a batch request.
type BatchKind string

const (
	KindClassify BatchKind = "classify"
	KindRewrite  BatchKind = "rewrite"
)

// BatchRequest is one item of a batch job. CustomID ties the result back to
// the request; results may arrive in any order.
type BatchRequest struct {
	CustomID       string
	Kind           BatchKind
	Product        *types.Product
	Classification *types.Classification // set for KindRewrite
}

// BatchState is the processing state of a batch job.
type BatchState string

const (
	BatchInProgress BatchState = "in_progress"
	BatchEnded      BatchState = "ended"
	BatchFailed     BatchState = "failed"
)

// BatchStatus reports a batch job's progress.
type BatchStatus struct {
	ID        string
	State     BatchState
	Succeeded int
	Errored   int
	Pending   int
	Message   string
}

// BatchResult is the outcome of one batch request. Exactly one of
// Classification, Text, or Err is meaningful for a given Kind.
type BatchResult struct {
	CustomID       string
	Classification *types.Classification
	Text           string
	Err            error
}

// BatchProvider is the asynchronous form of classify and rewrite.
type BatchProvider interface {
	Submit(ctx context.Context, reqs []BatchRequest) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (BatchStatus, error)
	Fetch(ctx context.Context, jobID string) ([]BatchResult, error)
}

// TransientError is a failure worth retrying.
type TransientError struct {
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure that retrying will not fix, typically a response
// that cannot be interpreted.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Transient wraps err as a *TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Fatal wraps err as a *FatalError.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Besides
// *TransientError, network timeouts and per-call deadlines count as
// transient. Cancellation of the caller's own context does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsFatal reports whether err is a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
