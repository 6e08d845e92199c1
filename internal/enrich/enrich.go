// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich drives the enrichment pipeline over an ordered batch of
// products. For each eligible product it requests a classification from the
// AI provider, estimates the shipping weight, resolves the assigned category
// path against the external taxonomy, optionally rewrites the description,
// and merges the results into the record.
//
// Per product the state moves pending -> in_progress -> done, or through
// failed_retryable back to pending for a bounded number of passes, or to
// failed_fatal, which excludes the product from the output. Per-product
// failures never abort a run.
package enrich

import (
	"context"
	"time"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Range selects records by 1-based inclusive position. Zero leaves a side open.
type Range struct {
	Start int
	End   int
}

// Contains reports whether the 1-based record number n is in range.
func (r Range) Contains(n int) bool {
	if r.Start > 0 && n < r.Start {
		return false
	}
	if r.End > 0 && n > r.End {
		return false
	}
	return true
}

// Options controls one run.
type Options struct {
	Mode  types.ProcessingMode
	Range Range

	// Workers bounds concurrent products on the synchronous path.
	Workers int
	// MaxPasses bounds how many times a product is attempted.
	MaxPasses int
	// RetryBackoff is the pause before the second pass; it doubles per pass.
	RetryBackoff time.Duration

	// Batch routes classify and rewrite through the batch provider.
	Batch        bool
	PollInterval time.Duration
	MaxWait      time.Duration

	Rewrite bool

	// CheckpointEvery emits the output after this many completed products.
	CheckpointEvery int

	// NonShipped lists "Department > Category" paths that never ship.
	NonShipped []string
}

// OptionsFrom converts configuration into run options.
func OptionsFrom(cfg types.EnrichConfig) Options {
	return Options{
		Mode:            cfg.Mode,
		Range:           Range{Start: cfg.Start, End: cfg.End},
		Workers:         cfg.Workers,
		MaxPasses:       cfg.MaxPasses,
		RetryBackoff:    cfg.RetryBackoff,
		Batch:           cfg.Batch,
		PollInterval:    cfg.PollInterval,
		MaxWait:         cfg.MaxWait,
		Rewrite:         cfg.Rewrite,
		CheckpointEvery: cfg.CheckpointEvery,
		NonShipped:      cfg.NonShipped,
	}
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = types.ModeSkipProcessed
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Minute
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 24 * time.Hour
	}
	return o
}

// IsProcessed reports whether p already carries a taxonomy assignment. It
// reads only the record's own fields.
func IsProcessed(p *types.Product) bool {
	return p != nil && p.Taxonomy != nil && !p.Taxonomy.Path().IsZero()
}

// Event is one per-product state transition.
type Event struct {
	Index    int // 1-based record number
	Key      string
	State    types.ProcessingState
	Attempts int
	Reason   string
}

// Tracker records state transitions, for example in the run ledger. Track
// may be called from several goroutines at once.
type Tracker interface {
	Track(ctx context.Context, ev Event) error
}

// TrackerFunc adapts a function to Tracker.
type TrackerFunc func(ctx context.Context, ev Event) error

// Track implements Tracker.
func (f TrackerFunc) Track(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Resolver maps an internal category path to an external taxonomy entry.
type Resolver interface {
	Resolve(ctx context.Context, path types.CategoryPath) (types.ResolutionEntry, error)
}

// Flusher persists a cache.
type Flusher interface {
	Flush(ctx context.Context) error
}
