// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/internal/weight"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// CheckpointFunc receives the current output after every CheckpointEvery
// completed products.
type CheckpointFunc func(ctx context.Context, products []*types.Product) error

// Orchestrator runs the enrichment pipeline.
type Orchestrator struct {
	classifier provider.Classifier
	rewriter   provider.Rewriter
	batch      provider.BatchProvider
	resolver   Resolver
	estimator  *weight.Estimator
	opts       Options
	nonShipped []types.CategoryPath

	tracker    Tracker
	checkpoint CheckpointFunc
	flushers   []Flusher
	progress   io.Writer
	log        *zap.Logger
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBatchProvider supplies the provider used when Options.Batch is set.
func WithBatchProvider(b provider.BatchProvider) Option {
	return func(o *Orchestrator) { o.batch = b }
}

// WithTracker records every state transition.
func WithTracker(t Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithCheckpoint sets the checkpoint callback.
func WithCheckpoint(fn CheckpointFunc) Option {
	return func(o *Orchestrator) { o.checkpoint = fn }
}

// WithFlushers registers caches flushed at each checkpoint and on exit.
func WithFlushers(fs ...Flusher) Option {
	return func(o *Orchestrator) { o.flushers = append(o.flushers, fs...) }
}

// WithProgress writes one line per product to w.
func WithProgress(w io.Writer) Option {
	return func(o *Orchestrator) { o.progress = w }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock overrides the clock used for state markers.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an orchestrator. rw may be nil when opts.Rewrite is false.
func New(cls provider.Classifier, rw provider.Rewriter, res Resolver, est *weight.Estimator, opts Options, options ...Option) (*Orchestrator, error) {
	if cls == nil || res == nil || est == nil {
		return nil, errors.New("enrich: classifier, resolver, and estimator are required")
	}
	o := &Orchestrator{
		classifier: cls,
		rewriter:   rw,
		resolver:   res,
		estimator:  est,
		opts:       opts.withDefaults(),
		progress:   io.Discard,
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, fn := range options {
		fn(o)
	}
	if o.opts.Rewrite && o.rewriter == nil {
		return nil, errors.New("enrich: rewrite enabled without a rewriter")
	}
	if o.opts.Batch && o.batch == nil {
		return nil, errors.New("enrich: batch mode needs a batch provider")
	}
	for _, ns := range o.opts.NonShipped {
		o.nonShipped = append(o.nonShipped, types.ParseCategoryPath(ns))
	}
	return o, nil
}

// Result is the outcome of one run.
type Result struct {
	// Products is the output in input order. Fatally failed products are
	// omitted; every other record is present, enriched or unchanged.
	Products []*types.Product
	Summary  Summary
}

// Run enriches products. Per-product failures are reported in the summary.
// When ctx is cancelled, in-flight products finish, no new product starts,
// and Run returns the partial result together with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, products []*types.Product) (*Result, error) {
	st := newRunState(products)
	start := o.now()
	defer o.flush(context.WithoutCancel(ctx))

	var pending []int
	for i, p := range products {
		switch {
		case !o.opts.Range.Contains(i + 1):
			st.state[i] = stateUntouched
		case o.opts.Mode == types.ModeSkipProcessed && IsProcessed(p):
			o.transition(ctx, st, i, types.StateSkipped, "")
			fmt.Fprintf(o.progress, "skipped %s\n", p.Key())
		default:
			st.state[i] = types.StatePending
			pending = append(pending, i)
		}
	}
	o.log.Info("enrichment started",
		zap.Int("products", len(products)),
		zap.Int("pending", len(pending)),
		zap.String("mode", string(o.opts.Mode)),
		zap.Bool("batch", o.opts.Batch))

	var err error
	if o.opts.Batch {
		err = o.runBatch(ctx, st, pending)
	} else {
		o.runSync(ctx, st, pending)
	}
	if err == nil {
		err = ctx.Err()
	}

	res := &Result{Products: st.output(), Summary: st.summary(start, o.now())}
	o.log.Info("enrichment finished",
		zap.Int("done", res.Summary.Done),
		zap.Int("skipped", res.Summary.Skipped),
		zap.Int("failed", len(res.Summary.Failures)),
		zap.Int("review", len(res.Summary.Reviews)))
	return res, err
}

// runSync processes pending products on a bounded worker pool, requeueing
// transient failures for up to MaxPasses passes.
func (o *Orchestrator) runSync(ctx context.Context, st *runState, pending []int) {
	for pass := 1; len(pending) > 0 && pass <= o.opts.MaxPasses; pass++ {
		if pass > 1 {
			o.log.Info("requeueing transient failures", zap.Int("pass", pass), zap.Int("products", len(pending)))
			if !sleep(ctx, o.backoff(pass)) {
				return
			}
		}
		pending = o.syncPass(ctx, st, pending)
	}
}

type outcome struct {
	index   int
	product *types.Product
	err     error
}

// syncPass runs one pass and returns the indexes to retry. Workers send
// outcomes to a single collector that owns all state updates.
func (o *Orchestrator) syncPass(ctx context.Context, st *runState, queue []int) []int {
	results := make(chan outcome)
	retry := make(chan []int, 1)
	go func() {
		var again []int
		for r := range results {
			if o.collect(ctx, st, r) {
				again = append(again, r.index)
			}
		}
		retry <- again
	}()

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	work := context.WithoutCancel(ctx)
	for _, i := range queue {
		if ctx.Err() != nil {
			break
		}
		p := st.in[i]
		g.Go(func() error {
			o.transition(ctx, st, i, types.StateInProgress, "")
			q, err := o.process(work, p)
			results <- outcome{index: i, product: q, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	return <-retry
}

// process runs the synchronous pipeline for one product.
func (o *Orchestrator) process(ctx context.Context, p *types.Product) (*types.Product, error) {
	c, err := o.classifier.Classify(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	q, err := o.complete(ctx, p, c)
	if err != nil {
		return nil, err
	}
	if o.opts.Rewrite {
		html, err := o.rewriter.Rewrite(ctx, p, c)
		applyRewrite(q, html, err)
	}
	return q, nil
}

// complete resolves the external category and merges the result.
func (o *Orchestrator) complete(ctx context.Context, p *types.Product, c types.Classification) (*types.Product, error) {
	entry, err := o.resolver.Resolve(ctx, c.Path())
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", c.Path(), err)
	}
	return o.merge(p, c, entry), nil
}

// collect records one outcome and reports whether it should be retried.
func (o *Orchestrator) collect(ctx context.Context, st *runState, r outcome) bool {
	key := st.in[r.index].Key()
	switch {
	case r.err == nil:
		o.finish(ctx, st, r.index, r.product)
		fmt.Fprintf(o.progress, "done    %s\n", key)
		return false
	case provider.IsTransient(r.err):
		o.transition(ctx, st, r.index, types.StateFailedRetryable, r.err.Error())
		o.markRetryable(st, r.index, r.err)
		fmt.Fprintf(o.progress, "retry   %s: %v\n", key, r.err)
		return true
	default:
		o.transition(ctx, st, r.index, types.StateFailedFatal, r.err.Error())
		fmt.Fprintf(o.progress, "failed  %s: %v\n", key, r.err)
		return false
	}
}

// finish stores an enriched product, stamps its marker, and checkpoints.
func (o *Orchestrator) finish(ctx context.Context, st *runState, i int, q *types.Product) {
	st.mu.Lock()
	q.Enrichment = &types.EnrichmentStatus{
		State:     types.StateDone,
		Attempts:  st.attempts[i],
		UpdatedAt: o.now().UTC(),
	}
	st.out[i] = q
	st.sinceCheckpoint++
	due := o.opts.CheckpointEvery > 0 && st.sinceCheckpoint >= o.opts.CheckpointEvery
	if due {
		st.sinceCheckpoint = 0
	}
	st.mu.Unlock()

	o.transition(ctx, st, i, types.StateDone, "")
	if due {
		o.saveCheckpoint(ctx, st)
	}
}

// markRetryable keeps the record unenriched but stamps the failure on it,
// so the next run picks it up again.
func (o *Orchestrator) markRetryable(st *runState, i int, err error) {
	q := st.in[i].Clone()
	st.mu.Lock()
	defer st.mu.Unlock()
	q.Enrichment = &types.EnrichmentStatus{
		State:     types.StateFailedRetryable,
		Attempts:  st.attempts[i],
		LastError: err.Error(),
		UpdatedAt: o.now().UTC(),
	}
	st.out[i] = &q
}

// transition updates the state of product i and reports it to the tracker.
// The tracker is called outside the state lock.
func (o *Orchestrator) transition(ctx context.Context, st *runState, i int, state types.ProcessingState, reason string) {
	st.mu.Lock()
	if state == types.StateInProgress {
		st.attempts[i]++
	}
	st.state[i] = state
	st.reason[i] = reason
	ev := Event{Index: i + 1, Key: st.in[i].Key(), State: state, Attempts: st.attempts[i], Reason: reason}
	st.mu.Unlock()

	if o.tracker == nil {
		return
	}
	if err := o.tracker.Track(context.WithoutCancel(ctx), ev); err != nil {
		o.log.Warn("recording state failed", zap.String("product", ev.Key), zap.Error(err))
	}
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, st *runState) {
	ctx = context.WithoutCancel(ctx)
	o.flush(ctx)
	if o.checkpoint == nil {
		return
	}
	if err := o.checkpoint(ctx, st.output()); err != nil {
		o.log.Warn("checkpoint failed", zap.Error(err))
	}
}

func (o *Orchestrator) flush(ctx context.Context) {
	for _, f := range o.flushers {
		if err := f.Flush(ctx); err != nil {
			o.log.Warn("flushing cache failed", zap.Error(err))
		}
	}
}

// backoff returns the pause before pass; it doubles each pass after the second.
func (o *Orchestrator) backoff(pass int) time.Duration {
	d := o.opts.RetryBackoff
	for i := 2; i < pass; i++ {
		d *= 2
	}
	return d
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// stateUntouched marks records outside the selected range.
const stateUntouched types.ProcessingState = ""

// runState is the per-run bookkeeping shared by the collector and the
// dispatch loop.
type runState struct {
	mu              sync.Mutex
	in              []*types.Product
	out             []*types.Product
	state           []types.ProcessingState
	attempts        []int
	reason          []string
	sinceCheckpoint int
}

func newRunState(products []*types.Product) *runState {
	n := len(products)
	return &runState{
		in:       products,
		out:      make([]*types.Product, n),
		state:    make([]types.ProcessingState, n),
		attempts: make([]int, n),
		reason:   make([]string, n),
	}
}

// output assembles the records in input order, dropping fatal failures.
func (st *runState) output() []*types.Product {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*types.Product, 0, len(st.in))
	for i, p := range st.in {
		switch {
		case st.state[i] == types.StateFailedFatal:
			continue
		case st.out[i] != nil:
			out = append(out, st.out[i])
		default:
			out = append(out, p)
		}
	}
	return out
}
