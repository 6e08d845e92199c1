// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/internal/provider"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// ErrBatchJobFailed is recorded on every product of a batch job that failed
// twice as a whole.
var ErrBatchJobFailed = errors.New("batch job failed")

// batchID is the custom id of the record at index i.
func batchID(i int) string {
	return fmt.Sprintf("p-%05d", i+1)
}

// runBatch classifies pending products through batch jobs, resolves and
// merges each result, then rewrites descriptions in one more job.
// Per-item transient failures and items missing from the results are
// requeued into the next pass's job. Products merged in earlier passes are
// committed even when a later job fails or the run is interrupted.
func (o *Orchestrator) runBatch(ctx context.Context, st *runState, pending []int) error {
	classes := make(map[int]types.Classification)
	staged := make(map[int]*types.Product)

	var interrupted error
	for pass := 1; len(pending) > 0 && pass <= o.opts.MaxPasses; pass++ {
		if pass > 1 {
			o.log.Info("requeueing transient failures", zap.Int("pass", pass), zap.Int("products", len(pending)))
			if !sleep(ctx, o.backoff(pass)) {
				o.reset(ctx, st, pending)
				interrupted = ctx.Err()
				break
			}
		}

		reqs := make([]provider.BatchRequest, 0, len(pending))
		for _, i := range pending {
			reqs = append(reqs, provider.BatchRequest{CustomID: batchID(i), Kind: provider.KindClassify, Product: st.in[i]})
		}
		results, err := o.runJob(ctx, st, pending, reqs)
		if err != nil {
			if ctx.Err() != nil {
				o.reset(ctx, st, pending)
				interrupted = ctx.Err()
				break
			}
			for _, i := range pending {
				o.collect(ctx, st, outcome{index: i, err: err})
			}
			break
		}

		var next []int
		for _, i := range pending {
			q, c, err := o.applyClassification(ctx, st.in[i], results[batchID(i)])
			if err != nil {
				if o.collect(ctx, st, outcome{index: i, err: err}) {
					next = append(next, i)
				}
				continue
			}
			classes[i] = c
			staged[i] = q
		}
		pending = next
	}

	if o.opts.Rewrite && len(staged) > 0 {
		if interrupted != nil {
			for _, q := range staged {
				applyRewrite(q, "", interrupted)
			}
		} else {
			o.rewriteBatch(ctx, st, staged, classes)
		}
	}
	for i := range st.in {
		if q, ok := staged[i]; ok {
			o.collect(ctx, st, outcome{index: i, product: q})
		}
	}
	return interrupted
}

// applyClassification resolves and merges one classify result.
func (o *Orchestrator) applyClassification(ctx context.Context, p *types.Product, r *provider.BatchResult) (*types.Product, types.Classification, error) {
	switch {
	case r == nil:
		return nil, types.Classification{}, provider.Transient("classify", errors.New("missing from batch results"))
	case r.Err != nil:
		return nil, types.Classification{}, fmt.Errorf("classify: %w", r.Err)
	case r.Classification == nil:
		return nil, types.Classification{}, provider.Fatal("classify", errors.New("batch result has no classification"))
	}
	c := *r.Classification
	q, err := o.complete(ctx, p, c)
	return q, c, err
}

// rewriteBatch rewrites the descriptions of staged products in one job. A
// failed job or item keeps the original description and flags the product.
func (o *Orchestrator) rewriteBatch(ctx context.Context, st *runState, staged map[int]*types.Product, classes map[int]types.Classification) {
	idx := make([]int, 0, len(staged))
	for i := range st.in {
		if _, ok := staged[i]; ok {
			idx = append(idx, i)
		}
	}
	reqs := make([]provider.BatchRequest, 0, len(idx))
	for _, i := range idx {
		c := classes[i]
		reqs = append(reqs, provider.BatchRequest{CustomID: batchID(i), Kind: provider.KindRewrite, Product: st.in[i], Classification: &c})
	}

	results, err := o.runJob(ctx, st, nil, reqs)
	for _, i := range idx {
		switch r := results[batchID(i)]; {
		case err != nil:
			applyRewrite(staged[i], "", err)
		case r == nil:
			applyRewrite(staged[i], "", errors.New("missing from batch results"))
		default:
			applyRewrite(staged[i], r.Text, r.Err)
		}
	}
}

// runJob submits reqs and waits for the results, keyed by custom id. A job
// that fails as a whole is resubmitted once; the products in indexes are
// marked retryable in between. A second failure returns ErrBatchJobFailed.
func (o *Orchestrator) runJob(ctx context.Context, st *runState, indexes []int, reqs []provider.BatchRequest) (map[string]*provider.BatchResult, error) {
	var last error
	for attempt := 1; attempt <= 2; attempt++ {
		for _, i := range indexes {
			o.transition(ctx, st, i, types.StateInProgress, "")
		}
		results, err := o.job(ctx, reqs)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last = err
		o.log.Warn("batch job failed", zap.Int("attempt", attempt), zap.Int("requests", len(reqs)), zap.Error(err))
		if attempt == 1 {
			for _, i := range indexes {
				o.transition(ctx, st, i, types.StateFailedRetryable, err.Error())
			}
		}
	}
	return nil, provider.Fatal("batch", fmt.Errorf("%w: %v", ErrBatchJobFailed, last))
}

// job runs one batch job to completion.
func (o *Orchestrator) job(ctx context.Context, reqs []provider.BatchRequest) (map[string]*provider.BatchResult, error) {
	id, err := o.batch.Submit(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("submitting batch: %w", err)
	}
	o.log.Info("batch submitted", zap.String("batch", id), zap.Int("requests", len(reqs)))

	if err := o.await(ctx, id); err != nil {
		return nil, err
	}

	items, err := o.batch.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching batch %s: %w", id, err)
	}
	out := make(map[string]*provider.BatchResult, len(items))
	for i := range items {
		out[items[i].CustomID] = &items[i]
	}
	return out, nil
}

// await polls job id until it ends, fails, or MaxWait elapses. Transient
// poll errors are logged and polling continues.
func (o *Orchestrator) await(ctx context.Context, id string) error {
	deadline := time.Now().Add(o.opts.MaxWait)
	for {
		status, err := o.batch.Poll(ctx, id)
		switch {
		case err == nil && status.State == provider.BatchEnded:
			o.log.Info("batch ended", zap.String("batch", id),
				zap.Int("succeeded", status.Succeeded), zap.Int("errored", status.Errored))
			return nil
		case err == nil && status.State == provider.BatchFailed:
			return fmt.Errorf("batch %s failed: %s", id, status.Message)
		case err != nil && !provider.IsTransient(err):
			return fmt.Errorf("polling batch %s: %w", id, err)
		case err != nil:
			o.log.Warn("polling batch", zap.String("batch", id), zap.Error(err))
		default:
			o.log.Debug("batch in progress", zap.String("batch", id), zap.Int("pending", status.Pending))
		}

		if !time.Now().Before(deadline) {
			return fmt.Errorf("batch %s still running after %s", id, o.opts.MaxWait)
		}
		if !sleep(ctx, o.opts.PollInterval) {
			return ctx.Err()
		}
	}
}

// reset returns interrupted products to pending.
func (o *Orchestrator) reset(ctx context.Context, st *runState, indexes []int) {
	for _, i := range indexes {
		o.transition(ctx, st, i, types.StatePending, "interrupted")
	}
}
