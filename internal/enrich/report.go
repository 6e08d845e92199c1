// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"fmt"
	"io"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Summary holds the counts and per-product details of one run.
type Summary struct {
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Records  int `json:"records" yaml:"records"`
	Selected int `json:"selected" yaml:"selected"`
	Done     int `json:"done" yaml:"done"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Fatal    int `json:"failed_fatal" yaml:"failed_fatal"`

	// Retryable counts products whose transient failures outlasted every pass.
	Retryable int `json:"failed_retryable" yaml:"failed_retryable"`
	// Pending counts products never attempted because the run was interrupted.
	Pending int `json:"pending" yaml:"pending"`

	Failures []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
	Reviews  []Review  `json:"reviews,omitempty" yaml:"reviews,omitempty"`
}

// Failure describes one product that did not complete.
type Failure struct {
	Index    int                   `json:"index" yaml:"index"`
	Product  string                `json:"product" yaml:"product"`
	State    types.ProcessingState `json:"state" yaml:"state"`
	Attempts int                   `json:"attempts" yaml:"attempts"`
	Reason   string                `json:"reason" yaml:"reason"`
}

// Review lists the review reasons of one enriched product.
type Review struct {
	Index   int      `json:"index" yaml:"index"`
	Product string   `json:"product" yaml:"product"`
	Reasons []string `json:"reasons" yaml:"reasons"`
}

// Total returns the number of selected products that reached a final state.
func (s Summary) Total() int {
	return s.Done + s.Skipped + s.Fatal + s.Retryable
}

// HasFailures reports whether any selected product did not complete.
func (s Summary) HasFailures() bool {
	return s.Fatal > 0 || s.Retryable > 0 || s.Pending > 0
}

// Print writes a human-readable summary to w.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "\n%d records, %d selected: %d done, %d skipped, %d failed, %d retryable, %d pending, %d need review\n",
		s.Records, s.Selected, s.Done, s.Skipped, s.Fatal, s.Retryable, s.Pending, len(s.Reviews))
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  #%d %s [%s]: %s\n", f.Index, f.Product, f.State, f.Reason)
	}
}

// WriteYAML writes the summary as YAML to w.
func (s Summary) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	return enc.Close()
}

func (st *runState) summary(start, end time.Time) Summary {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := Summary{StartedAt: start.UTC(), FinishedAt: end.UTC(), Records: len(st.in)}
	for i, state := range st.state {
		if state == stateUntouched {
			continue
		}
		s.Selected++
		key := st.in[i].Key()
		switch state {
		case types.StateDone:
			s.Done++
			if q := st.out[i]; q != nil && q.NeedsReview {
				s.Reviews = append(s.Reviews, Review{Index: i + 1, Product: key, Reasons: q.ReviewReasons})
			}
			continue
		case types.StateSkipped:
			s.Skipped++
			continue
		case types.StateFailedFatal:
			s.Fatal++
		case types.StateFailedRetryable:
			s.Retryable++
		default:
			s.Pending++
		}
		f := Failure{Index: i + 1, Product: key, State: state, Attempts: st.attempts[i], Reason: st.reason[i]}
		if f.Reason == "" {
			f.Reason = "not attempted"
		}
		s.Failures = append(s.Failures, f)
	}
	return s
}
