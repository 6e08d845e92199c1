// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/internal/cachestore"
	"github.com/pdiddy/catalog-enricher/internal/catalog"
	"github.com/pdiddy/catalog-enricher/internal/enrich"
	"github.com/pdiddy/catalog-enricher/internal/ledger"
	"github.com/pdiddy/catalog-enricher/internal/resolve"
	"github.com/pdiddy/catalog-enricher/internal/weight"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <input.json> <output.json>",
	Short: "Classify, resolve, weigh, and rewrite a product file",
	Long: `Enrich reads a product file, enriches every selected record, and writes
the result to the output file. The output is rewritten atomically at each
checkpoint, so an interrupted run resumes by enriching the output file again
in skip-processed mode.

With --refresh-resolutions, every category assigned during the run is
resolved afresh the first time it is seen and its cached resolution is
overwritten. Resolutions of other categories are left alone.

Records that fail permanently are left out of the output and listed in the
summary; records whose failures outlast every retry pass are kept unchanged.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().Int("start", 0, "first record to process, 1-based (default: first)")
	enrichCmd.Flags().Int("end", 0, "last record to process, inclusive (default: last)")
	enrichCmd.Flags().String("mode", "", "skip-processed or overwrite (default skip-processed)")
	enrichCmd.Flags().Bool("batch", false, "submit provider calls as asynchronous batch jobs")
	enrichCmd.Flags().Bool("no-rewrite", false, "keep the original descriptions")
	enrichCmd.Flags().Int("workers", 0, "concurrent products on the synchronous path (default 4)")
	enrichCmd.Flags().Bool("refresh-resolutions", false, "re-resolve the categories assigned in this run")
	enrichCmd.Flags().String("report", "", "write the run summary as YAML to this file")

	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	inPath, outPath := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := enrichFlags(cmd, &cfg.Enrich); err != nil {
		return err
	}

	in, err := catalog.Load(inPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, batch, err := newProvider(ctx, cfg.AI)
	if err != nil {
		return err
	}
	if cfg.Enrich.Batch && batch == nil {
		return fmt.Errorf("provider %s has no batch API; run without --batch", cfg.AI.Provider)
	}

	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	var resOpts []resolve.Option
	if refresh, _ := cmd.Flags().GetBool("refresh-resolutions"); refresh {
		resOpts = append(resOpts, resolve.WithRefresh())
	}
	res, err := s.resolver(ctx, svc, resOpts...)
	if err != nil {
		return err
	}
	if res.Degraded() && len(resOpts) > 0 {
		logger.Warn("no usable taxonomy snapshot, cached resolutions are not refreshed")
	}

	runs, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer runs.Close()
	run, err := runs.StartRun(ctx, inPath, cfg.Enrich.Mode)
	if err != nil {
		return err
	}
	logger.Info("run started", zap.String("run", run.ID), zap.String("input", inPath), zap.Int("records", len(in.Products)))

	tracker := enrich.TrackerFunc(func(ctx context.Context, ev enrich.Event) error {
		return runs.Mark(ctx, ledger.ProductState{
			RunID:      run.ID,
			ProductKey: ev.Key,
			Index:      ev.Index,
			State:      ev.State,
			Attempts:   ev.Attempts,
			Reason:     ev.Reason,
		})
	})
	checkpoint := func(_ context.Context, products []*types.Product) error {
		return in.WithProducts(products).Save(outPath)
	}

	opts := []enrich.Option{
		enrich.WithTracker(tracker),
		enrich.WithCheckpoint(checkpoint),
		enrich.WithFlushers(s.cache),
		enrich.WithProgress(os.Stdout),
		enrich.WithLogger(logger.Named("enrich")),
	}
	if batch != nil {
		opts = append(opts, enrich.WithBatchProvider(batch))
	}
	orch, err := enrich.New(svc, svc, res, weight.New(cfg.Weight), enrich.OptionsFrom(cfg.Enrich), opts...)
	if err != nil {
		return err
	}

	result, runErr := orch.Run(ctx, in.Products)
	done := context.WithoutCancel(ctx)

	if err := in.WithProducts(result.Products).Save(outPath); err != nil {
		runs.FinishRun(done, run.ID, ledger.RunFailed)
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	status := ledger.RunCompleted
	if errors.Is(runErr, context.Canceled) {
		status = ledger.RunInterrupted
	} else if runErr != nil {
		status = ledger.RunFailed
	}
	if err := runs.FinishRun(done, run.ID, status); err != nil {
		logger.Warn("recording run result", zap.Error(err))
	}

	result.Summary.Print(os.Stdout)
	fmt.Fprintf(os.Stdout, "run %s %s, output written to %s\n", run.ID, status, outPath)

	if reportPath, _ := cmd.Flags().GetString("report"); reportPath != "" {
		if err := writeReport(reportPath, result.Summary); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	if result.Summary.HasFailures() {
		return fmt.Errorf("%d product(s) did not complete", len(result.Summary.Failures))
	}
	return nil
}

// enrichFlags applies command-line overrides to the configuration.
func enrichFlags(cmd *cobra.Command, cfg *types.EnrichConfig) error {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		mode, _ := flags.GetString("mode")
		cfg.Mode = types.ProcessingMode(mode)
	}
	switch cfg.Mode {
	case types.ModeSkipProcessed, types.ModeOverwrite:
	default:
		return fmt.Errorf("unknown mode %q: want skip-processed or overwrite", cfg.Mode)
	}
	if flags.Changed("start") {
		cfg.Start, _ = flags.GetInt("start")
	}
	if flags.Changed("end") {
		cfg.End, _ = flags.GetInt("end")
	}
	if cfg.Start < 0 || cfg.End < 0 || (cfg.End > 0 && cfg.Start > cfg.End) {
		return fmt.Errorf("invalid record range %d..%d", cfg.Start, cfg.End)
	}
	if flags.Changed("batch") {
		cfg.Batch, _ = flags.GetBool("batch")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("no-rewrite") {
		noRewrite, _ := flags.GetBool("no-rewrite")
		cfg.Rewrite = !noRewrite
	}
	return nil
}

func writeReport(path string, s enrich.Summary) error {
	var buf bytes.Buffer
	if err := s.WriteYAML(&buf); err != nil {
		return err
	}
	if err := cachestore.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
