// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/catalog-enricher/internal/ledger"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past enrichment runs from the run ledger",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-product states of one run",
	Long: `Show prints a run and the latest state of every product it touched. The
run id may be abbreviated to any unique prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsShow,
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs (0 = all)")
	runsShowCmd.Flags().Bool("failed", false, "only list products that did not complete")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openLedger() (*ledger.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return ledger.Open(cfg.Ledger.Path)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%-8s  %-20s  %-11s  %-14s  %5s  %5s  %5s  %s\n",
		"ID", "STARTED", "STATUS", "MODE", "DONE", "SKIP", "FAIL", "INPUT")
	for _, r := range runs {
		failed := r.Counts[types.StateFailedFatal] + r.Counts[types.StateFailedRetryable]
		fmt.Fprintf(os.Stdout, "%-8s  %-20s  %-11s  %-14s  %5d  %5d  %5d  %s\n",
			r.ID[:8], r.StartedAt.Local().Format(time.DateTime), r.Status, r.Mode,
			r.Counts[types.StateDone], r.Counts[types.StateSkipped], failed, r.Input)
	}
	fmt.Fprintf(os.Stdout, "\n%d runs\n", len(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	onlyFailed, _ := cmd.Flags().GetBool("failed")
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	states, err := store.States(cmd.Context(), run.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "run:      %s\n", run.ID)
	fmt.Fprintf(os.Stdout, "input:    %s\n", run.Input)
	fmt.Fprintf(os.Stdout, "mode:     %s\n", run.Mode)
	fmt.Fprintf(os.Stdout, "status:   %s\n", run.Status)
	fmt.Fprintf(os.Stdout, "started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(os.Stdout, "finished: %s (%s)\n", run.FinishedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintln(os.Stdout)

	fmt.Fprintf(os.Stdout, "%-5s  %-40s  %-16s  %-8s  %s\n", "#", "PRODUCT", "STATE", "ATTEMPTS", "REASON")
	for _, st := range states {
		if onlyFailed && (st.State == types.StateDone || st.State == types.StateSkipped) {
			continue
		}
		fmt.Fprintf(os.Stdout, "%-5d  %-40s  %-16s  %-8d  %s\n", st.Index, st.ProductKey, st.State, st.Attempts, st.Reason)
	}
	return nil
}
