// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/catalog-enricher/internal/cachestore"
	"github.com/pdiddy/catalog-enricher/internal/catalog"
	"github.com/pdiddy/catalog-enricher/internal/extaxonomy"
	"github.com/pdiddy/catalog-enricher/internal/resolution"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect and maintain the external taxonomy and resolution caches",
}

var taxonomyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached taxonomy snapshot and resolution cache",
	Args:  cobra.NoArgs,
	RunE:  runTaxonomyStatus,
}

var taxonomyRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refetch the external taxonomy regardless of its age",
	Long: `Refresh downloads the external taxonomy and replaces the cached snapshot
once the new tree has been parsed and validated. A failed download leaves the
cached snapshot in place.`,
	Args: cobra.NoArgs,
	RunE: runTaxonomyRefresh,
}

var taxonomyResolveCmd = &cobra.Command{
	Use:   "resolve <Department > Category > Subcategory>",
	Short: "Resolve one internal category path",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaxonomyResolve,
}

var refreshResolutionsCmd = &cobra.Command{
	Use:   "refresh-resolutions [paths...]",
	Short: "Recompute the cached resolutions of specific category paths",
	Long: `Refresh-resolutions recomputes exactly the given paths, or every path
assigned in the --input product file, and overwrites their cache entries.
Entries for other paths are left alone. To clear the whole cache use
purge-resolutions.`,
	RunE: runRefreshResolutions,
}

var purgeResolutionsCmd = &cobra.Command{
	Use:   "purge-resolutions",
	Short: "Delete every cached resolution",
	Args:  cobra.NoArgs,
	RunE:  runPurgeResolutions,
}

func init() {
	taxonomyStatusCmd.Flags().Bool("yaml", false, "print the status as YAML")
	refreshResolutionsCmd.Flags().String("input", "", "product file whose assigned categories are refreshed")
	purgeResolutionsCmd.Flags().String("confirm", "", fmt.Sprintf("must be %q", resolution.PurgeConfirmation))

	taxonomyCmd.AddCommand(taxonomyStatusCmd, taxonomyRefreshCmd, taxonomyResolveCmd,
		refreshResolutionsCmd, purgeResolutionsCmd)
	rootCmd.AddCommand(taxonomyCmd)
}

// taxonomyStatus is the output of taxonomy status.
type taxonomyStatus struct {
	Storage     string    `yaml:"storage"`
	Snapshot    string    `yaml:"snapshot"`
	Source      string    `yaml:"source,omitempty"`
	CachedAt    time.Time `yaml:"cached_at,omitempty"`
	Age         string    `yaml:"age,omitempty"`
	Nodes       int       `yaml:"nodes"`
	Stale       bool      `yaml:"stale"`
	Resolutions int       `yaml:"resolutions"`
	Unresolved  int       `yaml:"unresolved"`
}

func runTaxonomyStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	st := taxonomyStatus{Storage: s.backend.Name, Snapshot: "present"}
	snap, err := s.taxonomy.Peek(ctx)
	var corrupt *extaxonomy.CorruptError
	switch {
	case errors.Is(err, cachestore.ErrNotFound):
		st.Snapshot = "missing"
	case errors.As(err, &corrupt):
		st.Snapshot = "corrupt"
	case err != nil && !errors.Is(err, extaxonomy.ErrStale):
		return err
	}
	if snap != nil {
		st.Source = snap.Source
		st.CachedAt = snap.CachedAt
		st.Age = snap.Age(time.Now()).Round(time.Minute).String()
		st.Nodes = snap.Len()
	}
	st.Stale = s.taxonomy.IsStale(snap)

	entries := s.cache.Snapshot()
	st.Resolutions = len(entries)
	for _, e := range entries {
		if !e.Resolved() {
			st.Unresolved++
		}
	}

	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(st)
	}
	fmt.Fprintf(os.Stdout, "storage:      %s\n", st.Storage)
	fmt.Fprintf(os.Stdout, "snapshot:     %s\n", st.Snapshot)
	if snap != nil {
		fmt.Fprintf(os.Stdout, "source:       %s\n", st.Source)
		fmt.Fprintf(os.Stdout, "cached at:    %s (%s ago)\n", st.CachedAt.Format(time.RFC3339), st.Age)
		fmt.Fprintf(os.Stdout, "nodes:        %d\n", st.Nodes)
	}
	fmt.Fprintf(os.Stdout, "stale:        %t\n", st.Stale)
	fmt.Fprintf(os.Stdout, "resolutions:  %d (%d unresolved)\n", st.Resolutions, st.Unresolved)
	return nil
}

func runTaxonomyRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	snap, err := s.taxonomy.ForceRefresh(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "refreshed %d nodes from %s\n", snap.Len(), snap.Source)
	return nil
}

func runTaxonomyResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := types.ParseCategoryPath(strings.Join(args, " "))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, _, err := newProvider(ctx, cfg.AI)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	res, err := s.resolver(ctx, svc)
	if err != nil {
		return err
	}
	e, err := res.Resolve(ctx, path)
	if err != nil {
		return err
	}
	if err := s.cache.Flush(ctx); err != nil {
		return err
	}
	printEntry(e)
	return nil
}

func runRefreshResolutions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var paths []types.CategoryPath
	for _, a := range args {
		paths = append(paths, types.ParseCategoryPath(a))
	}
	if input, _ := cmd.Flags().GetString("input"); input != "" {
		f, err := catalog.Load(input)
		if err != nil {
			return fmt.Errorf("reading %s: %w", input, err)
		}
		for _, p := range f.Products {
			if path := p.Taxonomy.Path(); !path.IsZero() {
				paths = append(paths, path)
			}
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("provide category paths or --input with assigned categories")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, _, err := newProvider(ctx, cfg.AI)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	res, err := s.resolver(ctx, svc)
	if err != nil {
		return err
	}
	entries, refreshErr := res.Refresh(ctx, paths)
	if err := s.cache.Flush(ctx); err != nil {
		return err
	}
	for _, e := range entries {
		printEntry(e)
	}
	fmt.Fprintf(os.Stdout, "\n%d resolution(s) refreshed\n", len(entries))
	return refreshErr
}

func runPurgeResolutions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	confirm, _ := cmd.Flags().GetString("confirm")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	n, err := s.cache.Purge(confirm)
	if err != nil {
		return fmt.Errorf("%w: pass --confirm %s", err, resolution.PurgeConfirmation)
	}
	if err := s.cache.Flush(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "purged %d resolution(s)\n", n)
	return nil
}

func printEntry(e types.ResolutionEntry) {
	id := e.ID()
	if id == "" {
		id = "(unresolved)"
	}
	fmt.Fprintf(os.Stdout, "%-50s  %-45s  %-7s  %s\n", e.Path, id, e.Confidence, e.Strategy)
	if e.ExternalName != "" {
		fmt.Fprintf(os.Stdout, "%-50s  %s\n", "", e.ExternalName)
	}
}
