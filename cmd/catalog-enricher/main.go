// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the catalog-enricher CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/internal/secrets"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds the credentials loaded from .secrets/ at startup.
var loadedSecrets secrets.Set

// logger is built in PersistentPreRunE from the logging flags.
var logger = zap.NewNop()

// rootCmd is the base command for the catalog-enricher CLI.
var rootCmd = &cobra.Command{
	Use:   "catalog-enricher",
	Short: "AI enrichment for product catalogs",
	Long: `catalog-enricher classifies product records into the internal
Department > Category > Subcategory taxonomy, maps each category onto the
external product taxonomy, estimates shipping weights, and rewrites
descriptions.

Runs are resumable: records that already carry a taxonomy are skipped
unless --mode overwrite is given. Resolved category mappings and the
external taxonomy snapshot are cached between runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := buildLogger(cmd)
		if err != nil {
			return err
		}
		logger = l

		s, err := secrets.Load(".secrets/", logger.Named("secrets"))
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			logger.Debug("loaded secrets", zap.Strings("keys", s.Names()))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./catalog-enricher.yaml or ~/.config/catalog-enricher/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().String("log-format", "json", "log encoding: json or console")
}

func initConfig() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("catalog-enricher")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "catalog-enricher"))
		}
	}

	viper.SetEnvPrefix("CATALOG_ENRICHER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func buildLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("log-format")

	cfg := zap.NewProductionConfig()
	switch format {
	case "json", "":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q: want json or console", format)
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l, nil
}

// bindDefaults registers every configuration key so AutomaticEnv can
// override keys that are absent from the config file.
func bindDefaults() {
	d := types.PipelineConfig{}.WithDefaults()
	viper.SetDefault("ai.provider", string(d.AI.Provider))
	viper.SetDefault("ai.model", "")
	viper.SetDefault("ai.api_key", "")
	viper.SetDefault("ai.base_url", "")
	viper.SetDefault("ai.max_tokens", d.AI.MaxTokens)
	viper.SetDefault("ai.max_retries", d.AI.MaxRetries)
	viper.SetDefault("ai.timeout", d.AI.Timeout)
	viper.SetDefault("taxonomy.source_url", d.Taxonomy.SourceURL)
	viper.SetDefault("taxonomy.freshness_window", d.Taxonomy.FreshnessWindow)
	viper.SetDefault("resolver.min_confidence", string(d.Resolver.MinConfidence))
	viper.SetDefault("resolver.max_candidates", d.Resolver.MaxCandidates)
	viper.SetDefault("enrich.mode", string(d.Enrich.Mode))
	viper.SetDefault("enrich.rewrite", true)
	viper.SetDefault("enrich.workers", d.Enrich.Workers)
	viper.SetDefault("enrich.max_passes", d.Enrich.MaxPasses)
	viper.SetDefault("enrich.checkpoint_every", d.Enrich.CheckpointEvery)
	viper.SetDefault("storage.backend", string(d.Storage.Backend))
	viper.SetDefault("storage.dir", d.Storage.Dir)
	viper.SetDefault("storage.s3.endpoint", "")
	viper.SetDefault("storage.s3.bucket", "")
	viper.SetDefault("storage.redis.addr", "")
	viper.SetDefault("ledger.path", d.Ledger.Path)
}

// loadConfig decodes the configuration, applies defaults, and fills
// credentials from .secrets/ where the configuration leaves them empty.
func loadConfig() (types.PipelineConfig, error) {
	bindDefaults()
	var cfg types.PipelineConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}
	cfg = cfg.WithDefaults()

	loadedSecrets.Fill(&cfg)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
