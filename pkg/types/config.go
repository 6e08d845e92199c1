// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "catalog-enricher/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// AIProvider identifies the generative AI backend.
type AIProvider string

const (
	ProviderAnthropic AIProvider = "anthropic"
	ProviderGemini    AIProvider = "gemini"
)

// AIConfig holds settings for the generative AI provider.
type AIConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Provider selects the backend: anthropic or gemini.
	Provider AIProvider `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint. Tests point it at httptest servers.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// MaxTokens caps the length of each response (default 1024).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// MaxRetries is the number of in-call retries for rate-limited requests (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// TaxonomyConfig holds settings for the external taxonomy cache.
type TaxonomyConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// SourceURL is the categories.txt file the tree is fetched from.
	SourceURL string `json:"source_url" yaml:"source_url" mapstructure:"source_url"`

	// CacheName is the object name of the persisted snapshot (default "external_taxonomy.json").
	CacheName string `json:"cache_name" yaml:"cache_name" mapstructure:"cache_name"`

	// FreshnessWindow is the age at which a snapshot becomes stale (default 30 days).
	FreshnessWindow time.Duration `json:"freshness_window" yaml:"freshness_window" mapstructure:"freshness_window"`
}

// ResolverConfig holds settings for taxonomy resolution.
type ResolverConfig struct {
	// CacheName is the object name of the persisted resolution cache
	// (default "resolution_cache.json").
	CacheName string `json:"cache_name" yaml:"cache_name" mapstructure:"cache_name"`

	// MinConfidence is the lowest validator confidence accepted as a match (default low).
	MinConfidence Confidence `json:"min_confidence" yaml:"min_confidence" mapstructure:"min_confidence"`

	// MaxCandidates caps the candidates sent to semantic validation (default 25).
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates" mapstructure:"max_candidates"`

	// MemoSize is the number of candidate scans kept in memory (default 512).
	MemoSize int `json:"memo_size" yaml:"memo_size" mapstructure:"memo_size"`
}

// WeightConfig overrides the weight estimator's lookup tables.
type WeightConfig struct {
	// Margin is the safety margin applied after packaging (default 0.10).
	Margin float64 `json:"margin" yaml:"margin" mapstructure:"margin"`

	// Packaging maps a department, or "Department > Category", to a packaging allowance in lb.
	Packaging map[string]float64 `json:"packaging,omitempty" yaml:"packaging,omitempty" mapstructure:"packaging"`

	// Defaults maps a department to the base weight used when nothing else applies.
	Defaults map[string]float64 `json:"defaults,omitempty" yaml:"defaults,omitempty" mapstructure:"defaults"`
}

// ProcessingMode selects which products a run touches.
type ProcessingMode string

const (
	ModeSkipProcessed ProcessingMode = "skip-processed"
	ModeOverwrite     ProcessingMode = "overwrite"
)

// EnrichConfig holds settings for the enrichment orchestrator.
type EnrichConfig struct {
	// Mode is skip-processed (default) or overwrite.
	Mode ProcessingMode `json:"mode" yaml:"mode" mapstructure:"mode"`

	// Start and End are 1-based inclusive record numbers; 0 leaves the side open.
	Start int `json:"start" yaml:"start" mapstructure:"start"`
	End   int `json:"end" yaml:"end" mapstructure:"end"`

	// Workers bounds concurrent synchronous provider calls (default 4).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// MaxPasses bounds how many times a product is attempted (default 3).
	MaxPasses int `json:"max_passes" yaml:"max_passes" mapstructure:"max_passes"`

	// RetryBackoff is the pause before each requeue pass (default 2s, doubling).
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff" mapstructure:"retry_backoff"`

	// Batch routes provider calls through the asynchronous batch API.
	Batch bool `json:"batch" yaml:"batch" mapstructure:"batch"`

	// PollInterval is the batch status poll interval (default 60s).
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// MaxWait bounds the total wait for one batch job (default 24h).
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait" mapstructure:"max_wait"`

	// Rewrite enables description rewriting. The CLI defaults it on; --no-rewrite turns it off.
	Rewrite bool `json:"rewrite" yaml:"rewrite" mapstructure:"rewrite"`

	// CheckpointEvery emits the output after this many completed products (default 25).
	CheckpointEvery int `json:"checkpoint_every" yaml:"checkpoint_every" mapstructure:"checkpoint_every"`

	// NonShipped lists "Department > Category" paths whose products never ship,
	// so no shipping weight is attached.
	NonShipped []string `json:"non_shipped" yaml:"non_shipped" mapstructure:"non_shipped"`
}

// StorageBackend identifies where the two caches are persisted.
type StorageBackend string

const (
	StorageFile  StorageBackend = "file"
	StorageS3    StorageBackend = "s3"
	StorageRedis StorageBackend = "redis"
)

// S3Config holds settings for an S3-compatible object store.
type S3Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Bucket    string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty" mapstructure:"prefix"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty" mapstructure:"region"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty" mapstructure:"secret_key"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl" mapstructure:"use_ssl"`
}

// RedisConfig holds settings for a Redis server.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	DB        int    `json:"db" yaml:"db" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`
}

// StorageConfig holds settings for cache persistence and the run lock.
type StorageConfig struct {
	// Backend is file (default), s3, or redis.
	Backend StorageBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Dir is the cache directory for the file backend (default "cache").
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	S3    S3Config    `json:"s3" yaml:"s3" mapstructure:"s3"`
	Redis RedisConfig `json:"redis" yaml:"redis" mapstructure:"redis"`

	// LockTTL is the lease of a Redis run lock (default 6h). File locks do not expire.
	LockTTL time.Duration `json:"lock_ttl" yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// LedgerConfig holds settings for the run ledger.
type LedgerConfig struct {
	// Path is the SQLite database file (default "cache/ledger.db").
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// PipelineConfig groups the configuration of every component.
type PipelineConfig struct {
	AI       AIConfig       `json:"ai" yaml:"ai" mapstructure:"ai"`
	Taxonomy TaxonomyConfig `json:"taxonomy" yaml:"taxonomy" mapstructure:"taxonomy"`
	Resolver ResolverConfig `json:"resolver" yaml:"resolver" mapstructure:"resolver"`
	Weight   WeightConfig   `json:"weight" yaml:"weight" mapstructure:"weight"`
	Enrich   EnrichConfig   `json:"enrich" yaml:"enrich" mapstructure:"enrich"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" mapstructure:"storage"`
	Ledger   LedgerConfig   `json:"ledger" yaml:"ledger" mapstructure:"ledger"`
}

// DefaultTaxonomyURL is the published Shopify product taxonomy category list.
const DefaultTaxonomyURL = "https://raw.githubusercontent.com/Shopify/product-taxonomy/main/dist/en/categories.txt"

// DefaultNonShipped are categories sold for pickup or local delivery only.
var DefaultNonShipped = []string{
	"Landscape and Construction > Aggregates",
	"Landscape and Construction > Pavers and Hardscaping",
}

// WithDefaults returns a copy of c with every zero field set to its default.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	if c.AI.Provider == "" {
		c.AI.Provider = ProviderAnthropic
	}
	if c.AI.Model == "" {
		switch c.AI.Provider {
		case ProviderGemini:
			c.AI.Model = "gemini-2.5-flash"
		default:
			c.AI.Model = "claude-sonnet-4-5-20250929"
		}
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 1024
	}
	if c.AI.MaxRetries <= 0 {
		c.AI.MaxRetries = 3
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 120 * time.Second
	}
	if c.AI.UserAgent == "" {
		c.AI.UserAgent = "catalog-enricher/0.1"
	}

	if c.Taxonomy.SourceURL == "" {
		c.Taxonomy.SourceURL = DefaultTaxonomyURL
	}
	if c.Taxonomy.CacheName == "" {
		c.Taxonomy.CacheName = "external_taxonomy.json"
	}
	if c.Taxonomy.FreshnessWindow <= 0 {
		c.Taxonomy.FreshnessWindow = 30 * 24 * time.Hour
	}
	if c.Taxonomy.Timeout <= 0 {
		c.Taxonomy.Timeout = 60 * time.Second
	}
	if c.Taxonomy.UserAgent == "" {
		c.Taxonomy.UserAgent = "catalog-enricher/0.1"
	}

	if c.Resolver.CacheName == "" {
		c.Resolver.CacheName = "resolution_cache.json"
	}
	if c.Resolver.MinConfidence == "" {
		c.Resolver.MinConfidence = ConfidenceLow
	}
	if c.Resolver.MaxCandidates <= 0 {
		c.Resolver.MaxCandidates = 25
	}
	if c.Resolver.MemoSize <= 0 {
		c.Resolver.MemoSize = 512
	}

	if c.Weight.Margin <= 0 {
		c.Weight.Margin = 0.10
	}

	if c.Enrich.Mode == "" {
		c.Enrich.Mode = ModeSkipProcessed
	}
	if c.Enrich.Workers <= 0 {
		c.Enrich.Workers = 4
	}
	if c.Enrich.MaxPasses <= 0 {
		c.Enrich.MaxPasses = 3
	}
	if c.Enrich.RetryBackoff <= 0 {
		c.Enrich.RetryBackoff = 2 * time.Second
	}
	if c.Enrich.PollInterval <= 0 {
		c.Enrich.PollInterval = 60 * time.Second
	}
	if c.Enrich.MaxWait <= 0 {
		c.Enrich.MaxWait = 24 * time.Hour
	}
	if c.Enrich.CheckpointEvery <= 0 {
		c.Enrich.CheckpointEvery = 25
	}
	if c.Enrich.NonShipped == nil {
		c.Enrich.NonShipped = append([]string(nil), DefaultNonShipped...)
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFile
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "cache"
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "catalog-enricher:"
	}
	if c.Storage.LockTTL <= 0 {
		c.Storage.LockTTL = 6 * time.Hour
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "cache/ledger.db"
	}
	return c
}
