// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets reads provider and storage credentials from a directory
// of key files, one credential per file, named after the credential.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Credential file names.
const (
	AnthropicAPIKey = "anthropic-api-key"
	GeminiAPIKey    = "gemini-api-key"
	S3AccessKey     = "s3-access-key"
	S3SecretKey     = "s3-secret-key"
	RedisPassword   = "redis-password"
)

// Set maps credential names to values.
type Set map[string]string

// Load reads the regular files of dir. A missing directory yields an empty
// set. Dotfiles and empty files are ignored; unreadable files are logged and
// skipped. Files other users can read are loaded with a warning.
func Load(dir string, log *zap.Logger) (Set, error) {
	if log == nil {
		log = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Set{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	set := make(Set)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("skipping unreadable secret", zap.String("name", name), zap.Error(err))
			continue
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			continue
		}
		if info, err := entry.Info(); err == nil && info.Mode().Perm()&0o077 != 0 {
			log.Warn("secret file is readable by other users", zap.String("path", path),
				zap.String("mode", info.Mode().Perm().String()))
		}
		set[name] = value
	}
	return set, nil
}

// Names returns the loaded credential names in order, never the values.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Get returns explicit when it is non-empty, and the credential named key
// otherwise.
func (s Set) Get(key, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s[key]
}

// Fill sets every credential cfg leaves empty from s. The AI key is read from
// the file of the configured provider.
func (s Set) Fill(cfg *types.PipelineConfig) {
	aiKey := AnthropicAPIKey
	if cfg.AI.Provider == types.ProviderGemini {
		aiKey = GeminiAPIKey
	}
	cfg.AI.APIKey = s.Get(aiKey, cfg.AI.APIKey)
	cfg.Storage.S3.AccessKey = s.Get(S3AccessKey, cfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = s.Get(S3SecretKey, cfg.Storage.S3.SecretKey)
	cfg.Storage.Redis.Password = s.Get(RedisPassword, cfg.Storage.Redis.Password)
}
