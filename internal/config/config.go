// Package config loads the datastore's DatabaseInfo plus the ambient
// dial/log/backoff settings a runnable client needs, from a YAML or
// JSONC file on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/lumen-data/firestream/internal/backoff"
)

// DatabaseInfo is the client's process-lifetime identity: which project
// and database to talk to, over which host, with or without TLS, plus an
// opaque key namespacing whatever this (project, database) pair persists
// on disk (credential cache, log files). Stream state is never persisted.
type DatabaseInfo struct {
	ProjectID      string `yaml:"project_id"`
	DatabaseID     string `yaml:"database_id"`
	Host           string `yaml:"host"`
	SSLEnabled     bool   `yaml:"ssl_enabled"`
	PersistenceKey string `yaml:"persistence_key"`
}

// BackoffConfig is the on-disk shape of backoff.Config; durations are
// strings (e.g. "1s", "60s") since yaml.v3 has no native time.Duration
// support.
type BackoffConfig struct {
	InitialDelay string  `yaml:"initial_delay"`
	Factor       float64 `yaml:"factor"`
	MaxDelay     string  `yaml:"max_delay"`
}

// ToBackoffConfig resolves b onto backoff.DefaultConfig, leaving any
// unset or unparseable field at its default value rather than failing
// the load.
func (b BackoffConfig) ToBackoffConfig() backoff.Config {
	cfg := backoff.DefaultConfig()
	if d, err := time.ParseDuration(b.InitialDelay); err == nil && d > 0 {
		cfg.InitialDelay = d
	}
	if b.Factor > 0 {
		cfg.Factor = b.Factor
	}
	if d, err := time.ParseDuration(b.MaxDelay); err == nil && d > 0 {
		cfg.MaxDelay = d
	}
	return cfg
}

// Config is the top-level shape cmd/firestreamctl loads from disk.
type Config struct {
	Database       DatabaseInfo  `yaml:"database"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`
	Backoff        BackoffConfig `yaml:"backoff"`
	TokenCachePath string        `yaml:"token_cache_path"`
	UseWebSocket   bool          `yaml:"use_websocket"`
}

// Default returns a Config seeded with the standard backoff tuning
// (1s/1.5x/60s) and the production Firestore endpoint, the starting
// point `firestreamctl` uses when no config file exists yet.
func Default() Config {
	return Config{
		Database: DatabaseInfo{
			ProjectID:  "demo-project",
			DatabaseID: "(default)",
			Host:       "firestore.googleapis.com:443",
			SSLEnabled: true,
		},
		LogLevel: "info",
		Backoff: BackoffConfig{
			InitialDelay: "1s",
			Factor:       1.5,
			MaxDelay:     "60s",
		},
	}
}

// Load reads a config file from path. JSONC (JSON with comments and
// trailing commas) is detected by a leading '{' and standardized with
// tailscale/hujson before parsing; everything else (plain YAML, or plain
// JSON, which is a YAML subset) is parsed directly by gopkg.in/yaml.v3.
// Fields absent from the file keep Default()'s values.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if looksLikeJSONC(raw) {
		standardized, err := hujson.Standardize(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: standardizing JSONC %s: %w", path, err)
		}
		raw = standardized
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

func looksLikeJSONC(raw []byte) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
