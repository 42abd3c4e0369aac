// Package config holds the mnemo configuration: file-backed via viper,
// overridable through MNEMO_* environment variables, hot-reloaded on change.
package config

import (
	"fmt"
	"time"
)

// Config represents the full mnemo configuration.
type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	Cache     CacheConfig     `json:"cache" mapstructure:"cache"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Blob      BlobConfig      `json:"blob" mapstructure:"blob"`
	Search    SearchConfig    `json:"search" mapstructure:"search"`
	ACL       ACLConfig       `json:"acl" mapstructure:"acl"`
	Jobs      JobsConfig      `json:"jobs" mapstructure:"jobs"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`

	// Data directory for the database, blobs and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int `json:"port" mapstructure:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec" mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec" mapstructure:"write_timeout_sec"`
}

// StorageConfig holds SQLite settings.
type StorageConfig struct {
	Path string `json:"path" mapstructure:"path"` // defaults to <data_dir>/mnemo.db
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Backend          string `json:"backend" mapstructure:"backend"` // redis, memory
	RedisURL         string `json:"redis_url" mapstructure:"redis_url"`
	WorkingSetTTLMin int    `json:"working_set_ttl_min" mapstructure:"working_set_ttl_min"`
	WorkingSetMax    int    `json:"working_set_max" mapstructure:"working_set_max"`
	SearchTTLMin     int    `json:"search_ttl_min" mapstructure:"search_ttl_min"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // openai, stub, off
	Model     string `json:"model" mapstructure:"model"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
}

// BlobConfig holds blob storage settings.
type BlobConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // local
	Dir     string `json:"dir" mapstructure:"dir"`         // defaults to <data_dir>/blobs
}

// SearchConfig tunes hybrid ranking.
type SearchConfig struct {
	VectorWeight         float64 `json:"vector_weight" mapstructure:"vector_weight"`
	KeywordWeight        float64 `json:"keyword_weight" mapstructure:"keyword_weight"`
	RecencyWeight        float64 `json:"recency_weight" mapstructure:"recency_weight"`
	CandidateLimit       int     `json:"candidate_limit" mapstructure:"candidate_limit"`
	RecencyHalfLifeHours int     `json:"recency_half_life_hours" mapstructure:"recency_half_life_hours"`
}

// ACLConfig controls the access gate.
type ACLConfig struct {
	Enforce bool `json:"enforce" mapstructure:"enforce"`
}

// JobsConfig holds the maintenance job schedules and knobs.
type JobsConfig struct {
	SummarizeSchedule string `json:"summarize_schedule" mapstructure:"summarize_schedule"`
	PromoteSchedule   string `json:"promote_schedule" mapstructure:"promote_schedule"`
	PruneSchedule     string `json:"prune_schedule" mapstructure:"prune_schedule"`
	PromoteMinRefs    int    `json:"promote_min_refs" mapstructure:"promote_min_refs"`
	PromoteLookbackD  int    `json:"promote_lookback_days" mapstructure:"promote_lookback_days"`
	PruneAgeDays      int    `json:"prune_age_days" mapstructure:"prune_age_days"`
	BatchSize         int    `json:"batch_size" mapstructure:"batch_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns the defaults used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8750,
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 60,
		},
		Cache: CacheConfig{
			Backend:          "memory",
			WorkingSetTTLMin: 360,
			WorkingSetMax:    50,
			SearchTTLMin:     10,
		},
		Embedding: EmbeddingConfig{
			Provider:  "stub",
			Model:     "text-embedding-3-small",
			Dimension: 384,
		},
		Blob: BlobConfig{
			Backend: "local",
		},
		Search: SearchConfig{
			VectorWeight:         0.6,
			KeywordWeight:        0.3,
			RecencyWeight:        0.1,
			CandidateLimit:       50,
			RecencyHalfLifeHours: 168,
		},
		ACL: ACLConfig{
			Enforce: false,
		},
		Jobs: JobsConfig{
			SummarizeSchedule: "0 2 * * *",
			PromoteSchedule:   "30 * * * *",
			PruneSchedule:     "0 3 * * *",
			PromoteMinRefs:    3,
			PromoteLookbackD:  30,
			PruneAgeDays:      30,
			BatchSize:         100,
		},
		Logging: LoggingConfig{
			Level:   "info",
			MaxSize: 100,
			MaxAge:  30,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis cache backend requires redis_url")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}

	switch c.Embedding.Provider {
	case "stub", "off":
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("openai embedding provider requires api_key")
		}
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.Embedding.Provider)
	}

	if c.Blob.Backend != "local" {
		return fmt.Errorf("unknown blob backend: %s", c.Blob.Backend)
	}

	w := c.Search
	if w.VectorWeight < 0 || w.KeywordWeight < 0 || w.RecencyWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if w.VectorWeight+w.KeywordWeight+w.RecencyWeight == 0 {
		return fmt.Errorf("at least one search weight must be positive")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// WorkingSetTTL returns the working set TTL as a duration.
func (c *CacheConfig) WorkingSetTTL() time.Duration {
	return time.Duration(c.WorkingSetTTLMin) * time.Minute
}

// SearchTTL returns the search cache TTL as a duration.
func (c *CacheConfig) SearchTTL() time.Duration {
	return time.Duration(c.SearchTTLMin) * time.Minute
}
