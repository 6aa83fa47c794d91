// Package config provides the Config struct and loader for
// .sessionqa.yaml project-level configuration files, plus environment
// secrets and CLI --set overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/tiercare/sessionqa/internal/policy"
)

// Default values for configuration. These are the single source of
// truth — New() references them and no other code should duplicate
// them.
const (
	DefaultModel       = "gemini-1.5-pro"
	DefaultMaxAttempts = 3
	DefaultBaseDelayMS = 1000

	DefaultMaxBatchSize      = 25
	DefaultChunkWidth        = 2
	DefaultInterChunkDelayMS = 500

	DefaultDBPath       = "sessionqa.db"
	DefaultListPageSize = 20
)

// Environment variable names for secrets.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvRedisURL     = "REDIS_URL"
)

// EngineConfig holds model and retry settings.
type EngineConfig struct {
	Model       string `yaml:"model,omitempty" mapstructure:"model"`
	Mock        *bool  `yaml:"mock,omitempty" mapstructure:"mock"`
	MaxAttempts int    `yaml:"max_attempts,omitempty" mapstructure:"max_attempts"`
	BaseDelayMS int    `yaml:"base_delay_ms,omitempty" mapstructure:"base_delay_ms"`
}

// BatchConfig holds batch sizing and pacing settings.
type BatchConfig struct {
	MaxSize           int `yaml:"max_size,omitempty" mapstructure:"max_size"`
	ChunkWidth        int `yaml:"chunk_width,omitempty" mapstructure:"chunk_width"`
	InterChunkDelayMS int `yaml:"inter_chunk_delay_ms,omitempty" mapstructure:"inter_chunk_delay_ms"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath       string `yaml:"db_path,omitempty" mapstructure:"db_path"`
	ListPageSize int    `yaml:"list_page_size,omitempty" mapstructure:"list_page_size"`
}

// Config is the top-level configuration loaded from .sessionqa.yaml.
// APIKey and RedisURL come from the environment, never from the file.
type Config struct {
	Engine     EngineConfig      `yaml:"engine,omitempty" mapstructure:"engine"`
	Batch      BatchConfig       `yaml:"batch,omitempty" mapstructure:"batch"`
	Thresholds policy.Thresholds `yaml:"thresholds,omitempty" mapstructure:"thresholds"`
	Storage    StorageConfig     `yaml:"storage,omitempty" mapstructure:"storage"`

	APIKey   string `yaml:"-" mapstructure:"-"`
	RedisURL string `yaml:"-" mapstructure:"-"`
}

// New returns a Config with all hard-coded defaults populated.
func New() *Config {
	return &Config{
		Engine: EngineConfig{
			Model:       DefaultModel,
			Mock:        boolPtr(false),
			MaxAttempts: DefaultMaxAttempts,
			BaseDelayMS: DefaultBaseDelayMS,
		},
		Batch: BatchConfig{
			MaxSize:           DefaultMaxBatchSize,
			ChunkWidth:        DefaultChunkWidth,
			InterChunkDelayMS: DefaultInterChunkDelayMS,
		},
		Thresholds: policy.DefaultThresholds(),
		Storage: StorageConfig{
			DBPath:       DefaultDBPath,
			ListPageSize: DefaultListPageSize,
		},
	}
}

// Load finds .sessionqa.yaml by walking up from startDir (max 10
// levels), unmarshals it, fills in missing fields with defaults, and
// picks up secrets from the environment. If no config file is found,
// returns defaults with a nil error. Real I/O errors (e.g. permission
// denied) are returned to the caller.
func Load(startDir string) (*Config, error) {
	cfg := New()

	data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.loadEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("loading .sessionqa.yaml: %w", err)
	}

	var fileCfg fileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing .sessionqa.yaml: %w", err)
	}

	mergeConfig(cfg, &fileCfg)
	cfg.loadEnv()
	return cfg, nil
}

// ApplyOverrides overlays dotted key=value pairs (e.g.
// engine.model=gemini-1.5-flash) onto the config, decoding values
// weakly so numbers and booleans can arrive as strings from the CLI.
func (c *Config) ApplyOverrides(overrides map[string]string) error {
	if len(overrides) == 0 {
		return nil
	}

	tree := map[string]any{}
	for key, value := range overrides {
		parts := strings.Split(key, ".")
		node := tree
		for i, part := range parts {
			if i == len(parts)-1 {
				node[part] = value
				break
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("build override decoder: %w", err)
	}
	if err := dec.Decode(tree); err != nil {
		return fmt.Errorf("apply overrides: %w", err)
	}
	return nil
}

// BaseDelay returns the retry backoff base as a duration.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Engine.BaseDelayMS) * time.Millisecond
}

// InterChunkDelay returns the batch pacing delay as a duration.
func (c *Config) InterChunkDelay() time.Duration {
	return time.Duration(c.Batch.InterChunkDelayMS) * time.Millisecond
}

// Mock reports whether the offline mock analyzer is selected.
func (c *Config) Mock() bool {
	return c.Engine.Mock != nil && *c.Engine.Mock
}

func (c *Config) loadEnv() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv(EnvGeminiAPIKey)
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv(EnvRedisURL)
	}
}

// findConfigFile walks up from dir looking for .sessionqa.yaml (max 10
// levels). Returns os.ErrNotExist if no config file is found.
// Propagates real I/O errors (e.g. permission denied) instead of
// silently swallowing them.
func findConfigFile(dir string) ([]byte, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, ".sessionqa.yaml")
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return nil, os.ErrNotExist
}

// fileConfig mirrors Config with pointer fields so the loader can tell
// an omitted key from an explicit zero (e.g. a threshold set to 0).
type fileConfig struct {
	Engine struct {
		Model       *string `yaml:"model"`
		Mock        *bool   `yaml:"mock"`
		MaxAttempts *int    `yaml:"max_attempts"`
		BaseDelayMS *int    `yaml:"base_delay_ms"`
	} `yaml:"engine"`
	Batch struct {
		MaxSize           *int `yaml:"max_size"`
		ChunkWidth        *int `yaml:"chunk_width"`
		InterChunkDelayMS *int `yaml:"inter_chunk_delay_ms"`
	} `yaml:"batch"`
	Thresholds struct {
		High       *float64 `yaml:"high"`
		Medium     *float64 `yaml:"medium"`
		Low        *float64 `yaml:"low"`
		AutoReview *float64 `yaml:"auto_review"`
	} `yaml:"thresholds"`
	Storage struct {
		DBPath       *string `yaml:"db_path"`
		ListPageSize *int    `yaml:"list_page_size"`
	} `yaml:"storage"`
}

// mergeConfig overlays every value the file actually set onto dst.
func mergeConfig(dst *Config, src *fileConfig) {
	// Engine
	if src.Engine.Model != nil {
		dst.Engine.Model = *src.Engine.Model
	}
	if src.Engine.Mock != nil {
		dst.Engine.Mock = src.Engine.Mock
	}
	if src.Engine.MaxAttempts != nil {
		dst.Engine.MaxAttempts = *src.Engine.MaxAttempts
	}
	if src.Engine.BaseDelayMS != nil {
		dst.Engine.BaseDelayMS = *src.Engine.BaseDelayMS
	}

	// Batch
	if src.Batch.MaxSize != nil {
		dst.Batch.MaxSize = *src.Batch.MaxSize
	}
	if src.Batch.ChunkWidth != nil {
		dst.Batch.ChunkWidth = *src.Batch.ChunkWidth
	}
	if src.Batch.InterChunkDelayMS != nil {
		dst.Batch.InterChunkDelayMS = *src.Batch.InterChunkDelayMS
	}

	// Thresholds
	if src.Thresholds.High != nil {
		dst.Thresholds.High = *src.Thresholds.High
	}
	if src.Thresholds.Medium != nil {
		dst.Thresholds.Medium = *src.Thresholds.Medium
	}
	if src.Thresholds.Low != nil {
		dst.Thresholds.Low = *src.Thresholds.Low
	}
	if src.Thresholds.AutoReview != nil {
		dst.Thresholds.AutoReview = *src.Thresholds.AutoReview
	}

	// Storage
	if src.Storage.DBPath != nil {
		dst.Storage.DBPath = *src.Storage.DBPath
	}
	if src.Storage.ListPageSize != nil {
		dst.Storage.ListPageSize = *src.Storage.ListPageSize
	}
}

func boolPtr(b bool) *bool {
	return &b
}
