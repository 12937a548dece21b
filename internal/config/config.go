// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"photo-restyler/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port   int    `yaml:"port"`    // 0 disables the status server
	APIKey string `yaml:"api_key"` // optional bearer key for /api/v1
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty: in-process locking only
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type AIConfig struct {
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	PreviewModel    string `yaml:"preview_model"`
	FinalModel      string `yaml:"final_model"`
	OutputSize      string `yaml:"output_size"`      // 1K | 2K | 4K hint for batch requests
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent remote calls
}

type StoreConfig struct {
	Root string `yaml:"root"`
}

type PreviewConfig struct {
	Concurrency int `yaml:"concurrency"`
	MaxEdge     int `yaml:"max_edge"`
}

type BatchConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	SeedPolicy      string        `yaml:"seed_policy"` // reuse_preview | random | fixed
	FixedSeed       int32         `yaml:"fixed_seed"`
	WatchInterval   time.Duration `yaml:"watch_interval"`
}

type OutputConfig struct {
	Format        string `yaml:"format"` // keep | jpeg | png
	Quality       int    `yaml:"quality"`
	StripMetadata *bool  `yaml:"strip_metadata"`
}

type Config struct {
	Log      LogConfig         `yaml:"log"`
	Admin    AdminConfig       `yaml:"admin"`
	Redis    RedisConfig       `yaml:"redis"`
	AI       AIConfig          `yaml:"ai"`
	Store    StoreConfig       `yaml:"store"`
	Preview  PreviewConfig     `yaml:"preview"`
	Batch    BatchConfig       `yaml:"batch"`
	Output   OutputConfig      `yaml:"output"`
	Presets  []model.Preset    `yaml:"presets"`
	Lighting map[string]string `yaml:"lighting"`

	Runtime RuntimeConfig `yaml:"-"`
}

const (
	SeedPolicyReusePreview = "reuse_preview"
	SeedPolicyRandom       = "random"
	SeedPolicyFixed        = "fixed"
)

// LoadConfig reads the YAML file at path, applies defaults and validates.
// A .env file next to the working directory is loaded first so that
// GEMINI_API_KEY can live outside the YAML.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes raw YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		cfg.AI.GeminiKey = v
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 8
	}
	if cfg.AI.PreviewModel == "" {
		cfg.AI.PreviewModel = "gemini-2.5-flash-image"
	}
	if cfg.AI.FinalModel == "" {
		cfg.AI.FinalModel = cfg.AI.PreviewModel
	}
	if cfg.Store.Root == "" {
		cfg.Store.Root = "runs"
	}
	if cfg.Preview.Concurrency <= 0 {
		cfg.Preview.Concurrency = 3
	}
	if cfg.Preview.MaxEdge <= 0 {
		cfg.Preview.MaxEdge = 1536
	}
	if cfg.Batch.PollInterval <= 0 {
		cfg.Batch.PollInterval = 30 * time.Second
	}
	if cfg.Batch.MaxPollAttempts <= 0 {
		cfg.Batch.MaxPollAttempts = 120
	}
	if cfg.Batch.SeedPolicy == "" {
		cfg.Batch.SeedPolicy = SeedPolicyReusePreview
	}
	if cfg.Batch.WatchInterval <= 0 {
		cfg.Batch.WatchInterval = time.Minute
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = "keep"
	}
	if cfg.Output.Quality <= 0 || cfg.Output.Quality > 100 {
		cfg.Output.Quality = 92
	}
	if cfg.Output.StripMetadata == nil {
		strip := true
		cfg.Output.StripMetadata = &strip
	}
	cfg.Redis.LockTTL = normalizeTTL(cfg.Redis.LockTTL)
}

func (cfg *Config) validate() error {
	switch cfg.Batch.SeedPolicy {
	case SeedPolicyReusePreview, SeedPolicyRandom, SeedPolicyFixed:
	default:
		return fmt.Errorf("batch.seed_policy %q must be reuse_preview, random or fixed", cfg.Batch.SeedPolicy)
	}
	switch strings.ToLower(cfg.Output.Format) {
	case "keep", "jpeg", "jpg", "png":
	default:
		return fmt.Errorf("output.format %q must be keep, jpeg or png", cfg.Output.Format)
	}
	if len(cfg.Presets) == 0 {
		return errors.New("at least one preset is required")
	}
	seen := map[string]bool{}
	for _, p := range cfg.Presets {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" {
			return errors.New("preset id is required")
		}
		if seen[id] {
			return fmt.Errorf("duplicate preset id %q", p.ID)
		}
		seen[id] = true
	}
	return nil
}

// Catalog builds the preset catalog handed to the use cases.
func (cfg *Config) Catalog() *model.PresetCatalog {
	return model.NewPresetCatalog(cfg.Presets, cfg.Lighting)
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
