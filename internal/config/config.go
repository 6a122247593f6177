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
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AdminJWTSecret signs bearer tokens for the /admin routes.
	AdminJWTSecret string `yaml:"admin_jwt_secret"`
	// TurnsPerMinute is the per-user turn budget; 0 disables limiting.
	TurnsPerMinute int `yaml:"turns_per_minute"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | sqlite | memory
	URL    string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ModelProviderConfig struct {
	GeminiKey    string `yaml:"gemini_key"`
	GeminiURL    string `yaml:"gemini_url"`
	OpenAIKey    string `yaml:"openai_key"`
	OpenAIURL    string `yaml:"openai_url"`
	DefaultModel string `yaml:"default_model"`
	// Models is the ordered candidate list tried by the gateway.
	Models []string `yaml:"models"`
	// Routes pins individual models to a provider ("gemini" | "openai" | "noop").
	Routes          map[string]string `yaml:"routes"`
	ConcurrentLimit int               `yaml:"concurrent_limit"`
	MaxAttempts     int               `yaml:"max_attempts"`
	BaseDelay       time.Duration     `yaml:"base_delay"`
	MaxDelay        time.Duration     `yaml:"max_delay"`
	AttemptTimeout  time.Duration     `yaml:"attempt_timeout"`
	ResetInterval   time.Duration     `yaml:"reset_interval"`
	MaxTokens       int               `yaml:"max_tokens"`
	// Temperature is nil when unset; an explicit 0 is kept.
	Temperature *float64 `yaml:"temperature"`
}

type LanguageConfig struct {
	// Translator is "model" (gateway backed) or "passthrough".
	Translator string        `yaml:"translator"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

type AssessmentConfig struct {
	AbandonAfter time.Duration `yaml:"abandon_after"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	HistoryTokens int           `yaml:"history_tokens"`
}

type WorkerConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Languages []string `yaml:"languages"`
	Online    bool     `yaml:"online"`
	Load      int      `yaml:"load"`
	Capacity  int      `yaml:"capacity"`
}

type Config struct {
	Log        LogConfig           `yaml:"log"`
	HTTP       HTTPConfig          `yaml:"http"`
	Database   DatabaseConfig      `yaml:"database"`
	Redis      RedisConfig         `yaml:"redis"`
	AI         ModelProviderConfig `yaml:"ai"`
	Language   LanguageConfig      `yaml:"language"`
	Assessment AssessmentConfig    `yaml:"assessment"`
	Session    SessionConfig       `yaml:"session"`
	Workers    []WorkerConfig      `yaml:"workers"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads a .env file when present, parses the yaml at path,
// applies env overrides for secrets, fills defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.AI.GeminiKey, "GEMINI_API_KEY")
	override(&cfg.AI.OpenAIKey, "OPENAI_API_KEY")
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.HTTP.AdminJWTSecret, "ADMIN_JWT_SECRET")
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 60 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL, time.Hour)

	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gemini-2.0-flash"
	}
	if len(cfg.AI.Models) == 0 {
		cfg.AI.Models = []string{cfg.AI.DefaultModel}
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.MaxAttempts <= 0 {
		cfg.AI.MaxAttempts = 3
	}
	cfg.AI.BaseDelay = normalizeTTL(cfg.AI.BaseDelay, time.Second)
	cfg.AI.MaxDelay = normalizeTTL(cfg.AI.MaxDelay, 8*time.Second)
	cfg.AI.AttemptTimeout = normalizeTTL(cfg.AI.AttemptTimeout, 10*time.Second)
	cfg.AI.ResetInterval = normalizeTTL(cfg.AI.ResetInterval, time.Hour)
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 512
	}
	if cfg.AI.Temperature == nil {
		t := 0.3
		cfg.AI.Temperature = &t
	}

	if cfg.Language.Translator == "" {
		cfg.Language.Translator = "model"
	}
	cfg.Language.CacheTTL = normalizeTTL(cfg.Language.CacheTTL, 24*time.Hour)
	cfg.Assessment.AbandonAfter = normalizeTTL(cfg.Assessment.AbandonAfter, 30*time.Minute)
	cfg.Session.IdleTimeout = normalizeTTL(cfg.Session.IdleTimeout, 2*time.Hour)
	cfg.Session.ReapInterval = normalizeTTL(cfg.Session.ReapInterval, 10*time.Minute)
	cfg.Session.LockTTL = normalizeTTL(cfg.Session.LockTTL, 2*time.Minute)
	if cfg.Session.HistoryTokens <= 0 {
		cfg.Session.HistoryTokens = 1500
	}
}

// Validate performs minimal consistency checks.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if t := c.AI.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("ai.temperature %v out of range [0, 2]", *t)
	}
	if c.AI.BaseDelay > c.AI.MaxDelay {
		return errors.New("ai.base_delay must not exceed ai.max_delay")
	}
	for prov := range routesByProvider(c.AI.Routes) {
		switch prov {
		case "gemini", "openai", "noop":
		default:
			return fmt.Errorf("ai.routes: unknown provider %q", prov)
		}
	}
	switch c.Language.Translator {
	case "model", "passthrough":
	default:
		return fmt.Errorf("unknown language.translator %q", c.Language.Translator)
	}
	seen := make(map[string]struct{}, len(c.Workers))
	for _, w := range c.Workers {
		if w.ID == "" {
			return errors.New("workers: id is required")
		}
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("workers: duplicate id %q", w.ID)
		}
		seen[w.ID] = struct{}{}
	}
	return nil
}

func routesByProvider(routes map[string]string) map[string]struct{} {
	out := make(map[string]struct{}, len(routes))
	for _, p := range routes {
		out[strings.ToLower(p)] = struct{}{}
	}
	return out
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
