// Package config loads service configuration from an optional YAML file with
// APOLLO_* environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage driver names.
const (
	DriverSQLite   = "sqlite"
	DriverSupabase = "supabase"
)

// Turn lock driver names.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Storage StorageConfig `yaml:"storage"`
	Lock    LockConfig    `yaml:"lock"`
	Context ContextConfig `yaml:"context"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

type ModelConfig struct {
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DataDir     string `yaml:"data_dir"`
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
}

type LockConfig struct {
	Driver        string `yaml:"driver"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type ContextConfig struct {
	ContextBudget int `yaml:"context_budget"`
	HistoryBudget int `yaml:"history_budget"`
	HistoryWindow int `yaml:"history_window"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8080",
			TurnTimeout: 2 * time.Minute,
		},
		Model: ModelConfig{
			Name:        "gpt-4o-mini",
			Temperature: 0.7,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
		},
		Lock: LockConfig{
			Driver: LockMemory,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist) and applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "APOLLO_ADDR")
	setDuration(&cfg.Server.TurnTimeout, "APOLLO_TURN_TIMEOUT")
	setString(&cfg.Model.Name, "APOLLO_MODEL")
	setString(&cfg.Model.BaseURL, "APOLLO_MODEL_BASE_URL")
	setString(&cfg.Model.APIKey, "APOLLO_API_KEY")
	setInt(&cfg.Model.MaxTokens, "APOLLO_MAX_TOKENS")
	setString(&cfg.Storage.Driver, "APOLLO_STORAGE_DRIVER")
	setString(&cfg.Storage.DataDir, "APOLLO_DATA_DIR")
	setString(&cfg.Storage.SupabaseURL, "APOLLO_SUPABASE_URL")
	setString(&cfg.Storage.SupabaseKey, "APOLLO_SUPABASE_KEY")
	setString(&cfg.Lock.Driver, "APOLLO_LOCK_DRIVER")
	setString(&cfg.Lock.RedisAddr, "APOLLO_REDIS_ADDR")
	setString(&cfg.Lock.RedisPassword, "APOLLO_REDIS_PASSWORD")
	setInt(&cfg.Lock.RedisDB, "APOLLO_REDIS_DB")
	setInt(&cfg.Context.ContextBudget, "APOLLO_CONTEXT_BUDGET")
	setInt(&cfg.Context.HistoryBudget, "APOLLO_HISTORY_BUDGET")
	setInt(&cfg.Context.HistoryWindow, "APOLLO_HISTORY_WINDOW")
	setString(&cfg.Log.Level, "APOLLO_LOG_LEVEL")
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverSupabase:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Lock.Driver {
	case LockMemory, LockRedis:
	default:
		return fmt.Errorf("unknown lock driver %q", c.Lock.Driver)
	}
	if c.Storage.Driver == DriverSupabase && (c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "") {
		return fmt.Errorf("supabase driver requires supabase_url and supabase_key")
	}
	if c.Lock.Driver == LockRedis && c.Lock.RedisAddr == "" {
		return fmt.Errorf("redis lock driver requires redis_addr")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
