// Package config loads engine configuration from an optional JSON file
// overlaid with ENGRAM_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Capability CapabilityConfig `json:"capability"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Engine     EngineConfig     `json:"engine"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// CapabilityConfig points at an OpenAI-compatible provider. With Mock set,
// the deterministic offline provider is used instead and the URL is ignored.
type CapabilityConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	ChatModel  string `json:"chat_model"`
	EmbedModel string `json:"embed_model"`
	Dimensions int    `json:"dimensions"`
	Mock       bool   `json:"mock"`
}

// DatabaseConfig selects the durable backend. An empty PostgresURL keeps
// the archive and fact tiers in memory.
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url"`
}

// RedisConfig selects the short-term backend. Empty URL keeps it in memory.
type RedisConfig struct {
	URL string `json:"url"`
}

type EngineConfig struct {
	ShortTermCapacity   int `json:"short_term_capacity"`
	ShortTermTTLHours   int `json:"short_term_ttl_hours"`
	FactMinAccess       int `json:"fact_min_access"`
	FactTTLDays         int `json:"fact_ttl_days"`
	TaskDeadlineMinutes int `json:"task_deadline_minutes"`
	MaintenanceMinutes  int `json:"maintenance_minutes"`
}

type MetricsConfig struct {
	Addr string `json:"addr"` // empty disables the /metrics listener
}

func DefaultConfig() *Config {
	return &Config{
		Capability: CapabilityConfig{
			URL:        "http://localhost:8000/v1",
			ChatModel:  "Qwen/Qwen3-8B-AWQ",
			EmbedModel: "text-embedding-3-small",
			Dimensions: 1536,
		},
		Engine: EngineConfig{
			ShortTermCapacity:   10,
			ShortTermTTLHours:   24,
			FactMinAccess:       2,
			FactTTLDays:         7,
			TaskDeadlineMinutes: 5,
			MaintenanceMinutes:  15,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Load builds the effective configuration: defaults, then the config file,
// then environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("ENGRAM_CAPABILITY_URL", &cfg.Capability.URL)
	envString("ENGRAM_CAPABILITY_API_KEY", &cfg.Capability.APIKey)
	envString("ENGRAM_CAPABILITY_CHAT_MODEL", &cfg.Capability.ChatModel)
	envString("ENGRAM_CAPABILITY_EMBED_MODEL", &cfg.Capability.EmbedModel)
	envInt("ENGRAM_CAPABILITY_DIMENSIONS", &cfg.Capability.Dimensions)
	envBool("ENGRAM_CAPABILITY_MOCK", &cfg.Capability.Mock)

	envString("ENGRAM_POSTGRES_URL", &cfg.Database.PostgresURL)
	envString("ENGRAM_REDIS_URL", &cfg.Redis.URL)

	envInt("ENGRAM_SHORT_TERM_CAPACITY", &cfg.Engine.ShortTermCapacity)
	envInt("ENGRAM_SHORT_TERM_TTL_HOURS", &cfg.Engine.ShortTermTTLHours)
	envInt("ENGRAM_FACT_MIN_ACCESS", &cfg.Engine.FactMinAccess)
	envInt("ENGRAM_FACT_TTL_DAYS", &cfg.Engine.FactTTLDays)
	envInt("ENGRAM_TASK_DEADLINE_MINUTES", &cfg.Engine.TaskDeadlineMinutes)
	envInt("ENGRAM_MAINTENANCE_MINUTES", &cfg.Engine.MaintenanceMinutes)

	envString("ENGRAM_METRICS_ADDR", &cfg.Metrics.Addr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getConfigPath() string {
	if path := os.Getenv("ENGRAM_CONFIG"); path != "" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "engram.json"
	}
	return filepath.Join(homeDir, ".engram", "config.json")
}

func (c *Config) Validate() error {
	if !c.Capability.Mock {
		if c.Capability.URL == "" {
			return fmt.Errorf("capability URL is required unless mock mode is set")
		}
		if _, err := url.Parse(c.Capability.URL); err != nil {
			return fmt.Errorf("invalid capability URL: %w", err)
		}
		if c.Capability.Dimensions <= 0 {
			return fmt.Errorf("capability dimensions must be positive")
		}
	}
	if c.Engine.ShortTermCapacity <= 0 {
		return fmt.Errorf("short-term capacity must be positive")
	}
	if c.Engine.FactMinAccess <= 0 {
		return fmt.Errorf("fact min access must be positive")
	}
	return nil
}
