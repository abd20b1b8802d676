// Package config loads memoryd's YAML configuration and applies environment
// variable overrides for secrets, following the same flat yaml-tagged struct
// style as the rest of this code base.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig configures the Postgres connection used for all persistence.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LLMConfig configures the external LLM client.
type LLMConfig struct {
	BaseURL          string  `yaml:"base_url"`
	APIKey           string  `yaml:"api_key"`
	ChatModel        string  `yaml:"chat_model"`
	EmbeddingModel   string  `yaml:"embedding_model"`
	EmbeddingDims    int     `yaml:"embedding_dims"`
	DesiredRetention float64 `yaml:"desired_retention"`
}

// SegmentationConfig holds the window/fence/consolidation thresholds that
// are tunable per deployment rather than fixed constants.
type SegmentationConfig struct {
	WindowBase         int           `yaml:"window_base"`
	WindowMax          int           `yaml:"window_max"`
	MinTrigger         int           `yaml:"min_trigger"`
	FenceTTL           time.Duration `yaml:"fence_ttl"`
	TimeTrigger        time.Duration `yaml:"time_trigger"`
	FlashbulbThreshold float64       `yaml:"flashbulb_threshold"`
	MinUnconsolidated  int           `yaml:"min_unconsolidated"`
	RelatedFactsLimit  int           `yaml:"related_facts_limit"`
	DedupeThreshold    float64       `yaml:"dedupe_threshold"`
}

// HTTPConfig configures the thin JSON HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// JobsConfig selects and configures the job dispatcher.
type JobsConfig struct {
	Backend       string        `yaml:"backend"` // "inprocess" or "kafka"; cmd/memoryd does not read it and always builds the in-process dispatcher
	Workers       int           `yaml:"workers"`
	RedisAddr     string        `yaml:"redis_addr"`
	DedupeTTL     time.Duration `yaml:"dedupe_ttl"`
	KafkaBrokers  []string      `yaml:"kafka_brokers"`
	KafkaGroupID  string        `yaml:"kafka_group_id"`
	KafkaTopic    string        `yaml:"kafka_topic"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// ObsConfig configures the optional OpenTelemetry exporters.
type ObsConfig struct {
	OTLP           string `yaml:"otlp"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

// Config is the root configuration for memoryd.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	LLM          LLMConfig          `yaml:"llm"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	HTTP         HTTPConfig         `yaml:"http"`
	Jobs         JobsConfig         `yaml:"jobs"`
	Log          LogConfig          `yaml:"log"`
	Obs          ObsConfig          `yaml:"observability"`
}

// defaults holds the production-tuned segmentation, FSRS, HTTP, and job
// defaults applied before any YAML or environment override.
func defaults() Config {
	return Config{
		Segmentation: SegmentationConfig{
			WindowBase:         20,
			WindowMax:          40,
			MinTrigger:         5,
			FenceTTL:           120 * time.Minute,
			TimeTrigger:        2 * time.Hour,
			FlashbulbThreshold: 0.85,
			MinUnconsolidated:  3,
			RelatedFactsLimit:  20,
			DedupeThreshold:    0.95,
		},
		LLM: LLMConfig{
			DesiredRetention: 0.9,
			EmbeddingDims:    1024,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Jobs: JobsConfig{
			Backend:       "inprocess",
			Workers:       4,
			DedupeTTL:     10 * time.Minute,
			ShutdownGrace: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads YAML configuration from path (if non-empty and present), then
// applies environment variable overrides, then validates required fields.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_CHAT_MODEL"); v != "" {
		cfg.LLM.ChatModel = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Jobs.RedisAddr = v
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url (or DATABASE_URL) is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("config: llm.base_url (or LLM_BASE_URL) is required")
	}
	if c.LLM.ChatModel == "" {
		return fmt.Errorf("config: llm.chat_model (or LLM_CHAT_MODEL) is required")
	}
	if c.LLM.EmbeddingModel == "" {
		return fmt.Errorf("config: llm.embedding_model (or LLM_EMBEDDING_MODEL) is required")
	}
	if c.LLM.EmbeddingDims <= 0 {
		return fmt.Errorf("config: llm.embedding_dims must be positive")
	}
	return nil
}
