// Package config provides YAML-based configuration loading for botyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level botyard configuration, loaded from botyard.yaml.
type Config struct {
	Platform  string          `yaml:"platform"`
	Primary   PrimaryConfig   `yaml:"primary"`
	Database  DatabaseConfig  `yaml:"database"`
	State     StateConfig     `yaml:"state"`
	Stream    StreamConfig    `yaml:"stream"`
	RAG       RAGConfig       `yaml:"rag"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
}

// PrimaryConfig identifies the operator-facing bot. Exactly one of Token or
// TokenParam is used; TokenParam names an SSM parameter holding the token.
type PrimaryConfig struct {
	Token      string `yaml:"token"`
	TokenParam string `yaml:"token_param"`
	Region     string `yaml:"region"`
}

// DatabaseConfig selects the relational store holding bots and resources.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql, postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"` // sqlite only
}

// StateConfig selects the key-value backend for conversation state.
type StateConfig struct {
	Backend  string         `yaml:"backend"` // memory, redis, badger, dynamodb
	Redis    RedisConfig    `yaml:"redis"`
	Badger   BadgerConfig   `yaml:"badger"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// RedisConfig holds Redis/Valkey connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BadgerConfig holds embedded store settings.
type BadgerConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// DynamoDBConfig holds the table used for conversation state.
type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// StreamConfig tunes the streaming response aggregator.
type StreamConfig struct {
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
	Suffix          string `yaml:"suffix"`
}

// FlushInterval returns the configured flush interval as a duration.
func (s StreamConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMs) * time.Millisecond
}

// RAGConfig configures ingestion and answering.
type RAGConfig struct {
	OllamaURL       string         `yaml:"ollama_url"`
	EmbedModel      string         `yaml:"embed_model"`
	ChatModel       string         `yaml:"chat_model"`
	Generator       string         `yaml:"generator"` // ollama, openai
	OpenAI          OpenAIConfig   `yaml:"openai"`
	Weaviate        WeaviateConfig `yaml:"weaviate"`
	ChunkSize       int            `yaml:"chunk_size"`
	ChunkOverlap    int            `yaml:"chunk_overlap"`
	TopK            int            `yaml:"top_k"`
	MaxDownloadMB   int            `yaml:"max_download_mb"`
	FetchTimeoutSec int            `yaml:"fetch_timeout_sec"`
}

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// WeaviateConfig locates the vector store.
type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
	Class  string `yaml:"class"`
}

// FleetConfig tunes the bot lifecycle manager.
type FleetConfig struct {
	ReconcileCron string `yaml:"reconcile_cron"`
	WorkerIdleSec int    `yaml:"worker_idle_sec"`
}

// WorkerIdle returns how long a chat worker may sit idle before exiting.
func (f FleetConfig) WorkerIdle() time.Duration {
	return time.Duration(f.WorkerIdleSec) * time.Second
}

// DashboardConfig controls the admin HTTP API.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, unmarshals it and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "telegram"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "botyard.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	case "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.User == "" {
			c.Database.User = "postgres"
		}
	}

	if c.State.Backend == "" {
		c.State.Backend = "memory"
	}
	if c.State.Redis.Addr == "" {
		c.State.Redis.Addr = "127.0.0.1:6379"
	}
	if c.State.Badger.Path == "" {
		c.State.Badger.Path = "botyard-state"
	}
	if c.State.DynamoDB.Table == "" {
		c.State.DynamoDB.Table = "botyard_chat_state"
	}

	if c.Stream.FlushIntervalMs == 0 {
		c.Stream.FlushIntervalMs = 1000
	}
	if c.Stream.Suffix == "" {
		c.Stream.Suffix = "... \U0001F504"
	}

	if c.RAG.OllamaURL == "" {
		c.RAG.OllamaURL = "http://127.0.0.1:11434"
	}
	if c.RAG.EmbedModel == "" {
		c.RAG.EmbedModel = "nomic-embed-text"
	}
	if c.RAG.ChatModel == "" {
		c.RAG.ChatModel = "llama3.2:3b"
	}
	if c.RAG.Generator == "" {
		c.RAG.Generator = "ollama"
	}
	if c.RAG.OpenAI.Model == "" {
		c.RAG.OpenAI.Model = "gpt-4o-mini"
	}
	if c.RAG.Weaviate.Host == "" {
		c.RAG.Weaviate.Host = "127.0.0.1:8080"
	}
	if c.RAG.Weaviate.Scheme == "" {
		c.RAG.Weaviate.Scheme = "http"
	}
	if c.RAG.Weaviate.Class == "" {
		c.RAG.Weaviate.Class = "BotyardChunk"
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 1000
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = c.RAG.ChunkSize / 10
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 5
	}
	if c.RAG.MaxDownloadMB == 0 {
		c.RAG.MaxDownloadMB = 20
	}
	if c.RAG.FetchTimeoutSec == 0 {
		c.RAG.FetchTimeoutSec = 60
	}

	if c.Fleet.ReconcileCron == "" {
		c.Fleet.ReconcileCron = "*/5 * * * *"
	}
	if c.Fleet.WorkerIdleSec == 0 {
		c.Fleet.WorkerIdleSec = 300
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Platform {
	case "telegram", "discord":
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (telegram, discord)", c.Platform))
	}
	if c.Primary.Token == "" && c.Primary.TokenParam == "" {
		errs = append(errs, "primary.token or primary.token_param is required")
	}

	switch c.Database.Driver {
	case "sqlite":
	case "mysql", "postgres":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for "+c.Database.Driver)
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}

	switch c.State.Backend {
	case "memory", "redis", "badger", "dynamodb":
	default:
		errs = append(errs, fmt.Sprintf("state.backend %q is not supported", c.State.Backend))
	}

	if c.Stream.FlushIntervalMs < 0 {
		errs = append(errs, "stream.flush_interval_ms must be positive")
	}

	switch c.RAG.Generator {
	case "ollama":
	case "openai":
		if c.RAG.OpenAI.APIKey == "" {
			errs = append(errs, "rag.openai.api_key is required when rag.generator is openai")
		}
	default:
		errs = append(errs, fmt.Sprintf("rag.generator %q is not supported", c.RAG.Generator))
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, "rag.chunk_overlap must be smaller than rag.chunk_size")
	}

	if _, err := cron.ParseStandard(c.Fleet.ReconcileCron); err != nil {
		errs = append(errs, fmt.Sprintf("fleet.reconcile_cron: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
