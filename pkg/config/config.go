// Package config loads the vetgraph configuration from defaults, an optional
// YAML file, a .env file and VETGRAPH_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// EnvPrefix prefixes every environment override, e.g. VETGRAPH_NEO4J_URI.
const EnvPrefix = "VETGRAPH"

// Config holds all configuration for the application
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Index     IndexConfig     `mapstructure:"index"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration. Mode is the gin mode.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// LLMConfig holds the chat model configuration.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Temperature       float32       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	MaxLength         int           `mapstructure:"max_length"`
	BatchMode         bool          `mapstructure:"batch_mode"`
	BatchPollInterval time.Duration `mapstructure:"batch_poll_interval"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// EmbedderConfig holds embedding configuration. An empty Model disables
// embedding.
type EmbedderConfig struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
	Normalize  bool   `mapstructure:"normalize"`
}

// Neo4jConfig holds the property store connection.
type Neo4jConfig struct {
	URI       string `mapstructure:"uri"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	BatchSize int    `mapstructure:"batch_size"`
}

// IndexConfig locates the DuckDB search index. An empty path is in memory.
type IndexConfig struct {
	DuckDBPath string `mapstructure:"duckdb_path"`
	NamePrefix string `mapstructure:"name_prefix"`
}

// CacheConfig locates the Badger cache. An empty dir is in memory.
type CacheConfig struct {
	BadgerDir string `mapstructure:"badger_dir"`
}

// PipelineConfig tunes graph construction and updates.
type PipelineConfig struct {
	EntityTypes         []string `mapstructure:"entity_types"`
	ResolutionWorkers   int      `mapstructure:"resolution_workers"`
	ResolutionBatchSize int      `mapstructure:"resolution_batch_size"`
	DefaultAttachDoc    string   `mapstructure:"default_attach_doc"`
}

// RulesConfig locates policy rule files.
type RulesConfig struct {
	Dir string `mapstructure:"dir"`
}

// TelemetryConfig enables error mirroring into DuckDB when DuckDBPath is set.
type TelemetryConfig struct {
	DuckDBPath string `mapstructure:"duckdb_path"`
}

// Load reads .env (when present), then the config file at path (when not
// empty), then VETGRAPH_ environment variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("unable to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config %s: %w", path, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	overrideWithEnv(config)
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.max_length", 8192)
	v.SetDefault("llm.batch_mode", utils.GetBatchMode())
	v.SetDefault("llm.batch_poll_interval", utils.GetBatchQueryInterval())
	v.SetDefault("llm.cache_ttl", 7*24*time.Hour)

	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.dimensions", 0)
	v.SetDefault("embedder.batch_size", 16)
	v.SetDefault("embedder.normalize", false)

	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.batch_size", 32)

	v.SetDefault("index.duckdb_path", "")
	v.SetDefault("index.name_prefix", "vetgraph")

	v.SetDefault("cache.badger_dir", "")

	v.SetDefault("pipeline.entity_types", []string{})
	v.SetDefault("pipeline.resolution_workers", 0)
	v.SetDefault("pipeline.resolution_batch_size", 100)
	v.SetDefault("pipeline.default_attach_doc", "")

	v.SetDefault("rules.dir", "rules")
	v.SetDefault("telemetry.duckdb_path", "")
}

// overrideWithEnv fills credentials from the variables other tools use.
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
		if config.Embedder.APIKey == "" {
			config.Embedder.APIKey = apiKey
		}
	}
	if config.Embedder.APIKey == "" {
		config.Embedder.APIKey = config.LLM.APIKey
	}
	if config.Neo4j.URI == "" {
		config.Neo4j.URI = os.Getenv("NEO4J_URI")
	}
	if user := os.Getenv("NEO4J_USER"); user != "" && os.Getenv(EnvPrefix+"_NEO4J_USER") == "" {
		config.Neo4j.User = user
	}
	if config.Neo4j.Password == "" {
		config.Neo4j.Password = os.Getenv("NEO4J_PASSWORD")
	}
}
