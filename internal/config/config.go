package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/mailrag/internal/domain"
)

// Database drivers.
const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config holds the mailrag configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	QueryParser QueryParserConfig `yaml:"query_parser"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Cache       CacheConfig       `yaml:"cache"`
	History     HistoryConfig     `yaml:"history"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig selects and configures the document store.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, sqlite (default: sqlite)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	SQLitePath       string   `yaml:"sqlite_path"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	Provider            string `yaml:"provider"`
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	SendDimensions      bool   `yaml:"send_dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// QueryParserConfig holds the language-understanding provider settings.
// Empty api_key and base_url inherit the embedding provider's.
type QueryParserConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

// RetrievalConfig tunes the hybrid engine.
type RetrievalConfig struct {
	OverFetchK         int   `yaml:"over_fetch_k"`
	ResultLimit        int   `yaml:"result_limit"`
	ProviderTimeoutSec int   `yaml:"provider_timeout_sec"`
	BuildWorkers       int   `yaml:"build_workers"`
	MaxStalenessSec    int   `yaml:"max_staleness_sec"` // 0 = never stale
	LazyBuild          *bool `yaml:"lazy_build"`
	BuildOnStart       bool  `yaml:"build_on_start"`
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	MaxEntries int  `yaml:"max_entries"` // 0 = unbounded
	Persist    bool `yaml:"persist"`
}

// HistoryConfig configures query history.
type HistoryConfig struct {
	Enabled    *bool `yaml:"enabled"`
	MaxEntries int   `yaml:"max_entries"`
}

// ProviderTimeout returns the per-call provider deadline.
func (r RetrievalConfig) ProviderTimeout() time.Duration {
	return time.Duration(r.ProviderTimeoutSec) * time.Second
}

// MaxStaleness returns the snapshot age that triggers a background rebuild.
func (r RetrievalConfig) MaxStaleness() time.Duration {
	return time.Duration(r.MaxStalenessSec) * time.Second
}

// IsEnabled reports whether query history is recorded.
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "mailrag.db"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-ada-002"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = domain.DefaultDimensions
	}

	if c.QueryParser.APIKey == "" {
		c.QueryParser.APIKey = c.Embedding.APIKey
	}
	if c.QueryParser.BaseURL == "" {
		c.QueryParser.BaseURL = c.Embedding.BaseURL
	}
	if c.QueryParser.Model == "" {
		c.QueryParser.Model = "gpt-4-turbo-preview"
	}
	if c.QueryParser.Temperature == 0 {
		c.QueryParser.Temperature = 0.1
	}

	if c.Retrieval.OverFetchK <= 0 {
		c.Retrieval.OverFetchK = 50
	}
	if c.Retrieval.ResultLimit <= 0 {
		c.Retrieval.ResultLimit = 100
	}
	if c.Retrieval.ProviderTimeoutSec <= 0 {
		c.Retrieval.ProviderTimeoutSec = 30
	}
	if c.Retrieval.BuildWorkers <= 0 {
		c.Retrieval.BuildWorkers = 4
	}
	if c.Retrieval.LazyBuild == nil {
		lazy := true
		c.Retrieval.LazyBuild = &lazy
	}

	if c.History.MaxEntries <= 0 {
		c.History.MaxEntries = 1000
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case DriverRedis:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis driver")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverRedis, DriverSQLite, c.Database.Driver)
	}
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("%w: embedding.api_key is required", domain.ErrMissingCredentials)
	}
	if c.QueryParser.Temperature < 0 || c.QueryParser.Temperature > 2 {
		return fmt.Errorf("query_parser.temperature must be between 0 and 2, got %v", c.QueryParser.Temperature)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// envVarRegex matches ${VAR} and ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
