package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverQdrant   = "qdrant"
)

// Config holds the docstore API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
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

// StoreConfig selects the backends and the facade behavior.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, redis, postgres, qdrant (default: memory)
	// LabelDriver defaults to Driver. Qdrant keeps no labels, so it needs another one.
	LabelDriver        string        `yaml:"label_driver"`
	BatchSize          int           `yaml:"batch_size"`
	DuplicateDocuments string        `yaml:"duplicate_documents"` // skip, overwrite, fail
	Similarity         string        `yaml:"similarity"`          // cosine, dot_product, l2
	EmbeddingDim       int           `yaml:"embedding_dim"`
	FilterCacheSize    int64         `yaml:"filter_cache_size"` // 0 disables the cache
	ListEquality       bool          `yaml:"list_equality"`
	Fields             []FieldConfig `yaml:"fields"`
	ReadinessTimeout   int           `yaml:"readiness_timeout_sec"`
}

// FieldConfig declares a metadata field the backends index natively.
type FieldConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // tag, numeric
}

// RedisConfig holds Redis connection and index settings.
type RedisConfig struct {
	Addrs           []string `yaml:"addrs"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DB              int      `yaml:"db"`
	KeyPrefix       string   `yaml:"key_prefix"`
	HNSWM           int      `yaml:"hnsw_m"`
	HNSWEFConstruct int      `yaml:"hnsw_ef_construction"`
}

// PostgresConfig holds PostgreSQL settings.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"max_conns"`
	CreateExtension bool   `yaml:"create_extension"`
	TablePrefix     string `yaml:"table_prefix"`
}

// QdrantConfig holds Qdrant settings.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	APIKey           string `yaml:"api_key"`
	UseTLS           bool   `yaml:"use_tls"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// EmbeddingConfig holds the embedding provider used by text queries and
// embedding updates. An empty provider disables both.
type EmbeddingConfig struct {
	Provider            string `yaml:"provider"`
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	// Cache stores vectors in Redis; it requires redis.addrs.
	Cache bool `yaml:"cache"`
	// CacheTTL expires cached vectors, in seconds. Zero keeps them.
	CacheTTL     int `yaml:"cache_ttl_sec"`
	MaxBatchSize int `yaml:"max_batch_size"`
}

// Enabled reports whether an embedding provider is configured.
func (e EmbeddingConfig) Enabled() bool { return e.Provider != "" }

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
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

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
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
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.LabelDriver == "" {
		c.Store.LabelDriver = c.Store.Driver
	}
	if c.Store.BatchSize <= 0 {
		c.Store.BatchSize = 10_000
	}
	if c.Store.DuplicateDocuments == "" {
		c.Store.DuplicateDocuments = "overwrite"
	}
	if c.Store.Similarity == "" {
		c.Store.Similarity = "dot_product"
	}
	if c.Store.EmbeddingDim <= 0 {
		c.Store.EmbeddingDim = 768
	}
	if c.Store.ReadinessTimeout <= 0 {
		c.Store.ReadinessTimeout = 10
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "docstore:"
	}
	if c.Redis.HNSWM <= 0 {
		c.Redis.HNSWM = 16
	}
	if c.Redis.HNSWEFConstruct <= 0 {
		c.Redis.HNSWEFConstruct = 200
	}
	if c.Postgres.MaxConns <= 0 {
		c.Postgres.MaxConns = 10
	}
	if c.Qdrant.Port <= 0 {
		c.Qdrant.Port = 6334
	}
	if c.Embedding.Enabled() && c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = c.Store.EmbeddingDim
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if err := checkDriver("store.driver", c.Store.Driver); err != nil {
		return err
	}
	if err := checkDriver("store.label_driver", c.Store.LabelDriver); err != nil {
		return err
	}
	if c.Store.LabelDriver == DriverQdrant {
		return fmt.Errorf("store.label_driver cannot be %q, qdrant does not store labels", DriverQdrant)
	}

	switch c.Store.DuplicateDocuments {
	case "skip", "overwrite", "fail":
	default:
		return fmt.Errorf(
			"store.duplicate_documents must be \"skip\", \"overwrite\" or \"fail\", got %q",
			c.Store.DuplicateDocuments,
		)
	}
	switch c.Store.Similarity {
	case "cosine", "dot_product", "l2":
	default:
		return fmt.Errorf(
			"store.similarity must be \"cosine\", \"dot_product\" or \"l2\", got %q", c.Store.Similarity,
		)
	}

	seen := make(map[string]struct{}, len(c.Store.Fields))
	for i, f := range c.Store.Fields {
		if f.Name == "" {
			return fmt.Errorf("store.fields[%d].name is required", i)
		}
		if f.Type != "tag" && f.Type != "numeric" {
			return fmt.Errorf("store.fields[%d].type must be \"tag\" or \"numeric\", got %q", i, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("store.fields[%d].name %q is declared twice", i, f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	if c.uses(DriverRedis) && len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs is required")
	}
	if c.uses(DriverPostgres) && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.uses(DriverQdrant) && c.Qdrant.Host == "" {
		return fmt.Errorf("qdrant.host is required")
	}

	if c.Embedding.Enabled() {
		if c.Embedding.Provider != "openai" {
			return fmt.Errorf("embedding.provider must be \"openai\", got %q", c.Embedding.Provider)
		}
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required")
		}
		if c.Embedding.Dimensions != c.Store.EmbeddingDim {
			return fmt.Errorf("embedding.dimensions %d does not match store.embedding_dim %d",
				c.Embedding.Dimensions, c.Store.EmbeddingDim)
		}
		if c.Embedding.Cache && len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("embedding.cache requires redis.addrs")
		}
		if c.Embedding.CacheTTL < 0 {
			return fmt.Errorf("embedding.cache_ttl_sec must be >= 0, got %d", c.Embedding.CacheTTL)
		}
	}
	return nil
}

// uses reports whether driver serves documents or labels.
func (c *Config) uses(driver string) bool {
	return c.Store.Driver == driver || c.Store.LabelDriver == driver
}

func checkDriver(key, driver string) error {
	switch driver {
	case DriverMemory, DriverRedis, DriverPostgres, DriverQdrant:
		return nil
	}
	return fmt.Errorf("%s must be one of memory, redis, postgres, qdrant, got %q", key, driver)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
