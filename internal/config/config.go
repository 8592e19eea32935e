package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the import service
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Advisory AdvisoryConfig `yaml:"advisory"`
	S3       S3Config       `yaml:"s3"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for net.Listen.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the record store connection
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"min=1"`
}

// RedisConfig holds the session store and lock backend. An empty Addr
// selects the in-process implementations.
type RedisConfig struct {
	Addr              string `yaml:"addr"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db" validate:"min=0"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes" validate:"min=1"`
}

// SessionTTL returns how long an unfinished import is kept
func (c RedisConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// StorageConfig selects the record store
type StorageConfig struct {
	Type      string          `yaml:"type" validate:"oneof=postgres snowflake memory"`
	Snowflake SnowflakeConfig `yaml:"snowflake"`
}

// SnowflakeConfig holds the warehouse connection used when storage type is snowflake
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
}

// PipelineConfig tunes the validation pipeline
type PipelineConfig struct {
	Workers          int     `yaml:"workers" validate:"min=1"`
	ConfidenceFloor  float64 `yaml:"confidence_floor" validate:"gt=0,lte=1"`
	GapThresholdDays int     `yaml:"gap_threshold_days" validate:"min=1"`
	MaxFileMB        int     `yaml:"max_file_mb" validate:"min=1"`
}

// MaxFileBytes returns the upload limit per file
func (c PipelineConfig) MaxFileBytes() int64 {
	return int64(c.MaxFileMB) << 20
}

// AdvisoryConfig holds the post-import analysis provider
type AdvisoryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Provider       string `yaml:"provider" validate:"oneof=bedrock http local"`
	ModelID        string `yaml:"model_id" validate:"required_if=Provider bedrock"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint" validate:"required_if=Provider http"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=1"`
}

// Timeout returns the configured timeout as a duration
func (c AdvisoryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// S3Config holds the bucket used for imports referenced by key
type S3Config struct {
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	Prefix     string `yaml:"prefix"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c S3Config) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level" validate:"oneof=debug info warn error"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Defaults returns a configuration with every default applied, for
// callers that run without a config file.
func Defaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Redis.SessionTTLMinutes == 0 {
		cfg.Redis.SessionTTLMinutes = 24 * 60
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.Snowflake.Database == "" {
		cfg.Storage.Snowflake.Database = "ANALYTICS"
	}
	if cfg.Storage.Snowflake.Schema == "" {
		cfg.Storage.Snowflake.Schema = "SOCIAL"
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.ConfidenceFloor == 0 {
		cfg.Pipeline.ConfidenceFloor = 0.75
	}
	if cfg.Pipeline.GapThresholdDays == 0 {
		cfg.Pipeline.GapThresholdDays = 7
	}
	if cfg.Pipeline.MaxFileMB == 0 {
		cfg.Pipeline.MaxFileMB = 20
	}
	if cfg.Advisory.Provider == "" {
		cfg.Advisory.Provider = "local"
	}
	if cfg.Advisory.TimeoutSeconds == 0 {
		cfg.Advisory.TimeoutSeconds = 30
	}
	if cfg.Advisory.Region == "" {
		cfg.Advisory.Region = "us-east-1"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = cfg.Advisory.Region
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies the environment variable overrides to cfg.
func (cfg *Config) ApplyEnv() error {
	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
		cfg.Storage.Type = "postgres"
	}
	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Storage.Snowflake.Account = v
		cfg.Storage.Type = "snowflake"
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Storage.Snowflake.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Storage.Snowflake.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Advisory.Region = v
		cfg.S3.Region = v
	}
	if v := os.Getenv("IMPORT_S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("ADVISORY_PROVIDER"); v != "" {
		cfg.Advisory.Provider = v
		cfg.Advisory.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// Validate checks field constraints after defaults and overrides.
func (cfg *Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Storage.Type == "postgres" && cfg.Database.URL == "" {
		return fmt.Errorf("invalid config: storage type postgres requires database.url")
	}
	if sf := cfg.Storage.Snowflake; cfg.Storage.Type == "snowflake" && (sf.Account == "" || sf.User == "") {
		return fmt.Errorf("invalid config: storage type snowflake requires account and user")
	}
	return nil
}
