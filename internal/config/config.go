package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/drip-engine/internal/sequence"
)

// Config holds all configuration for the drip engine binaries.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Rollup     RollupConfig     `yaml:"rollup"`
	SES        SESConfig        `yaml:"ses"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Storage    StorageConfig    `yaml:"storage"`
	Recipients RecipientsConfig `yaml:"recipients"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// Lifetime returns the connection max lifetime as a duration.
func (c DatabaseConfig) Lifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Minute
}

// RedisConfig points at the Redis used for locks and the recipient cache.
// An empty URL disables Redis; locks then fall back to Postgres.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DispatcherConfig tunes the send loop.
type DispatcherConfig struct {
	Enabled             bool   `yaml:"enabled"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	BatchSize           int    `yaml:"batch_size"`
	LeaseSeconds        int    `yaml:"lease_seconds"`
	Stepping            string `yaml:"stepping"`
	WorkerID            string `yaml:"worker_id"`
	CampaignID          string `yaml:"campaign_id"`
	FromEmail           string `yaml:"from_email"`
	FromName            string `yaml:"from_name"`
}

// PollInterval returns the poll interval as a duration
func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Lease returns the claim lease as a duration
func (c DispatcherConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// SteppingPolicy parses Stepping.
func (c DispatcherConfig) SteppingPolicy() (sequence.Stepping, error) {
	return sequence.ParseStepping(c.Stepping)
}

// RollupConfig controls the periodic metrics recompute.
type RollupConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	LockTTLSeconds  int  `yaml:"lock_ttl_seconds"`
}

// Interval returns the rollup interval as a duration
func (c RollupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LockTTL returns the lock TTL as a duration
func (c RollupConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// TrackingConfig points the engagement consumer at its SQS queue.
type TrackingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
	// WaitSeconds is the SQS long-poll wait.
	WaitSeconds int `yaml:"wait_seconds"`

	// LinkBaseURL and LinkSecret sign open, click and unsubscribe links.
	// Links are disabled while either is empty.
	LinkBaseURL string `yaml:"link_base_url"`
	LinkSecret  string `yaml:"link_secret"`
}

// LinksEnabled reports whether signed tracking links can be built.
func (c TrackingConfig) LinksEnabled() bool {
	return c.LinkBaseURL != "" && c.LinkSecret != ""
}

// StorageConfig holds metrics snapshot storage configuration
type StorageConfig struct {
	Type          string `yaml:"type"`
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RecipientsConfig configures recipient resolution.
type RecipientsConfig struct {
	// DirectoryURL is the contact directory base URL. Empty uses the
	// in-memory resolver, which only knows contacts registered at startup.
	DirectoryURL    string `yaml:"directory_url"`
	DirectoryToken  string `yaml:"directory_token"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the cache TTL as a duration
func (c RecipientsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether e-mail addresses are masked in logs. Defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
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

	if _, err := cfg.Dispatcher.SteppingPolicy(); err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	switch cfg.Storage.Type {
	case "local", "aws", "none":
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Storage.Type)
	}
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
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Dispatcher.PollIntervalSeconds == 0 {
		cfg.Dispatcher.PollIntervalSeconds = 5
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = 100
	}
	if cfg.Dispatcher.LeaseSeconds == 0 {
		cfg.Dispatcher.LeaseSeconds = 300
	}
	if cfg.Dispatcher.Stepping == "" {
		cfg.Dispatcher.Stepping = string(sequence.StrictSequential)
	}
	if cfg.Rollup.IntervalSeconds == 0 {
		cfg.Rollup.IntervalSeconds = 300
	}
	if cfg.Rollup.LockTTLSeconds == 0 {
		cfg.Rollup.LockTTLSeconds = 600
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Tracking.Region == "" {
		cfg.Tracking.Region = cfg.SES.Region
	}
	if cfg.Tracking.WaitSeconds == 0 {
		cfg.Tracking.WaitSeconds = 20
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = cfg.SES.Region
	}
	if cfg.Recipients.CacheTTLSeconds == 0 {
		cfg.Recipients.CacheTTLSeconds = 600
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("TRACKING_QUEUE_URL"); v != "" {
		cfg.Tracking.QueueURL = v
		cfg.Tracking.Enabled = true
	}
	if v := os.Getenv("TRACKING_LINK_SECRET"); v != "" {
		cfg.Tracking.LinkSecret = v
	}
	if v := os.Getenv("RECIPIENT_DIRECTORY_TOKEN"); v != "" {
		cfg.Recipients.DirectoryToken = v
	}
	if v := os.Getenv("DRIP_WORKER_ID"); v != "" {
		cfg.Dispatcher.WorkerID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_REDACT_PII"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.RedactPII = &b
		}
	}

	return cfg, nil
}
