package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultProfilePattern matches professional-network profile URLs such as
// https://www.linkedin.com/in/jane-doe/.
const DefaultProfilePattern = `(?i)^https?://[^/\s]+/in/[^/?#\s]+/?$`

// Config holds all configuration for the orchestrator
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Media     MediaConfig     `yaml:"media"`
	Redis     RedisConfig     `yaml:"redis"`
	Messaging MessagingConfig `yaml:"messaging"`
	Connector ConnectorConfig `yaml:"connector"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port                int    `yaml:"port"`
	Host                string `yaml:"host"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	ShutdownSeconds     int    `yaml:"shutdown_seconds"`
}

// GetHost returns the listen host, honouring HOST for container deployments.
func (c ServerConfig) GetHost() string {
	if h := os.Getenv("HOST"); h != "" {
		return h
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return c.GetHost() + ":" + strconv.Itoa(c.Port)
}

// StorageConfig selects the contact store backend: file, postgres or dynamo.
type StorageConfig struct {
	Type          string `yaml:"type"`
	LocalPath     string `yaml:"local_path"`
	DatabaseURL   string `yaml:"database_url"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"`
}

// MediaConfig selects where decoded photo/audio blobs go: local or s3.
type MediaConfig struct {
	Type      string `yaml:"type"`
	LocalPath string `yaml:"local_path"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
	AWSRegion string `yaml:"aws_region"`
}

// RedisConfig enables Redis-backed dispatch locks when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MessagingConfig points at the messaging bridge.
type MessagingConfig struct {
	BaseURL          string `yaml:"base_url"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	GreetingTemplate string `yaml:"greeting_template"`
}

// Timeout returns the per-request timeout.
func (c MessagingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnectorConfig points at the professional-network connector service.
type ConnectorConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ProfilePattern string `yaml:"profile_pattern"`
	NoteTemplate   string `yaml:"note_template"`
}

// Timeout returns the per-request timeout. Connection requests drive a
// browser, so the default is generous.
func (c ConnectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NotifierConfig configures the optional email notifier. Provider is
// "ses", "smtp" or "none".
type NotifierConfig struct {
	Provider        string `yaml:"provider"`
	From            string `yaml:"from"`
	FromName        string `yaml:"from_name"`
	SubjectTemplate string `yaml:"subject_template"`
	BodyTemplate    string `yaml:"body_template"`

	SESRegion    string `yaml:"ses_region"`
	SESAccessKey string `yaml:"ses_access_key"`
	SESSecretKey string `yaml:"ses_secret_key"`

	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
}

// Enabled reports whether a notifier provider is configured.
func (c NotifierConfig) Enabled() bool {
	return c.Provider == "ses" || c.Provider == "smtp"
}

// DispatchConfig sizes the worker pool and the recovery sweep.
type DispatchConfig struct {
	Workers                   int `yaml:"workers"`
	QueueSize                 int `yaml:"queue_size"`
	StatusWriteTimeoutSeconds int `yaml:"status_write_timeout_seconds"`
	RecoveryIntervalSeconds   int `yaml:"recovery_interval_seconds"`
	PendingGraceSeconds       int `yaml:"pending_grace_seconds"`
	StaleAfterSeconds         int `yaml:"stale_after_seconds"`
}

func (c DispatchConfig) StatusWriteTimeout() time.Duration {
	return time.Duration(c.StatusWriteTimeoutSeconds) * time.Second
}

func (c DispatchConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

func (c DispatchConfig) PendingGrace() time.Duration {
	return time.Duration(c.PendingGraceSeconds) * time.Second
}

func (c DispatchConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// DatabaseMaxOpenConns sizes the Postgres pool. A dispatch claim or a
// recovery sweep may pin one connection for an advisory lock while it needs
// a second for the store, so the pool covers two per worker plus the sweep
// and headroom for intake.
func (c DispatchConfig) DatabaseMaxOpenConns() int {
	n := 2*c.Workers + 10
	if n < 20 {
		n = 20
	}
	return n
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// ShouldRedact defaults to true when unset.
func (c LoggingConfig) ShouldRedact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads configuration from a YAML file and applies defaults.
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

// Default returns a configuration with every default applied, used when no
// config file is present.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 60
	}
	if cfg.Server.ShutdownSeconds == 0 {
		cfg.Server.ShutdownSeconds = 30
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Storage.DynamoDBTable == "" {
		cfg.Storage.DynamoDBTable = "orchestrator-contacts"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}

	if cfg.Media.Type == "" {
		cfg.Media.Type = "local"
	}
	if cfg.Media.LocalPath == "" {
		cfg.Media.LocalPath = "./data/media"
	}
	if cfg.Media.S3Prefix == "" {
		cfg.Media.S3Prefix = "media/"
	}
	if cfg.Media.AWSRegion == "" {
		cfg.Media.AWSRegion = cfg.Storage.AWSRegion
	}

	if cfg.Messaging.TimeoutSeconds == 0 {
		cfg.Messaging.TimeoutSeconds = 30
	}
	if cfg.Connector.TimeoutSeconds == 0 {
		cfg.Connector.TimeoutSeconds = 120
	}
	if cfg.Connector.ProfilePattern == "" {
		cfg.Connector.ProfilePattern = DefaultProfilePattern
	}

	if cfg.Notifier.Provider == "" {
		cfg.Notifier.Provider = "none"
	}
	if cfg.Notifier.SESRegion == "" {
		cfg.Notifier.SESRegion = "us-west-2"
	}
	if cfg.Notifier.SMTPHost == "" {
		cfg.Notifier.SMTPHost = "smtp.gmail.com"
	}
	if cfg.Notifier.SMTPPort == 0 {
		cfg.Notifier.SMTPPort = 587
	}

	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 8
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = 256
	}
	if cfg.Dispatch.StatusWriteTimeoutSeconds == 0 {
		cfg.Dispatch.StatusWriteTimeoutSeconds = 10
	}
	if cfg.Dispatch.RecoveryIntervalSeconds == 0 {
		cfg.Dispatch.RecoveryIntervalSeconds = 60
	}
	if cfg.Dispatch.PendingGraceSeconds == 0 {
		cfg.Dispatch.PendingGraceSeconds = 30
	}
	if cfg.Dispatch.StaleAfterSeconds == 0 {
		cfg.Dispatch.StaleAfterSeconds = 300
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A missing config file is not an error: the orchestrator can run on
// defaults plus environment alone.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.LocalPath = v
	}
	// Database override (critical for container deployments where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDBTable = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		cfg.Storage.AWSProfile = v
	}

	if v := os.Getenv("MEDIA_TYPE"); v != "" {
		cfg.Media.Type = v
	}
	if v := os.Getenv("MEDIA_S3_BUCKET"); v != "" {
		cfg.Media.S3Bucket = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("MESSAGING_BRIDGE_URL"); v != "" {
		cfg.Messaging.BaseURL = v
	}
	if v := os.Getenv("CONNECTOR_URL"); v != "" {
		cfg.Connector.BaseURL = v
	}

	if v := os.Getenv("NOTIFIER_PROVIDER"); v != "" {
		cfg.Notifier.Provider = v
	}
	if v := os.Getenv("NOTIFIER_FROM"); v != "" {
		cfg.Notifier.From = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Notifier.SESAccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Notifier.SESSecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Notifier.SESRegion = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Notifier.SMTPHost = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Notifier.SMTPUsername = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notifier.SMTPPassword = v
	}

	if v := os.Getenv("DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.Workers = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
