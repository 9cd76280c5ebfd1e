// Package config provides configuration management for the recontact service.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "RECONTACT"

// MinReportSyncRate is the smallest accepted interval between report sweeps.
const MinReportSyncRate = time.Minute

// Config holds all configuration for the recontact service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Jira contains ticketing system settings.
	Jira JiraConfig `mapstructure:"jira"`
	// Events contains in-process event bus settings.
	Events EventsConfig `mapstructure:"events"`
	// Kafka contains settings for the optional event mirror and ticket event ingress.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout bounds graceful shutdown, including the event queue drain.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// DebugEndpoints exposes the /v1/debug routes.
	DebugEndpoints bool `mapstructure:"debug_endpoints"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// JiraConfig holds ticketing system configuration.
type JiraConfig struct {
	// Enabled selects the real Jira client. When false a mock client is used.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the REST API root, e.g. https://jira.example.com/rest/api/2.
	BaseURL string `mapstructure:"base_url"`
	// ReportFieldName is matched (case-insensitive, substring) against custom field labels.
	ReportFieldName string `mapstructure:"report_field_name"`
	// CohortInfoFieldName is matched like ReportFieldName.
	CohortInfoFieldName string `mapstructure:"cohort_info_field_name"`
	// InvalidStatusName selects the transition used to invalidate an issue.
	InvalidStatusName string `mapstructure:"invalid_status_name"`
	// PlaintextJSONAllowed accepts unencrypted JSON cohort attachments.
	PlaintextJSONAllowed bool `mapstructure:"plaintext_json_allowed"`
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second sent to Jira.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the number of retries on 429 and 5xx responses.
	MaxRetries int `mapstructure:"max_retries"`
	// UpdateReportImmediately pushes reports on every request update event.
	UpdateReportImmediately bool `mapstructure:"update_report_immediately"`
	// ReportSyncRate is the interval of the periodic report sweep.
	ReportSyncRate time.Duration `mapstructure:"report_sync_rate"`
	// ReportSyncCron replaces ReportSyncRate with a cron schedule when set.
	ReportSyncCron string `mapstructure:"report_sync_cron"`
	// Username is loaded from RECONTACT_JIRA_USERNAME.
	Username string `mapstructure:"-"`
	// Password is loaded from RECONTACT_JIRA_PASSWORD.
	Password string `mapstructure:"-"`
	// SharedCohortKey is the hex encoded ChaCha20-Poly1305 key, loaded from
	// RECONTACT_JIRA_SHARED_COHORT_KEY.
	SharedCohortKey string `mapstructure:"-"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	// Workers is the number of handler goroutines (1-4).
	Workers int `mapstructure:"workers"`
	// QueueSize is the event buffer size. Events published to a full queue are dropped.
	QueueSize int `mapstructure:"queue_size"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	// Enabled controls whether internal events are mirrored to Kafka.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic receives mirrored request and cohort events.
	Topic string `mapstructure:"topic"`
	// TicketEventsTopic carries ticket change notifications. Empty disables the listener.
	TicketEventsTopic string `mapstructure:"ticket_events_topic"`
	// GroupID is the consumer group of the ticket event listener.
	GroupID string `mapstructure:"group_id"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// CohortKey decodes the shared cohort key.
func (c *JiraConfig) CohortKey() ([]byte, error) {
	key, err := hex.DecodeString(c.SharedCohortKey)
	if err != nil {
		return nil, fmt.Errorf("decode shared cohort key: %w", err)
	}
	return key, nil
}

// Load loads configuration from a .env file, environment variables and config files.
func Load() (*Config, error) {
	// A missing .env file is fine outside local development.
	_ = godotenv.Load(".env")

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/recontact-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Jira.Username = os.Getenv(EnvPrefix + "_JIRA_USERNAME")
	cfg.Jira.Password = os.Getenv(EnvPrefix + "_JIRA_PASSWORD")
	cfg.Jira.SharedCohortKey = os.Getenv(EnvPrefix + "_JIRA_SHARED_COHORT_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.debug_endpoints", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "recontact")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "recontact")
	// Use RECONTACT_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("jira.enabled", false)
	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.report_field_name", "report")
	v.SetDefault("jira.cohort_info_field_name", "cohort info")
	v.SetDefault("jira.invalid_status_name", "invalid")
	v.SetDefault("jira.plaintext_json_allowed", false)
	v.SetDefault("jira.timeout", "5s")
	v.SetDefault("jira.rate_limit", 5.0)
	v.SetDefault("jira.max_retries", 2)
	v.SetDefault("jira.update_report_immediately", true)
	v.SetDefault("jira.report_sync_rate", "10m")
	v.SetDefault("jira.report_sync_cron", "")

	v.SetDefault("events.workers", 2)
	v.SetDefault("events.queue_size", 256)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "recontact.events")
	v.SetDefault("kafka.ticket_events_topic", "")
	v.SetDefault("kafka.group_id", "recontact-service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Events.Workers < 1 || c.Events.Workers > 4 {
		return fmt.Errorf("events workers must be between 1 and 4, got %d", c.Events.Workers)
	}
	if c.Events.QueueSize < 1 {
		return fmt.Errorf("events queue_size must be positive, got %d", c.Events.QueueSize)
	}

	if err := c.Jira.validate(); err != nil {
		return err
	}

	if c.Kafka.Enabled || c.Kafka.TicketEventsTopic != "" {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is used")
		}
	}
	if c.Kafka.Enabled && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when kafka is enabled")
	}

	return nil
}

func (c *JiraConfig) validate() error {
	if c.ReportSyncCron != "" {
		if !gronx.IsValid(c.ReportSyncCron) {
			return fmt.Errorf("invalid jira report_sync_cron: %q", c.ReportSyncCron)
		}
	} else if c.ReportSyncRate < MinReportSyncRate {
		return fmt.Errorf("jira report_sync_rate must be at least %s, got %s", MinReportSyncRate, c.ReportSyncRate)
	}

	if !c.Enabled {
		return nil
	}

	if c.BaseURL == "" {
		return fmt.Errorf("jira base_url is required when jira is enabled")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("jira is enabled but %s_JIRA_USERNAME or %s_JIRA_PASSWORD is empty", EnvPrefix, EnvPrefix)
	}
	key, err := c.CohortKey()
	if err != nil {
		return err
	}
	if len(key) != 32 {
		return fmt.Errorf("shared cohort key must be 32 bytes, got %d", len(key))
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("jira timeout must be positive")
	}
	return nil
}
