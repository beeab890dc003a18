package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Warden.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Actuator   ActuatorConfig   `yaml:"actuator"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Automation AutomationConfig `yaml:"automation"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InstanceConfig identifies this Warden process.
type InstanceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for dispatch metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TelegramConfig contains chat listener and feedback settings.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Debug   bool   `yaml:"debug"`

	// Listen enables the long-poll chat listener; feedback works without it.
	Listen bool `yaml:"listen"`

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`

	// APIEndpoint overrides the Bot API URL format (for self-hosted Bot API servers).
	APIEndpoint string `yaml:"api_endpoint"`
}

// ActuatorConfig selects and configures the resource backend.
type ActuatorConfig struct {
	// Backend is "docker" or "kubernetes".
	Backend    string           `yaml:"backend"`
	Docker     DockerConfig     `yaml:"docker"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// DockerConfig configures the Docker Engine API actuator.
type DockerConfig struct {
	Host       string `yaml:"host"`        // empty: DOCKER_HOST or the platform socket
	APIVersion string `yaml:"api_version"` // empty: negotiate
}

// KubernetesConfig configures the Deployment actuator.
type KubernetesConfig struct {
	Kubeconfig string `yaml:"kubeconfig"` // empty: in-cluster config
	Namespace  string `yaml:"namespace"`
}

// DispatchConfig contains dispatch queue settings.
type DispatchConfig struct {
	Workers        int         `yaml:"workers"`
	QueueSize      int         `yaml:"queue_size"`
	CommandTimeout int         `yaml:"command_timeout"` // seconds
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig contains actuator retry settings. MaxRetries 0 disables retry.
type RetryConfig struct {
	MaxRetries   int     `yaml:"max_retries"`
	InitialDelay int     `yaml:"initial_delay"` // milliseconds
	Multiplier   float64 `yaml:"multiplier"`
	MaxDelay     int     `yaml:"max_delay"` // milliseconds
}

// AutomationConfig contains rule engine settings. Enabled, GlobalCooldown
// and Protected seed the global settings until they are saved through the API.
type AutomationConfig struct {
	Enabled        bool     `yaml:"enabled"`
	GlobalCooldown int      `yaml:"global_cooldown"` // seconds
	Protected      []string `yaml:"protected"`
	AuditChannel   string   `yaml:"audit_channel"`
	RegexTimeoutMS int      `yaml:"regex_timeout_ms"`
	EventBuffer    int      `yaml:"event_buffer"`
	RulesFile      string   `yaml:"rules_file"`
	WatchRulesFile bool     `yaml:"watch_rules_file"`
	NotifyBuffer   int      `yaml:"notify_buffer"`
}

// LedgerConfig contains execution ledger settings.
type LedgerConfig struct {
	PerResource int `yaml:"per_resource"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"` // stdout, file or both
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WARDEN_SECTION_KEY
// For example: WARDEN_DATABASE_PATH, WARDEN_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration with environment overrides
// applied. Used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			ID:   "warden-001",
			Name: "Warden",
		},
		Database: DatabaseConfig{
			Path:        "./data/warden.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "warden",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "warden",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Actuator: ActuatorConfig{
			Backend: "docker",
			Kubernetes: KubernetesConfig{
				Namespace: "default",
			},
		},
		Dispatch: DispatchConfig{
			Workers:        3,
			QueueSize:      256,
			CommandTimeout: 30,
			Retry: RetryConfig{
				InitialDelay: 500,
				Multiplier:   2,
				MaxDelay:     10000,
			},
		},
		Automation: AutomationConfig{
			Enabled:        true,
			RegexTimeoutMS: 500,
			EventBuffer:    64,
			NotifyBuffer:   256,
		},
		Ledger: LedgerConfig{
			PerResource: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./data/warden.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WARDEN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("WARDEN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("WARDEN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WARDEN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WARDEN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("WARDEN_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("WARDEN_API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv("WARDEN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Telegram
	if v := os.Getenv("WARDEN_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}

	// Actuator
	if v := os.Getenv("WARDEN_ACTUATOR_BACKEND"); v != "" {
		cfg.Actuator.Backend = v
	}
	if v := os.Getenv("WARDEN_KUBERNETES_NAMESPACE"); v != "" {
		cfg.Actuator.Kubernetes.Namespace = v
	}

	// Dispatch
	if v, ok := envInt("WARDEN_DISPATCH_WORKERS"); ok {
		cfg.Dispatch.Workers = v
	}

	// Automation
	if v := os.Getenv("WARDEN_AUTOMATION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Automation.Enabled = b
		}
	}
	if v := os.Getenv("WARDEN_AUTOMATION_RULES_FILE"); v != "" {
		cfg.Automation.RulesFile = v
	}

	// Logging
	if v := os.Getenv("WARDEN_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Instance.ID == "" {
		errs = append(errs, "instance.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "") {
		errs = append(errs, "influxdb.url and influxdb.org are required when influxdb is enabled")
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled (set WARDEN_TELEGRAM_TOKEN)")
	}

	switch c.Actuator.Backend {
	case "docker", "kubernetes":
	default:
		errs = append(errs, `actuator.backend must be "docker" or "kubernetes"`)
	}

	if c.Dispatch.Workers < 1 {
		errs = append(errs, "dispatch.workers must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queue_size must be at least 1")
	}
	if c.Dispatch.CommandTimeout < 1 {
		errs = append(errs, "dispatch.command_timeout must be at least 1 second")
	}
	if c.Dispatch.Retry.MaxRetries < 0 {
		errs = append(errs, "dispatch.retry.max_retries must not be negative")
	}

	if c.Automation.GlobalCooldown < 0 || c.Automation.GlobalCooldown > 86400 {
		errs = append(errs, "automation.global_cooldown must be 0-86400 seconds")
	}
	if c.Automation.RegexTimeoutMS < 1 {
		errs = append(errs, "automation.regex_timeout_ms must be at least 1")
	}

	if c.Ledger.PerResource < 1 {
		errs = append(errs, "ledger.per_resource must be at least 1")
	}

	switch c.Logging.Output {
	case "stdout", "stderr", "file", "both":
	default:
		errs = append(errs, `logging.output must be "stdout", "stderr", "file" or "both"`)
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required for file output")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetCommandTimeout returns the actuator command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Dispatch.CommandTimeout) * time.Second
}

// GetRegexTimeout returns the per-rule regex budget as a Duration.
func (c *Config) GetRegexTimeout() time.Duration {
	return time.Duration(c.Automation.RegexTimeoutMS) * time.Millisecond
}
