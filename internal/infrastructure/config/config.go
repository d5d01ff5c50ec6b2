package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the review core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
	Contractor  ContractorConfig  `yaml:"contractor"`
	Console     ConsoleConfig     `yaml:"console"`
	Transaction TransactionConfig `yaml:"transaction"`
	Pagination  PaginationConfig  `yaml:"pagination"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// Review lifecycle events are published when Enabled is true.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
	// MaxBodyBytes bounds request bodies. Review submissions carry images,
	// so this is larger than a plain JSON API would need.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the admin live review feed.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for review metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains the application secret and admin session settings.
type SecurityConfig struct {
	// AppSecret keys both token signing and credential encryption.
	AppSecret string `yaml:"app_secret"`
	// AdminTokenTTL is the admin session lifetime in minutes.
	AdminTokenTTL int `yaml:"admin_token_ttl"`
}

// ContractorConfig contains settings for the contractor-facing app.
type ContractorConfig struct {
	// AppURL is the base URL embedded in provisioned QR codes.
	AppURL string `yaml:"app_url"`
}

// ConsoleConfig contains settings for the external device console client.
type ConsoleConfig struct {
	Timeout    int  `yaml:"timeout"`
	Retries    int  `yaml:"retries"`
	RetryDelay int  `yaml:"retry_delay"`
	VerifyTLS  bool `yaml:"verify_tls"`
}

// TransactionConfig bounds database transactions, in seconds.
type TransactionConfig struct {
	MaxWait int `yaml:"max_wait"`
	Timeout int `yaml:"timeout"`
}

// PaginationConfig contains list endpoint defaults.
type PaginationConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
}

// Load reads the YAML file at path over the built-in defaults, then
// applies REVIEWCORE_* environment overrides and validates the result.
// Secrets such as REVIEWCORE_APP_SECRET are normally supplied through the
// environment rather than the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/reviewcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "reviewcore",
			},
			QoS:         1,
			TopicPrefix: "reviewcore",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  60,
				Write: 60,
				Idle:  120,
			},
			MaxBodyBytes: 16 << 20,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			AdminTokenTTL: 1440,
		},
		Console: ConsoleConfig{
			Timeout:    55,
			Retries:    2,
			RetryDelay: 2,
			VerifyTLS:  true,
		},
		Transaction: TransactionConfig{
			MaxWait: 10,
			Timeout: 30,
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 100,
		},
	}
}

// envStrings maps override variables onto string fields.
func envStrings(cfg *Config) map[string]*string {
	return map[string]*string{
		"REVIEWCORE_DATABASE_PATH":      &cfg.Database.Path,
		"REVIEWCORE_MQTT_HOST":          &cfg.MQTT.Broker.Host,
		"REVIEWCORE_MQTT_USERNAME":      &cfg.MQTT.Auth.Username,
		"REVIEWCORE_MQTT_PASSWORD":      &cfg.MQTT.Auth.Password,
		"REVIEWCORE_API_HOST":           &cfg.API.Host,
		"REVIEWCORE_INFLUXDB_TOKEN":     &cfg.InfluxDB.Token,
		"REVIEWCORE_APP_SECRET":         &cfg.Security.AppSecret,
		"REVIEWCORE_CONTRACTOR_APP_URL": &cfg.Contractor.AppURL,
	}
}

// applyEnvOverrides copies non-empty REVIEWCORE_* variables into cfg.
// An unparsable port is ignored.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envStrings(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if port, err := strconv.Atoi(os.Getenv("REVIEWCORE_API_PORT")); err == nil {
		cfg.API.Port = port
	}
}

// minSecretLength keeps the signing key out of brute-force range.
const minSecretLength = 32

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	require(c.Database.Path != "", "database.path is required")
	require(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	require(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")
	switch {
	case c.Security.AppSecret == "":
		problems = append(problems, "security.app_secret is required (set REVIEWCORE_APP_SECRET)")
	case len(c.Security.AppSecret) < minSecretLength:
		problems = append(problems, fmt.Sprintf("security.app_secret must be at least %d characters", minSecretLength))
	}
	require(c.Security.AdminTokenTTL >= 1, "security.admin_token_ttl must be positive")
	require(c.Contractor.AppURL != "", "contractor.app_url is required")
	require(c.Transaction.MaxWait >= 1, "transaction.max_wait must be positive")
	require(c.Transaction.Timeout >= 1, "transaction.timeout must be positive")
	require(c.Pagination.DefaultPageSize >= 1, "pagination.default_page_size must be positive")

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return seconds(c.API.Timeouts.Read)
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return seconds(c.API.Timeouts.Write)
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return seconds(c.API.Timeouts.Idle)
}

// GetTransactionMaxWait returns how long a transaction may wait for a
// database connection before giving up.
func (c *Config) GetTransactionMaxWait() time.Duration {
	return seconds(c.Transaction.MaxWait)
}

// GetTransactionTimeout returns the bound applied to every state-changing transaction.
func (c *Config) GetTransactionTimeout() time.Duration {
	return seconds(c.Transaction.Timeout)
}

// GetAdminTokenTTL returns the admin session lifetime.
func (c *Config) GetAdminTokenTTL() time.Duration {
	return time.Duration(c.Security.AdminTokenTTL) * time.Minute
}

// GetConsoleTimeout returns the per-request timeout for the device console.
func (c *Config) GetConsoleTimeout() time.Duration {
	return seconds(c.Console.Timeout)
}

// GetConsoleRetryDelay returns the delay between console retries.
func (c *Config) GetConsoleRetryDelay() time.Duration {
	return seconds(c.Console.RetryDelay)
}
