package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of accessd. It is read from YAML, then
// ACCESS_* environment variables win over the file.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Access    AccessConfig    `yaml:"access"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig locates and tunes the SQLite store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection and resilience settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig         `yaml:"broker"`
	Auth           MQTTAuthConfig           `yaml:"auth"`
	TLS            MQTTTLSConfig            `yaml:"tls"`
	QoS            int                      `yaml:"qos"`
	KeepAlive      int                      `yaml:"keep_alive"`
	CleanSession   bool                     `yaml:"clean_session"`
	ConnectTimeout int                      `yaml:"connect_timeout"`
	Reconnect      MQTTReconnectConfig      `yaml:"reconnect"`
	CircuitBreaker MQTTCircuitBreakerConfig `yaml:"circuit_breaker"`
	Buffer         MQTTBufferConfig         `yaml:"buffer"`

	// HealthCheckInterval is how often connection stats are sampled and
	// reported (in seconds).
	HealthCheckInterval int `yaml:"health_check_interval"`
}

// MQTTBrokerConfig addresses the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds optional broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig contains broker TLS settings.
type MQTTTLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// MQTTReconnectConfig drives the backoff loop.
type MQTTReconnectConfig struct {
	// Enabled turns the reconnect loop on. When false the first lost
	// connection is terminal.
	Enabled bool `yaml:"enabled"`

	// MinWait and MaxWait bound the exponential backoff (in seconds).
	MinWait int `yaml:"min_wait"`
	MaxWait int `yaml:"max_wait"`

	// MaxAttempts caps consecutive failed connection attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// MQTTCircuitBreakerConfig contains connection circuit breaker settings.
type MQTTCircuitBreakerConfig struct {
	Threshold int `yaml:"threshold"`
	Cooldown  int `yaml:"cooldown"`
}

// MQTTBufferConfig contains outbound buffer settings.
type MQTTBufferConfig struct {
	Capacity int `yaml:"capacity"`
}

// APIConfig configures the operator HTTP API.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig configures the console event stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig configures optional telemetry export.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AccessConfig contains door-control behaviour settings.
type AccessConfig struct {
	// UnlockDuration is the default door unlock time (in seconds).
	UnlockDuration int `yaml:"unlock_duration"`

	// CommandTimeout is how long a door command may wait for an
	// acknowledgement before it is expired (in seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// CleanupInterval is how often expired commands are swept (in seconds).
	CleanupInterval int `yaml:"cleanup_interval"`

	// MaxConcurrentHandlers caps in-flight inbound message handlers.
	// 0 means unlimited.
	MaxConcurrentHandlers int `yaml:"max_concurrent_handlers"`
}

// Load builds the configuration in three layers: built-in defaults, then
// the YAML file at path (skipped when path is empty), then ACCESS_*
// environment variables. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig is the baseline a YAML file overlays.
// The broker host has no default: it must be configured explicitly.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Access Control",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/access.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 1883,
			},
			QoS:            1,
			KeepAlive:      60,
			CleanSession:   true,
			ConnectTimeout: 10,
			Reconnect: MQTTReconnectConfig{
				Enabled:     true,
				MinWait:     1,
				MaxWait:     60,
				MaxAttempts: 0,
			},
			CircuitBreaker: MQTTCircuitBreakerConfig{
				Threshold: 5,
				Cooldown:  60,
			},
			Buffer: MQTTBufferConfig{
				Capacity: 1000,
			},
			HealthCheckInterval: 30,
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
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "access",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Access: AccessConfig{
			UnlockDuration:        5,
			CommandTimeout:        300,
			CleanupInterval:       60,
			MaxConcurrentHandlers: 64,
		},
	}
}

// envOverride binds one ACCESS_* variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string) error
}

func envString(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

func envInt(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func envBool(field func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}
}

// envOverrides lists every supported variable. Secrets belong here rather
// than in the YAML file.
var envOverrides = []envOverride{
	{"ACCESS_SITE_ID", envString(func(c *Config) *string { return &c.Site.ID })},
	{"ACCESS_DATABASE_PATH", envString(func(c *Config) *string { return &c.Database.Path })},
	{"ACCESS_MQTT_HOST", envString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"ACCESS_MQTT_PORT", envInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"ACCESS_MQTT_CLIENT_ID", envString(func(c *Config) *string { return &c.MQTT.Broker.ClientID })},
	{"ACCESS_MQTT_USERNAME", envString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"ACCESS_MQTT_PASSWORD", envString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"ACCESS_MQTT_TLS", envBool(func(c *Config) *bool { return &c.MQTT.TLS.Enabled })},
	{"ACCESS_MQTT_KEEPALIVE", envInt(func(c *Config) *int { return &c.MQTT.KeepAlive })},
	{"ACCESS_MQTT_QOS", envInt(func(c *Config) *int { return &c.MQTT.QoS })},
	{"ACCESS_MQTT_RETRY_ATTEMPTS", envInt(func(c *Config) *int { return &c.MQTT.Reconnect.MaxAttempts })},
	{"ACCESS_MQTT_RETRY_MIN_WAIT", envInt(func(c *Config) *int { return &c.MQTT.Reconnect.MinWait })},
	{"ACCESS_MQTT_RETRY_MAX_WAIT", envInt(func(c *Config) *int { return &c.MQTT.Reconnect.MaxWait })},
	{"ACCESS_MQTT_CIRCUIT_BREAKER_THRESHOLD", envInt(func(c *Config) *int { return &c.MQTT.CircuitBreaker.Threshold })},
	{"ACCESS_MQTT_CIRCUIT_BREAKER_COOLDOWN", envInt(func(c *Config) *int { return &c.MQTT.CircuitBreaker.Cooldown })},
	{"ACCESS_MQTT_BUFFER_SIZE", envInt(func(c *Config) *int { return &c.MQTT.Buffer.Capacity })},
	{"ACCESS_MQTT_HEALTH_CHECK_INTERVAL", envInt(func(c *Config) *int { return &c.MQTT.HealthCheckInterval })},
	{"ACCESS_API_HOST", envString(func(c *Config) *string { return &c.API.Host })},
	{"ACCESS_API_PORT", envInt(func(c *Config) *int { return &c.API.Port })},
	{"ACCESS_INFLUXDB_ENABLED", envBool(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"ACCESS_INFLUXDB_URL", envString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"ACCESS_INFLUXDB_TOKEN", envString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"ACCESS_LOG_LEVEL", envString(func(c *Config) *string { return &c.Logging.Level })},
}

// applyEnvOverrides applies every set, non-empty ACCESS_* variable.
func applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		v := os.Getenv(o.name)
		if v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

// Validate reports every problem in the configuration at once, so an
// operator can fix a config file in one pass.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Site.ID != "", "site.id is required")
	check(c.Database.Path != "", "database.path is required")

	m := c.MQTT
	check(m.Broker.Host != "", "mqtt.broker.host is required (set ACCESS_MQTT_HOST environment variable)")
	check(validPort(m.Broker.Port), "mqtt.broker.port must be between 1 and 65535")
	check(m.QoS >= 0 && m.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check((m.Auth.Username == "") == (m.Auth.Password == ""), "mqtt.auth.username and mqtt.auth.password must be set together")
	check(m.TLS.CAFile == "" || m.TLS.Enabled, "mqtt.tls.ca_file requires mqtt.tls.enabled")
	if m.Reconnect.MinWait < 0 || m.Reconnect.MaxWait < 0 {
		check(false, "mqtt.reconnect wait times must not be negative")
	} else {
		check(m.Reconnect.MinWait <= m.Reconnect.MaxWait, "mqtt.reconnect.min_wait must not exceed mqtt.reconnect.max_wait")
	}
	check(m.Reconnect.MaxAttempts >= 0, "mqtt.reconnect.max_attempts must not be negative")
	check(m.CircuitBreaker.Threshold >= 1, "mqtt.circuit_breaker.threshold must be at least 1")
	check(m.Buffer.Capacity >= 1, "mqtt.buffer.capacity must be at least 1")

	check(validPort(c.API.Port), "api.port must be between 1 and 65535")
	check(!c.InfluxDB.Enabled || c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// ReadDuration is the read timeout as a Duration.
func (t APITimeoutConfig) ReadDuration() time.Duration { return seconds(t.Read) }

// WriteDuration is the write timeout as a Duration.
func (t APITimeoutConfig) WriteDuration() time.Duration { return seconds(t.Write) }

// IdleDuration is the keep-alive idle timeout as a Duration.
func (t APITimeoutConfig) IdleDuration() time.Duration { return seconds(t.Idle) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// GetCommandTimeout returns the door command acknowledgement timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return seconds(c.Access.CommandTimeout)
}

// GetCleanupInterval returns the pending command sweep interval as a Duration.
func (c *Config) GetCleanupInterval() time.Duration {
	return seconds(c.Access.CleanupInterval)
}
