package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns defaults with the one required field filled in.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.MQTT.Broker.Host = "broker.local"
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 8883
    client_id: "test-client"
  auth:
    username: "door"
    password: "secret"
  tls:
    enabled: true
  qos: 2
  reconnect:
    enabled: true
    min_wait: 2
    max_wait: 30
  circuit_breaker:
    threshold: 3
    cooldown: 10
  buffer:
    capacity: 50
api:
  host: "0.0.0.0"
  port: 8080
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if !cfg.MQTT.TLS.Enabled {
		t.Error("MQTT.TLS.Enabled = false, want true")
	}
	if cfg.MQTT.CircuitBreaker.Threshold != 3 {
		t.Errorf("CircuitBreaker.Threshold = %d, want 3", cfg.MQTT.CircuitBreaker.Threshold)
	}
	if cfg.MQTT.Buffer.Capacity != 50 {
		t.Errorf("Buffer.Capacity = %d, want 50", cfg.MQTT.Buffer.Capacity)
	}
	// Unset keys keep their defaults.
	if cfg.MQTT.HealthCheckInterval != 30 {
		t.Errorf("HealthCheckInterval = %d, want default 30", cfg.MQTT.HealthCheckInterval)
	}
}

func TestLoad_EmptyPathUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("ACCESS_MQTT_HOST", "mqtt.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Buffer.Capacity != 1000 {
		t.Errorf("Buffer.Capacity = %d, want 1000", cfg.MQTT.Buffer.Capacity)
	}
}

func TestLoad_MissingBrokerHost(t *testing.T) {
	t.Setenv("ACCESS_MQTT_HOST", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("Load() expected error for missing broker host, got nil")
	}
	if !strings.Contains(err.Error(), "mqtt.broker.host") {
		t.Errorf("error %q does not mention mqtt.broker.host", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidEnvPort(t *testing.T) {
	t.Setenv("ACCESS_MQTT_HOST", "localhost")
	t.Setenv("ACCESS_MQTT_PORT", "not-a-port")

	_, err := Load("")
	if err == nil {
		t.Error("Load() expected error for non-numeric port, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing broker host", mutate: func(c *Config) { c.MQTT.Broker.Host = "" }, wantErr: true},
		{name: "missing broker port", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "username without password", mutate: func(c *Config) { c.MQTT.Auth.Username = "door" }, wantErr: true},
		{
			name: "username with password",
			mutate: func(c *Config) {
				c.MQTT.Auth.Username = "door"
				c.MQTT.Auth.Password = "secret"
			},
		},
		{name: "CA file without TLS", mutate: func(c *Config) { c.MQTT.TLS.CAFile = "/etc/ca.pem" }, wantErr: true},
		{
			name: "min wait above max wait",
			mutate: func(c *Config) {
				c.MQTT.Reconnect.MinWait = 90
				c.MQTT.Reconnect.MaxWait = 60
			},
			wantErr: true,
		},
		{name: "zero breaker threshold", mutate: func(c *Config) { c.MQTT.CircuitBreaker.Threshold = 0 }, wantErr: true},
		{name: "zero buffer capacity", mutate: func(c *Config) { c.MQTT.Buffer.Capacity = 0 }, wantErr: true},
		{name: "invalid API port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid API port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "influx enabled without URL", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Site.ID = ""
	cfg.MQTT.QoS = 7

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	for _, want := range []string{"site.id", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Access: AccessConfig{
			CommandTimeout:  300,
			CleanupInterval: 15,
		},
	}

	if got := cfg.API.Timeouts.ReadDuration(); got != 30*time.Second {
		t.Errorf("ReadDuration() = %v, want 30s", got)
	}
	if got := cfg.API.Timeouts.WriteDuration(); got != 45*time.Second {
		t.Errorf("WriteDuration() = %v, want 45s", got)
	}
	if got := cfg.API.Timeouts.IdleDuration(); got != time.Minute {
		t.Errorf("IdleDuration() = %v, want 1m", got)
	}
	if got := cfg.GetCommandTimeout(); got != 5*time.Minute {
		t.Errorf("GetCommandTimeout() = %v, want 5m", got)
	}
	if got := cfg.GetCleanupInterval(); got != 15*time.Second {
		t.Errorf("GetCleanupInterval() = %v, want 15s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("ACCESS_DATABASE_PATH", "/custom/path.db")
	t.Setenv("ACCESS_MQTT_HOST", "mqtt.example.com")
	t.Setenv("ACCESS_MQTT_PORT", "8883")
	t.Setenv("ACCESS_MQTT_CLIENT_ID", "door-core")
	t.Setenv("ACCESS_MQTT_USERNAME", "testuser")
	t.Setenv("ACCESS_MQTT_PASSWORD", "testpass")
	t.Setenv("ACCESS_MQTT_TLS", "true")
	t.Setenv("ACCESS_API_HOST", "192.168.1.1")
	t.Setenv("ACCESS_API_PORT", "9090")
	t.Setenv("ACCESS_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("ACCESS_LOG_LEVEL", "debug")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID != "door-core" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "door-core")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if !cfg.MQTT.TLS.Enabled {
		t.Error("MQTT.TLS.Enabled = false, want true")
	}
	if cfg.API.Host != "192.168.1.1" || cfg.API.Port != 9090 {
		t.Errorf("API = %s:%d, want 192.168.1.1:9090", cfg.API.Host, cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_SiteAndInfluxDB(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("ACCESS_SITE_ID", "depot-7")
	t.Setenv("ACCESS_INFLUXDB_ENABLED", "1")
	t.Setenv("ACCESS_INFLUXDB_URL", "http://influx:8086")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}
	if cfg.Site.ID != "depot-7" {
		t.Errorf("Site.ID = %q, want depot-7", cfg.Site.ID)
	}
	if !cfg.InfluxDB.Enabled || cfg.InfluxDB.URL != "http://influx:8086" {
		t.Errorf("InfluxDB = %+v, want enabled at http://influx:8086", cfg.InfluxDB)
	}
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	tests := map[string]string{
		"ACCESS_MQTT_PORT":        "eighty",
		"ACCESS_MQTT_TLS":         "maybe",
		"ACCESS_INFLUXDB_ENABLED": "sometimes",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			err := applyEnvOverrides(defaultConfig())
			if err == nil || !strings.Contains(err.Error(), name) {
				t.Errorf("applyEnvOverrides() error = %v, want one naming %s", err, name)
			}
		})
	}
}

func TestLoad_MQTTTuningFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		got   func(*Config) int
		want  int
	}{
		{"ACCESS_MQTT_KEEPALIVE", "45", func(c *Config) int { return c.MQTT.KeepAlive }, 45},
		{"ACCESS_MQTT_QOS", "2", func(c *Config) int { return c.MQTT.QoS }, 2},
		{"ACCESS_MQTT_RETRY_ATTEMPTS", "7", func(c *Config) int { return c.MQTT.Reconnect.MaxAttempts }, 7},
		{"ACCESS_MQTT_RETRY_MIN_WAIT", "3", func(c *Config) int { return c.MQTT.Reconnect.MinWait }, 3},
		{"ACCESS_MQTT_RETRY_MAX_WAIT", "120", func(c *Config) int { return c.MQTT.Reconnect.MaxWait }, 120},
		{"ACCESS_MQTT_CIRCUIT_BREAKER_THRESHOLD", "8", func(c *Config) int { return c.MQTT.CircuitBreaker.Threshold }, 8},
		{"ACCESS_MQTT_CIRCUIT_BREAKER_COOLDOWN", "90", func(c *Config) int { return c.MQTT.CircuitBreaker.Cooldown }, 90},
		{"ACCESS_MQTT_BUFFER_SIZE", "250", func(c *Config) int { return c.MQTT.Buffer.Capacity }, 250},
		{"ACCESS_MQTT_HEALTH_CHECK_INTERVAL", "15", func(c *Config) int { return c.MQTT.HealthCheckInterval }, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ACCESS_MQTT_HOST", "localhost")
			t.Setenv(tt.name, tt.value)

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got := tt.got(cfg); got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})

		t.Run(tt.name+"/malformed", func(t *testing.T) {
			t.Setenv("ACCESS_MQTT_HOST", "localhost")
			t.Setenv(tt.name, "lots")

			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.name) {
				t.Errorf("Load() error = %v, want one naming %s", err, tt.name)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Host != "" {
		t.Errorf("defaultConfig MQTT.Broker.Host = %q, want empty", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.CircuitBreaker.Threshold != 5 || cfg.MQTT.CircuitBreaker.Cooldown != 60 {
		t.Errorf("defaultConfig CircuitBreaker = %+v, want threshold 5 cooldown 60", cfg.MQTT.CircuitBreaker)
	}
	if cfg.MQTT.Buffer.Capacity != 1000 {
		t.Errorf("defaultConfig Buffer.Capacity = %d, want 1000", cfg.MQTT.Buffer.Capacity)
	}
	if !cfg.MQTT.Reconnect.Enabled {
		t.Error("defaultConfig Reconnect.Enabled = false, want true")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
