package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
	"github.com/nerrad567/access-control-core/internal/infrastructure/logging"
)

// writeConfig writes a YAML config to a temp dir and points ACCESS_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("ACCESS_CONFIG", path)
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("ACCESS_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingBrokerHost verifies the broker host has no default.
func TestRun_MissingBrokerHost(t *testing.T) {
	t.Setenv("ACCESS_MQTT_HOST", "")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+filepath.Join(t.TempDir(), "access.db")+`"
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without mqtt.broker.host")
	}
}

// TestRun_StartsWithoutBroker verifies the core starts and shuts down
// cleanly while the broker is unreachable: the connection loop keeps
// retrying in the background.
func TestRun_StartsWithoutBroker(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+filepath.Join(t.TempDir(), "access.db")+`"
mqtt:
  broker:
    host: "127.0.0.1"
    port: `+strconv.Itoa(freePort(t))+`
    client_id: "test-core"
  connect_timeout: 1
  reconnect:
    min_wait: 1
    max_wait: 1
api:
  host: "127.0.0.1"
  port: `+strconv.Itoa(freePort(t))+`
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestGetConfigPath_Default verifies the default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("ACCESS_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies the environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("ACCESS_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestConnectInfluxDB_Disabled verifies a disabled InfluxDB is not an error.
func TestConnectInfluxDB_Disabled(t *testing.T) {
	client, err := connectInfluxDB(config.InfluxDBConfig{Enabled: false}, logging.Discard())
	if err != nil {
		t.Fatalf("connectInfluxDB() error = %v", err)
	}
	if client != nil {
		t.Error("connectInfluxDB() returned a client while disabled")
	}
}

// TestConnectInfluxDB_Unreachable verifies an enabled but unreachable
// InfluxDB fails startup.
func TestConnectInfluxDB_Unreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:" + strconv.Itoa(freePort(t)),
		Org:     "test",
		Bucket:  "test",
	}
	if _, err := connectInfluxDB(cfg, logging.Discard()); err == nil {
		t.Fatal("connectInfluxDB() should fail for an unreachable server")
	}
}

func TestRunRetention(t *testing.T) {
	var calls []string
	var gotKeep time.Duration
	jobs := []retentionJob{
		{name: "broken", keep: time.Hour, prune: func(context.Context, time.Duration) (int64, error) {
			calls = append(calls, "broken")
			return 0, errors.New("database is locked")
		}},
		{name: "messages", keep: 2 * time.Hour, prune: func(_ context.Context, keep time.Duration) (int64, error) {
			calls = append(calls, "messages")
			gotKeep = keep
			return 3, nil
		}},
	}

	runRetention(context.Background(), logging.Discard(), jobs)

	if len(calls) != 2 || calls[0] != "broken" || calls[1] != "messages" {
		t.Errorf("calls = %v, want every job run in order despite failures", calls)
	}
	if gotKeep != 2*time.Hour {
		t.Errorf("keep = %v, want 2h", gotKeep)
	}
}
