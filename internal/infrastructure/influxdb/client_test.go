package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
	"github.com/nerrad567/access-control-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/access-control-core/internal/router"
)

// fakeInflux answers /ping and captures line-protocol bodies posted to
// /api/v2/write.
type fakeInflux struct {
	mu          sync.Mutex
	lines       []string
	healthy     bool
	writeStatus int
}

func newFakeInflux(t *testing.T) (*fakeInflux, *httptest.Server) {
	t.Helper()
	f := &fakeInflux{healthy: true, writeStatus: http.StatusNoContent}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			f.mu.Lock()
			healthy := f.healthy
			f.mu.Unlock()
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			status := f.writeStatus
			if status == http.StatusNoContent {
				for line := range strings.SplitSeq(strings.TrimSpace(string(body)), "\n") {
					if line != "" {
						f.lines = append(f.lines, line)
					}
				}
			}
			f.mu.Unlock()
			if status != http.StatusNoContent {
				http.Error(w, `{"code":"invalid","message":"bad line"}`, status)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// waitForLines polls until at least n lines arrive. The batch is handed to
// the HTTP writer asynchronously, so Flush can return before the request lands.
func (f *fakeInflux) waitForLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if lines := f.written(); len(lines) >= n {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	return f.written()
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "access-dev-token",
		Org:           "access",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, url string) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig(url))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	_, srv := newFakeInflux(t)
	client := connect(t, srv.URL)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if _, err := influxdb.Connect(testConfig("http://127.0.0.1:1")); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	fake, srv := newFakeInflux(t)
	fake.mu.Lock()
	fake.healthy = false
	fake.mu.Unlock()

	if _, err := influxdb.Connect(testConfig(srv.URL)); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	_, srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteConnectionStats(t *testing.T) {
	fake, srv := newFakeInflux(t)
	client := connect(t, srv.URL)

	client.WriteConnectionStats(mqtt.ConnectionStats{
		State:            "connected",
		Connected:        true,
		Broker:           "tcp://broker:1883",
		ClientID:         "access_control_ab12cd34",
		MessagesSent:     9,
		BufferedMessages: 2,
		CircuitBreaker:   mqtt.BreakerState{FailureCount: 1},
	})
	client.Flush()

	lines := fake.waitForLines(t, 1)
	if len(lines) != 1 {
		t.Fatalf("wrote %d lines, want 1: %v", len(lines), lines)
	}
	line := lines[0]
	for _, want := range []string{
		influxdb.MeasurementConnection + ",",
		"client_id=access_control_ab12cd34",
		"messages_sent=9u",
		"buffered_messages=2i",
		"connected=true",
		"service=access-control-core",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteRouterStatsAndDoorEvent(t *testing.T) {
	fake, srv := newFakeInflux(t)
	client := connect(t, srv.URL)

	client.WriteRouterStats(router.Stats{Received: 10, Processed: 8, Dropped: 2})
	client.WriteDoorEvent("reader-01", "door_forced", "critical")
	client.Flush()

	lines := fake.waitForLines(t, 2)
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], influxdb.MeasurementRouter+",") || !strings.Contains(lines[0], "dropped=2u") {
		t.Errorf("router line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "device_id=reader-01") || !strings.Contains(lines[1], "event_type=door_forced") {
		t.Errorf("door event line = %q", lines[1])
	}
}

func TestSetOnError_WrapsWriteFailures(t *testing.T) {
	fake, srv := newFakeInflux(t)
	fake.mu.Lock()
	fake.writeStatus = http.StatusBadRequest
	fake.mu.Unlock()
	client := connect(t, srv.URL)

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WriteDoorEvent("reader-01", "door_forced", "critical")
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("write error callback not called")
	}
}

func TestWrite_AfterCloseIsNoop(t *testing.T) {
	fake, srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close() //nolint:errcheck // closing before the write under test

	client.WritePoint("api_requests", nil, map[string]any{"count": 1})
	client.Flush()
	time.Sleep(50 * time.Millisecond)

	if got := fake.written(); len(got) != 0 {
		t.Errorf("wrote %v after Close, want nothing", got)
	}
}
