package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// serviceTag is attached to every point so dashboards can tell the
	// access core apart from other writers sharing a bucket.
	serviceTag = "access-control-core"
)

// Client records connection, routing and door telemetry in InfluxDB.
//
// Writes are fire-and-forget: points go to the batched non-blocking write
// API and failures surface through the SetOnError callback. A Client that
// has been closed silently drops further points.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	open atomic.Bool

	errMu   sync.RWMutex
	onError func(err error)
}

// Connect pings the server and returns a Client writing to cfg.Org and
// cfg.Bucket. It returns ErrDisabled when cfg.Enabled is false and
// ErrConnectionFailed when the server cannot be reached.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	c.open.Store(true)

	go c.forwardWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions maps the batch settings onto the InfluxDB client options.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := cfg.FlushInterval
	if flushSeconds <= 0 {
		flushSeconds = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(time.Duration(flushSeconds) * time.Second / time.Millisecond)).
		AddDefaultTag("service", serviceTag)
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

// forwardWriteErrors hands async write failures to the error callback
// until the write API closes its channel.
func (c *Client) forwardWriteErrors(errs <-chan error) {
	for err := range errs {
		c.errMu.RLock()
		callback := c.onError
		c.errMu.RUnlock()

		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes pending points and releases the client. It is safe to call
// on a nil Client and more than once.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if !c.open.Swap(false) {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck actively pings the server. It satisfies the API server's
// health probe interface.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open. It does not probe the
// server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// SetOnError sets the callback for asynchronous write failures. Errors
// passed to it wrap ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.errMu.Lock()
	c.onError = callback
	c.errMu.Unlock()
}

// Flush sends all batched points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
