package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/filaman/spoolscale/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// Sized for a few points a minute.
	defaultBatchSize     = 20
	defaultFlushInterval = 10 * time.Second

	deviceTag = "device_id"
)

// Logger defines the logging interface used by the client.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Client records scale telemetry. Every point carries the device id as a
// default tag, so the record methods only name what varies per sample.
//
// All methods are safe for concurrent use. Writes never block and are
// dropped once the client is closed.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed atomic.Bool
	failed atomic.Uint64
	logger atomic.Pointer[Logger]
}

// Connect pings the server and prepares the batched write API.
//
// Parameters:
//   - cfg: InfluxDB settings; Enabled false disables telemetry
//   - deviceID: Value of the device_id tag on every point; empty omits it
//
// Returns:
//   - *Client: connected client
//   - error: ErrDisabled when telemetry is off, ErrConnectionFailed when
//     the server cannot be reached or reports itself unhealthy
func Connect(cfg config.InfluxDBConfig, deviceID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize(cfg)).
		SetFlushInterval(uint(flushInterval(cfg).Milliseconds())). //nolint:gosec // Positive by construction
		SetPrecision(time.Millisecond)
	if deviceID != "" {
		opts.AddDefaultTag(deviceTag, deviceID)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

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
	c.SetLogger(noopLogger{})
	// Errors must be requested before the first write, or failures are
	// not reported at all.
	go c.watchErrors(c.writeAPI.Errors())
	return c, nil
}

func batchSize(cfg config.InfluxDBConfig) uint {
	if cfg.BatchSize <= 0 {
		return defaultBatchSize
	}
	return uint(cfg.BatchSize)
}

// flushInterval reads the configured interval, which is in seconds.
func flushInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.FlushInterval <= 0 {
		return defaultFlushInterval
	}
	return time.Duration(cfg.FlushInterval) * time.Second
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// SetLogger sets where asynchronous write failures are reported.
func (c *Client) SetLogger(logger Logger) {
	c.logger.Store(&logger)
}

// watchErrors drains the write API's error channel until the client is
// closed. Failed batches are not retried beyond the library's own retries.
func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		n := c.failed.Add(1)
		(*c.logger.Load()).Warn("telemetry write failed", "error", err, "failed_batches", n)
	}
}

// FailedWrites returns the number of batches the server rejected or
// that could not be delivered.
func (c *Client) FailedWrites() uint64 {
	return c.failed.Load()
}

// Close flushes pending points and shuts the client down. Calling it
// more than once is safe.
func (c *Client) Close() error {
	if c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
//
// Returns:
//   - error: ErrNotConnected after Close, otherwise the ping failure
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the client still accepts points.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// Flush sends all buffered points. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
