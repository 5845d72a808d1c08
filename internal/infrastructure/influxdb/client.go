package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
)

const (
	dialTimeout = 10 * time.Second
	pingTimeout = 5 * time.Second

	defaultBatchSize    = 100
	defaultFlushSeconds = 10
)

// Client records machine statistics in one InfluxDB v2 bucket. Points are
// batched and written in the background. Safe for concurrent use.
type Client struct {
	influx influxdb2.Client
	points api.WriteAPI
	cfg    config.InfluxDBConfig
	open   atomic.Bool

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server and opens the batch writer. It returns
// ErrDisabled when the influxdb section is turned off.
//
// Parameters:
//   - cfg: InfluxDB section of the config
//
// Returns:
//   - *Client: Connected client with a running batch writer
//   - error: ErrDisabled when turned off, ErrConnectionFailed if the ping fails
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		influx: influx,
		points: influx.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:    cfg,
	}
	c.open.Store(true)

	// Errors() must be taken before the first write or failures are dropped.
	go c.forwardErrors(c.points.Errors())
	return c, nil
}

func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushSeconds
	}
	flushMillis := time.Duration(flush) * time.Second / time.Millisecond

	// #nosec G115 -- both positive after defaulting
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flushMillis))
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnhealthy
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		hook := c.onError
		c.mu.RUnlock()
		if hook != nil {
			hook(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes buffered points and releases the HTTP client. Later
// writes are dropped. Calling Close twice is harmless.
func (c *Client) Close() error {
	if c.influx == nil || !c.open.Swap(false) {
		return nil
	}
	c.points.Flush()
	c.influx.Close()
	return nil
}

// HealthCheck pings the server.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: ErrNotConnected after Close, or the ping failure
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open. Server reachability is
// HealthCheck's job.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// SetOnError registers the callback for background write failures.
func (c *Client) SetOnError(hook func(err error)) {
	c.mu.Lock()
	c.onError = hook
	c.mu.Unlock()
}

// Flush writes buffered points now.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.points.Flush()
	}
}
