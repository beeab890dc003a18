package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/warden/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// MeasurementDispatchOutcome holds one point per resolved dispatch request.
const MeasurementDispatchOutcome = "dispatch_outcome"

// Logger is the logging surface the client needs.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// DispatchOutcome is the metric view of a resolved dispatch request.
type DispatchOutcome struct {
	Resource string
	Action   string
	Status   string
	RuleID   string // empty for manual dispatches
	Delayed  bool
	Silent   bool
	At       time.Time
}

// Client batches dispatch_outcome points to an InfluxDB v2 bucket.
// Writes never block the notification bus; failures surface
// asynchronously through the logger and WriteErrors.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu     sync.RWMutex
	closed bool
	logger Logger

	writeErrors atomic.Uint64
}

// Connect pings the server and opens a batched write API on cfg.Org and
// cfg.Bucket. It returns ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s: server not ready", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   noopLogger{},
	}
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

// SetLogger reports failed batch writes to logger.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		n := c.writeErrors.Add(1)
		c.mu.RLock()
		logger := c.logger
		c.mu.RUnlock()
		logger.Error("dispatch metrics write failed", "error", err, "write_errors", n)
	}
}

// WriteErrors counts batch writes the server rejected since Connect.
func (c *Client) WriteErrors() uint64 {
	return c.writeErrors.Load()
}

// WriteDispatchOutcome queues a dispatch_outcome point. Tags carry the
// low-cardinality dimensions; count lets dashboards sum outcomes per
// status. origin is "manual" when no rule produced the dispatch. Points
// are dropped after Close.
func (c *Client) WriteDispatchOutcome(o DispatchOutcome) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(outcomePoint(o))
}

func outcomePoint(o DispatchOutcome) *write.Point {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	p := write.NewPointWithMeasurement(MeasurementDispatchOutcome).
		AddTag("resource", o.Resource).
		AddTag("action", o.Action).
		AddTag("status", o.Status).
		AddField("count", 1).
		AddField("delayed", o.Delayed).
		AddField("silent", o.Silent).
		SetTime(at)
	if o.RuleID == "" {
		p.AddTag("origin", "manual")
	} else {
		p.AddTag("origin", "rule").AddTag("rule_id", o.RuleID)
	}
	return p
}

// Flush blocks until queued points are written. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes queued points and releases the client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check: server not ready")
	}
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}
