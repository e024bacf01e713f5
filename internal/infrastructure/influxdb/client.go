package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/config"
)

// Default timeouts and limits for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// queueBatches is how many batches may wait for the writer.
	queueBatches = 4
	minQueue     = 64

	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

// pointWriter is the blocking write surface used by the background writer.
// api.WriteAPIBlocking satisfies it.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Client writes entity state points to InfluxDB.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Write methods never block; points are queued for the background writer.
type Client struct {
	client  influxdb2.Client
	writer  pointWriter
	breaker *gobreaker.CircuitBreaker

	batchSize     int
	flushInterval time.Duration

	queue chan *write.Point
	done  chan struct{}

	// connected tracks current connection state.
	connected bool
	mu        sync.RWMutex
	closeOnce sync.Once

	// onError is called when a flush fails or a point is dropped.
	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server.
//
// It performs the following setup:
//  1. Creates the client with token authentication
//  2. Verifies connectivity with a ping
//  3. Starts the background writer behind a circuit breaker
//
// Returns ErrDisabled when cfg.Enabled is false.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := newClient(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg)
	c.client = client
	return c, nil
}

// newClient wires the writer goroutine around w. Used by Connect and tests.
func newClient(w pointWriter, cfg config.InfluxDBConfig) *Client {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	c := &Client{
		writer:        w,
		batchSize:     batchSize,
		flushInterval: time.Duration(flushInterval) * time.Second,
		queue:         make(chan *write.Point, max(batchSize*queueBatches, minQueue)),
		done:          make(chan struct{}),
		connected:     true,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influxdb",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
	})

	go c.run()
	return c
}

// run drains the queue, flushing when a batch fills or the interval elapses.
func (c *Client) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]*write.Point, 0, c.batchSize)
	for {
		select {
		case p, ok := <-c.queue:
			if !ok {
				c.flush(batch)
				return
			}
			batch = append(batch, p)
			if len(batch) >= c.batchSize {
				c.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			c.flush(batch)
			batch = batch[:0]
		}
	}
}

func (c *Client) flush(batch []*write.Point) {
	if len(batch) == 0 {
		return
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		defer cancel()
		return nil, c.writer.WritePoint(ctx, batch...)
	})
	if err != nil {
		c.reportError(fmt.Errorf("%w: %d points: %w", ErrWriteFailed, len(batch), err))
	}
}

func (c *Client) reportError(err error) {
	c.mu.RLock()
	callback := c.onError
	c.mu.RUnlock()

	if callback != nil {
		callback(err)
	}
}

// Close flushes queued points and shuts the client down.
// Safe to call more than once.
func (c *Client) Close() error {
	if c.queue == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		close(c.queue)
		c.mu.Unlock()

		<-c.done

		if c.client != nil {
			c.client.Close()
		}
	})

	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// IsConnected returns false once Close has been called.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// SetOnError sets a callback for failed flushes and dropped points.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}
