package brickd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts for brickd communication.
const (
	defaultConnectTimeout  = 10 * time.Second
	defaultResponseTimeout = 2500 * time.Millisecond
	defaultWriteTimeout    = 5 * time.Second

	// callbackQueueSize bounds enumerate callbacks waiting for delivery.
	callbackQueueSize = 64
)

// Config holds brickd connection settings.
type Config struct {
	// Address is host:port of brickd.
	Address string

	// ConnectTimeout bounds the TCP dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ResponseTimeout bounds the wait for a device response. Default: 2.5 seconds.
	ResponseTimeout time.Duration
}

// Stats holds operational counters.
type Stats struct {
	PacketsTx        uint64
	PacketsRx        uint64
	CallbacksDropped uint64
	Timeouts         uint64
	Connected        bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type response struct {
	header  Header
	payload []byte
}

type pendingKey struct {
	uid      uint32
	function uint8
	sequence uint8
}

// Client is one TCP connection to brickd.
//
// A Client does not reconnect. When the link drops, Done is closed, every
// call fails with ErrNotConnected, and the owner is expected to Close it and
// dial a new one.
type Client struct {
	cfg  Config
	conn net.Conn

	connMu    sync.RWMutex
	connected bool

	writeMu  sync.Mutex
	sequence atomic.Uint32

	pendingMu sync.Mutex
	pending   map[pendingKey]chan response

	onEnumerate func(Enumeration)
	callbackMu  sync.RWMutex
	callbacks   chan Enumeration

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	packetsTx        atomic.Uint64
	packetsRx        atomic.Uint64
	callbacksDropped atomic.Uint64
	timeouts         atomic.Uint64
}

// Connect dials brickd and starts the receive loop.
//
// Parameters:
//   - ctx: Cancels the dial
//   - cfg: Address and timeouts
//
// Returns:
//   - *Client: Connected client
//   - error: Wraps ErrConnectionFailed on dial failure
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", cfg.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("brickd connect: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, cfg.Address, err)
	}

	return newClient(conn, cfg), nil
}

// newClient wraps an established connection. Used by Connect and tests.
func newClient(conn net.Conn, cfg Config) *Client {
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}

	c := &Client{
		cfg:       cfg,
		conn:      conn,
		connected: true,
		pending:   make(map[pendingKey]chan response),
		callbacks: make(chan Enumeration, callbackQueueSize),
		done:      newCloseOnce(),
	}

	c.wg.Add(2)
	go c.receiveLoop()
	go c.callbackWorker()

	return c
}

// receiveLoop reads packets until the connection fails or Close is called.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, maxPacketSize)
	for {
		h, payload, err := c.readPacket(buf)
		if err != nil {
			c.handleLinkLoss(err)
			return
		}
		c.packetsRx.Add(1)

		if h.Sequence == 0 {
			c.handleCallback(h, payload)
			continue
		}
		c.deliverResponse(h, payload)
	}
}

// readPacket reads one framed packet. The returned payload aliases buf.
func (c *Client) readPacket(buf []byte) (Header, []byte, error) {
	if _, err := io.ReadFull(c.conn, buf[:headerSize]); err != nil {
		return Header{}, nil, fmt.Errorf("read header: %w", err)
	}
	h, err := DecodeHeader(buf[:headerSize])
	if err != nil {
		// Framing is lost; the stream cannot be trusted any more.
		return Header{}, nil, err
	}
	if _, err := io.ReadFull(c.conn, buf[headerSize:h.Length]); err != nil {
		return Header{}, nil, fmt.Errorf("read payload: %w", err)
	}
	return h, buf[headerSize:h.Length], nil
}

func (c *Client) handleCallback(h Header, payload []byte) {
	if h.FunctionID != callbackEnumerate {
		return
	}

	e, err := parseEnumeration(payload)
	if err != nil {
		c.logWarn("dropping malformed enumerate callback", "error", err)
		return
	}

	select {
	case c.callbacks <- e:
	default:
		c.callbacksDropped.Add(1)
		c.logWarn("callback queue full, dropping enumerate callback", "uid", e.UID)
	}
}

func (c *Client) deliverResponse(h Header, payload []byte) {
	key := pendingKey{uid: h.UID, function: h.FunctionID, sequence: h.Sequence}

	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logDebug("unmatched response", "uid", EncodeUID(h.UID), "function", h.FunctionID, "sequence", h.Sequence)
		return
	}

	ch <- response{header: h, payload: append([]byte(nil), payload...)}
}

// callbackWorker delivers enumerate callbacks in order.
func (c *Client) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case e := <-c.callbacks:
			c.callbackMu.RLock()
			callback := c.onEnumerate
			c.callbackMu.RUnlock()

			if callback == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("enumerate callback panic", "uid", e.UID, "panic", r)
					}
				}()
				callback(e)
			}()
		}
	}
}

// handleLinkLoss marks the client dead and fails all pending calls.
func (c *Client) handleLinkLoss(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected && !c.isClosed() {
		c.logWarn("brickd connection lost", "error", err)
	}

	c.pendingMu.Lock()
	for key, ch := range c.pending {
		delete(c.pending, key)
		close(ch)
	}
	c.pendingMu.Unlock()

	c.conn.Close()
	c.done.Close()
}

// Done is closed once the connection is gone, whether through Close or a
// link failure.
func (c *Client) Done() <-chan struct{} {
	return c.done.Done()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close shuts the connection down and waits for the client's goroutines.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.done.Close()
	err := c.conn.Close()
	c.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("brickd close: %w", err)
	}
	return nil
}

// IsConnected reports whether the connection is alive.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Enumerate asks every device to announce itself. Answers arrive as
// enumerate callbacks with EnumerationAvailable.
func (c *Client) Enumerate(ctx context.Context) error {
	_, err := c.call(ctx, broadcastUID, functionEnumerate, nil, false)
	return err
}

// SetOnEnumerate sets the enumerate callback. Panics in the callback are
// recovered and logged.
func (c *Client) SetOnEnumerate(callback func(Enumeration)) {
	c.callbackMu.Lock()
	c.onEnumerate = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Stats returns current operational counters.
func (c *Client) Stats() Stats {
	return Stats{
		PacketsTx:        c.packetsTx.Load(),
		PacketsRx:        c.packetsRx.Load(),
		CallbacksDropped: c.callbacksDropped.Load(),
		Timeouts:         c.timeouts.Load(),
		Connected:        c.IsConnected(),
	}
}

// nextSequence cycles 1..15.
func (c *Client) nextSequence() uint8 {
	return uint8(c.sequence.Add(1)%15) + 1
}

// call sends one request. With expectResponse it waits for the matching
// response and returns its payload.
func (c *Client) call(ctx context.Context, uid uint32, function uint8, payload []byte, expectResponse bool) ([]byte, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	h := Header{
		UID:              uid,
		FunctionID:       function,
		Sequence:         c.nextSequence(),
		ResponseExpected: expectResponse,
	}
	packet, err := EncodePacket(h, payload)
	if err != nil {
		return nil, err
	}

	var wait chan response
	key := pendingKey{uid: uid, function: function, sequence: h.Sequence}
	if expectResponse {
		wait = make(chan response, 1)
		c.pendingMu.Lock()
		c.pending[key] = wait
		c.pendingMu.Unlock()
	}

	if err := c.write(ctx, packet); err != nil {
		c.forget(key)
		return nil, err
	}
	if !expectResponse {
		return nil, nil
	}

	timer := time.NewTimer(c.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-wait:
		if !ok {
			return nil, ErrNotConnected
		}
		if err := errorFromCode(resp.header.ErrorCode); err != nil {
			return nil, fmt.Errorf("uid %s function %d: %w", EncodeUID(uid), function, err)
		}
		return resp.payload, nil
	case <-c.done.Done():
		c.forget(key)
		return nil, ErrNotConnected
	case <-timer.C:
		c.forget(key)
		c.timeouts.Add(1)
		return nil, fmt.Errorf("uid %s function %d: %w", EncodeUID(uid), function, ErrTimeout)
	case <-ctx.Done():
		c.forget(key)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(key pendingKey) {
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
}

func (c *Client) write(ctx context.Context, packet []byte) error {
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrNotConnected, err)
	}
	if _, err := c.conn.Write(packet); err != nil {
		return fmt.Errorf("brickd write: %w", err)
	}
	c.packetsTx.Add(1)
	return nil
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
