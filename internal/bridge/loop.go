package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tinkerforge2mqtt/internal/brickd"
	"github.com/nerrad567/tinkerforge2mqtt/internal/devices"
	"github.com/nerrad567/tinkerforge2mqtt/internal/homeassistant"
	"github.com/nerrad567/tinkerforge2mqtt/internal/resilience"
)

// Loop defaults.
const (
	DefaultEnumerateInterval = 5 * time.Second
	DefaultCooldown          = time.Second
)

// Logger defines the logging interface used by the loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTConn is one established MQTT session. *mqtt.Client satisfies it.
type MQTTConn interface {
	homeassistant.Publisher
	IsConnected() bool
	Close() error
}

// MQTTDialer makes one MQTT connection attempt.
type MQTTDialer func(ctx context.Context) (MQTTConn, error)

// reconnectNotifier is implemented by MQTT clients that reconnect on their own.
type reconnectNotifier interface {
	SetOnReconnect(callback func())
}

// Metrics receives loop events. *metrics.Collector satisfies it.
type Metrics interface {
	SetLoopState(state string)
	SetTargetStatus(kind, status string)
	IncConnectFailures(kind string)
	IncReconnects(kind string)
	IncEnumerations()
}

type noopMetrics struct{}

func (noopMetrics) SetLoopState(string)            {}
func (noopMetrics) SetTargetStatus(string, string) {}
func (noopMetrics) IncConnectFailures(string)      {}
func (noopMetrics) IncReconnects(string)           {}
func (noopMetrics) IncEnumerations()               {}

// Config holds what the loop needs.
type Config struct {
	MQTTDialer      MQTTDialer
	MQTTAddress     string
	HardwareDialer  HardwareDialer
	HardwareAddress string

	Registry *devices.Registry

	// MQTTMaxRetries bounds initial MQTT connection retries; nil retries forever.
	MQTTMaxRetries   *int
	MQTTInitialDelay time.Duration

	HardwareInitialDelay time.Duration
	EnumerateInterval    time.Duration
	Cooldown             time.Duration

	// StatusTopic enables the status reporter when set.
	StatusTopic    string
	StatusInterval time.Duration
	BridgeID       string
	Version        string

	Logger  Logger
	Metrics Metrics
}

// Loop is the bridge state machine.
//
// Thread Safety: State, Targets and Snapshot may be called from any
// goroutine while Run is active.
type Loop struct {
	cfg     Config
	logger  Logger
	metrics Metrics
	now     func() time.Time

	mu      sync.Mutex
	state   State
	targets map[string]*Target
	link    HardwareLink
	dedup   *homeassistant.Dedup
	status  *StatusReporter
}

// NewLoop creates a loop. Run starts it.
func NewLoop(cfg Config) *Loop {
	if cfg.EnumerateInterval <= 0 {
		cfg.EnumerateInterval = DefaultEnumerateInterval
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &Loop{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		state:   StateAwaitingMQTT,
		targets: map[string]*Target{
			TargetMQTT:     {Kind: TargetMQTT, Address: cfg.MQTTAddress, Status: TargetDisconnected},
			TargetHardware: {Kind: TargetHardware, Address: cfg.HardwareAddress, Status: TargetDisconnected},
		},
	}
}

// State returns the current loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Targets returns a copy of both connection targets, MQTT first.
func (l *Loop) Targets() []Target {
	l.mu.Lock()
	defer l.mu.Unlock()
	return []Target{*l.targets[TargetMQTT], *l.targets[TargetHardware]}
}

// Snapshot reports the loop for the status document.
func (l *Loop) Snapshot() StatusSnapshot {
	l.mu.Lock()
	s := StatusSnapshot{State: l.state, Hardware: *l.targets[TargetHardware]}
	link := l.link
	l.mu.Unlock()

	if st, ok := link.(interface{ Stats() brickd.Stats }); ok {
		stats := st.Stats()
		s.Statistics = &LinkStatistics{
			PacketsSent:      stats.PacketsTx,
			PacketsReceived:  stats.PacketsRx,
			CallbacksDropped: stats.CallbacksDropped,
			Timeouts:         stats.Timeouts,
		}
	}
	if l.cfg.Registry != nil {
		s.Devices = l.cfg.Registry.Len()
		s.Unsupported = l.cfg.Registry.UnsupportedCount()
	}
	return s
}

// Run drives the loop until ctx is cancelled. It returns nil on a graceful
// stop and an error wrapping ErrMQTTUnavailable when the broker could not
// be reached within the configured attempts.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateAwaitingMQTT)
	conn, err := l.connectMQTT(ctx)
	if err != nil {
		l.setState(StateStopped)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer l.shutdownMQTT(conn)

	l.startMQTTSession(ctx, conn)

	for {
		l.setState(StateAwaitingHardware)
		link, err := l.connectHardware(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.setState(StateStopped)
				return nil
			}
			l.logger.Error("hardware connect failed", "error", err)
			if l.cooldown(ctx) != nil {
				l.setState(StateStopped)
				return nil
			}
			continue
		}

		l.setState(StateOperating)
		err = l.operate(ctx, link)
		l.dropHardware(link)

		if ctx.Err() != nil {
			l.setState(StateStopped)
			return nil
		}
		if resilience.IsTransient(err) {
			l.logger.Warn("hardware link lost, reconnecting", "error", err)
		} else {
			l.logger.Error("hardware link failed, reconnecting", "error", err)
		}
		l.metrics.IncReconnects(TargetHardware)
		l.mu.Lock()
		l.targets[TargetHardware].Reconnects++
		l.mu.Unlock()

		if l.cooldown(ctx) != nil {
			l.setState(StateStopped)
			return nil
		}
	}
}

// Republish forces every discovery config and state out again. Called
// when the MQTT client has reconnected on its own.
func (l *Loop) Republish() {
	l.mu.Lock()
	dedup, status := l.dedup, l.status
	l.mu.Unlock()

	l.logger.Info("MQTT reconnected, republishing entities")
	l.setTarget(TargetMQTT, TargetConnected)
	l.metrics.IncReconnects(TargetMQTT)
	if dedup != nil {
		dedup.Forget()
	}
	if l.cfg.Registry != nil {
		l.cfg.Registry.PollAll()
	}
	if status != nil {
		if err := status.PublishNow(); err != nil {
			l.logger.Warn("failed to publish bridge status", "error", err)
		}
	}
}

func (l *Loop) connectMQTT(ctx context.Context) (MQTTConn, error) {
	l.setTarget(TargetMQTT, TargetConnecting)

	var conn MQTTConn
	ok, err := resilience.ConnectWithRetry(ctx, func(ctx context.Context) error {
		c, err := l.cfg.MQTTDialer(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, resilience.Options{
		Name:         TargetMQTT,
		MaxRetries:   l.cfg.MQTTMaxRetries,
		InitialDelay: l.cfg.MQTTInitialDelay,
		Logger:       l.logger,
		OnFailure:    func(int, error) { l.metrics.IncConnectFailures(TargetMQTT) },
	})
	if err != nil {
		l.setTarget(TargetMQTT, TargetDisconnected)
		return nil, fmt.Errorf("%w: %w", ErrMQTTUnavailable, err)
	}
	if !ok {
		l.setTarget(TargetMQTT, TargetDisconnected)
		return nil, fmt.Errorf("%w: retries exhausted", ErrMQTTUnavailable)
	}

	l.setTarget(TargetMQTT, TargetConnected)
	l.logger.Info("connected to MQTT broker", "address", l.cfg.MQTTAddress)
	return conn, nil
}

// startMQTTSession wires the publisher into the registry, starts status
// reporting and hooks reconnect republishing.
func (l *Loop) startMQTTSession(ctx context.Context, conn MQTTConn) {
	dedup := homeassistant.NewDedup(conn)

	var status *StatusReporter
	if l.cfg.StatusTopic != "" {
		status = NewStatusReporter(StatusReporterConfig{
			BridgeID:  l.cfg.BridgeID,
			Version:   l.cfg.Version,
			Topic:     l.cfg.StatusTopic,
			Interval:  l.cfg.StatusInterval,
			Publisher: conn,
			Snapshot:  l.Snapshot,
		})
		status.SetLogger(l.logger)
		if err := status.PublishStarting(); err != nil {
			l.logger.Warn("failed to publish bridge status", "error", err)
		}
		status.Start(ctx)
	}

	l.mu.Lock()
	l.dedup = dedup
	l.status = status
	l.mu.Unlock()

	if l.cfg.Registry != nil {
		l.cfg.Registry.SetPublisher(dedup)
	}
	if n, ok := conn.(reconnectNotifier); ok {
		n.SetOnReconnect(l.Republish)
	}
}

func (l *Loop) connectHardware(ctx context.Context) (HardwareLink, error) {
	l.setTarget(TargetHardware, TargetConnecting)

	var link HardwareLink
	ok, err := resilience.ConnectWithRetry(ctx, func(ctx context.Context) error {
		h, err := l.cfg.HardwareDialer(ctx)
		if err != nil {
			return err
		}
		link = h
		return nil
	}, resilience.Options{
		Name:         TargetHardware,
		InitialDelay: l.cfg.HardwareInitialDelay,
		Logger:       l.logger,
		OnFailure:    func(int, error) { l.metrics.IncConnectFailures(TargetHardware) },
	})
	if err != nil || !ok {
		l.setTarget(TargetHardware, TargetDisconnected)
		if err == nil {
			err = errors.New("hardware retries exhausted")
		}
		return nil, err
	}

	if l.cfg.Registry != nil {
		l.cfg.Registry.Attach(ctx, link)
		link.SetOnEnumerate(l.cfg.Registry.OnEnumerate)
	}

	l.mu.Lock()
	l.link = link
	t := l.targets[TargetHardware]
	t.Status = TargetConnected
	t.ConnectedSince = l.now()
	l.mu.Unlock()
	l.metrics.SetTargetStatus(TargetHardware, string(TargetConnected))

	l.logger.Info("connected to hardware", "address", l.cfg.HardwareAddress)
	l.publishStatus()
	return link, nil
}

// operate enumerates every interval until the link fails or ctx ends.
func (l *Loop) operate(ctx context.Context, link HardwareLink) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if err := link.Enumerate(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("enumerate: %w", err)
		}
		l.metrics.IncEnumerations()

		timer.Reset(l.cfg.EnumerateInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-link.Done():
			return ErrLinkLost
		case <-timer.C:
		}

		if l.cfg.Registry != nil {
			l.cfg.Registry.PollAll()
			l.cfg.Registry.Sweep(l.now())
		}
	}
}

// dropHardware closes the link and forgets every handler. Close errors are
// logged only.
func (l *Loop) dropHardware(link HardwareLink) {
	if err := link.Close(); err != nil {
		l.logger.Warn("closing hardware link", "error", err)
	}
	if l.cfg.Registry != nil {
		l.cfg.Registry.Reset()
	}

	l.mu.Lock()
	l.link = nil
	t := l.targets[TargetHardware]
	t.Status = TargetDisconnected
	t.ConnectedSince = time.Time{}
	l.mu.Unlock()
	l.metrics.SetTargetStatus(TargetHardware, string(TargetDisconnected))
	l.publishStatus()
}

func (l *Loop) shutdownMQTT(conn MQTTConn) {
	l.mu.Lock()
	status := l.status
	l.mu.Unlock()
	if status != nil {
		status.Stop()
	}
	if err := conn.Close(); err != nil {
		l.logger.Warn("closing MQTT connection", "error", err)
	}
	l.setTarget(TargetMQTT, TargetDisconnected)
	l.setState(StateStopped)
	l.logger.Info("bridge stopped")
}

func (l *Loop) cooldown(ctx context.Context) error {
	return resilience.Sleep(ctx, l.cfg.Cooldown)
}

func (l *Loop) publishStatus() {
	l.mu.Lock()
	status := l.status
	l.mu.Unlock()
	if status == nil {
		return
	}
	if err := status.PublishNow(); err != nil {
		l.logger.Warn("failed to publish bridge status", "error", err)
	}
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()

	l.metrics.SetLoopState(string(s))
	if prev != s {
		l.logger.Debug("bridge state changed", "from", prev, "to", s)
	}
}

func (l *Loop) setTarget(kind string, status TargetStatus) {
	l.mu.Lock()
	t := l.targets[kind]
	t.Status = status
	if status == TargetConnected {
		t.ConnectedSince = l.now()
	} else if status == TargetDisconnected {
		t.ConnectedSince = time.Time{}
	}
	l.mu.Unlock()
	l.metrics.SetTargetStatus(kind, string(status))
}
