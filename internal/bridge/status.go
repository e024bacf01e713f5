package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStatusInterval is how often the status document is republished.
const DefaultStatusInterval = 30 * time.Second

// HealthStatus summarises the bridge condition.
type HealthStatus string

const (
	// HealthHealthy means both links are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means MQTT is up but the hardware link is not.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting is published once before the first hardware connect.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published on graceful shutdown.
	HealthStopping HealthStatus = "stopping"
)

// StatusMessage is the retained bridge status document.
type StatusMessage struct {
	// Bridge is the MQTT client id of this bridge.
	Bridge string `json:"bridge"`

	// Session changes on every process start.
	Session string `json:"session"`

	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	State         State        `json:"state"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	Hardware *LinkStatus `json:"hardware,omitempty"`

	Statistics *LinkStatistics `json:"statistics,omitempty"`

	// DevicesManaged counts devices with a live handler.
	DevicesManaged int `json:"devices_managed"`

	// DevicesUnsupported counts enumerated devices without a handler.
	DevicesUnsupported int `json:"devices_unsupported"`

	Reason string `json:"reason,omitempty"`
}

// LinkStatus describes the hardware link.
type LinkStatus struct {
	Status         TargetStatus `json:"status"`
	Address        string       `json:"address"`
	ConnectedSince *time.Time   `json:"connected_since,omitempty"`
	Reconnects     int          `json:"reconnects"`
}

// LinkStatistics holds hardware link counters.
type LinkStatistics struct {
	PacketsSent      uint64 `json:"packets_sent"`
	PacketsReceived  uint64 `json:"packets_received"`
	CallbacksDropped uint64 `json:"callbacks_dropped"`
	Timeouts         uint64 `json:"timeouts"`
}

// StatusSnapshot is what the reporter needs from the loop.
type StatusSnapshot struct {
	State       State
	Hardware    Target
	Statistics  *LinkStatistics
	Devices     int
	Unsupported int
}

// StatusPublisher is the MQTT surface the reporter needs.
type StatusPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatusReporterConfig holds configuration for the status reporter.
type StatusReporterConfig struct {
	// BridgeID identifies the bridge in the document.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Topic receives the retained document.
	Topic string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher StatusPublisher

	// Snapshot reports current loop state.
	Snapshot func() StatusSnapshot
}

// StatusReporter periodically publishes the bridge status document.
type StatusReporter struct {
	bridgeID  string
	session   string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher StatusPublisher
	snapshot  func() StatusSnapshot

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStatusReporter creates a status reporter with a fresh session id.
//
// Parameters:
//   - cfg: Configuration for the reporter
//
// Returns:
//   - *StatusReporter: Ready to start (call Start to begin reporting)
func NewStatusReporter(cfg StatusReporterConfig) *StatusReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultStatusInterval
	}
	snapshot := cfg.Snapshot
	if snapshot == nil {
		snapshot = func() StatusSnapshot { return StatusSnapshot{} }
	}

	return &StatusReporter{
		bridgeID:  cfg.BridgeID,
		session:   uuid.NewString(),
		version:   cfg.Version,
		topic:     cfg.Topic,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		snapshot:  snapshot,
		done:      make(chan struct{}),
	}
}

// Session returns the id of this process run.
func (r *StatusReporter) Session() string {
	return r.session
}

// SetLogger sets the logger for this reporter.
func (r *StatusReporter) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (r *StatusReporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" document.
// Safe to call multiple times.
func (r *StatusReporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		r.publish(HealthStopping, "shutdown")
	})
}

// PublishStarting publishes a "starting" document.
func (r *StatusReporter) PublishStarting() error {
	return r.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (r *StatusReporter) PublishNow() error {
	status, reason := r.determineStatus(r.snapshot())
	return r.publish(status, reason)
}

func (r *StatusReporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.PublishNow(); err != nil {
				r.logError("failed to publish bridge status", err)
			}
		}
	}
}

func (r *StatusReporter) determineStatus(s StatusSnapshot) (HealthStatus, string) {
	if s.Hardware.Status != TargetConnected {
		return HealthDegraded, "hardware link " + string(s.Hardware.Status)
	}
	return HealthHealthy, ""
}

// Message builds the document for status.
func (r *StatusReporter) Message(status HealthStatus, reason string) StatusMessage {
	s := r.snapshot()
	msg := StatusMessage{
		Bridge:             r.bridgeID,
		Session:            r.session,
		Timestamp:          time.Now().UTC(),
		Status:             status,
		State:              s.State,
		Version:            r.version,
		UptimeSeconds:      int64(time.Since(r.startTime).Seconds()),
		Statistics:         s.Statistics,
		DevicesManaged:     s.Devices,
		DevicesUnsupported: s.Unsupported,
		Reason:             reason,
	}

	hw := &LinkStatus{
		Status:     s.Hardware.Status,
		Address:    s.Hardware.Address,
		Reconnects: s.Hardware.Reconnects,
	}
	if hw.Status == "" {
		hw.Status = TargetDisconnected
	}
	if s.Hardware.Status == TargetConnected && !s.Hardware.ConnectedSince.IsZero() {
		since := s.Hardware.ConnectedSince.UTC()
		hw.ConnectedSince = &since
	}
	msg.Hardware = hw
	return msg
}

func (r *StatusReporter) publish(status HealthStatus, reason string) error {
	if r.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(r.Message(status, reason))
	if err != nil {
		return err
	}
	return r.publisher.Publish(r.topic, payload, 1, true)
}

func (r *StatusReporter) logError(msg string, err error) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
