package devices

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/tinkerforge2mqtt/internal/homeassistant"
	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/mqtt"
)

// DefaultStaleTimeout is how long a device may go unseen before its
// handler is dropped: three enumeration passes at the default interval.
const DefaultStaleTimeout = 15 * time.Second

// Observer is told about registry activity. Methods are called with the
// registry lock held and must not call back into the registry.
type Observer interface {
	// DeviceSeen is called for every enumeration event.
	DeviceSeen(desc Descriptor, kind EnumerationType, supported bool)

	// HandlersChanged is called with the new handler count after adds and removals.
	HandlersChanged(count int)
}

type noopObserver struct{}

func (noopObserver) DeviceSeen(Descriptor, EnumerationType, bool) {}
func (noopObserver) HandlersChanged(int)                          {}

// RegistryConfig holds what the registry passes on to every handler.
type RegistryConfig struct {
	Publisher    homeassistant.Publisher
	Topics       mqtt.Topics
	QoS          byte
	Logger       Logger
	States       StateRecorder
	StaleTimeout time.Duration
	CallTimeout  time.Duration
}

type entry struct {
	handler  Handler
	desc     Descriptor
	lastSeen time.Time
}

// Registry maps device identifiers to handler factories and keeps the live
// handler for every device on the current hardware link.
//
// All public methods are thread-safe. Add and remove are serialised by the
// registry mutex so a UID never has two handlers.
type Registry struct {
	mu          sync.Mutex
	factories   map[uint16]Factory
	handlers    map[string]*entry
	unsupported map[string]uint16

	env          Env
	cancel       context.CancelFunc
	staleTimeout time.Duration
	logger       Logger
	observer     Observer
	now          func() time.Time
}

// NewRegistry creates an empty registry. Register factories and Attach a
// hardware link before feeding it enumeration events.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	states := cfg.States
	if states == nil {
		states = noopRecorder{}
	}
	stale := cfg.StaleTimeout
	if stale <= 0 {
		stale = DefaultStaleTimeout
	}
	return &Registry{
		factories:   make(map[uint16]Factory),
		handlers:    make(map[string]*entry),
		unsupported: make(map[string]uint16),
		env: Env{
			Publisher:   cfg.Publisher,
			Topics:      cfg.Topics,
			QoS:         cfg.QoS,
			Logger:      logger,
			States:      states,
			CallTimeout: cfg.CallTimeout,
		},
		staleTimeout: stale,
		logger:       logger,
		observer:     noopObserver{},
		now:          time.Now,
	}
}

// SetObserver installs an observer. Passing nil removes it.
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o == nil {
		o = noopObserver{}
	}
	r.observer = o
}

// SetPublisher replaces the MQTT publisher handed to handlers created from
// now on. Existing handlers keep theirs.
func (r *Registry) SetPublisher(pub homeassistant.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env.Publisher = pub
}

// Register adds the factory for a device identifier.
// Returns ErrDuplicateFactory if the identifier already has one.
func (r *Registry) Register(deviceIdentifier uint16, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[deviceIdentifier]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateFactory, deviceIdentifier)
	}
	r.factories[deviceIdentifier] = factory
	return nil
}

// Supports reports whether a factory exists for the device identifier.
func (r *Registry) Supports(deviceIdentifier uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[deviceIdentifier]
	return ok
}

// Attach binds the registry to a freshly connected hardware link. Handler
// hardware calls are cancelled when ctx is or when Reset is called.
func (r *Registry) Attach(ctx context.Context, hw HardwareConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	linkCtx, cancel := context.WithCancel(ctx)
	r.env.Context = linkCtx
	r.env.Hardware = hw
	r.cancel = cancel
}

// OnEnumerate handles one enumeration event.
//
// Parameters:
//   - desc: the device reported
//   - kind: available, connected or disconnected
//
// A new supported device gets a handler that runs SetupSensors,
// SetupCallbacks and Poll. A known device has its last-seen time refreshed,
// and SetupCallbacks runs again when it reports connected (re-plugged).
// A disconnected device loses its handler without any hardware teardown.
func (r *Registry) OnEnumerate(desc Descriptor, kind EnumerationType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, supported := r.factories[desc.DeviceIdentifier]
	r.observer.DeviceSeen(desc, kind, supported)

	if kind == Disconnected {
		if e, ok := r.handlers[desc.UID]; ok {
			r.removeLocked(desc.UID, e, "disconnected")
		}
		return
	}

	if e, ok := r.handlers[desc.UID]; ok {
		e.lastSeen = r.now()
		e.desc = desc
		if kind == Connected {
			r.logger.Info("device re-plugged, restoring configuration", "uid", desc.UID)
			_ = safeCall(r.logger, desc.UID, "setup_callbacks", e.handler.SetupCallbacks)
		}
		return
	}

	factory, ok := r.factories[desc.DeviceIdentifier]
	if !ok {
		if _, logged := r.unsupported[desc.UID]; !logged {
			r.unsupported[desc.UID] = desc.DeviceIdentifier
			r.logger.Warn("unsupported device",
				"uid", desc.UID,
				"device_identifier", desc.DeviceIdentifier,
				"connected_uid", desc.ConnectedUID,
				"position", string(desc.Position),
			)
		}
		return
	}

	if r.env.Hardware == nil {
		r.logger.Warn("enumeration without hardware link", "uid", desc.UID, "error", ErrNotAttached)
		return
	}

	var handler Handler
	err := safeCall(r.logger, desc.UID, "create", func() error {
		var err error
		handler, err = factory(r.env, desc)
		return err
	})
	if err != nil {
		return
	}

	// Setup failures are logged; the handler stays so polling keeps it visible.
	_ = safeCall(r.logger, desc.UID, "setup_sensors", handler.SetupSensors)
	_ = safeCall(r.logger, desc.UID, "setup_callbacks", handler.SetupCallbacks)
	_ = safeCall(r.logger, desc.UID, "poll", handler.Poll)

	r.handlers[desc.UID] = &entry{handler: handler, desc: desc, lastSeen: r.now()}
	r.logger.Info("device added",
		"uid", desc.UID,
		"model", ModelName(desc.DeviceIdentifier),
		"firmware", FormatVersion(desc.FirmwareVersion),
	)
	r.observer.HandlersChanged(len(r.handlers))
}

// Sweep drops handlers whose device has not been seen within the stale
// timeout. Returns how many were dropped.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for uid, e := range r.handlers {
		if now.Sub(e.lastSeen) > r.staleTimeout {
			r.removeLocked(uid, e, "stale")
			removed++
		}
	}
	return removed
}

// Reset drops every handler and detaches the hardware link. Called when
// the link is lost; nothing is written to the hardware.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for uid, e := range r.handlers {
		r.removeLocked(uid, e, "link lost")
	}
	clear(r.unsupported)
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.env.Hardware = nil
}

// PollAll polls every live handler. Handlers are polled outside the
// registry lock so a slow device does not block enumeration.
//
// SetupSensors is retried first, under the lock so it cannot race a
// removal. It returns at once for handlers whose entities are subscribed;
// for one created while MQTT was down it subscribes again.
func (r *Registry) PollAll() {
	r.mu.Lock()
	for uid, e := range r.handlers {
		_ = safeCall(r.logger, uid, "setup_sensors", e.handler.SetupSensors)
	}
	r.mu.Unlock()

	for _, h := range r.snapshot() {
		_ = safeCall(r.logger, h.UID(), "poll", h.Poll)
	}
}

// Len returns the number of live handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// UIDs returns the UIDs with a live handler, sorted.
func (r *Registry) UIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]string, 0, len(r.handlers))
	for uid := range r.handlers {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Handler returns the live handler for uid.
func (r *Registry) Handler(uid string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.handlers[uid]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// UnsupportedCount returns how many distinct unsupported devices were seen
// on the current link.
func (r *Registry) UnsupportedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unsupported)
}

func (r *Registry) snapshot() []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, e := range r.handlers {
		handlers = append(handlers, e.handler)
	}
	return handlers
}

func (r *Registry) removeLocked(uid string, e *entry, reason string) {
	delete(r.handlers, uid)
	_ = safeCall(r.logger, uid, "close", e.handler.Close)
	r.logger.Info("device removed", "uid", uid, "reason", reason)
	r.observer.HandlersChanged(len(r.handlers))
}
