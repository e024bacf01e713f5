// Package metrics exposes bridge activity as Prometheus metrics and serves
// them, together with a health endpoint, over HTTP.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/tinkerforge2mqtt/internal/devices"
)

const namespace = "tf2mqtt"

// Loop states reported by the state gauge.
var loopStates = []string{"awaiting_mqtt", "awaiting_hardware", "operating", "stopped"}

// Collector holds the bridge metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	loopState          *prometheus.GaugeVec
	linkUp             *prometheus.GaugeVec
	connectFailures    *prometheus.CounterVec
	reconnects         *prometheus.CounterVec
	enumerations       prometheus.Counter
	enumerationEvents  *prometheus.CounterVec
	devicesManaged     prometheus.Gauge
	unsupportedDevices prometheus.Gauge

	mu          sync.Mutex
	unsupported map[string]struct{}
}

// NewCollector creates the collector and registers Go and process collectors
// next to the bridge metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		loopState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_state",
			Help:      "1 for the current bridge loop state, 0 otherwise",
		}, []string{"state"}),
		linkUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "1 when the link to the target is connected",
		}, []string{"target"}),
		connectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts per target",
		}, []string{"target"}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Re-established links per target",
		}, []string{"target"}),
		enumerations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enumerations_total",
			Help:      "Enumeration requests sent to the hardware",
		}),
		enumerationEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enumeration_events_total",
			Help:      "Enumeration callbacks received, by type",
		}, []string{"type"}),
		devicesManaged: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_managed",
			Help:      "Devices with a live handler",
		}),
		unsupportedDevices: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unsupported_devices",
			Help:      "Distinct enumerated devices without a handler",
		}),
		unsupported: make(map[string]struct{}),
	}
}

// Registry returns the Prometheus registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetLoopState marks state as the current loop state.
func (c *Collector) SetLoopState(state string) {
	for _, s := range loopStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.loopState.WithLabelValues(s).Set(v)
	}
}

// SetTargetStatus records whether a link is up.
func (c *Collector) SetTargetStatus(target, status string) {
	v := 0.0
	if status == "connected" {
		v = 1
	}
	c.linkUp.WithLabelValues(target).Set(v)
}

// IncConnectFailures counts one failed connection attempt.
func (c *Collector) IncConnectFailures(target string) {
	c.connectFailures.WithLabelValues(target).Inc()
}

// IncReconnects counts one re-established link.
func (c *Collector) IncReconnects(target string) {
	c.reconnects.WithLabelValues(target).Inc()
}

// IncEnumerations counts one enumeration request.
func (c *Collector) IncEnumerations() {
	c.enumerations.Inc()
}

// DeviceSeen implements devices.Observer.
func (c *Collector) DeviceSeen(desc devices.Descriptor, kind devices.EnumerationType, supported bool) {
	c.enumerationEvents.WithLabelValues(kind.String()).Inc()
	if supported || kind == devices.Disconnected {
		return
	}
	c.mu.Lock()
	c.unsupported[desc.UID] = struct{}{}
	n := len(c.unsupported)
	c.mu.Unlock()
	c.unsupportedDevices.Set(float64(n))
}

// HandlersChanged implements devices.Observer.
func (c *Collector) HandlersChanged(count int) {
	c.devicesManaged.Set(float64(count))
}
