package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/tinkerforge2mqtt/internal/resilience"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.Default().MQTT
}

// disconnectedClient returns a Client that never connected.
func disconnectedClient() *Client {
	cfg := testConfig()
	return &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg),
		subscriptions: make(map[string]subscription),
	}
}

// =============================================================================
// Options
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Host = "broker.local"
	cfg.Broker.Port = 1884
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"
	cfg.Reconnect.MaxDelay = 30

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker.local:1884" {
		t.Errorf("Servers = %v, want tcp://broker.local:1884", opts.Servers)
	}
	if opts.ClientID != "tinkerforge2mqtt" {
		t.Errorf("ClientID = %q, want tinkerforge2mqtt", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want bridge/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false (initial connect is retried by the caller)")
	}
	if opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 30s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured for plain tcp broker")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if !strings.HasPrefix(opts.Servers[0].String(), "ssl://") {
		t.Errorf("Servers[0] = %v, want ssl scheme", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig.MinVersion not set to TLS 1.2")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, NewTopics(cfg))

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "tinkerforge/bridge/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if string(opts.WillPayload) != PayloadOffline {
		t.Errorf("WillPayload = %q, want %q", opts.WillPayload, PayloadOffline)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("Will retained=%v qos=%d, want retained qos 1", opts.WillRetained, opts.WillQos)
	}
}

// =============================================================================
// Connection
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = 1 // nothing listens here

	_, err := Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("Connect() expected error for refused broker")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !resilience.IsTransient(err) {
		t.Errorf("Connect() error %v is not transient", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if disconnectedClient().IsConnected() {
		t.Error("IsConnected() = true for new client")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	err := disconnectedClient().HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := disconnectedClient().HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "a/b", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: error = %v", err)
	}
	if err := c.Subscribe("a/b", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos: error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after invalid subscribes", c.SubscriptionCount())
	}
}

func TestSubscribe_WhileDisconnectedIsRestored(t *testing.T) {
	c := disconnectedClient()
	var calls []string
	first := func(string, []byte) error { calls = append(calls, "first"); return nil }
	second := func(string, []byte) error { calls = append(calls, "second"); return nil }

	if err := c.Subscribe("a/b", 1, first); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if !c.HasSubscription("a/b") {
		t.Fatal("subscription made while disconnected is not tracked for restore")
	}

	// A retry replaces the tracked handler rather than adding another.
	if err := c.Subscribe("a/b", 1, second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}
	c.subMu.RLock()
	sub := c.subscriptions["a/b"]
	c.subMu.RUnlock()
	if err := sub.handler("a/b", nil); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(calls) != 1 || calls[0] != "second" {
		t.Errorf("restored handler calls = %v, want [second]", calls)
	}
}

func TestHandleConnect_OnlyReconnectsNotify(t *testing.T) {
	c := disconnectedClient()
	// An unconnected paho client fails Subscribe and Publish tokens at once.
	c.client = pahomqtt.NewClient(buildClientOptions(c.cfg))

	reconnects := 0
	c.SetOnReconnect(func() { reconnects++ })

	c.handleConnect()
	if reconnects != 0 {
		t.Errorf("initial connect notified %d reconnects, want 0", reconnects)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after handleConnect")
	}

	c.handleDisconnect(errors.New("link down"))
	c.handleConnect()
	if reconnects != 1 {
		t.Errorf("reconnects = %d after second connect, want 1", reconnects)
	}
}

func TestUnsubscribe_ForgetsWhileDisconnected(t *testing.T) {
	c := disconnectedClient()
	c.subscriptions["a/b"] = subscription{topic: "a/b", qos: 1}

	err := c.Unsubscribe("a/b")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if c.HasSubscription("a/b") {
		t.Error("subscription still tracked after Unsubscribe()")
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
}

// =============================================================================
// Handler dispatch
// =============================================================================

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestDispatch_RecoversPanic(t *testing.T) {
	c := disconnectedClient()
	log := &recordingLogger{}
	c.SetLogger(log)

	c.dispatch(func(string, []byte) error { panic("boom") }, "a/b", nil)

	if len(log.errors) != 1 {
		t.Errorf("logged errors = %v, want one panic entry", log.errors)
	}
}

func TestDispatch_LogsHandlerError(t *testing.T) {
	c := disconnectedClient()
	log := &recordingLogger{}
	c.SetLogger(log)

	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "a/b", []byte("x"))

	if len(log.warns) != 1 {
		t.Errorf("logged warnings = %v, want one entry", log.warns)
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics(testConfig())

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", topics.Availability(), "tinkerforge/bridge/status"},
		{"bridge state", topics.BridgeState(), "tinkerforge/bridge/state"},
		{"discovery", topics.Discovery("light", "Gh4", "dmx_light"), "homeassistant/light/Gh4/dmx_light/config"},
		{"state", topics.State("Gh4", "dmx_light"), "tinkerforge/Gh4/dmx_light/state"},
		{"command", topics.Command("Gh4", "dmx_light"), "tinkerforge/Gh4/dmx_light/set"},
		{"field state", topics.FieldState("Gh4", "dmx_light", "rgb"), "tinkerforge/Gh4/dmx_light/rgb/state"},
		{"field command", topics.FieldCommand("Gh4", "dmx_light", "brightness"), "tinkerforge/Gh4/dmx_light/brightness/set"},
		{"sanitised object", topics.State("Gh4", "Stage Left/1"), "tinkerforge/Gh4/Stage_Left_1/state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestSanitizeID(t *testing.T) {
	tests := map[string]string{
		"Gh4":        "Gh4",
		"dmx light":  "dmx_light",
		"a+b#c":      "a_b_c",
		"x-y_z":      "x-y_z",
		"café":       "caf_",
	}
	for in, want := range tests {
		if got := SanitizeID(in); got != want {
			t.Errorf("SanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}
