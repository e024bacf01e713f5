package devices

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/nerrad567/tinkerforge2mqtt/internal/homeassistant"
)

// DMX universe and mode constants.
const (
	DMXUniverseSize = 512
	dmxModeMaster   = 0
)

// Fixture defaults used while a FixtureState field is unset.
const (
	DefaultBrightness uint8 = 255
)

// DefaultColour is white.
var DefaultColour = [3]uint8{255, 255, 255}

// Fixture is one light patched into the DMX universe.
// Width 3 is RGB; width 4 is RGB followed by a dimmer channel.
type Fixture struct {
	Name  string
	Start int
	Width int
}

// validate reports ErrInvalidChannel when the fixture does not fit the universe.
func (f Fixture) validate() error {
	if f.Width != 3 && f.Width != 4 {
		return fmt.Errorf("%w: fixture %q width %d", ErrInvalidChannel, f.Name, f.Width)
	}
	if f.Start < 1 || f.Start+f.Width-1 > DMXUniverseSize {
		return fmt.Errorf("%w: fixture %q channels %d-%d", ErrInvalidChannel, f.Name, f.Start, f.Start+f.Width-1)
	}
	return nil
}

// FixtureState is the shadow state of one fixture. Nil fields mean "never
// set" and read as DefaultBrightness and DefaultColour.
type FixtureState struct {
	On         bool
	Brightness *uint8
	RGB        *[3]uint8
}

// BrightnessValue returns the brightness, or the default when unset.
func (s FixtureState) BrightnessValue() uint8 {
	if s.Brightness == nil {
		return DefaultBrightness
	}
	return *s.Brightness
}

// RGBValue returns the colour, or the default when unset.
func (s FixtureState) RGBValue() [3]uint8 {
	if s.RGB == nil {
		return DefaultColour
	}
	return *s.RGB
}

func (s FixtureState) entityState() homeassistant.LightState {
	return homeassistant.LightState{On: s.On, Brightness: s.BrightnessValue(), RGB: s.RGBValue()}
}

// Channels returns the DMX values the fixture emits for this state.
func (s FixtureState) Channels(width int) []uint8 {
	out := make([]uint8, width)
	if !s.On {
		return out
	}
	rgb := s.RGBValue()
	b := s.BrightnessValue()
	if width == 4 {
		copy(out, rgb[:])
		out[3] = b
		return out
	}
	for i, c := range rgb {
		out[i] = scale(c, b)
	}
	return out
}

// scale returns round(c * brightness / 255).
func scale(c, brightness uint8) uint8 {
	return uint8(math.Round(float64(c) * float64(brightness) / 255))
}

type fixtureLight struct {
	fixture Fixture
	object  string
	state   FixtureState
	light   *homeassistant.Light
}

// DMXHandler drives a DMX bricklet in master mode. Every fixture is a
// light entity; the whole universe is written on every change.
type DMXHandler struct {
	env  Env
	desc Descriptor
	dev  DMXDevice
	node *homeassistant.Node

	mu           sync.Mutex
	frame        [DMXUniverseSize]uint8
	lights       []*fixtureLight
	sensorsReady bool
	closed       bool
}

var _ Handler = (*DMXHandler)(nil)

// NewDMXFactory returns a Factory that patches the given fixtures.
func NewDMXFactory(fixtures []Fixture) Factory {
	return func(env Env, desc Descriptor) (Handler, error) {
		return NewDMXHandler(env, desc, fixtures)
	}
}

// NewDMXHandler creates the handler for one DMX bricklet. Fixtures that do
// not fit the universe are logged and skipped.
func NewDMXHandler(env Env, desc Descriptor, fixtures []Fixture) (*DMXHandler, error) {
	env = env.withDefaults()
	dev, err := env.Hardware.DMX(desc.UID)
	if err != nil {
		return nil, fmt.Errorf("opening DMX %s: %w", desc.UID, err)
	}
	h := &DMXHandler{
		env:  env,
		desc: desc,
		dev:  dev,
		node: env.node(desc),
	}
	for i, f := range fixtures {
		if err := f.validate(); err != nil {
			env.Logger.Error("skipping fixture", "uid", desc.UID, "fixture", f.Name, "error", err)
			continue
		}
		object := "dmx_light"
		if i > 0 {
			object = fmt.Sprintf("dmx_light_%d", i+1)
		}
		h.lights = append(h.lights, &fixtureLight{fixture: f, object: object})
	}
	return h, nil
}

// UID returns the bricklet UID.
func (h *DMXHandler) UID() string {
	return h.desc.UID
}

// SetupSensors creates one light entity per fixture and subscribes to its
// commands. Subscriptions are made without holding the handler lock since
// commands may arrive before Subscribe returns. After a failed subscribe
// the next call rebuilds the entities and tries again.
func (h *DMXHandler) SetupSensors() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHandlerClosed
	}
	if h.sensorsReady {
		h.mu.Unlock()
		return nil
	}
	lights := make([]*homeassistant.Light, 0, len(h.lights))
	for _, fl := range h.lights {
		fl.light = homeassistant.NewLight(h.node, homeassistant.LightOptions{
			Name:         fl.fixture.Name,
			Object:       fl.object,
			Initial:      fl.state.entityState(),
			OnSwitch:     h.switchCallback(fl),
			OnBrightness: h.brightnessCallback(fl),
			OnRGB:        h.rgbCallback(fl),
		})
		lights = append(lights, fl.light)
	}
	h.sensorsReady = true
	h.mu.Unlock()

	for _, l := range lights {
		if err := l.Subscribe(); err != nil {
			h.mu.Lock()
			h.sensorsReady = false
			h.mu.Unlock()
			return err
		}
	}
	return nil
}

// SetupCallbacks puts the bricklet in master mode and resends the frame,
// restoring output after a power cycle.
func (h *DMXHandler) SetupCallbacks() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandlerClosed
	}

	ctx, cancel := h.env.callContext()
	defer cancel()
	if err := h.dev.SetDMXMode(ctx, dmxModeMaster); err != nil {
		return fmt.Errorf("setting master mode: %w", err)
	}
	frame := h.frame
	return h.dev.WriteFrame(ctx, frame[:])
}

// Poll republishes every light entity. A closed handler publishes nothing.
func (h *DMXHandler) Poll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.publishLocked()
}

// Close detaches the command subscriptions. Commands already dispatched
// to the handler are rejected with ErrHandlerClosed once Close has run.
func (h *DMXHandler) Close() error {
	h.mu.Lock()
	h.closed = true
	lights := make([]*homeassistant.Light, 0, len(h.lights))
	for _, fl := range h.lights {
		if fl.light != nil {
			lights = append(lights, fl.light)
		}
	}
	h.sensorsReady = false
	h.mu.Unlock()

	var errs []error
	for _, l := range lights {
		if err := l.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Frame returns a copy of the shadow universe.
func (h *DMXHandler) Frame() [DMXUniverseSize]uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// FixtureState returns the shadow state of fixture i.
func (h *DMXHandler) FixtureState(i int) (FixtureState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.lights) {
		return FixtureState{}, false
	}
	return h.lights[i].state, true
}

// SetFixture applies a new state to fixture i.
func (h *DMXHandler) SetFixture(i int, s FixtureState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.lights) {
		return fmt.Errorf("%w: fixture %d", ErrInvalidChannel, i)
	}
	return h.applyLocked(h.lights[i], s)
}

// SetChannel writes one raw channel (1-based). The whole frame is sent.
func (h *DMXHandler) SetChannel(channel int, value uint8) error {
	if channel < 1 || channel > DMXUniverseSize {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandlerClosed
	}

	frame := h.frame
	frame[channel-1] = value
	if err := h.writeLocked(frame); err != nil {
		return err
	}
	h.frame = frame
	return nil
}

func (h *DMXHandler) switchCallback(fl *fixtureLight) func(old, requested bool) error {
	return func(_, requested bool) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		s := fl.state
		s.On = requested
		return h.applyLocked(fl, s)
	}
}

func (h *DMXHandler) brightnessCallback(fl *fixtureLight) func(old, requested uint8) error {
	return func(_, requested uint8) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		s := fl.state
		s.Brightness = &requested
		return h.applyLocked(fl, s)
	}
}

func (h *DMXHandler) rgbCallback(fl *fixtureLight) func(old, requested [3]uint8) error {
	return func(_, requested [3]uint8) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		s := fl.state
		s.RGB = &requested
		return h.applyLocked(fl, s)
	}
}

// applyLocked writes the fixture's channels for s. The shadow state and
// frame are only committed when the hardware accepted the frame; the
// entity is republished either way so Home Assistant shows the truth.
// Fixture bounds were checked in NewDMXHandler.
func (h *DMXHandler) applyLocked(fl *fixtureLight, s FixtureState) error {
	if h.closed {
		h.env.Logger.Debug("dropping command for closed handler", "uid", h.desc.UID, "fixture", fl.fixture.Name)
		return ErrHandlerClosed
	}

	frame := h.frame
	copy(frame[fl.fixture.Start-1:], s.Channels(fl.fixture.Width))

	writeErr := h.writeLocked(frame)
	if writeErr == nil {
		h.frame = frame
		fl.state = s
		h.recordLocked(fl)
	} else {
		h.env.Logger.Warn("DMX write failed, keeping previous state",
			"uid", h.desc.UID, "fixture", fl.fixture.Name, "error", writeErr)
	}

	if fl.light != nil {
		fl.light.SetState(fl.state.entityState())
		if err := fl.light.Publish(); err != nil && writeErr == nil {
			return err
		}
	}
	return writeErr
}

func (h *DMXHandler) writeLocked(frame [DMXUniverseSize]uint8) error {
	ctx, cancel := h.env.callContext()
	defer cancel()
	return h.dev.WriteFrame(ctx, frame[:])
}

func (h *DMXHandler) recordLocked(fl *fixtureLight) {
	rgb := fl.state.RGBValue()
	h.env.States.WriteEntityState(h.desc.UID, fl.object, map[string]any{
		"on":         fl.state.On,
		"brightness": int(fl.state.BrightnessValue()),
		"red":        int(rgb[0]),
		"green":      int(rgb[1]),
		"blue":       int(rgb[2]),
	})
}

func (h *DMXHandler) publishLocked() error {
	for _, fl := range h.lights {
		if fl.light == nil {
			continue
		}
		fl.light.SetState(fl.state.entityState())
		if err := fl.light.Publish(); err != nil {
			return err
		}
	}
	return nil
}
