package devices

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/tinkerforge2mqtt/internal/homeassistant"
)

// LCD layout.
const (
	LCDLines       = 4
	LCDLineWidth   = 21
	LCDFailMessage = "Fail to write LCD"
)

// lineSeparators split text into display lines. The two-character `\n`
// escape is what the Home Assistant text card sends for a line break.
var lineSeparators = strings.NewReplacer("\r\n", "\n", "\x1e", "\n", `\n`, "\n")

// SplitLCDLines splits text into at most LCDLines lines of at most
// LCDLineWidth runes each.
func SplitLCDLines(text string) []string {
	lines := strings.Split(lineSeparators.Replace(text), "\n")
	if len(lines) > LCDLines {
		lines = lines[:LCDLines]
	}
	for i, line := range lines {
		if r := []rune(line); len(r) > LCDLineWidth {
			lines[i] = string(r[:LCDLineWidth])
		}
	}
	return lines
}

// LCDHandler shows a Home Assistant text entity on an LCD 128x64 bricklet.
type LCDHandler struct {
	env  Env
	desc Descriptor
	dev  LCDDevice
	node *homeassistant.Node

	mu           sync.Mutex
	text         string
	entity       *homeassistant.Text
	sensorsReady bool
	closed       bool
}

var _ Handler = (*LCDHandler)(nil)

// NewLCDHandler creates the handler for one LCD bricklet.
func NewLCDHandler(env Env, desc Descriptor) (Handler, error) {
	env = env.withDefaults()
	dev, err := env.Hardware.LCD(desc.UID)
	if err != nil {
		return nil, fmt.Errorf("opening LCD %s: %w", desc.UID, err)
	}
	return &LCDHandler{
		env:  env,
		desc: desc,
		dev:  dev,
		node: env.node(desc),
	}, nil
}

// UID returns the bricklet UID.
func (h *LCDHandler) UID() string {
	return h.desc.UID
}

// SetupSensors creates the text entity and subscribes to its commands.
func (h *LCDHandler) SetupSensors() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHandlerClosed
	}
	if h.sensorsReady {
		h.mu.Unlock()
		return nil
	}
	h.entity = homeassistant.NewText(h.node, homeassistant.TextOptions{
		Name:     "LCD Text",
		Object:   "lcd_text",
		Initial:  h.text,
		OnChange: h.onText,
	})
	entity := h.entity
	h.sensorsReady = true
	h.mu.Unlock()

	if err := entity.Subscribe(); err != nil {
		h.mu.Lock()
		h.sensorsReady = false
		h.mu.Unlock()
		return err
	}
	return nil
}

// SetupCallbacks has nothing to configure on the display.
func (h *LCDHandler) SetupCallbacks() error {
	return nil
}

// Poll republishes the text entity.
func (h *LCDHandler) Poll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.publishLocked()
}

// Close detaches the command subscription and rejects later commands.
func (h *LCDHandler) Close() error {
	h.mu.Lock()
	h.closed = true
	entity := h.entity
	h.sensorsReady = false
	h.mu.Unlock()
	if entity == nil {
		return nil
	}
	return entity.Unsubscribe()
}

// Text returns the shadow text.
func (h *LCDHandler) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text
}

// SetText clears the display and writes text. On any hardware failure the
// display and the entity show LCDFailMessage instead.
func (h *LCDHandler) SetText(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandlerClosed
	}

	writeErr := h.writeLocked(text)
	if writeErr != nil {
		h.env.Logger.Warn("LCD write failed", "uid", h.desc.UID, "error", writeErr)
		ctx, cancel := h.env.callContext()
		if err := h.dev.WriteLine(ctx, 0, 0, LCDFailMessage); err != nil {
			h.env.Logger.Debug("LCD failure notice not written", "uid", h.desc.UID, "error", err)
		}
		cancel()
		text = LCDFailMessage
	}

	h.text = text
	h.env.States.WriteEntityState(h.desc.UID, "lcd_text", map[string]any{"text": text})
	if err := h.publishLocked(); err != nil {
		return errors.Join(writeErr, err)
	}
	return writeErr
}

func (h *LCDHandler) onText(_, requested string) error {
	return h.SetText(requested)
}

func (h *LCDHandler) writeLocked(text string) error {
	ctx, cancel := h.env.callContext()
	defer cancel()

	if err := h.dev.ClearDisplay(ctx); err != nil {
		return fmt.Errorf("clearing display: %w", err)
	}
	for i, line := range SplitLCDLines(text) {
		if line == "" {
			continue
		}
		if err := h.dev.WriteLine(ctx, uint8(i), 0, line); err != nil {
			return fmt.Errorf("writing line %d: %w", i, err)
		}
	}
	return nil
}

func (h *LCDHandler) publishLocked() error {
	if h.entity == nil {
		return nil
	}
	h.entity.SetValue(h.text)
	return h.entity.Publish()
}
