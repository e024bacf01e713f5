package brickd

import (
	"context"
	"fmt"
)

// LCD 128x64 Bricklet function IDs.
const (
	functionLCDClearDisplay = 3
	functionLCDWriteLine    = 6

	lcdLineTextSize = 22
)

// LCD128x64 addresses one LCD 128x64 Bricklet.
type LCD128x64 struct {
	client *Client
	uid    uint32
}

// NewLCD128x64 returns a handle for the LCD Bricklet with the given UID.
func NewLCD128x64(c *Client, uid string) (*LCD128x64, error) {
	id, err := DecodeUID(uid)
	if err != nil {
		return nil, err
	}
	return &LCD128x64{client: c, uid: id}, nil
}

// ClearDisplay blanks the whole display.
func (l *LCD128x64) ClearDisplay(ctx context.Context) error {
	if _, err := l.client.call(ctx, l.uid, functionLCDClearDisplay, nil, true); err != nil {
		return fmt.Errorf("clear display: %w", err)
	}
	return nil
}

// WriteLine writes text at line (0-7) starting at character position (0-21).
// Text beyond 22 bytes is cut by the wire format.
func (l *LCD128x64) WriteLine(ctx context.Context, line, position uint8, text string) error {
	payload := make([]byte, 2+lcdLineTextSize)
	payload[0] = line
	payload[1] = position
	putFixedString(payload[2:], text)

	if _, err := l.client.call(ctx, l.uid, functionLCDWriteLine, payload, true); err != nil {
		return fmt.Errorf("write line %d: %w", line, err)
	}
	return nil
}
