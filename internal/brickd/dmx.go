package brickd

import (
	"context"
	"encoding/binary"
	"fmt"
)

// DMX Bricklet function IDs.
const (
	functionDMXSetMode            = 1
	functionDMXWriteFrameLowLevel = 3

	dmxChunkSize = 60

	// DMXMaxFrameLength is the number of channels in one DMX universe.
	DMXMaxFrameLength = 512
)

// DMX modes.
const (
	DMXModeMaster uint8 = 0
	DMXModeSlave  uint8 = 1
)

// DMX addresses one DMX Bricklet.
type DMX struct {
	client *Client
	uid    uint32
}

// NewDMX returns a handle for the DMX Bricklet with the given UID.
func NewDMX(c *Client, uid string) (*DMX, error) {
	id, err := DecodeUID(uid)
	if err != nil {
		return nil, err
	}
	return &DMX{client: c, uid: id}, nil
}

// SetDMXMode switches the Bricklet between master (sending) and slave.
func (d *DMX) SetDMXMode(ctx context.Context, mode uint8) error {
	if _, err := d.client.call(ctx, d.uid, functionDMXSetMode, []byte{mode}, true); err != nil {
		return fmt.Errorf("set dmx mode: %w", err)
	}
	return nil
}

// WriteFrame sends a complete DMX frame. Values are per channel, channel 1
// first. The frame goes out in 60 byte chunks; the Bricklet emits it once
// the last chunk arrives.
func (d *DMX) WriteFrame(ctx context.Context, frame []byte) error {
	if len(frame) > DMXMaxFrameLength {
		return fmt.Errorf("write dmx frame: %w: %d channels", ErrInvalidParameter, len(frame))
	}

	for _, payload := range dmxChunks(frame) {
		if _, err := d.client.call(ctx, d.uid, functionDMXWriteFrameLowLevel, payload, true); err != nil {
			return fmt.Errorf("write dmx frame: %w", err)
		}
	}
	return nil
}

// dmxChunks splits frame into write_frame_low_level payloads:
//
//	uint16 frame_length, uint16 chunk_offset, uint8[60] chunk_data
//
// An empty frame still produces one chunk so the Bricklet sees the length.
func dmxChunks(frame []byte) [][]byte {
	var chunks [][]byte
	for offset := 0; offset == 0 || offset < len(frame); offset += dmxChunkSize {
		payload := make([]byte, 4+dmxChunkSize)
		binary.LittleEndian.PutUint16(payload[0:2], uint16(len(frame)))
		binary.LittleEndian.PutUint16(payload[2:4], uint16(offset))
		copy(payload[4:], frame[offset:min(offset+dmxChunkSize, len(frame))])
		chunks = append(chunks, payload)
	}
	return chunks
}
