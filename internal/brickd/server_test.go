package brickd

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeBrickd is the device side of a net.Pipe. It records every request and
// answers those that expect a response.
type fakeBrickd struct {
	t    *testing.T
	conn net.Conn

	mu        sync.Mutex
	requests  []request
	errorCode uint8
	silent    bool

	received chan request
}

type request struct {
	header  Header
	payload []byte
}

func newFakeBrickd(t *testing.T, cfg Config) (*Client, *fakeBrickd) {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	srv := &fakeBrickd{
		t:        t,
		conn:     serverSide,
		received: make(chan request, 64),
	}
	go srv.serve()

	c := newClient(clientSide, cfg)
	t.Cleanup(func() {
		c.Close()
		serverSide.Close()
	})
	return c, srv
}

func (s *fakeBrickd) serve() {
	buf := make([]byte, maxPacketSize)
	for {
		if _, err := io.ReadFull(s.conn, buf[:headerSize]); err != nil {
			return
		}
		h, err := DecodeHeader(buf[:headerSize])
		if err != nil {
			return
		}
		if _, err := io.ReadFull(s.conn, buf[headerSize:h.Length]); err != nil {
			return
		}
		req := request{header: h, payload: append([]byte(nil), buf[headerSize:h.Length]...)}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		errorCode, silent := s.errorCode, s.silent
		s.mu.Unlock()

		s.received <- req

		if h.ResponseExpected && !silent {
			resp := h
			resp.ErrorCode = errorCode
			packet, _ := EncodePacket(resp, nil)
			if _, err := s.conn.Write(packet); err != nil {
				return
			}
		}
	}
}

// sendEnumeration pushes an enumerate callback to the client.
func (s *fakeBrickd) sendEnumeration(e Enumeration) {
	s.t.Helper()
	uid, _ := DecodeUID(e.UID)
	packet, err := EncodePacket(Header{UID: uid, FunctionID: callbackEnumerate}, encodeEnumeration(e))
	if err != nil {
		s.t.Fatalf("EncodePacket() error = %v", err)
	}
	if _, err := s.conn.Write(packet); err != nil {
		s.t.Fatalf("write callback: %v", err)
	}
}

func (s *fakeBrickd) setErrorCode(code uint8) {
	s.mu.Lock()
	s.errorCode = code
	s.mu.Unlock()
}

func (s *fakeBrickd) setSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

func (s *fakeBrickd) snapshot() []request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]request(nil), s.requests...)
}

func (s *fakeBrickd) next(t *testing.T) request {
	t.Helper()
	select {
	case r := <-s.received:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for request")
		return request{}
	}
}

// encodeEnumeration is the inverse of parseEnumeration.
func encodeEnumeration(e Enumeration) []byte {
	b := make([]byte, enumeratePayloadSize)
	putFixedString(b[0:8], e.UID)
	putFixedString(b[8:16], e.ConnectedUID)
	b[16] = e.Position
	copy(b[17:20], e.HardwareVersion[:])
	copy(b[20:23], e.FirmwareVersion[:])
	binary.LittleEndian.PutUint16(b[23:25], e.DeviceIdentifier)
	b[25] = uint8(e.Type)
	return b
}
