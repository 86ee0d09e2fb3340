// Package ipc implements the length-prefixed JSON framing used between
// procmanager (the controller) and domain/scanner's subprocess (the
// worker). Grounded on LanternOps-breeze's agent/internal/ipc/protocol.go
// for the 4-byte-BE-length + JSON framing idiom, with the HMAC signing
// layer dropped: this pipe is exec.Cmd stdio between a parent and its own
// freshly spawned child, not a network boundary, so message authenticity
// is not a concern here.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MaxMessageSize bounds a single framed message to guard against a
// corrupt length prefix causing an unbounded read.
const MaxMessageSize = 16 << 20

// Envelope is the wire message: a typed, sequenced payload. Type
// discriminates ScannerCommand/ScannerStatus/MatchHit/log-line payloads;
// Payload carries the type-specific JSON body.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Conn wraps an io.ReadWriteCloser (exec.Cmd's Stdin/Stdout pipes) with
// length-prefixed JSON framing and a monotonically increasing send
// sequence number.
type Conn struct {
	rw      io.ReadWriteCloser
	sendSeq atomic.Uint64
	mu      sync.Mutex // serializes writes
}

// NewConn wraps rw for framed Envelope exchange.
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{rw: rw}
}

// Close closes the underlying pipe.
func (c *Conn) Close() error { return c.rw.Close() }

// Send assigns the next sequence number and writes env as
// [4-byte BE length][JSON].
func (c *Conn) Send(env *Envelope) error {
	env.Seq = c.sendSeq.Add(1)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("ipc: message too large: %d > %d", len(data), MaxMessageSize)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.rw.Write(header); err != nil {
		return fmt.Errorf("ipc: write header: %w", err)
	}
	if _, err := c.rw.Write(data); err != nil {
		return fmt.Errorf("ipc: write payload: %w", err)
	}
	return nil
}

// Recv reads one length-prefixed JSON message.
func (c *Conn) Recv() (*Envelope, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.rw, header); err != nil {
		return nil, fmt.Errorf("ipc: read header: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return nil, fmt.Errorf("ipc: zero-length message")
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("ipc: message too large: %d > %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.rw, data); err != nil {
		return nil, fmt.Errorf("ipc: read payload: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal envelope: %w", err)
	}
	return &env, nil
}

// SendTyped marshals payload and sends it under msgType with a fresh
// envelope ID.
func (c *Conn) SendTyped(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ipc: marshal payload: %w", err)
	}
	return c.Send(&Envelope{ID: uuid.NewString(), Type: msgType, Payload: raw})
}

// SendError sends an error envelope of msgType.
func (c *Conn) SendError(msgType, errMsg string) error {
	return c.Send(&Envelope{ID: uuid.NewString(), Type: msgType, Error: errMsg})
}
