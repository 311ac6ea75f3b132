// Package ipc moves payloads and status reports between the runtime and a
// worker across the process or container boundary. Each (session, node)
// pair gets one Unix socket carrying length-prefixed frames; inputs are
// fire-and-forget and outputs are drained to a callback on a dedicated
// task, so a stalled worker only ever delays its own session.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// FrameKind discriminates the lanes multiplexed over one worker socket.
type FrameKind uint8

const (
	// FrameData - opaque payload bytes
	FrameData FrameKind = 1
	// FrameArtifact - payload is the name of a spilled artifact file
	FrameArtifact FrameKind = 2
	// FrameStatus - payload is a JSON StatusUpdate
	FrameStatus FrameKind = 3
)

// MaxFrameSize bounds a single inline payload. Anything larger travels as a
// spilled artifact file referenced by a FrameArtifact frame.
const MaxFrameSize = 16 << 20

// Frame is one unit on the wire: a kind byte, a big-endian uint32 payload
// length, then the payload bytes.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFrameSize {
		return fmt.Errorf("frame payload %d bytes exceeds limit %d", len(f.Payload), MaxFrameSize)
	}

	var header [5]byte
	header[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(f.Payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameSize {
		return Frame{}, fmt.Errorf("frame length %d exceeds limit %d", length, MaxFrameSize)
	}

	f := Frame{Kind: FrameKind(header[0])}
	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// Worker status values carried in FrameStatus frames.
const (
	StatusStarting = "starting"
	StatusReady    = "ready"
	StatusError    = "error"
)

// StatusUpdate is the worker-to-runtime initialization and processing
// report.
type StatusUpdate struct {
	Status      string  `json:"status"`
	ProgressPct float64 `json:"progress_pct"`
	Message     string  `json:"message,omitempty"`
}

// EncodeStatus renders a status update as a FrameStatus payload.
func EncodeStatus(u StatusUpdate) ([]byte, error) {
	return json.Marshal(u)
}

// DecodeStatus parses a FrameStatus payload.
func DecodeStatus(payload []byte) (StatusUpdate, error) {
	var u StatusUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return StatusUpdate{}, fmt.Errorf("decoding status frame: %w", err)
	}
	return u, nil
}
