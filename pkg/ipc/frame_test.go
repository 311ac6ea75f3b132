package ipc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameRoundTrip tests the wire format both ways
func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteFrame(&buf, Frame{Kind: FrameData, Payload: []byte("pcm chunk")}))
	require.NoError(t, WriteFrame(&buf, Frame{Kind: FrameArtifact, Payload: []byte("abc.bin")}))
	require.NoError(t, WriteFrame(&buf, Frame{Kind: FrameStatus}))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameData, f.Kind)
	assert.Equal(t, []byte("pcm chunk"), f.Payload)

	f, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameArtifact, f.Kind)
	assert.Equal(t, []byte("abc.bin"), f.Payload)

	f, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameStatus, f.Kind)
	assert.Empty(t, f.Payload, "zero-length payload is legal")
}

// TestReadFrame_RejectsOversizedLength tests corrupt length handling
func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := [5]byte{byte(FrameData)}
	binary.BigEndian.PutUint32(header[1:], MaxFrameSize+1)
	buf.Write(header[:])

	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

// TestWriteFrame_RejectsOversizedPayload tests the outbound size guard
func TestWriteFrame_RejectsOversizedPayload(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, Frame{Kind: FrameData, Payload: make([]byte, MaxFrameSize+1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

// TestReadFrame_TruncatedStream tests a short read
func TestReadFrame_TruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Kind: FrameData, Payload: []byte("full payload")}))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])

	_, err := ReadFrame(truncated)
	require.Error(t, err)
}

// TestStatusCodec tests status update encoding
func TestStatusCodec(t *testing.T) {
	payload, err := EncodeStatus(StatusUpdate{Status: StatusReady, ProgressPct: 1.0, Message: "model loaded"})
	require.NoError(t, err)

	update, err := DecodeStatus(payload)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, update.Status)
	assert.Equal(t, 1.0, update.ProgressPct)
	assert.Equal(t, "model loaded", update.Message)

	_, err = DecodeStatus([]byte("{not json"))
	require.Error(t, err)
}
