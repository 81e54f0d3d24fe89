package cluster

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Method: MethodSearch, RequestID: uuid.New(), OK: true, Payload: []byte(`{"k":5}`)}
	require.NoError(t, WriteFrame(&buf, want))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, want.Method, got.Method)
	assert.Equal(t, want.RequestID, got.RequestID)
	assert.Equal(t, want.OK, got.OK)
	assert.Equal(t, want.Payload, got.Payload)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Method: MethodDelete, RequestID: uuid.New()}))
	corrupt := buf.Bytes()
	corrupt[0] ^= 0xFF

	_, err := ReadFrame(bytes.NewReader(corrupt))
	require.Error(t, err)
}

func TestReadFrameRejectsCorruptedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Method: MethodInsert, RequestID: uuid.New(), OK: true, Payload: []byte("hello")}))
	corrupt := buf.Bytes()
	corrupt[len(corrupt)-5] ^= 0xFF // flip a byte inside the payload, leaving crc stale

	_, err := ReadFrame(bytes.NewReader(corrupt))
	require.Error(t, err)
}
