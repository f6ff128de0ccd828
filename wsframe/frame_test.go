package wsframe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vornio/swiftd/httpmsg"
)

func TestFrame_EncodeDecodeRoundTripMasked(t *testing.T) {
	payload := []byte("hello, websocket")
	maskKey := [4]byte{0x11, 0x22, 0x33, 0x44}

	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, OpText, payload, true, true, maskKey))

	frame, err := DecodeFrame(&buf)
	require.NoError(t, err)
	assert.True(t, frame.Fin)
	assert.Equal(t, OpText, frame.Opcode)
	assert.True(t, frame.Masked)
	assert.Equal(t, payload, frame.Payload)
}

func TestFrame_EncodeDecodeRoundTripUnmasked(t *testing.T) {
	payload := []byte("server to client, never masked")

	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, OpBinary, payload, true, false, [4]byte{}))

	frame, err := DecodeFrame(&buf)
	require.NoError(t, err)
	assert.False(t, frame.Masked)
	assert.Equal(t, payload, frame.Payload)
}

func TestFrame_ExtendedLengthRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 70000) // forces the 64-bit extended length path

	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, OpBinary, payload, true, false, [4]byte{}))

	frame, err := DecodeFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, frame.Payload)
}

func TestDecodeFrame_RejectsOversizedControlFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, OpPing, bytes.Repeat([]byte{'x'}, 126), true, false, [4]byte{}))

	_, err := DecodeFrame(&buf)
	assert.ErrorIs(t, err, ErrControlFrameTooLarge)
}

func TestDecodeFrame_RejectsFragmentedControlFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, OpPing, []byte("x"), false, false, [4]byte{}))

	_, err := DecodeFrame(&buf)
	assert.ErrorIs(t, err, ErrFragmentedControlFrame)
}

func TestComputeAcceptKey_MatchesRFC6455Example(t *testing.T) {
	// The worked example from RFC 6455 §1.3.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestValidateUpgradeRequest_AcceptsWellFormedRequest(t *testing.T) {
	req := &httpmsg.Request{Headers: httpmsg.Header{
		"Connection":            []string{"Upgrade"},
		"Upgrade":               []string{"websocket"},
		"Sec-Websocket-Key":     []string{"dGhlIHNhbXBsZSBub25jZQ=="},
		"Sec-Websocket-Version": []string{"13"},
	}}

	accept, err := ValidateUpgradeRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", accept)
}

func TestValidateUpgradeRequest_RejectsMissingUpgradeHeader(t *testing.T) {
	req := &httpmsg.Request{Headers: httpmsg.Header{
		"Connection": []string{"keep-alive"},
	}}

	_, err := ValidateUpgradeRequest(req)
	assert.ErrorIs(t, err, ErrNotUpgrade)
}
