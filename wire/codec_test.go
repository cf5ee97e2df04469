// SPDX-License-Identifier: MIT

package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		KeepAliveMessage(),
		EventMessage(FramedEvent{DeviceID: 7, Input: KeyEvent(Down, CodeKey, 30), Syn: false}),
		NewDeviceMessage(Device{
			ID:      7,
			Name:    "Test Keyboard",
			Vendor:  0x046d,
			Product: 0xc069,
			Bustype: 0x03,
			Version: 1,
			Capabilities: []Capability{
				OtherCapability(1, 30),
				AbsAxisCapability(0, AbsInfo{Min: -127, Max: 127}),
				AutoRepeatCapability(20, 250),
			},
		}),
		RemoveDeviceMessage(7),
	}

	for _, m := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, m))

		got, err := ReadMessage(&buf)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestReadMessageTruncatedPrefixIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, KeepAliveMessage()))
	full := buf.Bytes()

	for n := 1; n < len(full); n++ {
		truncated := bytes.NewReader(full[:n])
		_, err := ReadMessage(truncated)
		require.Error(t, err)
		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr), "expected *ProtocolError for %d-byte prefix, got %v", n, err)
	}
}

func TestReadMessageCleanCloseReturnsErrClosed(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrClosed)
}

func TestVersionHandshakeMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVersion(&buf))
	buf.Bytes()[0] = 2 // corrupt the low byte of the little-endian version

	err := ReadVersion(&buf)
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestVersionHandshakeMatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVersion(&buf))
	require.NoError(t, ReadVersion(&buf))
}
