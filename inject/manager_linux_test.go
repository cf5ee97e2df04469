// SPDX-License-Identifier: MIT

package inject

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/wire"
)

func TestApplyEventForUnknownDeviceIsNoop(t *testing.T) {
	m := NewManager(logger.NewSilent())
	err := m.Apply(wire.EventMessage(wire.FramedEvent{
		DeviceID: 7,
		Input:    wire.KeyEvent(wire.Down, wire.CodeKey, 30),
	}))
	require.NoError(t, err)
}

func TestApplyRemoveUnknownDeviceIsNoop(t *testing.T) {
	m := NewManager(logger.NewSilent())
	err := m.Apply(wire.RemoveDeviceMessage(42))
	require.NoError(t, err)
}

func TestApplyKeepAliveIsNoop(t *testing.T) {
	m := NewManager(logger.NewSilent())
	require.NoError(t, m.Apply(wire.KeepAliveMessage()))
}

func TestToRawTranslatesKeyAndButtonCodes(t *testing.T) {
	raw := toRaw(wire.KeyEvent(wire.Down, wire.CodeKey, 30))
	require.Equal(t, uint16(evKey), raw.Type)
	require.Equal(t, uint16(30), raw.Code)
	require.Equal(t, int32(1), raw.Value)

	raw = toRaw(wire.KeyEvent(wire.Up, wire.CodeButton, 0x110))
	require.Equal(t, uint16(evKey), raw.Type)
	require.Equal(t, int32(0), raw.Value)

	raw = toRaw(wire.OtherEvent(evRel, 0, 5))
	require.Equal(t, uint16(evRel), raw.Type)
	require.Equal(t, int32(5), raw.Value)
}
