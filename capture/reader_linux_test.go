// SPDX-License-Identifier: MIT

package capture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evan-goode/evkvm/wire"
)

func TestDeviceIDFromNodeName(t *testing.T) {
	cases := []struct {
		name string
		want wire.DeviceID
	}{
		{"event42", 42},
		{"event0", 0},
		{"mouse0", wire.SyntheticDeviceID},
		{"event", wire.SyntheticDeviceID},
		{"eventfoo", wire.SyntheticDeviceID},
	}
	for _, c := range cases {
		require.Equal(t, c.want, DeviceIDFromNodeName(c.name), c.name)
	}
}

func TestTranslateKeyEvent(t *testing.T) {
	ev, ok := translate(rawEvent{Type: evKey, Code: 30, Value: 1})
	require.True(t, ok)
	code, isKey := ev.IsKeyCode(wire.CodeKey)
	require.True(t, isKey)
	require.Equal(t, uint16(30), code)
	require.Equal(t, wire.Down, ev.Direction)

	ev, ok = translate(rawEvent{Type: evKey, Code: 30, Value: 0})
	require.True(t, ok)
	require.Equal(t, wire.Up, ev.Direction)
}

func TestTranslateButtonCode(t *testing.T) {
	ev, ok := translate(rawEvent{Type: evKey, Code: btnMisc + 1, Value: 1})
	require.True(t, ok)
	_, isButton := ev.IsKeyCode(wire.CodeButton)
	require.True(t, isButton)
}

func TestTranslateSynReportSkippedByCaller(t *testing.T) {
	// Run() filters EV_SYN/SYN_REPORT before calling translate; translate
	// itself has no special case and would otherwise encode it as an
	// Other event, which is why Run checks first.
	ev, ok := translate(rawEvent{Type: evSyn, Code: synReport, Value: 0})
	require.True(t, ok)
	require.Equal(t, wire.EventOther, ev.Kind)
}
