// SPDX-License-Identifier: MIT

package switcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/wire"
)

type recordingTarget struct {
	received []wire.Message
	fail     bool
}

func (r *recordingTarget) Send(msg wire.Message) error {
	if r.fail {
		return errors.New("send failed")
	}
	r.received = append(r.received, msg)
	return nil
}

const (
	leftAlt  = 56
	rightAlt = 100
)

func comboKeys() []uint16 { return []uint16{leftAlt, rightAlt} }

func noDevices() []wire.Device { return nil }

func TestSingleKeyPassThroughLocalTarget(t *testing.T) {
	local := &recordingTarget{}
	s := New(comboKeys(), local, logger.NewSilent())

	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{
		DeviceID: 7,
		Input:    wire.KeyEvent(wire.Down, wire.CodeKey, 30),
	})))

	require.Len(t, local.received, 1)
	require.Equal(t, uint16(30), local.received[0].Event.Input.Code)
}

func TestComboTransitionToPeerAndBack(t *testing.T) {
	local := &recordingTarget{}
	peer := &recordingTarget{}
	s := New(comboKeys(), local, logger.NewSilent())
	require.Equal(t, 1, s.AddClient(peer, noDevices))

	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, leftAlt)})))
	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, rightAlt)})))

	require.Equal(t, 1, s.current)
	// local received Up(leftAlt), Up(rightAlt) in sorted key order.
	require.Len(t, local.received, 2)
	require.Equal(t, wire.Up, local.received[0].Event.Input.Direction)
	require.Equal(t, uint16(leftAlt), local.received[0].Event.Input.Code)
	require.Equal(t, wire.Up, local.received[1].Event.Input.Direction)
	require.Equal(t, uint16(rightAlt), local.received[1].Event.Input.Code)

	// peer received Down(leftAlt), Down(rightAlt).
	require.Len(t, peer.received, 2)
	require.Equal(t, wire.Down, peer.received[0].Event.Input.Direction)
	require.Equal(t, wire.Down, peer.received[1].Event.Input.Direction)

	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, 30)})))
	require.Len(t, peer.received, 3)
	require.Equal(t, uint16(30), peer.received[2].Event.Input.Code)

	// a second combo-hold rotates back to local (N=1 peer, N+1=2 cycle).
	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Up, wire.CodeKey, leftAlt)})))
	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Up, wire.CodeKey, rightAlt)})))
	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, leftAlt)})))
	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, rightAlt)})))
	require.Equal(t, 0, s.current)
}

func TestTargetRotationReturnsToStartAfterNPlus1Holds(t *testing.T) {
	local := &recordingTarget{}
	s := New(comboKeys(), local, logger.NewSilent())
	peers := 3
	for i := 0; i < peers; i++ {
		s.AddClient(&recordingTarget{}, noDevices)
	}

	start := s.current
	for i := 0; i <= peers; i++ {
		require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, leftAlt)})))
		require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, rightAlt)})))
		// release both before the next hold; a combo-key press while the
		// other combo keys are still held would rotate again.
		require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Up, wire.CodeKey, leftAlt)})))
		require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Up, wire.CodeKey, rightAlt)})))
	}
	require.Equal(t, start, s.current)
}

func TestSendFailureFallsBackToLocalAndRemovesClient(t *testing.T) {
	local := &recordingTarget{}
	peer := &recordingTarget{fail: true}
	s := New(comboKeys(), local, logger.NewSilent())
	s.AddClient(peer, noDevices)
	s.current = 1

	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, 30)})))

	require.Equal(t, 0, s.current)
	require.Len(t, s.clients, 0)
	require.Len(t, local.received, 1)
}

func TestLocalSendFailureIsFatal(t *testing.T) {
	local := &recordingTarget{fail: true}
	s := New(comboKeys(), local, logger.NewSilent())

	err := s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, 30)}))
	require.Error(t, err)
}

func TestLocalSendFailureAsFallbackIsFatal(t *testing.T) {
	local := &recordingTarget{fail: true}
	peer := &recordingTarget{fail: true}
	s := New(comboKeys(), local, logger.NewSilent())
	s.AddClient(peer, noDevices)
	s.current = 1

	err := s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, 30)}))
	require.Error(t, err)
	// the failed peer is still removed and current still resets to local
	// before the local fallback's own failure is reported.
	require.Equal(t, 0, s.current)
	require.Len(t, s.clients, 0)
}

func TestLocalSendFailureDuringTransitionIsFatal(t *testing.T) {
	local := &recordingTarget{fail: true}
	s := New(comboKeys(), local, logger.NewSilent())

	require.NoError(t, s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, leftAlt)})))
	err := s.Handle(wire.EventMessage(wire.FramedEvent{Input: wire.KeyEvent(wire.Down, wire.CodeKey, rightAlt)}))
	require.Error(t, err)
}

func TestNewDeviceAndRemoveDeviceBroadcastToAllTargets(t *testing.T) {
	local := &recordingTarget{}
	peer := &recordingTarget{}
	s := New(comboKeys(), local, logger.NewSilent())
	s.AddClient(peer, noDevices)

	device := wire.Device{ID: 5, Name: "test"}
	require.NoError(t, s.Handle(wire.NewDeviceMessage(device)))
	require.NoError(t, s.Handle(wire.RemoveDeviceMessage(5)))

	require.Len(t, local.received, 2)
	require.Len(t, peer.received, 2)
}

func TestAddClientSendsOnboardingSnapshotBeforeLaterBroadcasts(t *testing.T) {
	local := &recordingTarget{}
	peer := &recordingTarget{}
	s := New(comboKeys(), local, logger.NewSilent())

	existing := []wire.Device{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
	snapshot := func() []wire.Device { return existing }
	s.AddClient(peer, snapshot)

	require.Len(t, peer.received, 2)
	require.Equal(t, wire.MessageNewDevice, peer.received[0].Kind)
	require.Equal(t, wire.DeviceID(1), peer.received[0].NewDevice.ID)
	require.Equal(t, wire.DeviceID(2), peer.received[1].NewDevice.ID)

	require.NoError(t, s.Handle(wire.NewDeviceMessage(wire.Device{ID: 3, Name: "c"})))
	require.Len(t, peer.received, 3)
	require.Equal(t, wire.DeviceID(3), peer.received[2].NewDevice.ID)
}
