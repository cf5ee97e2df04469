// SPDX-License-Identifier: MIT

package inject

import (
	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/wire"
)

// Manager is the writer manager (C5): it owns one Writer per live remote
// device id and applies incoming messages to them. It is not safe for
// concurrent use; the session that reads messages off one peer connection
// owns a Manager exclusively.
type Manager struct {
	log     *logger.Logger
	writers map[wire.DeviceID]*Writer
}

// NewManager constructs an empty writer manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		log:     log,
		writers: make(map[wire.DeviceID]*Writer),
	}
}

// Apply routes one received message to its effect: creating a writer for
// NewDevice, destroying one for RemoveDevice, or replaying an Event. A
// message naming an id with no live writer is silently dropped (I2):
// stale or racing messages from a peer that has already moved on must
// never be fatal to the session.
func (m *Manager) Apply(msg wire.Message) error {
	switch msg.Kind {
	case wire.MessageNewDevice:
		return m.add(msg.NewDevice)
	case wire.MessageRemoveDevice:
		m.remove(msg.RemoveDevice)
		return nil
	case wire.MessageEvent:
		return m.write(msg.Event)
	case wire.MessageKeepAlive:
		return nil
	}
	return nil
}

func (m *Manager) add(device wire.Device) error {
	if existing, ok := m.writers[device.ID]; ok {
		existing.Close()
		delete(m.writers, device.ID)
	}
	writer, err := Open(device)
	if err != nil {
		return err
	}
	m.writers[device.ID] = writer
	return nil
}

func (m *Manager) remove(id wire.DeviceID) {
	writer, ok := m.writers[id]
	if !ok {
		return
	}
	writer.Close()
	delete(m.writers, id)
}

func (m *Manager) write(event wire.FramedEvent) error {
	writer, ok := m.writers[event.DeviceID]
	if !ok {
		m.log.Verbosef("inject: event for unknown device %d, dropping", event.DeviceID)
		return nil
	}
	return writer.Write(event.Input, event.Syn)
}

// Close destroys every live virtual device.
func (m *Manager) Close() {
	for id, writer := range m.writers {
		writer.Close()
		delete(m.writers, id)
	}
}
