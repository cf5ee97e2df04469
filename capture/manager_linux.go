// SPDX-License-Identifier: MIT

package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/wire"
)

// Manager is the reader manager (C4): it waits out the startup
// quiescence, enumerates the input device directory, spawns a Reader per
// eligible node, watches the directory for hotplug, and multiplexes every
// reader's events into one ordered stream while maintaining a live
// device table.
type Manager struct {
	dir string
	log *logger.Logger

	mu      sync.Mutex
	readers map[wire.DeviceID]*Reader
	table   map[wire.DeviceID]wire.Device

	raw        chan wire.Message
	watcherErr chan error

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewManager constructs a Manager over dir (typically "/dev/input"). Call
// Start once before Next.
func NewManager(dir string, log *logger.Logger) *Manager {
	return &Manager{
		dir:        dir,
		log:        log,
		readers:    make(map[wire.DeviceID]*Reader),
		table:      make(map[wire.DeviceID]wire.Device),
		raw:        make(chan wire.Message, 256),
		watcherErr: make(chan error, 1),
		closed:     make(chan struct{}),
	}
}

// Start sleeps the quiescence interval, spawns a reader for every node
// already present, and begins watching for new ones.
func (m *Manager) Start() error {
	time.Sleep(Quiescence)

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("capture: read dir %s: %w", m.dir, err)
	}
	for _, entry := range entries {
		if !eligible(entry) {
			continue
		}
		m.spawn(filepath.Join(m.dir, entry.Name()))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("capture: new watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("capture: watch %s: %w", m.dir, err)
	}

	m.wg.Add(1)
	go m.watch(watcher)
	return nil
}

func eligible(entry os.DirEntry) bool {
	if entry.IsDir() {
		return false
	}
	return strings.HasPrefix(entry.Name(), "event")
}

func (m *Manager) watch(watcher *fsnotify.Watcher) {
	defer m.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-m.closed:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasPrefix(name, "event") {
				continue
			}
			m.spawn(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Delivered out-of-band; overrides the caller's next Next()
			// result per spec.
			select {
			case m.watcherErr <- fmt.Errorf("capture: watcher: %w", err):
			default:
			}
			return
		}
	}
}

func (m *Manager) spawn(path string) {
	reader, err := Open(path, m.log)
	if err != nil {
		m.log.Verbosef("capture: could not open %s: %v", path, err)
		return
	}

	device := reader.Device()
	m.mu.Lock()
	if _, exists := m.readers[device.ID]; exists {
		m.mu.Unlock()
		m.log.Errorf("capture: device id %d already in use, dropping %s", device.ID, path)
		reader.Close()
		return
	}
	m.readers[device.ID] = reader
	m.mu.Unlock()

	select {
	case m.raw <- wire.NewDeviceMessage(device):
	case <-m.closed:
		reader.Close()
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := reader.Run(m.raw)
		if err != nil {
			m.log.Errorf("capture: reader %s fatal: %v", path, err)
		}

		// Free the device id the instant this reader stops, rather than
		// waiting for the consumer to drain its RemoveDevice out of raw:
		// a fast unplug/replug can otherwise find the old id still
		// claimed in m.readers and wrongly refuse the new node.
		m.mu.Lock()
		delete(m.readers, device.ID)
		m.mu.Unlock()

		select {
		case m.raw <- wire.RemoveDeviceMessage(device.ID):
		case <-m.closed:
		}
	}()
}

// Next returns the next message in the stream, updating the live device
// table before returning so the caller always observes a consistent
// world view: a NewDevice is reflected in the table before Next returns
// it, and a RemoveDevice is removed from the table before Next returns
// it.
func (m *Manager) Next() (wire.Message, error) {
	select {
	case err := <-m.watcherErr:
		return wire.Message{}, err
	default:
	}

	select {
	case err := <-m.watcherErr:
		return wire.Message{}, err
	case msg := <-m.raw:
		m.applyToTable(msg)
		return msg, nil
	}
}

// applyToTable updates the live device table. It does not touch readers:
// that map is cleaned up the instant each reader goroutine stops (see
// spawn), not when its RemoveDevice is drained here, so a replugged
// device id is never wrongly refused while its old RemoveDevice is
// still in flight.
func (m *Manager) applyToTable(msg wire.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg.Kind {
	case wire.MessageNewDevice:
		m.table[msg.NewDevice.ID] = msg.NewDevice
	case wire.MessageRemoveDevice:
		delete(m.table, msg.RemoveDevice)
	}
}

// Snapshot returns every currently-known device descriptor. The server
// loop uses this to send one NewDevice per live device to a freshly
// accepted peer, before any live event.
func (m *Manager) Snapshot() []wire.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]wire.Device, 0, len(m.table))
	for _, d := range m.table {
		devices = append(devices, d)
	}
	return devices
}

// Close stops every reader and the directory watcher.
func (m *Manager) Close() {
	select {
	case <-m.closed:
		return
	default:
		close(m.closed)
	}
	m.mu.Lock()
	readers := make([]*Reader, 0, len(m.readers))
	for _, r := range m.readers {
		readers = append(readers, r)
	}
	m.mu.Unlock()
	for _, r := range readers {
		r.Close()
	}
	m.wg.Wait()
}
