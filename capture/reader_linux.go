// SPDX-License-Identifier: MIT

// Package capture implements the device reader (C2) and reader manager
// (C4): opening and grabbing evdev nodes, mirroring their capabilities
// into the wire data model, and multiplexing every open device's events
// into one stream.
package capture

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"github.com/evan-goode/evkvm/internal/ioctl"
	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/wire"
)

// Linux evdev event type and code constants from <linux/input-event-codes.h>.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03
	evMsc = 0x04
	evSw  = 0x05
	evLed = 0x11
	evSnd = 0x12
	evRep = 0x14
	evFF  = 0x15
	evPwr = 0x16
	evMax = 0x1f

	synReport = 0x00

	repDelay  = 0x00
	repPeriod = 0x01
	repMax    = repPeriod

	keyMax = 0x2ff
	absMax = 0x3f

	// btnMisc is the first code in the "button" range; codes below it are
	// conventionally key codes, codes at or above it are button codes.
	// Both share the EV_KEY event type on the wire.
	btnMisc = 0x100
)

// Quiescence is the startup pause absorbing the keyboard release of
// whatever key launched the process, so that release is not grabbed
// before it reaches the terminal.
const Quiescence = 500 * time.Millisecond

type rawEvent struct {
	Sec, Usec int64
	Type      uint16
	Code      uint16
	Value     int32
}

const rawEventSize = int(unsafe.Sizeof(rawEvent{}))

// Reader owns exactly one grabbed evdev node. Run executes on the
// goroutine the reader manager's spawn call starts for it; Close may be
// called from another goroutine to stop that loop.
type Reader struct {
	path   string
	file   *os.File
	device wire.Device
	log    *logger.Logger

	events chan wire.InputEvent
	done   chan struct{}
}

// DeviceIDFromNodeName derives a DeviceID from an evdev node's base name
// ("event42" -> 42). A name with no numeric suffix yields
// wire.SyntheticDeviceID; collisions across nodes are not prevented at
// this layer (the reader manager deduplicates).
func DeviceIDFromNodeName(name string) wire.DeviceID {
	digits := strings.TrimPrefix(name, "event")
	n, err := strconv.ParseUint(digits, 10, 16)
	if err != nil {
		return wire.SyntheticDeviceID
	}
	return wire.DeviceID(n)
}

// Open opens, identifies, and grabs one evdev node for exclusive capture.
// It refuses nodes whose bustype is wire.VirtualBustype (I4: loop
// prevention). On any failure the partially-opened descriptor is closed
// and discarded.
func Open(path string, log *logger.Logger) (*Reader, error) {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}

	device, err := identify(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("capture: identify %s: %w", path, err)
	}

	if device.Bustype == wire.VirtualBustype {
		file.Close()
		return nil, fmt.Errorf("capture: %s: %w", path, ErrAlreadyOpened)
	}

	device.ID = DeviceIDFromNodeName(nodeBaseName(path))

	if err := grab(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("capture: grab %s: %w", path, err)
	}

	return &Reader{
		path:   path,
		file:   file,
		device: device,
		log:    log,
		events: make(chan wire.InputEvent, 64),
		done:   make(chan struct{}),
	}, nil
}

// ErrAlreadyOpened is returned by Open when the node is a device this
// process itself created (its bustype is wire.VirtualBustype). This is
// the result class Property P4 names.
var ErrAlreadyOpened = errAlreadyOpened{}

type errAlreadyOpened struct{}

func (errAlreadyOpened) Error() string { return "device already opened (virtual bustype)" }

func nodeBaseName(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func grab(file *os.File) error {
	var arg int32 = 1
	return callIoctl(int(file.Fd()), eviocgrab, unsafe.Pointer(&arg))
}

func release(file *os.File) error {
	var arg int32 = 0
	return callIoctl(int(file.Fd()), eviocgrab, unsafe.Pointer(&arg))
}

// Device returns the immutable descriptor captured at Open time.
func (r *Reader) Device() wire.Device { return r.device }

// Run reads events from the grabbed node until a terminal error or Close,
// sending each into events. It returns nil when the device disappeared
// (ENODEV-class error, the caller should emit RemoveDevice), and a
// non-nil error for any other failure, which is fatal to the session per
// spec.
func (r *Reader) Run(out chan<- wire.Message) error {
	buf := make([]byte, rawEventSize)
	for {
		select {
		case <-r.done:
			return nil
		default:
		}

		n, err := r.file.Read(buf)
		if err != nil {
			if isTemporary(err) {
				time.Sleep(time.Millisecond)
				continue
			}
			if isDeviceGone(err) {
				return nil
			}
			return fmt.Errorf("capture: read %s: %w", r.path, err)
		}
		if n != rawEventSize {
			continue
		}

		raw := (*rawEvent)(unsafe.Pointer(&buf[0]))
		if raw.Type == evSyn && raw.Code == synReport {
			// The kernel already delivered a real sync; readers never
			// re-emit one (see FramedEvent.Syn).
			continue
		}

		ev, ok := translate(*raw)
		if !ok {
			continue
		}

		// The kernel already delivered a real SYN_REPORT for this batch of
		// events (filtered above); readers never ask for a synthetic one.
		// Only the switch controller's combo-transition events set Syn.
		msg := wire.EventMessage(wire.FramedEvent{DeviceID: r.device.ID, Input: ev, Syn: false})
		select {
		case out <- msg:
		case <-r.done:
			return nil
		}
	}
}

func translate(raw rawEvent) (wire.InputEvent, bool) {
	if raw.Type == evKey {
		direction := wire.Up
		if raw.Value != 0 {
			direction = wire.Down
		}
		space := wire.CodeKey
		if raw.Code >= btnMisc {
			space = wire.CodeButton
		}
		return wire.KeyEvent(direction, space, raw.Code), true
	}
	return wire.OtherEvent(raw.Type, raw.Code, raw.Value), true
}

// Close releases the grab and closes the node. Safe to call once Run has
// returned or to unblock a Run loop from another goroutine.
func (r *Reader) Close() error {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	release(r.file)
	return r.file.Close()
}

func identify(file *os.File) (wire.Device, error) {
	fd := int(file.Fd())

	var id inputID
	if err := callIoctl(fd, eviocgid, unsafe.Pointer(&id)); err != nil {
		return wire.Device{}, err
	}

	const maxNameSize = 256
	nameBuf := make([]byte, maxNameSize)
	if err := callIoctl(fd, eviocgname(maxNameSize), unsafe.Pointer(&nameBuf[0])); err != nil {
		return wire.Device{}, err
	}

	caps, err := scanCapabilities(fd)
	if err != nil {
		return wire.Device{}, err
	}

	return wire.Device{
		Name:         nullTerminated(nameBuf),
		Vendor:       id.Vendor,
		Product:      id.Product,
		Bustype:      id.Bustype,
		Version:      id.Version,
		Capabilities: caps,
	}, nil
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// scanCapabilities enumerates every (type, code) pair the device reports
// in monotonically increasing (type, code) order, the order the wire
// codec preserves and the virtual-device writer depends on when
// re-enabling capabilities.
func scanCapabilities(fd int) ([]wire.Capability, error) {
	var caps []wire.Capability

	evBits := make([]byte, (evMax+1)/8+1)
	if err := callIoctl(fd, eviocgbit(0, len(evBits)), unsafe.Pointer(&evBits[0])); err != nil {
		return nil, err
	}

	for evType := 0; evType <= evMax; evType++ {
		if !bitSet(evBits, evType) {
			continue
		}
		switch evType {
		case evSyn:
			continue
		case evKey:
			codeBits := make([]byte, (keyMax+1)/8+1)
			if err := callIoctl(fd, eviocgbit(evKey, len(codeBits)), unsafe.Pointer(&codeBits[0])); err != nil {
				return nil, err
			}
			for code := 0; code <= keyMax; code++ {
				if bitSet(codeBits, code) {
					caps = append(caps, wire.OtherCapability(evKey, uint16(code)))
				}
			}
		case evAbs:
			codeBits := make([]byte, (absMax+1)/8+1)
			if err := callIoctl(fd, eviocgbit(evAbs, len(codeBits)), unsafe.Pointer(&codeBits[0])); err != nil {
				return nil, err
			}
			for code := 0; code <= absMax; code++ {
				if !bitSet(codeBits, code) {
					continue
				}
				var raw absInfoRaw
				if err := callIoctl(fd, eviocgabs(code), unsafe.Pointer(&raw)); err != nil {
					return nil, err
				}
				caps = append(caps, wire.AbsAxisCapability(uint16(code), wire.AbsInfo{
					Value:      raw.Value,
					Min:        raw.Minimum,
					Max:        raw.Maximum,
					Fuzz:       raw.Fuzz,
					Flat:       raw.Flat,
					Resolution: raw.Resolution,
				}))
			}
		case evRep:
			codeBits := make([]byte, (repMax+1)/8+1)
			if err := callIoctl(fd, eviocgbit(evRep, len(codeBits)), unsafe.Pointer(&codeBits[0])); err != nil {
				return nil, err
			}
			var rep [2]int32
			if err := callIoctl(fd, repGetIoctl(), unsafe.Pointer(&rep[0])); err == nil {
				if bitSet(codeBits, repDelay) {
					caps = append(caps, wire.AutoRepeatCapability(repDelay, rep[repDelay]))
				}
				if bitSet(codeBits, repPeriod) {
					caps = append(caps, wire.AutoRepeatCapability(repPeriod, rep[repPeriod]))
				}
			}
		default:
			// generic bitmap for every other event type (EV_REL, EV_MSC,
			// EV_LED, EV_SND, EV_SW, EV_FF, ...): record (type, code)
			// pairs as Other capabilities without extra per-code state.
			maxCode := 0xff
			codeBits := make([]byte, (maxCode+1)/8+1)
			if err := callIoctl(fd, eviocgbit(evType, len(codeBits)), unsafe.Pointer(&codeBits[0])); err != nil {
				continue
			}
			for code := 0; code <= maxCode; code++ {
				if bitSet(codeBits, code) {
					caps = append(caps, wire.OtherCapability(uint16(evType), uint16(code)))
				}
			}
		}
	}

	return caps, nil
}

// repGetIoctl returns EVIOCGREP, the ioctl to query the device's current
// auto-repeat delay/period pair.
func repGetIoctl() uintptr {
	return ioctl.R(evdevType, 0x03, unsafe.Sizeof([2]int32{}))
}

func bitSet(bits []byte, i int) bool {
	return bits[i/8]&(1<<uint(i%8)) != 0
}
