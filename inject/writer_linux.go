// SPDX-License-Identifier: MIT

// Package inject implements the virtual device writer (C3) and writer
// manager (C5): mirroring a remote device descriptor into a uinput
// virtual device and replaying received events onto it.
package inject

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/evan-goode/evkvm/internal/ioctl"
	"github.com/evan-goode/evkvm/wire"
)

const uinputPath = "/dev/uinput"

// Writer owns exactly one uinput virtual device, created to mirror a
// remote Device descriptor. It is not safe for concurrent use; the
// writer manager serializes all access to one device behind its own
// session goroutine.
type Writer struct {
	file *os.File
}

// Open creates a uinput virtual device mirroring device: same vendor,
// product, version and name, VirtualBustype substituted for the original
// bustype (I4), and every capability enabled in wire order.
func Open(device wire.Device) (*Writer, error) {
	file, err := os.OpenFile(uinputPath, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("inject: open %s: %w", uinputPath, err)
	}

	fd := int(file.Fd())
	if err := enableCapabilities(fd, device.Capabilities); err != nil {
		file.Close()
		return nil, fmt.Errorf("inject: enable capabilities: %w", err)
	}

	if err := createDevice(file, device); err != nil {
		file.Close()
		return nil, fmt.Errorf("inject: create device: %w", err)
	}

	return &Writer{file: file}, nil
}

func enableCapabilities(fd int, caps []wire.Capability) error {
	evTypes := make(map[uintptr]bool)
	for _, c := range caps {
		var evType uintptr
		switch c.Kind {
		case wire.CapAbsAxis:
			evType = evAbs
		case wire.CapAutoRepeat:
			evType = evRep
		case wire.CapOther:
			evType = uintptr(c.Type)
		}
		evTypes[evType] = true
	}
	for evType := range evTypes {
		if err := setEvBit(fd, evType); err != nil {
			return fmt.Errorf("UI_SET_EVBIT %#x: %w", evType, err)
		}
	}

	for _, c := range caps {
		var evType uintptr
		switch c.Kind {
		case wire.CapAbsAxis:
			evType = evAbs
		case wire.CapAutoRepeat:
			// EV_REP has no per-code UI_SET_*BIT; the kernel grants it
			// automatically to any device with at least one key capability.
			continue
		case wire.CapOther:
			evType = uintptr(c.Type)
			if evType == evSyn {
				continue
			}
		}
		if err := setCodeBit(fd, evType, uintptr(c.Code)); err != nil {
			return fmt.Errorf("set code bit type=%#x code=%#x: %w", evType, c.Code, err)
		}
	}
	return nil
}

func createDevice(file *os.File, device wire.Device) error {
	var uidev userDev
	copy(uidev.Name[:], device.Name)
	uidev.ID = inputID{
		Bustype: wire.VirtualBustype,
		Vendor:  device.Vendor,
		Product: device.Product,
		Version: device.Version,
	}

	for _, c := range device.Capabilities {
		if c.Kind != wire.CapAbsAxis {
			continue
		}
		code := c.Code
		if int(code) >= len(uidev.AbsMax) {
			continue
		}
		uidev.AbsMax[code] = c.Abs.Max
		uidev.AbsMin[code] = c.Abs.Min
		uidev.AbsFuzz[code] = c.Abs.Fuzz
		uidev.AbsFlat[code] = c.Abs.Flat
	}

	buf := (*[unsafe.Sizeof(userDev{})]byte)(unsafe.Pointer(&uidev))[:]
	if _, err := file.Write(buf); err != nil {
		return fmt.Errorf("write uinput_user_dev: %w", err)
	}

	fd := int(file.Fd())
	if err := ioctl.Do(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

// Write replays one input event and, if requested, follows it with a
// synchronization pulse so the receiving kernel driver applies the event
// atomically.
func (w *Writer) Write(event wire.InputEvent, syn bool) error {
	if err := w.writeRaw(toRaw(event)); err != nil {
		return err
	}
	if syn {
		return w.writeRaw(rawEvent{Type: evSyn, Code: synReport})
	}
	return nil
}

func toRaw(event wire.InputEvent) rawEvent {
	if code, ok := event.IsKeyCode(wire.CodeKey); ok {
		return rawEvent{Type: evKey, Code: code, Value: keyValue(event.Direction)}
	}
	if code, ok := event.IsKeyCode(wire.CodeButton); ok {
		return rawEvent{Type: evKey, Code: code, Value: keyValue(event.Direction)}
	}
	return rawEvent{Type: event.Type, Code: event.Code, Value: event.Value}
}

func keyValue(direction wire.KeyDirection) int32 {
	if direction == wire.Down {
		return 1
	}
	return 0
}

func (w *Writer) writeRaw(ev rawEvent) error {
	buf := (*[rawEventSize]byte)(unsafe.Pointer(&ev))[:]
	_, err := w.file.Write(buf)
	return err
}

// Close destroys the virtual device and releases its file descriptor.
func (w *Writer) Close() error {
	fd := int(w.file.Fd())
	ioctl.Do(fd, uiDevDestroy, 0)
	return w.file.Close()
}
