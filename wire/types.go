// SPDX-License-Identifier: MIT

// Package wire defines the data model carried across a session: device
// descriptors, input events, and the protocol messages built from them.
// Every type here is immutable once constructed and safe to share across
// goroutines.
package wire

// DeviceID locally identifies a device within one session. On the
// capturing side it is the numeric suffix of the device node name
// ("event42" -> 42); SyntheticDeviceID marks a descriptor with no
// corresponding physical node.
type DeviceID uint16

// SyntheticDeviceID is the sentinel used when a device node's name carries
// no parseable numeric suffix.
const SyntheticDeviceID DeviceID = 0

// VirtualBustype is the bustype value every injected virtual device
// advertises. The capture side refuses to open any node reporting this
// bustype, closing the capture/inject loop (I4): a device this process
// itself created can never be re-read as a new source.
const VirtualBustype uint16 = 0x06

// CapabilityKind selects which field of Capability is meaningful.
type CapabilityKind uint8

const (
	CapAbsAxis CapabilityKind = iota
	CapAutoRepeat
	CapOther
)

// AbsInfo mirrors the kernel's input_absinfo structure for one absolute
// axis.
type AbsInfo struct {
	Value      int32 `cbor:"1,keyasint"`
	Min        int32 `cbor:"2,keyasint"`
	Max        int32 `cbor:"3,keyasint"`
	Fuzz       int32 `cbor:"4,keyasint"`
	Flat       int32 `cbor:"5,keyasint"`
	Resolution int32 `cbor:"6,keyasint"`
}

// Capability is one entry of a device's capability list. The wire codec
// preserves list order exactly as received: re-enabling capabilities out
// of order on the injecting side can cause the kernel to reject later
// codes (see Device.Capabilities).
type Capability struct {
	Kind CapabilityKind `cbor:"1,keyasint"`
	Code uint16         `cbor:"2,keyasint"`

	// Abs is valid when Kind == CapAbsAxis.
	Abs AbsInfo `cbor:"3,keyasint,omitempty"`
	// RepeatValue is valid when Kind == CapAutoRepeat.
	RepeatValue int32 `cbor:"4,keyasint,omitempty"`
	// Type is valid when Kind == CapOther: the raw evdev event type this
	// (type, code) pair belongs to.
	Type uint16 `cbor:"5,keyasint,omitempty"`
}

func AbsAxisCapability(code uint16, info AbsInfo) Capability {
	return Capability{Kind: CapAbsAxis, Code: code, Abs: info}
}

func AutoRepeatCapability(code uint16, value int32) Capability {
	return Capability{Kind: CapAutoRepeat, Code: code, RepeatValue: value}
}

func OtherCapability(evType, code uint16) Capability {
	return Capability{Kind: CapOther, Code: code, Type: evType}
}

// Device is an immutable descriptor of one input device, identifying and
// capability information captured once at open time.
type Device struct {
	ID           DeviceID     `cbor:"1,keyasint"`
	Name         string       `cbor:"2,keyasint"`
	Vendor       uint16       `cbor:"3,keyasint"`
	Product      uint16       `cbor:"4,keyasint"`
	Bustype      uint16       `cbor:"5,keyasint"`
	Version      uint16       `cbor:"6,keyasint"`
	Capabilities []Capability `cbor:"7,keyasint"`
}

// EventKind selects which field of InputEvent is meaningful.
type EventKind uint8

const (
	EventKey EventKind = iota
	EventOther
)

// KeyDirection is the direction of a Key event.
type KeyDirection uint8

const (
	Up KeyDirection = iota
	Down
)

// KeyCodeSpace distinguishes keyboard key codes from mouse/gamepad button
// codes within a Key event; both are plain evdev codes, just from
// different conventional code ranges.
type KeyCodeSpace uint8

const (
	CodeKey    KeyCodeSpace = iota // keyboard
	CodeButton                     // mouse/gamepad
)

// InputEvent is a tagged variant: a Key press/release, or a raw Other
// event (used for relative motion, absolute axis updates, LEDs, and
// anything else not modeled as a key).
type InputEvent struct {
	Kind EventKind `cbor:"1,keyasint"`

	// Valid when Kind == EventKey.
	Direction KeyDirection `cbor:"2,keyasint,omitempty"`
	CodeSpace KeyCodeSpace `cbor:"3,keyasint,omitempty"`
	Code      uint16       `cbor:"4,keyasint,omitempty"`

	// Valid when Kind == EventOther.
	Type  uint16 `cbor:"5,keyasint,omitempty"`
	Value int32  `cbor:"6,keyasint,omitempty"`
}

func KeyEvent(direction KeyDirection, space KeyCodeSpace, code uint16) InputEvent {
	return InputEvent{Kind: EventKey, Direction: direction, CodeSpace: space, Code: code}
}

func OtherEvent(evType, code uint16, value int32) InputEvent {
	return InputEvent{Kind: EventOther, Type: evType, Code: code, Value: value}
}

// IsKeyCode reports whether e is a Key event for the given code space, and if
// so returns its code.
func (e InputEvent) IsKeyCode(space KeyCodeSpace) (code uint16, ok bool) {
	if e.Kind != EventKey || e.CodeSpace != space {
		return 0, false
	}
	return e.Code, true
}

// FramedEvent is the transport granularity: one input event attributed to
// one device, plus a request that the injector follow it with a
// synchronization pulse.
type FramedEvent struct {
	DeviceID DeviceID   `cbor:"1,keyasint"`
	Input    InputEvent `cbor:"2,keyasint"`
	Syn      bool       `cbor:"3,keyasint,omitempty"`
}

// MessageKind selects which field of Message is meaningful.
type MessageKind uint8

const (
	MessageEvent MessageKind = iota
	MessageNewDevice
	MessageRemoveDevice
	MessageKeepAlive
)

// Message is the unit carried by one codec frame: a data event, a device
// lifecycle notification, or a keepalive.
type Message struct {
	Kind MessageKind `cbor:"1,keyasint"`

	Event        FramedEvent `cbor:"2,keyasint,omitempty"`
	NewDevice    Device      `cbor:"3,keyasint,omitempty"`
	RemoveDevice DeviceID    `cbor:"4,keyasint,omitempty"`
}

func EventMessage(e FramedEvent) Message {
	return Message{Kind: MessageEvent, Event: e}
}

func NewDeviceMessage(d Device) Message {
	return Message{Kind: MessageNewDevice, NewDevice: d}
}

func RemoveDeviceMessage(id DeviceID) Message {
	return Message{Kind: MessageRemoveDevice, RemoveDevice: id}
}

func KeepAliveMessage() Message {
	return Message{Kind: MessageKeepAlive}
}
