// SPDX-License-Identifier: MIT

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolVersion is the only version this codec speaks. The version
// handshake is fatal to the session on any mismatch.
const ProtocolVersion uint16 = 1

// MaxFrameSize bounds a single decoded frame; a length prefix beyond this
// is treated as a protocol error rather than an attempt to allocate an
// attacker-controlled amount of memory.
const MaxFrameSize = 16 << 20 // 16 MiB

// ErrClosed is returned by ReadMessage when the peer closed the stream
// cleanly, with no bytes consumed into a partial frame.
var ErrClosed = errors.New("wire: connection closed")

// ErrVersionMismatch is returned by the version handshake when the peer
// advertises a protocol version other than ProtocolVersion.
var ErrVersionMismatch = errors.New("wire: protocol version mismatch")

// ProtocolError reports a malformed frame: a length prefix with no valid
// payload, a truncated frame, or a payload that fails to decode.
type ProtocolError struct {
	reason string
	err    error
}

func (e *ProtocolError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("wire: protocol error: %s: %v", e.reason, e.err)
	}
	return fmt.Sprintf("wire: protocol error: %s", e.reason)
}

func (e *ProtocolError) Unwrap() error { return e.err }

func protocolErrorf(err error, reason string, args ...any) *ProtocolError {
	return &ProtocolError{reason: fmt.Sprintf(reason, args...), err: err}
}

// ErrTruncated is wrapped by a ProtocolError when EOF arrives mid-frame.
var ErrTruncated = errors.New("wire: truncated frame")

var encMode = func() cbor.EncMode {
	m, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// WriteVersion writes this side's protocol version as the first two bytes
// of the stream. Both sides write their version before reading the
// peer's.
func WriteVersion(w io.Writer) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], ProtocolVersion)
	_, err := w.Write(buf[:])
	return err
}

// ReadVersion reads the peer's protocol version and returns
// ErrVersionMismatch if it differs from ProtocolVersion. No Event is
// processed until both sides have exchanged versions successfully.
func ReadVersion(r io.Reader) error {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrClosed
		}
		return err
	}
	peerVersion := binary.LittleEndian.Uint16(buf[:])
	if peerVersion != ProtocolVersion {
		return ErrVersionMismatch
	}
	return nil
}

// WriteMessage serializes m and writes it as one length-prefixed frame.
// A serialize failure here is a programmer error (an unrepresentable
// Message was constructed) and is not expected in well-formed code.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := encMode.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("wire: message failed to serialize: %v", err))
	}
	if len(payload) > MaxFrameSize {
		return protocolErrorf(nil, "frame of %d bytes exceeds maximum %d", len(payload), MaxFrameSize)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads one length-prefixed frame and decodes it. It returns
// ErrClosed if the peer closed the stream with no bytes consumed into a
// new frame, a ProtocolError wrapping ErrTruncated if EOF arrives after
// the length prefix or mid-payload, and a ProtocolError if the payload
// cannot be decoded.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, protocolErrorf(ErrTruncated, "truncated length prefix")
		}
		return Message{}, err
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return Message{}, protocolErrorf(nil, "frame of %d bytes exceeds maximum %d", length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, protocolErrorf(ErrTruncated, "truncated frame body")
		}
		return Message{}, err
	}

	var m Message
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return Message{}, protocolErrorf(err, "could not decode frame payload")
	}
	return m, nil
}
