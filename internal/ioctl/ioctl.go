// SPDX-License-Identifier: MIT

// Package ioctl computes Linux ioctl request numbers with the same
// _IOC/_IOR/_IOW/_IO formulas as <asm-generic/ioctl.h>, shared by the
// capture (evdev) and inject (uinput) packages so neither hard-codes the
// resulting magic numbers.
package ioctl

import "golang.org/x/sys/unix"

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits

	dirNone  = 0
	dirWrite = 1
	dirRead  = 2
)

func Encode(dir, typ, nr, size uintptr) uintptr {
	return (dir << dirShift) | (typ << typeShift) | (nr << nrShift) | (size << sizeShift)
}

func R(typ, nr, size uintptr) uintptr { return Encode(dirRead, typ, nr, size) }
func W(typ, nr, size uintptr) uintptr { return Encode(dirWrite, typ, nr, size) }
func IO(typ, nr uintptr) uintptr      { return Encode(dirNone, typ, nr, 0) }

// Do issues the ioctl syscall directly; golang.org/x/sys/unix has no
// generic arbitrary-struct ioctl wrapper, only typed helpers for specific
// requests.
func Do(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}
