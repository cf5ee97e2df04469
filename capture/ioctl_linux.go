// SPDX-License-Identifier: MIT

package capture

import (
	"unsafe"

	"github.com/evan-goode/evkvm/internal/ioctl"
)

const evdevType = uintptr('E')

var (
	eviocgversion = ioctl.R(evdevType, 0x01, 4) // int
	eviocgid      = ioctl.R(evdevType, 0x02, unsafe.Sizeof(inputID{}))
	eviocgrab     = ioctl.W(evdevType, 0x90, 4) // int
)

func eviocgname(size int) uintptr {
	return ioctl.Encode(2 /* read */, evdevType, 0x06, uintptr(size))
}

func eviocgbit(evType, size int) uintptr {
	return ioctl.Encode(2 /* read */, evdevType, uintptr(0x20+evType), uintptr(size))
}

func eviocgabs(abs int) uintptr {
	return ioctl.R(evdevType, uintptr(0x40+abs), unsafe.Sizeof(absInfoRaw{}))
}

// inputID mirrors struct input_id from <linux/input.h>.
type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// absInfoRaw mirrors struct input_absinfo from <linux/input.h>.
type absInfoRaw struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

func callIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	return ioctl.Do(fd, req, uintptr(arg))
}
