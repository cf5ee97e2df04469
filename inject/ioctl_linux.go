// SPDX-License-Identifier: MIT

package inject

import (
	"unsafe"

	"github.com/evan-goode/evkvm/internal/ioctl"
)

const uinputType = uintptr('U')

var (
	uiDevCreate  = ioctl.IO(uinputType, 1)
	uiDevDestroy = ioctl.IO(uinputType, 2)

	uiSetEvBit  = ioctl.W(uinputType, 100, unsafe.Sizeof(int(0)))
	uiSetKeyBit = ioctl.W(uinputType, 101, unsafe.Sizeof(int(0)))
	uiSetRelBit = ioctl.W(uinputType, 102, unsafe.Sizeof(int(0)))
	uiSetAbsBit = ioctl.W(uinputType, 103, unsafe.Sizeof(int(0)))
	uiSetMscBit = ioctl.W(uinputType, 104, unsafe.Sizeof(int(0)))
	uiSetLedBit = ioctl.W(uinputType, 105, unsafe.Sizeof(int(0)))
	uiSetSndBit = ioctl.W(uinputType, 106, unsafe.Sizeof(int(0)))
	uiSetFFBit  = ioctl.W(uinputType, 107, unsafe.Sizeof(int(0)))
	uiSetSwBit  = ioctl.W(uinputType, 109, unsafe.Sizeof(int(0)))
)

// maxNameSize mirrors UINPUT_MAX_NAME_SIZE from <linux/uinput.h>.
const maxNameSize = 80

// absCnt mirrors ABS_CNT (ABS_MAX+1) from <linux/input-event-codes.h>.
const absCnt = 0x3f + 1

// userDev mirrors the legacy struct uinput_user_dev, written with a plain
// write(2) call before UI_DEV_CREATE. The newer UI_DEV_SETUP/UI_ABS_SETUP
// ioctls avoid the fixed-size name field but are not available on every
// kernel this is expected to run on.
type userDev struct {
	Name         [maxNameSize]byte
	ID           inputID
	FFEffectsMax uint32
	AbsMax       [absCnt]int32
	AbsMin       [absCnt]int32
	AbsFuzz      [absCnt]int32
	AbsFlat      [absCnt]int32
}

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// rawEvent mirrors struct input_event as written to both /dev/uinput and
// an evdev node; the kernel ignores the timestamp fields on write.
type rawEvent struct {
	Sec, Usec int64
	Type      uint16
	Code      uint16
	Value     int32
}

const rawEventSize = int(unsafe.Sizeof(rawEvent{}))

func setEvBit(fd int, evType uintptr) error {
	return ioctl.Do(fd, uiSetEvBit, evType)
}

func setCodeBit(fd int, evType uintptr, code uintptr) error {
	var bit uintptr
	switch evType {
	case evKey:
		bit = uiSetKeyBit
	case evRel:
		bit = uiSetRelBit
	case evAbs:
		bit = uiSetAbsBit
	case evMsc:
		bit = uiSetMscBit
	case evLed:
		bit = uiSetLedBit
	case evSnd:
		bit = uiSetSndBit
	case evFF:
		bit = uiSetFFBit
	case evSw:
		bit = uiSetSwBit
	default:
		return nil
	}
	return ioctl.Do(fd, bit, code)
}
