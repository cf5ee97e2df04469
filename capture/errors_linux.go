// SPDX-License-Identifier: MIT

package capture

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isTemporary reports whether err is the expected result of a
// non-blocking read on a node with nothing currently to report.
func isTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// isDeviceGone reports whether err is the ENODEV-class error the kernel
// returns once a node's backing device has been unplugged. Per spec this
// is not an error: it is the trigger for a RemoveDevice notification.
func isDeviceGone(err error) bool {
	return errors.Is(err, unix.ENODEV)
}
