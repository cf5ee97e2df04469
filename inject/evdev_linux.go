// SPDX-License-Identifier: MIT

package inject

// Linux evdev event type constants from <linux/input-event-codes.h>,
// duplicated from the capture package rather than shared: the two
// packages use the bitmap for opposite purposes (querying vs. enabling)
// and keeping them independent avoids a cross-package coupling neither
// side needs.
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

	synReport = 0x00
)
