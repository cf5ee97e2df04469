// SPDX-License-Identifier: MIT

// Package keycode translates the human-readable key names used in
// configuration ("LeftAlt", "RightAlt") into the evdev key codes from
// <linux/input-event-codes.h> that the wire protocol and combo state
// machine operate on.
package keycode

import "fmt"

// byName covers the modifier and navigation keys realistic as
// switch-combo members. It is deliberately not exhaustive over every
// KEY_* code in the kernel header; add entries as configurations need
// them.
var byName = map[string]uint16{
	"Esc":        1,
	"LeftCtrl":   29,
	"RightCtrl":  97,
	"LeftShift":  42,
	"RightShift": 54,
	"LeftAlt":    56,
	"RightAlt":   100,
	"LeftMeta":   125,
	"RightMeta":  126,
	"CapsLock":   58,
	"Tab":        15,
	"Space":      57,
	"Enter":      28,
}

// Lookup resolves a configured key name to its evdev code.
func Lookup(name string) (uint16, error) {
	code, ok := byName[name]
	if !ok {
		return 0, fmt.Errorf("keycode: unrecognized key name %q", name)
	}
	return code, nil
}

// ParseAll resolves a list of names, as used for switch-keys, returning
// the first unrecognized name as an error.
func ParseAll(names []string) ([]uint16, error) {
	codes := make([]uint16, 0, len(names))
	for _, name := range names {
		code, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}
