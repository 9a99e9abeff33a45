package memory

import "github.com/valerio/gobeen/jeebie/bit"

// JoypadKey represents a physical Game Boy button.
type JoypadKey uint8

const (
	JoypadRight JoypadKey = iota
	JoypadLeft
	JoypadUp
	JoypadDown
	JoypadA
	JoypadB
	JoypadSelect
	JoypadStart
)

// Joypad models the P1 (0xFF00) register: a selection mux over two button
// groups plus a latched rising-edge interrupt flag, polled once per CPU step.
type Joypad struct {
	dpad    uint8 // bit 0=Right,1=Left,2=Up,3=Down; 0=pressed
	buttons uint8 // bit 0=A,1=B,2=Select,3=Start; 0=pressed

	selectDpad    bool
	selectButtons bool

	edge bool
}

// NewJoypad returns a joypad with all buttons released and no group selected.
func NewJoypad() *Joypad {
	return &Joypad{
		dpad:    0x0F,
		buttons: 0x0F,
	}
}

// Select updates the selection bits (4,5) written to P1 by software.
func (j *Joypad) Select(value uint8) {
	j.selectDpad = !bit.IsSet(4, value)
	j.selectButtons = !bit.IsSet(5, value)
}

// Read returns the full P1 byte: bits 6-7 always 1, bits 4-5 mirror the
// current selection, and the low nibble is active-low for the selected group(s).
func (j *Joypad) Read() uint8 {
	result := uint8(0xC0)

	if !j.selectDpad {
		result |= 1 << 4
	}
	if !j.selectButtons {
		result |= 1 << 5
	}

	switch {
	case j.selectButtons && j.selectDpad:
		result |= j.buttons & j.dpad & 0x0F
	case j.selectButtons:
		result |= j.buttons & 0x0F
	case j.selectDpad:
		result |= j.dpad & 0x0F
	default:
		result |= 0x0F
	}

	return result
}

// Press marks a button as held. A released->pressed transition latches the edge flag.
func (j *Joypad) Press(key JoypadKey) {
	before := j.dpad<<4 | j.buttons
	j.setBit(key, false)
	after := j.dpad<<4 | j.buttons

	// a previously-high (released) bit going low latches the edge, selected or not
	if before&^after != 0 {
		j.edge = true
	}
}

// Release marks a button as no longer held.
func (j *Joypad) Release(key JoypadKey) {
	j.setBit(key, true)
}

func (j *Joypad) setBit(key JoypadKey, released bool) {
	var group *uint8
	var idx uint8

	switch key {
	case JoypadRight:
		group, idx = &j.dpad, 0
	case JoypadLeft:
		group, idx = &j.dpad, 1
	case JoypadUp:
		group, idx = &j.dpad, 2
	case JoypadDown:
		group, idx = &j.dpad, 3
	case JoypadA:
		group, idx = &j.buttons, 0
	case JoypadB:
		group, idx = &j.buttons, 1
	case JoypadSelect:
		group, idx = &j.buttons, 2
	case JoypadStart:
		group, idx = &j.buttons, 3
	default:
		return
	}

	if released {
		*group = bit.Set(idx, *group)
	} else {
		*group = bit.Reset(idx, *group)
	}
}

// DrainInterrupt returns whether a button edge was latched since the last
// call, clearing the flag. Intended to be polled once per CPU step.
func (j *Joypad) DrainInterrupt() bool {
	fired := j.edge
	j.edge = false
	return fired
}
