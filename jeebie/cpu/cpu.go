package cpu

import (
	"github.com/valerio/gobeen/jeebie/addr"
	"github.com/valerio/gobeen/jeebie/bit"
	"github.com/valerio/gobeen/jeebie/memory"
)

// Flag is one of the 4 possible flags used in the flag register (low nibble of F is always zero).
type Flag uint8

const (
	zeroFlag      Flag = 0x80
	subFlag       Flag = 0x40
	halfCarryFlag Flag = 0x20
	carryFlag     Flag = 0x10
)

// interrupt vectors, in priority order from highest (VBlank) to lowest (Joypad).
const (
	vblankInterruptVector uint16 = 0x40
	statInterruptVector   uint16 = 0x48
	timerInterruptVector  uint16 = 0x50
	serialInterruptVector uint16 = 0x58
	joypadInterruptVector uint16 = 0x60
)

// CPU holds the state of the Sharp LR35902 and steps it one instruction at a time.
type CPU struct {
	bus *memory.MMU

	a, b, c, d, e, h, l, f uint8
	sp, pc                 uint16

	currentOpcode uint16
	cycles        uint64

	interruptsEnabled bool
	eiPending         bool
	halted            bool
	haltBug           bool
	stopped           bool
}

// New returns a CPU with its registers set to the values they'd hold right
// after the boot ROM hands control to the cartridge.
func New(bus *memory.MMU) *CPU {
	return &CPU{
		bus: bus,
		a:   0x01, f: 0xB0,
		b: 0x00, c: 0x13,
		d: 0x00, e: 0xD8,
		h: 0x01, l: 0x4D,
		sp: 0xFFFE,
		pc: 0x0100,
	}
}

// Reset rewinds the CPU to power-on state, for running with a boot ROM
// mapped in at address 0.
func (c *CPU) Reset() {
	*c = CPU{bus: c.bus}
}

// Step executes a single instruction, servicing a pending interrupt or
// advancing a HALT first if needed, and returns the number of T-cycles spent.
func (c *CPU) Step() int {
	start := c.cycles
	ime := c.interruptsEnabled
	pending := c.handleInterrupts()

	if c.halted {
		if pending {
			c.halted = false
			if !ime {
				c.haltBug = true
			}
		} else {
			c.bus.Tick(4)
			c.cycles += 4
			return 4
		}
	}

	opcodeFn := Decode(c)

	if c.haltBug {
		c.haltBug = false
	} else {
		c.pc++
		if c.currentOpcode&0xFF00 == 0xCB00 {
			c.pc++
		}
	}

	cycles := opcodeFn(c)

	if c.eiPending {
		c.eiPending = false
		c.interruptsEnabled = true
	}

	c.bus.Tick(cycles)
	c.cycles += uint64(cycles)

	return int(c.cycles - start)
}

// handleInterrupts checks IE & IF for a pending interrupt and, if the
// interrupt master enable flag is set, dispatches the highest priority one:
// pushes PC, jumps to its vector and clears its IF bit. It always reports
// whether an interrupt line is pending, even with interrupts disabled, since
// that's enough to wake the CPU from HALT.
func (c *CPU) handleInterrupts() bool {
	ie := c.bus.Read(addr.IE)
	iflags := c.bus.Read(addr.IF)
	pending := ie & iflags & 0x1F

	if pending == 0 {
		return false
	}

	if !c.interruptsEnabled {
		return true
	}

	var vector uint16
	var requestBit uint8
	switch {
	case pending&0x01 != 0:
		vector, requestBit = vblankInterruptVector, 0
	case pending&0x02 != 0:
		vector, requestBit = statInterruptVector, 1
	case pending&0x04 != 0:
		vector, requestBit = timerInterruptVector, 2
	case pending&0x08 != 0:
		vector, requestBit = serialInterruptVector, 3
	default:
		vector, requestBit = joypadInterruptVector, 4
	}

	c.bus.Write(addr.IF, iflags&^(1<<requestBit))
	c.interruptsEnabled = false
	c.eiPending = false
	c.pushStack(c.pc)
	c.pc = vector

	c.bus.Tick(20)
	c.cycles += 20

	return true
}

func (c *CPU) setFlag(flag Flag)   { c.f |= uint8(flag) }
func (c *CPU) resetFlag(flag Flag) { c.f &^= uint8(flag) }
func (c *CPU) isSetFlag(flag Flag) bool {
	return c.f&uint8(flag) != 0
}

func (c *CPU) setFlagToCondition(flag Flag, condition bool) {
	if condition {
		c.setFlag(flag)
	} else {
		c.resetFlag(flag)
	}
}

func (c *CPU) flagToBit(flag Flag) uint8 {
	if c.isSetFlag(flag) {
		return 1
	}
	return 0
}

func (c *CPU) getAF() uint16 { return bit.Combine(c.a, c.f) }
func (c *CPU) setAF(v uint16) {
	c.a = bit.High(v)
	c.f = bit.Low(v) & 0xF0
}

func (c *CPU) getBC() uint16 { return bit.Combine(c.b, c.c) }
func (c *CPU) setBC(v uint16) {
	c.b = bit.High(v)
	c.c = bit.Low(v)
}

func (c *CPU) getDE() uint16 { return bit.Combine(c.d, c.e) }
func (c *CPU) setDE(v uint16) {
	c.d = bit.High(v)
	c.e = bit.Low(v)
}

func (c *CPU) getHL() uint16 { return bit.Combine(c.h, c.l) }
func (c *CPU) setHL(v uint16) {
	c.h = bit.High(v)
	c.l = bit.Low(v)
}

// GetPC, GetSP and the register-pair getters below expose CPU state for
// debugging and testing; nothing in Step()'s hot path uses them.
func (c *CPU) GetPC() uint16 { return c.pc }
func (c *CPU) GetSP() uint16 { return c.sp }
func (c *CPU) GetAF() uint16 { return c.getAF() }
func (c *CPU) GetBC() uint16 { return c.getBC() }
func (c *CPU) GetDE() uint16 { return c.getDE() }
func (c *CPU) GetHL() uint16 { return c.getHL() }
