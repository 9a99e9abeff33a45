package cpu

import "github.com/valerio/gobeen/jeebie/bit"

func (c *CPU) pushStack(r uint16) {
	c.sp--
	c.bus.Write(c.sp, bit.Low(r))
	c.sp--
	c.bus.Write(c.sp, bit.High(r))
}

func (c *CPU) popStack() uint16 {
	high := c.bus.Read(c.sp)
	c.sp++
	low := c.bus.Read(c.sp)
	c.sp++

	return bit.Combine(high, low)
}

func (c *CPU) inc(r *uint8) {
	*r++
	value := *r

	c.setFlagToCondition(zeroFlag, value == 0)
	c.setFlagToCondition(halfCarryFlag, (value&0xF) == 0)
	c.resetFlag(subFlag)
}

func (c *CPU) dec(r *uint8) {
	*r--
	value := *r

	c.setFlagToCondition(zeroFlag, value == 0)
	c.setFlagToCondition(halfCarryFlag, (value&0xF) == 0xF)
	c.setFlag(subFlag)
}

// rlc rotates r left, placing the old bit 7 into both bit 0 and the carry
// flag. The zero flag is suppressed for register A, matching the
// accumulator-only RLCA/RLA/RRCA/RRA encodings this helper also backs.
func (c *CPU) rlc(r *uint8) {
	value := *r
	carryOut := value > 0x7F

	value = (value << 1) | (value >> 7)
	*r = value

	c.resetFlag(subFlag)
	c.resetFlag(halfCarryFlag)
	c.setFlagToCondition(carryFlag, carryOut)

	if r == &c.a {
		c.resetFlag(zeroFlag)
	} else {
		c.setFlagToCondition(zeroFlag, value == 0)
	}
}

func (c *CPU) rl(r *uint8) {
	value := *r
	carryIn := c.flagToBit(carryFlag)
	carryOut := value > 0x7F

	value = (value << 1) | carryIn
	*r = value

	c.resetFlag(subFlag)
	c.resetFlag(halfCarryFlag)
	c.setFlagToCondition(carryFlag, carryOut)

	if r == &c.a {
		c.resetFlag(zeroFlag)
	} else {
		c.setFlagToCondition(zeroFlag, value == 0)
	}
}

func (c *CPU) rrc(r *uint8) {
	value := *r
	carryOut := value&0x01 != 0

	value = (value >> 1) | ((value & 1) << 7)
	*r = value

	c.resetFlag(subFlag)
	c.resetFlag(halfCarryFlag)
	c.setFlagToCondition(carryFlag, carryOut)

	if r == &c.a {
		c.resetFlag(zeroFlag)
	} else {
		c.setFlagToCondition(zeroFlag, value == 0)
	}
}

func (c *CPU) rr(r *uint8) {
	value := *r
	carryIn := c.flagToBit(carryFlag) << 7
	carryOut := value&0x01 != 0

	value = (value >> 1) | carryIn
	*r = value

	c.resetFlag(subFlag)
	c.resetFlag(halfCarryFlag)
	c.setFlagToCondition(carryFlag, carryOut)

	if r == &c.a {
		c.resetFlag(zeroFlag)
	} else {
		c.setFlagToCondition(zeroFlag, value == 0)
	}
}

func (c *CPU) sla(r *uint8) {
	carryOut := *r&0x80 != 0
	*r <<= 1

	c.setFlagToCondition(zeroFlag, *r == 0)
	c.resetFlag(subFlag)
	c.resetFlag(halfCarryFlag)
	c.setFlagToCondition(carryFlag, carryOut)
}

// sra shifts r right, keeping bit 7 fixed (arithmetic shift).
func (c *CPU) sra(r *uint8) {
	msb := *r & 0x80
	carryOut := *r&0x01 != 0
	*r = (*r >> 1) | msb

	c.setFlagToCondition(zeroFlag, *r == 0)
	c.resetFlag(subFlag)
	c.resetFlag(halfCarryFlag)
	c.setFlagToCondition(carryFlag, carryOut)
}

func (c *CPU) srl(r *uint8) {
	carryOut := *r&0x01 != 0
	*r >>= 1

	c.setFlagToCondition(zeroFlag, *r == 0)
	c.resetFlag(subFlag)
	c.resetFlag(halfCarryFlag)
	c.setFlagToCondition(carryFlag, carryOut)
}

func (c *CPU) swap(r *uint8) {
	*r = (*r << 4) | (*r >> 4)

	c.setFlagToCondition(zeroFlag, *r == 0)
	c.resetFlag(subFlag)
	c.resetFlag(halfCarryFlag)
	c.resetFlag(carryFlag)
}

// add sets the result of adding an 8 bit register to A, while setting all relevant flags.
func (c *CPU) addToA(value uint8) {
	a := c.a
	result := a + value

	carry := (uint16(a) + uint16(value)) > 0xFF
	halfCarry := (a&0xF)+(value&0xF) > 0xF

	c.setFlagToCondition(zeroFlag, result == 0)
	c.resetFlag(subFlag)
	c.setFlagToCondition(carryFlag, carry)
	c.setFlagToCondition(halfCarryFlag, halfCarry)

	c.a = result
}

// adc adds value and the carry flag to A, while setting all relevant flags.
func (c *CPU) adc(value uint8) {
	a := c.a
	carry := c.flagToBit(carryFlag)
	result := uint16(a) + uint16(value) + uint16(carry)

	halfCarry := (a&0xF)+(value&0xF)+carry > 0xF

	c.setFlagToCondition(zeroFlag, uint8(result) == 0)
	c.resetFlag(subFlag)
	c.setFlagToCondition(carryFlag, result > 0xFF)
	c.setFlagToCondition(halfCarryFlag, halfCarry)

	c.a = uint8(result)
}

// addToHL sets the result of adding a 16 bit register to HL, while setting relevant flags.
func (c *CPU) addToHL(reg uint16) {
	hl := bit.Combine(c.h, c.l)
	result := hl + reg

	carry := (uint32(hl) + uint32(reg)) > 0xFFFF
	halfCarry := (hl&0xFFF)+(reg&0xFFF) > 0xFFF

	c.resetFlag(subFlag)
	c.setFlagToCondition(carryFlag, carry)
	c.setFlagToCondition(halfCarryFlag, halfCarry)

	c.h = bit.High(result)
	c.l = bit.Low(result)
}

// sub will subtract the value from register A and set all relevant flags.
func (c *CPU) sub(value uint8) {
	a := c.a
	c.a = a - value

	c.setFlagToCondition(zeroFlag, c.a == 0)
	c.setFlag(subFlag)
	c.setFlagToCondition(carryFlag, a < value)
	c.setFlagToCondition(halfCarryFlag, (int(a)&0xF)-(int(value)&0xF) < 0)
}

// sbc will subtract the value and carry (1 if set, 0 otherwise) from the register A.
func (c *CPU) sbc(value uint8) {
	a := c.a
	carry := 0
	if c.isSetFlag(carryFlag) {
		carry = 1
	}

	result := int(c.a) - int(value) - carry
	c.a = uint8(result)

	c.setFlagToCondition(zeroFlag, c.a == 0)
	c.setFlag(subFlag)
	c.setFlagToCondition(carryFlag, result < 0)
	c.setFlagToCondition(halfCarryFlag, (int(a)&0xF)-(int(value)&0xF)-carry < 0)
}

// cp compares value against A, setting the flags sub() would without storing the result.
func (c *CPU) cp(value uint8) {
	a := c.a
	result := a - value

	c.setFlagToCondition(zeroFlag, result == 0)
	c.setFlag(subFlag)
	c.setFlagToCondition(carryFlag, a < value)
	c.setFlagToCondition(halfCarryFlag, (int(a)&0xF)-(int(value)&0xF) < 0)
}

func (c *CPU) and(value uint8) {
	c.a &= value
	c.setFlagToCondition(zeroFlag, c.a == 0)
	c.resetFlag(subFlag)
	c.resetFlag(carryFlag)
	c.setFlag(halfCarryFlag)
}

func (c *CPU) or(value uint8) {
	c.a |= value
	c.setFlagToCondition(zeroFlag, c.a == 0)
	c.resetFlag(subFlag)
	c.resetFlag(carryFlag)
	c.resetFlag(halfCarryFlag)
}

func (c *CPU) xor(value uint8) {
	c.a ^= value
	c.setFlagToCondition(zeroFlag, c.a == 0)
	c.resetFlag(subFlag)
	c.resetFlag(carryFlag)
	c.resetFlag(halfCarryFlag)
}

// daa adjusts A into packed BCD form after an 8 bit add or subtract.
func (c *CPU) daa() {
	a := c.a
	adjust := uint8(0)
	carry := c.isSetFlag(carryFlag)

	if c.isSetFlag(subFlag) {
		if c.isSetFlag(halfCarryFlag) {
			adjust |= 0x06
		}
		if carry {
			adjust |= 0x60
		}
		a -= adjust
	} else {
		if c.isSetFlag(halfCarryFlag) || (a&0xF) > 0x9 {
			adjust |= 0x06
		}
		if carry || a > 0x99 {
			adjust |= 0x60
			carry = true
		}
		a += adjust
	}

	c.setFlagToCondition(zeroFlag, a == 0)
	c.resetFlag(halfCarryFlag)
	c.setFlagToCondition(carryFlag, carry)

	c.a = a
}

// bit tests bit idx of value and sets the zero flag to its complement.
func (c *CPU) bit(idx uint8, value uint8) {
	c.setFlagToCondition(zeroFlag, !bit.IsSet(idx, value))
	c.resetFlag(subFlag)
	c.setFlag(halfCarryFlag)
}

func (c *CPU) set(idx uint8, r *uint8) {
	*r = bit.Set(idx, *r)
}

func (c *CPU) res(idx uint8, r *uint8) {
	*r = bit.Reset(idx, *r)
}

// jr reads a signed relative offset and jumps to pc+offset.
func (c *CPU) jr() {
	offset := int8(c.readImmediate())
	c.pc = uint16(int32(c.pc) + int32(offset))
}

// readImmediate reads the byte at pc and advances pc past it.
func (c *CPU) readImmediate() uint8 {
	value := c.bus.Read(c.pc)
	c.pc++
	return value
}

// readImmediateWord reads a little-endian word at pc and advances pc past it.
func (c *CPU) readImmediateWord() uint16 {
	low := c.readImmediate()
	high := c.readImmediate()
	return bit.Combine(high, low)
}

// readSignedImmediate reads the signed byte at pc and advances pc past it.
func (c *CPU) readSignedImmediate() int8 {
	return int8(c.readImmediate())
}
