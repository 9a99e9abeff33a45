// Package integration drives jeebie.Emulator end to end against small,
// purpose-built ROM images instead of real game/test-suite ROMs, pinning
// down the handful of behaviors every other package's unit tests assume but
// never exercise together: boot-time register state, the stack, conditional
// branches, BCD correction, VBlank interrupt dispatch and an MBC1 banking
// quirk.
package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valerio/gobeen/jeebie"
	"github.com/valerio/gobeen/jeebie/addr"
)

// Scenario 1: with no boot ROM, a freshly created emulator's CPU holds the
// post-boot-ROM register values real hardware leaves behind.
func TestBootRegisterBaseline(t *testing.T) {
	emu := jeebie.New()
	cpu := emu.GetCPU()

	assert.Equal(t, uint16(0x0100), cpu.GetPC())
	assert.Equal(t, uint16(0xFFFE), cpu.GetSP())
	assert.Equal(t, uint16(0x01B0), cpu.GetAF())
	assert.Equal(t, uint16(0x0013), cpu.GetBC())
	assert.Equal(t, uint16(0x00D8), cpu.GetDE())
	assert.Equal(t, uint16(0x014D), cpu.GetHL())
}

// Scenario 2: LD BC,0x0102; PUSH BC; POP DE leaves DE holding what was
// pushed, SP back where it started, and the pushed bytes visible on the
// stack in between.
func TestPushPopRoundTrip(t *testing.T) {
	program := []byte{
		0x01, 0x02, 0x01, // LD BC, 0x0102
		0xC5, // PUSH BC
		0xD1, // POP DE
	}
	rom := buildROM(t, 0x8000, 0x00, program)
	emu, err := jeebie.NewWithFile(writeROM(t, rom))
	if err != nil {
		t.Fatalf("loading synthetic ROM: %v", err)
	}

	cpu := emu.GetCPU()
	initialSP := cpu.GetSP()

	emu.Step() // LD BC,0x0102
	assert.Equal(t, uint16(0x0102), cpu.GetBC())

	emu.Step() // PUSH BC
	sp := cpu.GetSP()
	assert.Equal(t, initialSP-2, sp)
	assert.Equal(t, uint8(0x01), emu.GetMMU().Read(sp), "high byte at SP-2")
	assert.Equal(t, uint8(0x02), emu.GetMMU().Read(sp+1), "low byte at SP-1")

	emu.Step() // POP DE
	assert.Equal(t, uint16(0x0102), cpu.GetDE())
	assert.Equal(t, initialSP, cpu.GetSP())
}

// Scenario 3: LD A,0; OR A; JR NZ,+2; INC A. Z is set by the OR, so the
// branch is not taken and the INC A always executes.
func TestConditionalJumpNotTaken(t *testing.T) {
	program := []byte{
		0x3E, 0x00, // LD A, 0
		0xB7,       // OR A
		0x20, 0x02, // JR NZ, +2
		0x3C, // INC A
	}
	rom := buildROM(t, 0x8000, 0x00, program)
	emu, err := jeebie.NewWithFile(writeROM(t, rom))
	if err != nil {
		t.Fatalf("loading synthetic ROM: %v", err)
	}

	cpu := emu.GetCPU()
	for i := 0; i < 4; i++ {
		emu.Step()
	}

	assert.Equal(t, uint8(0x01), uint8(cpu.GetAF()>>8))
}

// Scenario 4: LD A,0x15; LD B,0x27; ADD A,B; DAA corrects the binary sum
// back into packed BCD, with carry/zero cleared.
func TestDAACorrection(t *testing.T) {
	program := []byte{
		0x3E, 0x15, // LD A, 0x15
		0x06, 0x27, // LD B, 0x27
		0x80, // ADD A, B
		0x27, // DAA
	}
	rom := buildROM(t, 0x8000, 0x00, program)
	emu, err := jeebie.NewWithFile(writeROM(t, rom))
	if err != nil {
		t.Fatalf("loading synthetic ROM: %v", err)
	}

	cpu := emu.GetCPU()
	for i := 0; i < 4; i++ {
		emu.Step()
	}

	af := cpu.GetAF()
	a := uint8(af >> 8)
	f := uint8(af)

	assert.Equal(t, uint8(0x42), a)
	assert.Equal(t, uint8(0), f&0x80, "Z flag should be clear")
	assert.Equal(t, uint8(0), f&0x10, "C flag should be clear")
}

// Scenario 5: with the display on and VBlank interrupts enabled, running
// far enough pushes the return address, clears IF bit 0, and vectors
// execution through 0x0040.
func TestVBlankInterruptFiring(t *testing.T) {
	program := []byte{0xFB} // EI, then an ocean of NOPs (zero-filled ROM)
	rom := buildROM(t, 0x8000, 0x00, program)
	emu, err := jeebie.NewWithFile(writeROM(t, rom))
	if err != nil {
		t.Fatalf("loading synthetic ROM: %v", err)
	}

	mmu := emu.GetMMU()
	mmu.Write(addr.LCDC, 0x80)
	mmu.Write(addr.IE, 0x01)

	cpu := emu.GetCPU()

	const maxSteps = 200000
	dispatched := false
	for i := 0; i < maxSteps; i++ {
		spBefore := cpu.GetSP()
		pcBefore := cpu.GetPC()

		emu.Step()

		if cpu.GetSP() != spBefore-2 {
			continue
		}

		sp := cpu.GetSP()
		high := mmu.Read(sp)
		low := mmu.Read(sp + 1)
		returnAddr := uint16(high)<<8 | uint16(low)

		assert.Equal(t, pcBefore, returnAddr, "pushed return address should be the pre-dispatch PC")
		assert.Equal(t, uint8(0), mmu.Read(addr.IF)&0x01, "VBlank IF bit should be cleared on dispatch")
		assert.NotEqual(t, pcBefore, cpu.GetPC(), "PC should have moved into the VBlank vector")

		dispatched = true
		break
	}

	assert.True(t, dispatched, "VBlank interrupt never fired within %d instructions", maxSteps)
}

// Scenario 6: MBC1's ROM bank register treats a write of 0 as bank 1 — the
// classic "can't select bank 0 through the switchable window" quirk.
func TestMBC1BankZeroQuirk(t *testing.T) {
	rom := buildROM(t, 0x20000, 0x01, nil) // cartType 0x01 = MBC1, 128KB
	marker := byte(0xAB)
	rom[0x4000] = marker // first byte of bank 1

	emu, err := jeebie.NewWithFile(writeROM(t, rom))
	if err != nil {
		t.Fatalf("loading synthetic ROM: %v", err)
	}

	mmu := emu.GetMMU()
	mmu.Write(0x2000, 0x00) // select "bank 0"

	assert.Equal(t, marker, mmu.Read(0x4000), "bank register 0 should read back as bank 1")
}
