package memory

// MBC represents a Memory Bank Controller interface that all MBC types must implement
type MBC interface {
	// Read reads a byte from the specified address
	Read(addr uint16) uint8
	// Write writes a byte to the specified address, returns the written value
	Write(addr uint16, value uint8) uint8
}

// BatteryBacked is implemented by MBC types whose external RAM can be
// persisted to a save file. Cartridges without a battery never expose it.
type BatteryBacked interface {
	SaveData() []uint8
	LoadData(data []uint8)
}

// NoMBC represents cartridges with no memory banking capabilities.
// These are typically smaller games (32KB or less) that fit entirely in the
// base memory region. The cartridge ROM is directly mapped to 0x0000-0x7FFF
// and cannot be banked/switched. A small number of these cartridges still
// carry a fixed 8KB of external RAM at 0xA000-0xBFFF with no enable gate.
type NoMBC struct {
	rom []uint8
	ram []uint8
}

// NewNoMBC creates a new NoMBC controller. ramSize may be 0.
func NewNoMBC(romData []uint8, ramSize uint32) *NoMBC {
	return &NoMBC{
		rom: romData,
		ram: make([]uint8, ramSize),
	}
}

func (m *NoMBC) Read(addr uint16) uint8 {
	switch {
	case addr <= 0x7FFF:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		offset := addr - 0xA000
		if int(offset) < len(m.ram) {
			return m.ram[offset]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *NoMBC) Write(addr uint16, value uint8) uint8 {
	if addr >= 0xA000 && addr <= 0xBFFF {
		offset := addr - 0xA000
		if int(offset) < len(m.ram) {
			m.ram[offset] = value
		}
	}
	return value
}

func (m *NoMBC) SaveData() []uint8   { return m.ram }
func (m *NoMBC) LoadData(d []uint8)  { copy(m.ram, d) }

// MBC1 is the first and most common MBC chip. Features include:
// - Supports up to 2MB ROM (125 16KB banks)
// - Up to 32KB RAM (4 8KB banks)
// - Bank 0 always mapped to 0x0000-0x3FFF
// - Switchable ROM bank at 0x4000-0x7FFF
// - Optional RAM banking at 0xA000-0xBFFF
// - Two banking modes:
//   - Mode 0 (ROM): Allows access to full ROM but only 8KB RAM
//   - Mode 1 (RAM): Restricts ROM banking but allows full RAM access
// - Optional battery backup for RAM persistence
type MBC1 struct {
	rom          []uint8
	ram          []uint8
	romBank      uint8
	ramBank      uint8
	ramEnabled   bool
	bankingMode  uint8
	hasBattery   bool
	ramBankCount uint8
}

// NewMBC1 creates a new MBC1 controller
func NewMBC1(romData []uint8, hasBattery bool, ramBankCount uint8) *MBC1 {
	ramSize := uint32(ramBankCount) * 0x2000 // 8KB per RAM bank
	return &MBC1{
		rom:          romData,
		ram:          make([]uint8, ramSize),
		romBank:      1,
		ramBank:      0,
		ramEnabled:   false,
		bankingMode:  0,
		hasBattery:   hasBattery,
		ramBankCount: ramBankCount,
	}
}

func (m *MBC1) Read(addr uint16) uint8 {
	switch {
	case addr <= 0x3FFF:
		// ROM Bank 0
		return m.rom[addr]
	case addr >= 0x4000 && addr <= 0x7FFF:
		// Switchable ROM Bank
		offset := uint32(m.romBank) * 0x4000
		if offset >= uint32(len(m.rom)) {
			// If bank would be out of bounds, wrap around
			offset = offset % uint32(len(m.rom))
		}
		return m.rom[offset+uint32(addr-0x4000)]
	case addr >= 0xA000 && addr <= 0xBFFF:
		// RAM Bank
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		offset := uint32(m.ramBank) * 0x2000
		if offset >= uint32(len(m.ram)) {
			// If bank would be out of bounds, wrap around
			offset = offset % uint32(len(m.ram))
		}
		return m.ram[offset+uint32(addr-0xA000)]
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value uint8) uint8 {
	switch {
	case addr <= 0x1FFF:
		// RAM Enable
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr >= 0x2000 && addr <= 0x3FFF:
		// ROM Bank Number (lower 5 bits)
		bank := value & 0x1F
		if bank == 0 {
			bank = 1
		}
		m.romBank = (m.romBank & 0x60) | bank
	case addr >= 0x4000 && addr <= 0x5FFF:
		// RAM Bank Number or Upper ROM Bank Number
		if m.bankingMode == 0 {
			// ROM Banking mode - value goes to upper bits of ROM bank
			m.romBank = (m.romBank & 0x1F) | ((value & 0x03) << 5)
		} else {
			// RAM Banking mode - value goes to RAM bank
			m.ramBank = value & 0x03
		}
	case addr >= 0x6000 && addr <= 0x7FFF:
		// Banking Mode Select
		m.bankingMode = value & 0x01
		if m.bankingMode == 1 {
			// When switching to RAM banking mode, clear the upper bits of ROM bank
			m.romBank &= 0x1F
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		// RAM Bank
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		offset := uint32(m.ramBank) * 0x2000
		if offset >= uint32(len(m.ram)) {
			offset = (offset % uint32(len(m.ram)))
		}
		m.ram[offset+uint32(addr-0xA000)] = value
	}
	return value
}

func (m *MBC1) SaveData() []uint8 { return m.ram }
func (m *MBC1) LoadData(d []uint8) {
	if m.hasBattery {
		copy(m.ram, d)
	}
}

// MBC2 is a simpler MBC chip with built-in RAM. Features include:
// - Supports up to 256KB ROM (16 16KB banks)
// - Built-in 512x4 bits RAM (not external)
// - RAM must be enabled before use; while disabled, reads return 0xFF and
//   writes are dropped
// - ROM banking similar to MBC1 but simpler
// - The least significant bit of the upper address byte selects between
//   the ROM bank register and the RAM enable register
// - RAM is limited to 4-bit values (upper 4 bits are ignored)
// - Optional battery backup for the built-in RAM
type MBC2 struct {
	rom        []uint8
	ram        []uint8 // 512x4 bits RAM
	romBank    uint8
	ramEnabled bool
	hasBattery bool
}

// NewMBC2 creates a new MBC2 controller
func NewMBC2(romData []uint8, hasBattery bool) *MBC2 {
	return &MBC2{
		rom:        romData,
		ram:        make([]uint8, 512),
		romBank:    1,
		ramEnabled: false,
		hasBattery: hasBattery,
	}
}

func (m *MBC2) Read(addr uint16) uint8 {
	switch {
	case addr <= 0x3FFF:
		return m.rom[addr]
	case addr >= 0x4000 && addr <= 0x7FFF:
		offset := uint32(m.romBank) * 0x4000
		if offset >= uint32(len(m.rom)) {
			offset = offset % uint32(len(m.rom))
		}
		return m.rom[offset+uint32(addr-0x4000)]
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return m.ram[(addr-0xA000)%0x200] | 0xF0
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value uint8) uint8 {
	switch {
	case addr <= 0x3FFF:
		if addr&0x100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if m.ramEnabled {
			m.ram[(addr-0xA000)%0x200] = value & 0x0F
		}
	}
	return value
}

func (m *MBC2) SaveData() []uint8 { return m.ram }
func (m *MBC2) LoadData(d []uint8) {
	if m.hasBattery {
		copy(m.ram, d)
	}
}

// MBC3 is an advanced MBC chip with RTC support. Features include:
// - Supports up to 2MB ROM (128 16KB banks)
// - Up to 32KB RAM (4 8KB banks)
// - Real-Time Clock (RTC) functionality
// - RTC has 5 registers: Seconds, Minutes, Hours, Days (lower), Days (upper)/Flags
// - Similar banking to MBC1 but with different register layout
// - RAM and RTC can be battery backed
// - Used in games that needed to track real time (e.g. Pokémon Gold/Silver)
//
// RTC registers are stubbed: latch writes are accepted and the selected
// register reads back whatever was last written to it, but the clock itself never
// advances with wall time. Games that only check for RTC *presence* (most of
// them) behave correctly; games relying on elapsed real time will not.
type MBC3 struct {
	rom         []uint8
	ram         []uint8
	rtc         [5]uint8 // Seconds, Minutes, Hours, Days-lo, Days-hi/flags
	romBank     uint8
	ramBank     uint8
	ramEnabled  bool
	hasRTC      bool
	hasBattery  bool
	latchState  uint8
}

// NewMBC3 creates a new MBC3 controller
func NewMBC3(romData []uint8, hasRTC bool, hasBattery bool, ramBankCount uint8) *MBC3 {
	ramSize := uint32(ramBankCount) * 0x2000
	return &MBC3{
		rom:        romData,
		ram:        make([]uint8, ramSize),
		romBank:    1,
		ramEnabled: false,
		hasRTC:     hasRTC,
		hasBattery: hasBattery,
	}
}

func (m *MBC3) Read(addr uint16) uint8 {
	switch {
	case addr <= 0x3FFF:
		return m.rom[addr]
	case addr >= 0x4000 && addr <= 0x7FFF:
		offset := uint32(m.romBank) * 0x4000
		if offset >= uint32(len(m.rom)) {
			offset = offset % uint32(len(m.rom))
		}
		return m.rom[offset+uint32(addr-0x4000)]
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.hasRTC && m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			return m.rtc[m.ramBank-0x08]
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		offset := uint32(m.ramBank) * 0x2000
		if offset >= uint32(len(m.ram)) {
			offset = offset % uint32(len(m.ram))
		}
		return m.ram[offset+uint32(addr-0xA000)]
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value uint8) uint8 {
	switch {
	case addr <= 0x1FFF:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr >= 0x2000 && addr <= 0x3FFF:
		bank := value & 0x7F
		if bank == 0 {
			bank = 1
		}
		m.romBank = bank
	case addr >= 0x4000 && addr <= 0x5FFF:
		m.ramBank = value
	case addr >= 0x6000 && addr <= 0x7FFF:
		if m.latchState == 0x00 && value == 0x01 {
			// latch: stubbed registers just keep their last written values
		}
		m.latchState = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return value
		}
		if m.hasRTC && m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			m.rtc[m.ramBank-0x08] = value
			return value
		}
		if len(m.ram) == 0 {
			return value
		}
		offset := uint32(m.ramBank) * 0x2000
		if offset >= uint32(len(m.ram)) {
			offset = offset % uint32(len(m.ram))
		}
		m.ram[offset+uint32(addr-0xA000)] = value
	}
	return value
}

func (m *MBC3) SaveData() []uint8 { return m.ram }
func (m *MBC3) LoadData(d []uint8) {
	if m.hasBattery {
		copy(m.ram, d)
	}
}

// MBC5 is the most advanced MBC chip. Features include:
// - Supports up to 8MB ROM (512 16KB banks)
// - Up to 128KB RAM (16 8KB banks)
// - Simple ROM/RAM banking with no quirks (unlike MBC1)
// - 9-bit ROM bank number (allows all 512 banks to be directly accessed)
// - Optional rumble motor support
// - Used in Game Boy Color games that needed more ROM/RAM
// - Backwards compatible with Game Boy
type MBC5 struct {
	rom        []uint8
	ram        []uint8
	romBank    uint16 // MBC5 supports up to 512 ROM banks
	ramBank    uint8
	ramEnabled bool
	hasRumble  bool
	hasBattery bool
}

// NewMBC5 creates a new MBC5 controller
func NewMBC5(romData []uint8, hasRumble bool, hasBattery bool, ramBankCount uint8) *MBC5 {
	ramSize := uint32(ramBankCount) * 0x2000
	return &MBC5{
		rom:        romData,
		ram:        make([]uint8, ramSize),
		romBank:    1,
		ramEnabled: false,
		hasRumble:  hasRumble,
		hasBattery: hasBattery,
	}
}

func (m *MBC5) Read(addr uint16) uint8 {
	switch {
	case addr <= 0x3FFF:
		return m.rom[addr]
	case addr >= 0x4000 && addr <= 0x7FFF:
		offset := uint32(m.romBank) * 0x4000
		if offset >= uint32(len(m.rom)) {
			offset = offset % uint32(len(m.rom))
		}
		return m.rom[offset+uint32(addr-0x4000)]
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		offset := uint32(m.ramBank) * 0x2000
		if offset >= uint32(len(m.ram)) {
			offset = offset % uint32(len(m.ram))
		}
		return m.ram[offset+uint32(addr-0xA000)]
	default:
		return 0xFF
	}
}

func (m *MBC5) Write(addr uint16, value uint8) uint8 {
	switch {
	case addr <= 0x1FFF:
		m.ramEnabled = (value & 0x0F) == 0x0A
		// bit 3 of the enable value would arm the rumble motor on real hardware;
		// there's no motor to drive here so it's intentionally ignored.
	case addr >= 0x2000 && addr <= 0x2FFF:
		m.romBank = (m.romBank & 0x100) | uint16(value)
	case addr >= 0x3000 && addr <= 0x3FFF:
		m.romBank = (m.romBank & 0x0FF) | (uint16(value&0x01) << 8)
	case addr >= 0x4000 && addr <= 0x5FFF:
		mask := uint8(0x0F)
		if m.hasRumble {
			mask = 0x07
		}
		m.ramBank = value & mask
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return value
		}
		offset := uint32(m.ramBank) * 0x2000
		if offset >= uint32(len(m.ram)) {
			offset = offset % uint32(len(m.ram))
		}
		m.ram[offset+uint32(addr-0xA000)] = value
	}
	return value
}

func (m *MBC5) SaveData() []uint8 { return m.ram }
func (m *MBC5) LoadData(d []uint8) {
	if m.hasBattery {
		copy(m.ram, d)
	}
}

// Boot overlays a boot ROM image over the first bytes of the underlying MBC
// until software disables it by writing to the BootOff register. DMG boot
// ROMs shadow 0x0000-0x00FF; CGB boot ROMs additionally shadow 0x0200-0x08FF
// while leaving the cartridge header window (0x0100-0x01FF) visible throughout.
type Boot struct {
	MBC
	rom      []uint8
	disabled bool
}

// NewBoot wraps an MBC with a boot ROM overlay. Passing a nil or empty rom
// makes Boot a transparent passthrough.
func NewBoot(mbc MBC, rom []uint8) *Boot {
	return &Boot{MBC: mbc, rom: rom}
}

func (b *Boot) covers(addr uint16) bool {
	if b.disabled || len(b.rom) == 0 {
		return false
	}
	if addr < 0x100 {
		return true
	}
	// CGB boot ROMs are 0x900 bytes and reuse 0x0200-0x08FF after the header.
	if len(b.rom) > 0x100 && addr >= 0x200 && int(addr) < len(b.rom) {
		return true
	}
	return false
}

func (b *Boot) Read(addr uint16) uint8 {
	if b.covers(addr) {
		return b.rom[addr]
	}
	return b.MBC.Read(addr)
}

func (b *Boot) Write(addr uint16, value uint8) uint8 {
	return b.MBC.Write(addr, value)
}

// Disable permanently removes the boot ROM overlay, exposing the cartridge
// at 0x0000-0x08FF from then on. Mirrors a write to BootOff (0xFF50).
func (b *Boot) Disable() {
	b.disabled = true
}
