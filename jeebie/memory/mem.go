package memory

import (
	"fmt"
	"log/slog"

	"github.com/valerio/gobeen/jeebie/addr"
	"github.com/valerio/gobeen/jeebie/bit"
	"github.com/valerio/gobeen/jeebie/serial"
)

type memRegion uint8

const (
	regionROM memRegion = iota
	regionVRAM
	regionExtRAM
	regionWRAM
	regionEcho
	regionOAM
	regionUnused
	regionIO
	regionHRAM
)

// SerialPort is the minimal interface for a serial device connected to SB/SC.
// Implementations MUST only accept reads/writes to addr.SB and addr.SC.
type SerialPort interface {
	Write(address uint16, value byte)
	Read(address uint16) byte
	Tick(cycles int)
	Reset()
}

// PPUState is the narrow view of the PPU that the bus needs in order to gate
// VRAM/OAM access during active rendering. Satisfied structurally by
// *video.GPU; wired in post-construction via SetPPU to avoid a GPU<->MMU
// import cycle (GPU already holds a concrete *MMU reference).
type PPUState interface {
	// Mode returns the current PPU mode: 0=HBlank, 1=VBlank, 2=OAM scan, 3=pixel transfer.
	Mode() int
}

// MMU allows access to all memory mapped I/O and data/registers
type MMU struct {
	cart      *Cartridge
	mbc       MBC
	boot      *Boot
	memory    []byte
	regionMap [256]memRegion
	ppu       PPUState

	joypad *Joypad

	serial SerialPort
	timer  Timer

	cgbMode bool

	// CGB VRAM banking: bank 0 lives in `memory`, bank 1 here.
	vbk   uint8
	vram1 [0x2000]byte

	// CGB WRAM banking: banks 0-1 live in `memory` (0xC000-0xDFFF),
	// banks 2-7 (SVBK values 2-7) live here.
	svbk      uint8
	wramExtra [6][0x1000]byte

	// CGB HDMA/GDMA
	hdmaSrc       uint16
	hdmaDst       uint16
	hdmaRemaining uint8 // blocks of 16 bytes remaining, valid while hdmaActive
	hdmaActive    bool
	hdmaHBlank    bool

	// CGB color palette RAM: 8 palettes x 4 colors x 2 bytes each.
	bgPalette  [64]byte
	objPalette [64]byte
	bgpi       uint8
	obpi       uint8
}

// New creates a new memory unity with default data, i.e. nothing cartridge loaded.
// Equivalent to turning on a Gameboy without a cartridge in.
func New() *MMU {
	mmu := &MMU{
		memory: make([]byte, 0x10000),
		cart:   NewCartridge(),
		joypad: NewJoypad(),
	}
	mmu.mbc = mmu.cart.BuildMBC()
	mmu.serial = serial.NewLogSink(func() { mmu.RequestInterrupt(addr.SerialInterrupt) })
	mmu.timer.TimerInterruptHandler = func() { mmu.RequestInterrupt(addr.TimerInterrupt) }
	initRegionMap(mmu)
	return mmu
}

// NewWithCartridge creates a new memory unit with the provided cartridge data loaded.
// Equivalent to turning on a Gameboy with a cartridge in, optionally shadowed by
// a boot ROM image until software disables it.
func NewWithCartridge(cart *Cartridge, bootROM []byte) *MMU {
	mmu := New()
	mmu.cart = cart
	mmu.cgbMode = cart.IsCGB()
	mmu.boot = NewBoot(cart.BuildMBC(), bootROM)
	mmu.mbc = mmu.boot
	return mmu
}

// SetPPU wires the PPU mode source used to gate VRAM/OAM access. Must be
// called once the GPU has been constructed (it in turn depends on this MMU).
func (m *MMU) SetPPU(ppu PPUState) {
	m.ppu = ppu
}

// SetSerialStdout mirrors bytes clocked out over the serial port to stdout,
// in addition to the default log sink.
func (m *MMU) SetSerialStdout(enabled bool) {
	if sink, ok := m.serial.(*serial.LogSink); ok {
		sink.MirrorStdout = enabled
	}
}

// Joypad returns the joypad component, used by input handling to report key events.
func (m *MMU) Joypad() *Joypad {
	return m.joypad
}

// SaveRAM returns the cartridge's battery-backed RAM contents, or nil if the
// cartridge has none.
func (m *MMU) SaveRAM() []uint8 {
	if !m.cart.HasBattery() {
		return nil
	}
	if bb, ok := m.mbc.(BatteryBacked); ok {
		return bb.SaveData()
	}
	if boot, ok := m.mbc.(*Boot); ok {
		if bb, ok := boot.MBC.(BatteryBacked); ok {
			return bb.SaveData()
		}
	}
	return nil
}

// LoadRAM restores previously saved battery-backed RAM contents.
func (m *MMU) LoadRAM(data []uint8) {
	target := m.mbc
	if boot, ok := target.(*Boot); ok {
		target = boot.MBC
	}
	if bb, ok := target.(BatteryBacked); ok {
		bb.LoadData(data)
	}
}

// Tick advances any i/o that needs it, if any.
func (m *MMU) Tick(cycles int) {
	m.timer.Tick(cycles)
	if m.serial != nil {
		m.serial.Tick(cycles)
	}
	if joypadFired := m.joypad.DrainInterrupt(); joypadFired {
		m.RequestInterrupt(addr.JoypadInterrupt)
	}
}

// SetTimerSeed initializes the internal timer divider seed and DIV register.
func (m *MMU) SetTimerSeed(seed uint16) {
	m.timer.SetSeed(seed)
}

func initRegionMap(m *MMU) {
	// ROM: 0x0000-0x7FFF
	for i := 0x00; i <= 0x7F; i++ {
		m.regionMap[i] = regionROM
	}
	// VRAM: 0x8000-0x9FFF
	for i := 0x80; i <= 0x9F; i++ {
		m.regionMap[i] = regionVRAM
	}
	// External RAM: 0xA000-0xBFFF
	for i := 0xA0; i <= 0xBF; i++ {
		m.regionMap[i] = regionExtRAM
	}
	// Work RAM: 0xC000-0xDFFF
	for i := 0xC0; i <= 0xDF; i++ {
		m.regionMap[i] = regionWRAM
	}
	// Echo RAM: 0xE000-0xFDFF
	for i := 0xE0; i <= 0xFD; i++ {
		m.regionMap[i] = regionEcho
	}
	// OAM: 0xFE00-0xFE9F, Unused: 0xFEA0-0xFEFF
	m.regionMap[0xFE] = regionOAM
	// IO + HRAM: 0xFF00-0xFFFF
	m.regionMap[0xFF] = regionIO
}

// RequestInterrupt sets the interrupt flag (IF register) of the chosen interrupt to 1.
func (m *MMU) RequestInterrupt(interrupt addr.Interrupt) {
	interruptFlags := m.Read(addr.IF)

	var bitPos uint8
	switch interrupt {
	case addr.VBlankInterrupt:
		bitPos = 0
	case addr.LCDSTATInterrupt:
		bitPos = 1
	case addr.TimerInterrupt:
		bitPos = 2
	case addr.SerialInterrupt:
		bitPos = 3
	case addr.JoypadInterrupt:
		bitPos = 4
	default:
		panic(fmt.Sprintf("Unknown interrupt: 0x%02X", uint8(interrupt)))
	}

	newFlags := bit.Set(bitPos, interruptFlags)

	m.Write(addr.IF, newFlags)
}

func (m *MMU) ReadBit(index uint8, address uint16) bool {
	return bit.IsSet(index, m.Read(address))
}

func (m *MMU) SetBit(index uint8, address uint16, set bool) {
	value := m.Read(address)
	if set {
		value = bit.Set(index, value)
	} else {
		value = bit.Reset(index, value)
	}
	m.Write(address, value)
}

func (m *MMU) vramBlocked() bool {
	return m.ppu != nil && m.ppu.Mode() == 3
}

func (m *MMU) oamBlocked() bool {
	if m.ppu == nil {
		return false
	}
	mode := m.ppu.Mode()
	return mode == 2 || mode == 3
}

func (m *MMU) wramBank() uint8 {
	bank := m.svbk & 0x07
	if bank == 0 {
		bank = 1
	}
	return bank
}

func (m *MMU) Read(address uint16) byte {
	switch m.regionMap[address>>8] {
	case regionROM, regionExtRAM:
		if m.mbc == nil {
			slog.Warn("Reading from ROM/external RAM with no cartridge", "addr", fmt.Sprintf("0x%04X", address))
			return 0xFF
		}
		return m.mbc.Read(address)
	case regionVRAM:
		if m.vramBlocked() {
			return 0xFF
		}
		if m.cgbMode && m.vbk&1 == 1 {
			return m.vram1[address-0x8000]
		}
		return m.memory[address]
	case regionWRAM:
		if address >= 0xD000 && m.cgbMode {
			if bank := m.wramBank(); bank >= 2 {
				return m.wramExtra[bank-2][address-0xD000]
			}
		}
		return m.memory[address]
	case regionEcho:
		return m.memory[address-0x2000]
	case regionOAM:
		if address <= 0xFE9F {
			if m.oamBlocked() {
				return 0xFF
			}
			return m.memory[address]
		}
		// Unused area 0xFEA0-0xFEFF reads back as 0xFF on DMG hardware.
		return 0xFF
	case regionIO:
		return m.readIO(address)
	default:
		panic(fmt.Sprintf("Attempted read at unmapped address: 0x%X", address))
	}
}

func (m *MMU) readIO(address uint16) byte {
	switch {
	case address == addr.P1:
		return m.joypad.Read()
	case address == addr.SB || address == addr.SC:
		return m.serial.Read(address)
	case address == addr.DIV || address == addr.TIMA || address == addr.TMA || address == addr.TAC:
		return m.timer.Read(address)
	case address >= addr.AudioStart && address <= addr.AudioEnd:
		// Audio is not synthesized; registers round-trip as plain storage.
		return m.memory[address]
	case address == addr.IF:
		// Just in case, we always read the upper 3 bits of IF as 1.
		return m.memory[address] | 0xE0
	case address == addr.VBK:
		if !m.cgbMode {
			return 0xFF
		}
		return m.vbk | 0xFE
	case address == addr.SVBK:
		if !m.cgbMode {
			return 0xFF
		}
		return m.svbk | 0xF8
	case address == addr.KEY1:
		if !m.cgbMode {
			return 0xFF
		}
		return m.memory[address]
	case address == addr.HDMA5:
		if !m.cgbMode {
			return 0xFF
		}
		if m.hdmaActive {
			return m.hdmaRemaining & 0x7F
		}
		return 0xFF
	case address == addr.BGPI:
		return m.bgpi
	case address == addr.BGPD:
		if !m.cgbMode {
			return 0xFF
		}
		return m.bgPalette[m.bgpi&0x3F]
	case address == addr.OBPI:
		return m.obpi
	case address == addr.OBPD:
		if !m.cgbMode {
			return 0xFF
		}
		return m.objPalette[m.obpi&0x3F]
	default:
		return m.memory[address]
	}
}

func (m *MMU) Write(address uint16, value byte) {
	switch m.regionMap[address>>8] {
	case regionROM:
		if m.mbc == nil {
			slog.Warn("Writing to ROM with no cartridge", "addr", fmt.Sprintf("0x%04X", address), "value", fmt.Sprintf("0x%02X", value))
			return
		}
		m.mbc.Write(address, value)
	case regionVRAM:
		if m.vramBlocked() {
			return
		}
		if m.cgbMode && m.vbk&1 == 1 {
			m.vram1[address-0x8000] = value
		} else {
			m.memory[address] = value
		}
	case regionExtRAM:
		if m.mbc == nil {
			slog.Warn("Writing to external RAM with no cartridge", "addr", fmt.Sprintf("0x%04X", address), "value", fmt.Sprintf("0x%02X", value))
			return
		}
		m.mbc.Write(address, value)
	case regionWRAM:
		if address >= 0xD000 && m.cgbMode {
			if bank := m.wramBank(); bank >= 2 {
				m.wramExtra[bank-2][address-0xD000] = value
				return
			}
		}
		m.memory[address] = value
	case regionEcho:
		m.memory[address-0x2000] = value
	case regionOAM:
		if address <= 0xFE9F {
			if m.oamBlocked() {
				return
			}
			m.memory[address] = value
		}
		// writes to the unusable 0xFEA0-0xFEFF window are dropped
	case regionIO:
		m.writeIO(address, value)
	default:
		panic(fmt.Sprintf("Attempted write at unmapped address: 0x%X", address))
	}
}

func (m *MMU) writeIO(address uint16, value byte) {
	switch {
	case address == addr.P1:
		m.joypad.Select(value)
	case address == addr.SB || address == addr.SC:
		m.serial.Write(address, value)
	case address == addr.DIV || address == addr.TIMA || address == addr.TMA || address == addr.TAC:
		m.timer.Write(address, value)
	case address >= addr.AudioStart && address <= addr.AudioEnd:
		m.memory[address] = value
	case address == addr.IF:
		// This register has its upper 3 bits always set as 1.
		m.memory[address] = value | 0xE0
	case address == addr.DMA:
		sourceAddr := uint16(value) << 8
		// DMA transfer copies 160 bytes from source to OAM
		for i := range uint16(160) {
			m.memory[0xFE00+i] = m.Read(sourceAddr + i)
		}
		m.memory[address] = value
	case address == addr.BootOff:
		if value != 0 && m.boot != nil {
			m.boot.Disable()
		}
		m.memory[address] = value
	case address == addr.VBK:
		if m.cgbMode {
			m.vbk = value & 0x01
		}
	case address == addr.SVBK:
		if m.cgbMode {
			m.svbk = value & 0x07
		}
	case address == addr.KEY1:
		if m.cgbMode {
			m.memory[address] = (m.memory[address] & 0x80) | (value & 0x01)
		}
	case address == addr.HDMA1:
		m.hdmaSrc = bit.Combine(value, bit.Low(m.hdmaSrc))
	case address == addr.HDMA2:
		m.hdmaSrc = bit.Combine(bit.High(m.hdmaSrc), value&0xF0)
	case address == addr.HDMA3:
		m.hdmaDst = 0x8000 | bit.Combine(value&0x1F, bit.Low(m.hdmaDst))
	case address == addr.HDMA4:
		m.hdmaDst = 0x8000 | bit.Combine(bit.High(m.hdmaDst)&0x1F, value&0xF0)
	case address == addr.HDMA5:
		m.writeHDMA5(value)
	case address == addr.BGPI:
		m.bgpi = value & 0xBF
	case address == addr.BGPD:
		if m.cgbMode {
			m.bgPalette[m.bgpi&0x3F] = value
			if m.bgpi&0x80 != 0 {
				m.bgpi = 0x80 | ((m.bgpi + 1) & 0x3F)
			}
		}
	case address == addr.OBPI:
		m.obpi = value & 0xBF
	case address == addr.OBPD:
		if m.cgbMode {
			m.objPalette[m.obpi&0x3F] = value
			if m.obpi&0x80 != 0 {
				m.obpi = 0x80 | ((m.obpi + 1) & 0x3F)
			}
		}
	default:
		m.memory[address] = value
	}
}

func (m *MMU) writeHDMA5(value byte) {
	if !m.cgbMode {
		return
	}

	requestHBlank := value&0x80 != 0

	if m.hdmaActive && m.hdmaHBlank && !requestHBlank {
		// writing with bit 7 clear while an HBlank transfer is running cancels it
		m.hdmaActive = false
		m.memory[addr.HDMA5] = 0x80 | m.hdmaRemaining
		return
	}

	m.hdmaRemaining = value & 0x7F

	if !requestHBlank {
		m.runGeneralDMA()
		m.memory[addr.HDMA5] = 0xFF
		return
	}

	m.hdmaActive = true
	m.hdmaHBlank = true
}

func (m *MMU) runGeneralDMA() {
	blocks := int(m.hdmaRemaining) + 1
	for range blocks {
		m.copyHDMABlock()
	}
	m.hdmaActive = false
}

// StepHBlankDMA transfers one 16-byte block if an HBlank-paced transfer is
// active. Called by the PPU each time it enters HBlank (mode 0).
func (m *MMU) StepHBlankDMA() {
	if !m.hdmaActive || !m.hdmaHBlank {
		return
	}

	m.copyHDMABlock()

	if m.hdmaRemaining == 0xFF {
		m.hdmaActive = false
		m.memory[addr.HDMA5] = 0xFF
		return
	}
	m.hdmaRemaining--
}

func (m *MMU) copyHDMABlock() {
	for i := uint16(0); i < 16; i++ {
		value := m.Read(m.hdmaSrc + i)
		dst := m.hdmaDst + i
		if m.vbk&1 == 1 {
			m.vram1[dst-0x8000] = value
		} else {
			m.memory[dst] = value
		}
	}
	m.hdmaSrc += 16
	m.hdmaDst += 16
	if m.hdmaDst > 0x9FFF {
		m.hdmaDst = 0x8000 + (m.hdmaDst - 0xA000)
	}
}

// ReadVRAMBank reads a byte from the given VRAM bank (0 or 1) regardless of
// the currently selected bank, bypassing mode gating. Used by the renderer
// to fetch CGB tile attribute data that always lives in bank 1.
func (m *MMU) ReadVRAMBank(bank uint8, address uint16) byte {
	if bank&1 == 1 {
		return m.vram1[address-0x8000]
	}
	return m.memory[address]
}

// BGPaletteColor returns the 5-bit-per-channel RGB color for a background
// palette slot (0-7) and color index (0-3).
func (m *MMU) BGPaletteColor(palette, colorIndex uint8) (r, g, b uint8) {
	return decodeCGBColor(m.bgPalette, palette, colorIndex)
}

// ObjPaletteColor returns the 5-bit-per-channel RGB color for an object
// palette slot (0-7) and color index (0-3).
func (m *MMU) ObjPaletteColor(palette, colorIndex uint8) (r, g, b uint8) {
	return decodeCGBColor(m.objPalette, palette, colorIndex)
}

func decodeCGBColor(ram [64]byte, palette, colorIndex uint8) (r, g, b uint8) {
	offset := int(palette&0x07)*8 + int(colorIndex&0x03)*2
	low := ram[offset]
	high := ram[offset+1]
	word := bit.Combine(high, low)
	r = uint8(word & 0x1F)
	g = uint8((word >> 5) & 0x1F)
	b = uint8((word >> 10) & 0x1F)
	return
}

// IsCGB reports whether the loaded cartridge runs in CGB mode.
func (m *MMU) IsCGB() bool {
	return m.cgbMode
}
