package video

import (
	"fmt"
	"log/slog"

	"github.com/valerio/gobeen/jeebie/addr"
	"github.com/valerio/gobeen/jeebie/bit"
	"github.com/valerio/gobeen/jeebie/memory"
)

// GpuMode represents the PPU's current rendering stage.
// These values match the STAT register bits 1-0.
type GpuMode int

const (
	// hblankMode (Mode 0): Horizontal blank period, CPU can access VRAM/OAM
	hblankMode GpuMode = 0
	// vblankMode (Mode 1): Vertical blank period, CPU can access VRAM/OAM
	vblankMode GpuMode = 1
	// oamReadMode (Mode 2): PPU is reading OAM, CPU cannot access OAM
	oamReadMode GpuMode = 2
	// vramReadMode (Mode 3): PPU is reading VRAM, CPU cannot access VRAM/OAM
	vramReadMode GpuMode = 3
)

const (
	hblankCycles       = 204
	oamScanlineCycles  = 80
	vramScanlineCycles = 172
	scanlineCycles     = oamScanlineCycles + vramScanlineCycles + hblankCycles
)

// bgAttr packs the per-pixel state a CGB background/window pixel needs to
// hand off to sprite priority resolution: the raw color index (0-3) and
// whether the BG-to-OBJ priority bit was set on the covering tile.
type bgAttr struct {
	color    uint8
	priority bool
}

type GPU struct {
	memory         *memory.MMU
	framebuffer    *FrameBuffer
	bgPixelBuffer  []byte // stores background/window pixel colors for sprite priority
	bgAttrBuffer   []bgAttr
	spritePriority SpritePriorityBuffer

	cgbMode bool

	// PPU state - these map to Game Boy hardware registers/behavior
	mode                 GpuMode // current PPU mode (matches STAT bits 1-0)
	line                 int     // current scanline (LY register, 0-153)
	cycles               int     // cycle counter for current mode
	modeCounterAux       int     // auxiliary counter for VBlank timing
	vBlankLine           int     // which VBlank line we're on (0-9)
	pixelCounter         int     // pixel counter within scanline
	tileCycleCounter     int     // cycle counter for tile fetching
	isScanLineTransfered bool    // whether current scanline has been rendered
	windowLine           int     // internal window line counter (0-143)
}

func NewGpu(mem *memory.MMU) *GPU {
	fb := NewFrameBuffer()
	gpu := &GPU{
		framebuffer:  fb,
		memory:       mem,
		mode:         vblankMode,
		cgbMode:      mem.IsCGB(),
		bgPixelBuffer: make([]byte, FramebufferSize),
		bgAttrBuffer:  make([]bgAttr, FramebufferSize),

		line: 144,
	}

	// Log initial LCD state
	lcdc := mem.Read(0xFF40)
	bgp := mem.Read(0xFF47) // Background palette
	slog.Debug("GPU initialized", "LCDC", fmt.Sprintf("0x%02X", lcdc), "LCD_enabled", (lcdc&0x80) != 0, "BGP", fmt.Sprintf("0x%02X", bgp))

	return gpu
}

func (g *GPU) GetFrameBuffer() *FrameBuffer {
	return g.framebuffer
}

// Mode reports the PPU's current stage (0-3), matching STAT bits 1-0.
// Satisfies memory.PPUState so the bus can gate VRAM/OAM access.
func (g *GPU) Mode() int {
	return int(g.mode)
}

// Tick simulates gpu behaviour for a certain amount of clock cycles.
func (g *GPU) Tick(cycles int) {
	g.cycles += cycles

	switch g.mode {
	case hblankMode:
		if g.cycles < hblankCycles {
			break
		}
		g.cycles -= hblankCycles
		g.setMode(oamReadMode)
		g.setLY(g.line + 1)

		if g.line == 144 {
			g.setMode(vblankMode)
			g.vBlankLine = 0
			g.modeCounterAux = g.cycles
			g.windowLine = 0

			// Always trigger the VBlank interrupt when switching
			g.memory.RequestInterrupt(addr.VBlankInterrupt)

			// We're switching to VBlank Mode
			// if enabled on STAT, trigger the LCDStat interrupt
			if g.memory.ReadBit(statVblankIrq, addr.STAT) {
				g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
			}
		} else if g.memory.ReadBit(statOamIrq, addr.STAT) {
			// We're switching to OAM Read Mode
			// if enabled on STAT, trigger the LCDStat interrupt
			g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
		}
	case vblankMode:
		g.modeCounterAux += cycles

		if g.modeCounterAux >= scanlineCycles {
			g.modeCounterAux -= scanlineCycles
			g.vBlankLine++

			if g.vBlankLine <= 9 {
				g.setLY(g.line + 1)
			}
		}

		if g.cycles >= 4104 && g.modeCounterAux >= 4 && g.line == 153 {
			g.setLY(0)
		}

		if g.cycles >= 4560 {
			g.cycles -= 4560
			g.setMode(oamReadMode)
			// We're switching to OAM Read Mode
			// if enabled on STAT, trigger the LCDStat interrupt
			if g.memory.ReadBit(statOamIrq, addr.STAT) {
				g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
			}
		}
	case oamReadMode:
		if g.cycles >= oamScanlineCycles {
			g.cycles -= oamScanlineCycles
			g.setMode(vramReadMode)
			g.isScanLineTransfered = false
		}
	case vramReadMode:
		// Render the entire scanline once when entering VRAM mode
		if !g.isScanLineTransfered {
			if g.readLCDCVariable(lcdDisplayEnable) == 1 {
				g.drawScanline()
			}
			g.isScanLineTransfered = true
		}

		if g.cycles >= vramScanlineCycles {
			g.pixelCounter = 0
			g.cycles -= vramScanlineCycles
			g.tileCycleCounter = 0
			g.setMode(hblankMode)

			// HBlank-paced VRAM DMA (CGB) advances one block per scanline.
			if g.cgbMode {
				g.memory.StepHBlankDMA()
			}

			// We're switching to HBlank Mode
			// if enabled on STAT, trigger the LCDStat interrupt
			if g.memory.ReadBit(statHblankIrq, addr.STAT) {
				g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
			}
		}
	}

	if g.cycles >= 70224 {
		g.cycles -= 70224
	}
}

func (g *GPU) drawScanline() {
	lcdEnabled := g.readLCDCVariable(lcdDisplayEnable) == 1

	if !lcdEnabled {
		// Clear the current line when LCD is disabled
		lineWidth := g.line * FramebufferWidth
		for i := 0; i < FramebufferWidth; i++ {
			g.framebuffer.buffer[lineWidth+i] = 0xFFFFFFFF // White
		}
		return
	}

	// Draw all layers in correct order: Background -> Window -> Sprites
	g.drawBackground()
	g.drawWindow()
	g.drawSprites()
}

// bgWindowDisabled reports whether LCDC bit 0 currently blanks the
// background/window layer. On DMG this just turns the layer off (white);
// on CGB it additionally strips BG-to-OBJ priority everywhere.
func (g *GPU) bgWindowDisabled() bool {
	return g.readLCDCVariable(bgDisplay) == 0
}

func (g *GPU) drawBackground() {
	lineWidth := g.line * FramebufferWidth

	if g.bgWindowDisabled() {
		// BG/window off: the layer renders as plain white and carries no
		// priority information for the sprite pass.
		for i := range FramebufferWidth {
			g.framebuffer.buffer[lineWidth+i] = 0xFFFFFFFF
			g.bgPixelBuffer[lineWidth+i] = 0
			g.bgAttrBuffer[lineWidth+i] = bgAttr{}
		}
		return
	}

	useSignedTileSet := g.readLCDCVariable(bgWindowTileDataSelect) == 0
	useTileMapZero := g.readLCDCVariable(bgTileMapDisplaySelect) == 0

	tilesAddr := addr.TileData0 // unsigned mode
	if useSignedTileSet {
		tilesAddr = addr.TileData2 // signed mode
	}

	tileMapAddr := addr.TileMap1
	if useTileMapZero {
		tileMapAddr = addr.TileMap0
	}

	scrollX := g.memory.Read(addr.SCX)
	scrollY := g.memory.Read(addr.SCY)
	lineScrolled := (g.line + int(scrollY)) & 0xFF // Y coordinate wraps at 256
	lineScrolled32 := (lineScrolled / 8) * 32

	// Render the entire scanline (160 pixels)
	for screenPixelX := 0; screenPixelX < FramebufferWidth; screenPixelX++ {
		mapPixelX := (screenPixelX + int(scrollX)) & 0xFF
		mapTileX := mapPixelX / 8
		mapTileXOffset := mapPixelX % 8
		mapTileAddr := tileMapAddr + uint16(lineScrolled32+mapTileX)

		mapTileValue := g.memory.ReadVRAMBank(0, mapTileAddr)

		var palette, vramBank uint8
		flipX, flipY := false, false
		if g.cgbMode {
			attr := g.memory.ReadVRAMBank(1, mapTileAddr)
			palette = attr & 0x07
			vramBank = (attr >> 3) & 0x01
			flipX = bit.IsSet(5, attr)
			flipY = bit.IsSet(6, attr)
		}

		tilePixelY := tilePixelYFor(lineScrolled, flipY)
		tilePixelY2 := tilePixelY * 2

		var tileAddr uint16
		if useSignedTileSet {
			signedTile := int8(mapTileValue)
			tileOffset := int(signedTile) * 16
			tileAddr = uint16(int(tilesAddr) + tileOffset + int(tilePixelY2))
		} else {
			mapTile := int(mapTileValue)
			tileAddr = tilesAddr + uint16(mapTile*16) + uint16(tilePixelY2)
		}

		low := g.memory.ReadVRAMBank(vramBank, tileAddr)
		high := g.memory.ReadVRAMBank(vramBank, tileAddr+1)

		bitIndex := uint8(mapTileXOffset)
		if !flipX {
			bitIndex = 7 - bitIndex
		}

		pixel := 0
		if bit.IsSet(bitIndex, low) {
			pixel |= 1
		}
		if bit.IsSet(bitIndex, high) {
			pixel |= 2
		}

		pixelPosition := lineWidth + screenPixelX

		var finalColor uint32
		if g.cgbMode {
			r, gc, b := g.memory.BGPaletteColor(palette, uint8(pixel))
			finalColor = cgb15ToColor(r, gc, b)
		} else {
			bgp := g.memory.Read(addr.BGP)
			color := (bgp >> (pixel * 2)) & 0x03
			finalColor = uint32(ByteToColor(color))
		}

		g.framebuffer.buffer[pixelPosition] = finalColor
		g.bgPixelBuffer[pixelPosition] = uint8(pixel)

		priority := false
		if g.cgbMode {
			attr := g.memory.ReadVRAMBank(1, mapTileAddr)
			priority = bit.IsSet(7, attr)
		}
		g.bgAttrBuffer[pixelPosition] = bgAttr{color: uint8(pixel), priority: priority}
	}
}

func tilePixelYFor(lineScrolled int, flipY bool) int {
	y := lineScrolled % 8
	if flipY {
		return 7 - y
	}
	return y
}

func (g *GPU) drawWindow() {
	if g.windowLine > 143 {
		return
	}

	windowEnabled := g.readLCDCVariable(windowDisplayEnable) == 1
	if !windowEnabled || g.bgWindowDisabled() {
		return
	}

	wx := g.memory.Read(addr.WX) - 7
	wy := g.memory.Read(addr.WY)

	if wx > 159 {
		return
	}

	if wy > 143 || int(wy) > g.line {
		return
	}

	useSignedTileSet := g.readLCDCVariable(bgWindowTileDataSelect) == 0
	useTileMapZero := g.readLCDCVariable(windowTileMapSelect) == 0

	tilesAddr := addr.TileData0 // unsigned mode
	if useSignedTileSet {
		tilesAddr = addr.TileData2 // signed mode
	}

	tileMapAddr := addr.TileMap1
	if useTileMapZero {
		tileMapAddr = addr.TileMap0
	}

	lineAdj := g.windowLine

	y32 := (lineAdj / 8) * 32
	lineWidth := g.line * FramebufferWidth

	endTileX := (FramebufferWidth - int(wx) + 7) / 8
	if endTileX > 32 {
		endTileX = 32
	}

	for x := 0; x < endTileX; x++ {
		tileIndexAddr := tileMapAddr + uint16(y32+x)
		tileValue := g.memory.ReadVRAMBank(0, tileIndexAddr)
		xOffset := x * 8

		var palette, vramBank uint8
		flipX, flipY := false, false
		if g.cgbMode {
			attr := g.memory.ReadVRAMBank(1, tileIndexAddr)
			palette = attr & 0x07
			vramBank = (attr >> 3) & 0x01
			flipX = bit.IsSet(5, attr)
			flipY = bit.IsSet(6, attr)
		}

		pixelY := tilePixelYFor(lineAdj, flipY)
		pixelY2 := pixelY * 2

		var tileAddr uint16
		if useSignedTileSet {
			signedTile := int8(tileValue)
			tileOffset := int(signedTile) * 16
			tileAddr = uint16(int(tilesAddr) + tileOffset + int(pixelY2))
		} else {
			tile := int(tileValue)
			tileAddr = tilesAddr + uint16(tile*16) + uint16(pixelY2)
		}

		low := g.memory.ReadVRAMBank(vramBank, tileAddr)
		high := g.memory.ReadVRAMBank(vramBank, tileAddr+1)

		for pixelX := 0; pixelX < 8; pixelX++ {
			bufferX := xOffset + pixelX + int(wx)

			if bufferX < int(wx) || bufferX >= FramebufferWidth {
				continue
			}

			bitIndex := uint8(pixelX)
			if !flipX {
				bitIndex = 7 - bitIndex
			}

			pixel := 0
			if bit.IsSet(bitIndex, low) {
				pixel |= 1
			}
			if bit.IsSet(bitIndex, high) {
				pixel |= 2
			}

			position := lineWidth + bufferX
			if position >= len(g.framebuffer.buffer) {
				continue
			}

			var finalColor uint32
			if g.cgbMode {
				r, gc, b := g.memory.BGPaletteColor(palette, uint8(pixel))
				finalColor = cgb15ToColor(r, gc, b)
			} else {
				bgp := g.memory.Read(addr.BGP)
				color := (bgp >> (pixel * 2)) & 0x03
				finalColor = uint32(ByteToColor(color))
			}

			g.framebuffer.buffer[position] = finalColor
			g.bgPixelBuffer[position] = uint8(pixel)

			priority := false
			if g.cgbMode {
				attr := g.memory.ReadVRAMBank(1, tileIndexAddr)
				priority = bit.IsSet(7, attr)
			}
			g.bgAttrBuffer[position] = bgAttr{color: uint8(pixel), priority: priority}
		}
	}
	g.windowLine++
}

func (g *GPU) drawSprites() {
	if g.readLCDCVariable(spriteDisplayEnable) != 1 {
		return
	}

	spriteHeight := 8
	if g.readLCDCVariable(spriteSize) == 1 {
		spriteHeight = 16
	}

	lineWidth := g.line * FramebufferWidth
	var spritesToDraw []int

	// OAM selection phase (Pan Docs: https://gbdev.io/pandocs/OAM.html#selection-priority)
	for sprite := 0; sprite < 40; sprite++ {
		sprite4 := sprite * 4
		oamAddr := addr.OAMStart + uint16(sprite4)

		spriteY := int(g.memory.Read(oamAddr)) - 16

		if spriteY > g.line || (spriteY+spriteHeight) <= g.line {
			continue
		}
		spritesToDraw = append(spritesToDraw, sprite)

		if len(spritesToDraw) >= 10 {
			break
		}
	}

	g.spritePriority.Clear()

	for _, sprite := range spritesToDraw {
		sprite4 := sprite * 4
		oamAddr := addr.OAMStart + uint16(sprite4)
		spriteX := int(g.memory.Read(oamAddr+1)) - 8

		for pixelOffset := range 8 {
			bufferX := spriteX + pixelOffset
			g.spritePriority.TryClaimPixel(bufferX, sprite, spriteX)
		}
	}

	bgWasOff := g.bgWindowDisabled()

	for _, sprite := range spritesToDraw {
		sprite4 := sprite * 4
		oamAddr := addr.OAMStart + uint16(sprite4)
		spriteY := int(g.memory.Read(oamAddr)) - 16
		spriteX := int(g.memory.Read(oamAddr+1)) - 8
		spriteTile := g.memory.Read(oamAddr + 2)
		spriteFlags := g.memory.Read(oamAddr + 3)

		hasPixels := false
		for x := 0; x < 8; x++ {
			bufferX := spriteX + x
			if g.spritePriority.GetOwner(bufferX) == sprite {
				hasPixels = true
				break
			}
		}
		if !hasPixels {
			continue
		}

		spriteMask := 0xFF
		if spriteHeight == 16 {
			spriteMask = 0xFE
		}

		spriteTile16 := (int(spriteTile) & spriteMask) * 16

		flipX := bit.IsSet(5, spriteFlags)
		flipY := bit.IsSet(6, spriteFlags)
		aboveBG := !bit.IsSet(7, spriteFlags)

		var palette uint8
		var vramBank uint8
		if g.cgbMode {
			palette = spriteFlags & 0x07
			vramBank = (spriteFlags >> 3) & 0x01
		} else {
			palette = 0
			if bit.IsSet(4, spriteFlags) {
				palette = 1
			}
		}

		pixelY := g.line - spriteY
		if flipY {
			pixelY = spriteHeight - 1 - pixelY
		}

		var pixelY2, offset int
		if spriteHeight == 16 && pixelY >= 8 {
			pixelY2 = (pixelY - 8) * 2
			offset = 16
		} else {
			pixelY2 = pixelY * 2
		}

		tileAddr := addr.TileData0 + uint16(spriteTile16+pixelY2+offset)
		low := g.memory.ReadVRAMBank(vramBank, tileAddr)
		high := g.memory.ReadVRAMBank(vramBank, tileAddr+1)

		for pixelX := 0; pixelX < 8; pixelX++ {
			bufferX := spriteX + pixelX

			if g.spritePriority.GetOwner(bufferX) != sprite {
				continue
			}

			pixelIdx := 7 - pixelX
			if flipX {
				pixelIdx = pixelX
			}

			pixel := 0
			if bit.IsSet(uint8(pixelIdx), low) {
				pixel |= 1
			}
			if bit.IsSet(uint8(pixelIdx), high) {
				pixel |= 2
			}

			if pixel == 0 {
				continue
			}

			position := lineWidth + bufferX

			// In CGB mode, sprites always win when the background/window
			// layer is disabled entirely, regardless of priority bits.
			if !(g.cgbMode && bgWasOff) {
				bgAttrAt := g.bgAttrBuffer[position]
				if bgAttrAt.color != 0 {
					if g.cgbMode && bgAttrAt.priority {
						// the BG tile itself claims priority over sprites
						continue
					}
					if !aboveBG {
						// sprite's own OAM attribute puts it behind a non-transparent BG pixel
						continue
					}
				}
			}

			var finalColor uint32
			if g.cgbMode {
				r, gc, b := g.memory.ObjPaletteColor(palette, uint8(pixel))
				finalColor = cgb15ToColor(r, gc, b)
			} else {
				objPaletteAddr := addr.OBP0
				if palette == 1 {
					objPaletteAddr = addr.OBP1
				}
				objPalette := g.memory.Read(objPaletteAddr)
				color := (objPalette >> (pixel * 2)) & 0x03
				finalColor = uint32(ByteToColor(color))
			}

			g.framebuffer.buffer[position] = finalColor
		}
	}
}

// cgb15ToColor expands a 5-bit-per-channel CGB color into the packed
// 0xRRGGBBAA layout ByteToColor produces for DMG shades.
func cgb15ToColor(r, g, b uint8) uint32 {
	scale := func(v uint8) uint32 {
		return uint32(v)<<3 | uint32(v)>>2
	}
	return scale(r)<<24 | scale(g)<<16 | scale(b)<<8 | 0xFF
}

// LCD Stat (Status) Register bit values
// Bit 7 - unused
// Bit 6 - Interrupt based on LYC to LY comparison (based on bit 2)
// Bit 5 - Interrupt when Mode 10 (oamReadMode)
// Bit 4 - Interrupt when Mode 01 (vblankMode)
// Bit 3 - Interrupt when Mode 00 (hblankMode)
// Bit 2 - condition for triggering LYC/LY (0=LYC != LY, 1=LYC == LY)
// Bit 1,0 - represents the current GPU mode
//   - 00 -> hblankMode
//   - 01 -> vblankMode
//   - 10 -> oamReadMode
//   - 11 -> vramReadMode
type statFlag uint8

const (
	statLycIrq       statFlag = 6
	statOamIrq                = 5
	statVblankIrq             = 4
	statHblankIrq             = 3
	statLycCondition          = 2
	statModeHigh              = 1
	statModeLow               = 0
)

// LCDC (LCD Control) Register bit values
// Bit 7 - LCD Display Enable (0=Off, 1=On)
// Bit 6 - Window Tile Map Display Select (0=9800-9BFF, 1=9C00-9FFF)
// Bit 5 - Window Display Enable (0=Off, 1=On)
// Bit 4 - BG & Window Tile Data Select (0=8800-97FF, 1=8000-8FFF)
// Bit 3 - BG Tile Map Display Select (0=9800-9BFF, 1=9C00-9FFF)
// Bit 2 - OBJ (Sprite) Size (0=8x8, 1=8x16)
// Bit 1 - OBJ (Sprite) Display Enable (0=Off, 1=On)
// Bit 0 - BG Display (0=Off, 1=On); on CGB this instead means
//         "BG/window lose priority over sprites" when 0.
type lcdcFlag uint8

const (
	lcdDisplayEnable       lcdcFlag = 7
	windowTileMapSelect             = 6
	windowDisplayEnable             = 5
	bgWindowTileDataSelect          = 4
	bgTileMapDisplaySelect          = 3
	spriteSize                      = 2
	spriteDisplayEnable             = 1
	bgDisplay                       = 0
)

func (g *GPU) readLCDCVariable(flag lcdcFlag) byte {
	if bit.IsSet(uint8(flag), g.memory.Read(addr.LCDC)) {
		return 1
	}

	return 0
}

func (g *GPU) compareLYToLYC() {
	ly := g.memory.Read(addr.LY)
	lyc := g.memory.Read(addr.LYC)
	stat := g.memory.Read(addr.STAT)

	if ly == lyc {
		stat = bit.Set(statLycCondition, stat)
		if bit.IsSet(uint8(statLycIrq), stat) {
			g.memory.RequestInterrupt(addr.LCDSTATInterrupt)
		}
	} else {
		stat = bit.Reset(statLycCondition, stat)
	}

	g.memory.Write(addr.STAT, stat)
}

// setMode sets the two bits (1,0) in the STAT register
// according to the selected GPU mode.
func (g *GPU) setMode(mode GpuMode) {
	g.mode = mode
	stat := g.memory.Read(addr.STAT)
	stat = stat&0xFC | byte(g.mode)
	g.memory.Write(addr.STAT, stat)
}

// setLY updates the current scanline (LY register).
// This also triggers interrupts if necessary (LY/LYC comparison)
func (g *GPU) setLY(line int) {
	g.line = line
	g.memory.Write(addr.LY, byte(g.line))
	g.compareLYToLYC()
}
