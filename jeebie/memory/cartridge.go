package memory

import (
	"fmt"

	"github.com/valerio/gobeen/jeebie/bit"
)

const titleLength = 11
const minRomSize = 0x150

const (
	entryPointAddress      = 0x100
	logoAddress            = 0x104
	titleAddress           = 0x134
	manufacturerCodeAddress = 0x13F
	cgbFlagAddress         = 0x143
	newLicenseCodeAddress  = 0x144
	sgbFlagAddress         = 0x146
	cartridgeTypeAddress   = 0x147
	romSizeAddress         = 0x148
	ramSizeAddress         = 0x149
	destinationCodeAddress = 0x14A
	oldLicenseCodeAddress  = 0x14B
	versionNumberAddress   = 0x14C
	headerChecksumAddress  = 0x14D
	globalChecksumAddress  = 0x14E
)

// MBCType enumerates the memory bank controller family declared by the
// cartridge header byte at 0x147.
type MBCType uint8

const (
	MBCNone MBCType = iota
	MBCType1
	MBCType2
	MBCType3
	MBCType5
)

func (t MBCType) String() string {
	switch t {
	case MBCNone:
		return "none"
	case MBCType1:
		return "MBC1"
	case MBCType2:
		return "MBC2"
	case MBCType3:
		return "MBC3"
	case MBCType5:
		return "MBC5"
	default:
		return "unknown"
	}
}

// LoadErrorKind classifies why a cartridge image failed to load.
type LoadErrorKind uint8

const (
	// TooSmall: the image is shorter than a valid header requires.
	TooSmall LoadErrorKind = iota
	// Checksum: the header checksum byte doesn't match the computed value.
	Checksum
	// BadTitleEncoding: more than half of the title field's bytes are non-zero
	// bytes outside printable ASCII.
	BadTitleEncoding
	// UnsupportedMBC: the cartridge type byte names an MBC this core doesn't implement.
	UnsupportedMBC
)

// LoadError reports a problem found while parsing a cartridge image.
type LoadError struct {
	Kind LoadErrorKind
	Msg  string
}

func (e *LoadError) Error() string {
	return e.Msg
}

// Cartridge holds a parsed ROM image plus the header metadata needed to
// build the right memory bank controller for it.
type Cartridge struct {
	data           []byte
	title          string
	headerChecksum uint8
	globalChecksum uint16
	version        uint8
	cartType       uint8
	romSize        uint8
	ramSize        uint8

	mbcType      MBCType
	hasBattery   bool
	hasRTC       bool
	hasRumble    bool
	ramBankCount uint8
	cgbFlag      uint8
	sgbFlag      uint8
}

// NewCartridge creates an empty cartridge, useful only for debugging purposes.
func NewCartridge() *Cartridge {
	return &Cartridge{
		data:         make([]byte, 0x10000),
		mbcType:      MBCNone,
		ramBankCount: 0,
	}
}

// NewCartridgeWithData initializes a new Cartridge from a slice of bytes,
// validating the header and deriving the MBC configuration from it.
func NewCartridgeWithData(bytes []byte) (*Cartridge, error) {
	if len(bytes) < minRomSize {
		return nil, &LoadError{Kind: TooSmall, Msg: fmt.Sprintf("rom image too small: %d bytes", len(bytes))}
	}

	titleBytes := bytes[titleAddress : titleAddress+titleLength]
	if isGarbageTitle(titleBytes) {
		return nil, &LoadError{Kind: BadTitleEncoding, Msg: "cartridge title is mostly non-printable bytes"}
	}
	title := cleanGameboyTitle(titleBytes)

	var checksum uint8
	for i := titleAddress; i < headerChecksumAddress; i++ {
		checksum = checksum - bytes[i] - 1
	}
	if checksum != bytes[headerChecksumAddress] {
		return nil, &LoadError{
			Kind: Checksum,
			Msg:  fmt.Sprintf("header checksum mismatch: computed %#02x, expected %#02x", checksum, bytes[headerChecksumAddress]),
		}
	}

	cart := &Cartridge{
		data:           make([]byte, len(bytes)),
		title:          title,
		headerChecksum: bytes[headerChecksumAddress],
		globalChecksum: bit.Combine(bytes[globalChecksumAddress], bytes[globalChecksumAddress+1]),
		version:        bytes[versionNumberAddress],
		cartType:       bytes[cartridgeTypeAddress],
		romSize:        bytes[romSizeAddress],
		ramSize:        bytes[ramSizeAddress],
		cgbFlag:        bytes[cgbFlagAddress],
		sgbFlag:        bytes[sgbFlagAddress],
	}
	copy(cart.data, bytes)

	if err := cart.deriveMBC(); err != nil {
		return nil, err
	}

	return cart, nil
}

func (c *Cartridge) deriveMBC() error {
	c.ramBankCount = ramBankCountFromHeader(c.ramSize)

	switch c.cartType {
	case 0x00, 0x08, 0x09:
		c.mbcType = MBCNone
		if c.cartType != 0x00 {
			c.hasBattery = c.cartType == 0x09
		}
	case 0x01, 0x02, 0x03:
		c.mbcType = MBCType1
		c.hasBattery = c.cartType == 0x03
	case 0x05, 0x06:
		c.mbcType = MBCType2
		c.hasBattery = c.cartType == 0x06
		c.ramBankCount = 1 // built-in 512x4 RAM, not header-sized
	case 0x0F, 0x10, 0x11, 0x12, 0x13:
		c.mbcType = MBCType3
		c.hasRTC = c.cartType == 0x0F || c.cartType == 0x10
		c.hasBattery = c.cartType == 0x0F || c.cartType == 0x10 || c.cartType == 0x13
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		c.mbcType = MBCType5
		c.hasRumble = c.cartType >= 0x1C
		c.hasBattery = c.cartType == 0x1B || c.cartType == 0x1E
	default:
		return &LoadError{
			Kind: UnsupportedMBC,
			Msg:  fmt.Sprintf("unsupported cartridge type %#02x", c.cartType),
		}
	}

	return nil
}

func ramBankCountFromHeader(ramSizeByte uint8) uint8 {
	switch ramSizeByte {
	case 0x00:
		return 0
	case 0x01:
		return 1 // 2KB, treated as a single partial bank
	case 0x02:
		return 1
	case 0x03:
		return 4
	case 0x04:
		return 16
	case 0x05:
		return 8
	default:
		return 0
	}
}

// IsCGB reports whether the header declares CGB support (bit 7 of the flag set).
func (c *Cartridge) IsCGB() bool {
	return c.cgbFlag&0x80 != 0
}

// IsSGB reports whether the header requests SGB function mode.
func (c *Cartridge) IsSGB() bool {
	return c.sgbFlag == 0x03
}

// Title returns the cleaned cartridge title from the header.
func (c *Cartridge) Title() string {
	return c.title
}

// BuildMBC constructs the memory bank controller implied by the header.
func (c *Cartridge) BuildMBC() MBC {
	switch c.mbcType {
	case MBCType1:
		return NewMBC1(c.data, c.hasBattery, c.ramBankCount)
	case MBCType2:
		return NewMBC2(c.data, c.hasBattery)
	case MBCType3:
		return NewMBC3(c.data, c.hasRTC, c.hasBattery, c.ramBankCount)
	case MBCType5:
		return NewMBC5(c.data, c.hasRumble, c.hasBattery, c.ramBankCount)
	default:
		return NewNoMBC(c.data, uint32(c.ramBankCount)*0x2000)
	}
}

// HasBattery reports whether the cartridge's external/built-in RAM should be
// persisted across runs.
func (c *Cartridge) HasBattery() bool {
	return c.hasBattery
}

// ReadByte reads a byte at the specified address. Does not check bounds, so the caller must make sure the
// address is valid for the cartridge.
func (c Cartridge) ReadByte(addr uint16) uint8 {
	return c.data[addr]
}

// WriteByte attempts a write to the specified address. Writing to a cartridge has sense if the cartridge
// has extra RAM or for some special operations, like switching ROM banks.
func (c Cartridge) WriteByte(addr uint16, value uint8) uint8 {
	return c.data[addr]
}
