package integration

import (
	"os"
	"path/filepath"
	"testing"
)

// buildROM assembles a minimal, header-valid cartridge image: size bytes
// long (zero-filled, i.e. an ocean of NOPs), with program written starting
// at the entry point (0x0100) and a correct header checksum so
// NewCartridgeWithData accepts it.
func buildROM(t *testing.T, size int, cartType byte, program []byte) []byte {
	t.Helper()

	rom := make([]byte, size)
	copy(rom[0x0100:], program)

	rom[0x0147] = cartType
	rom[0x0148] = 0x00 // ROM size byte, informational only in this tree
	rom[0x0149] = 0x00 // no external RAM

	var checksum uint8
	for i := 0x134; i < 0x14D; i++ {
		checksum = checksum - rom[i] - 1
	}
	rom[0x14D] = checksum

	return rom
}

// writeROM saves rom under a temp file and returns its path, for the
// file-path-only jeebie.NewWithFile/NewWithBootROM constructors.
func writeROM(t *testing.T, rom []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.gb")
	if err := os.WriteFile(path, rom, 0644); err != nil {
		t.Fatalf("writing synthetic ROM: %v", err)
	}
	return path
}
