package jeebie

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/valerio/gobeen/jeebie/cpu"
	"github.com/valerio/gobeen/jeebie/input/action"
	"github.com/valerio/gobeen/jeebie/memory"
	"github.com/valerio/gobeen/jeebie/timing"
	"github.com/valerio/gobeen/jeebie/video"
)

// Emulator is the root struct tying together the CPU, MMU and GPU and the
// entry point for running emulation. It owns the frame-stepping loop: the
// CPU and GPU are otherwise independent components that only know about the
// bus (MMU) they share.
type Emulator struct {
	cpu *cpu.CPU
	gpu *video.GPU
	mmu *memory.MMU

	instructionCount uint64
	frameCount       uint64
}

// New creates an emulator with no cartridge loaded, equivalent to turning on
// a Game Boy with an empty cartridge slot.
func New() *Emulator {
	return newEmulator(memory.NewWithCartridge(memory.NewCartridge(), nil))
}

// NewWithFile loads the ROM at path and returns an emulator ready to run it.
func NewWithFile(path string) (*Emulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ROM file: %w", err)
	}

	cart, err := memory.NewCartridgeWithData(data)
	if err != nil {
		return nil, fmt.Errorf("loading cartridge: %w", err)
	}

	slog.Debug("loaded ROM", "path", path, "size", len(data))

	return newEmulator(memory.NewWithCartridge(cart, nil)), nil
}

// NewWithBootROM loads the ROM at path shadowed by the given boot ROM image,
// starting execution at address 0 instead of 0x0100.
func NewWithBootROM(path string, bootROM []byte) (*Emulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ROM file: %w", err)
	}

	cart, err := memory.NewCartridgeWithData(data)
	if err != nil {
		return nil, fmt.Errorf("loading cartridge: %w", err)
	}

	emu := newEmulator(memory.NewWithCartridge(cart, bootROM))
	emu.cpu.Reset()
	return emu, nil
}

func newEmulator(mmu *memory.MMU) *Emulator {
	gpu := video.NewGpu(mmu)
	mmu.SetPPU(gpu)

	return &Emulator{
		cpu: cpu.New(mmu),
		gpu: gpu,
		mmu: mmu,
	}
}

// RunUntilFrame steps the CPU until a full frame (70224 T-cycles) has
// elapsed, ticking the GPU with every instruction's cycle cost so its mode
// FSM and scanline renderer stay in lockstep with the CPU.
func (e *Emulator) RunUntilFrame() error {
	e.RunCycles(timing.CyclesPerFrame)
	e.frameCount++
	return nil
}

// Step runs a single CPU instruction (servicing interrupts and HALT as
// needed), ticks the GPU for its cycle cost, and returns the cycle count.
func (e *Emulator) Step() int {
	cycles := e.cpu.Step()
	e.gpu.Tick(cycles)
	e.instructionCount++
	return cycles
}

// RunCycles runs instructions until at least n T-cycles have elapsed.
func (e *Emulator) RunCycles(n int) {
	total := 0
	for total < n {
		total += e.Step()
	}
}

// GetCPU exposes the CPU, for callers that need register-level inspection
// (debugging tools, tests).
func (e *Emulator) GetCPU() *cpu.CPU {
	return e.cpu
}

// GetCurrentFrame returns the most recently completed frame buffer.
func (e *Emulator) GetCurrentFrame() *video.FrameBuffer {
	return e.gpu.GetFrameBuffer()
}

// GetInstructionCount returns the total number of CPU instructions executed.
func (e *Emulator) GetInstructionCount() uint64 {
	return e.instructionCount
}

// GetFrameCount returns the total number of frames completed.
func (e *Emulator) GetFrameCount() uint64 {
	return e.frameCount
}

// GetMMU exposes the bus, for callers that need direct register access
// (input handling, save-RAM persistence, debugging tools).
func (e *Emulator) GetMMU() *memory.MMU {
	return e.mmu
}

// SetSerialStdout mirrors the serial port's output byte stream to stdout,
// used by test ROMs (e.g. Blargg's suite) that report pass/fail over serial.
func (e *Emulator) SetSerialStdout(enabled bool) {
	e.mmu.SetSerialStdout(enabled)
}

// HandleAction applies an input action (Game Boy button or emulator control)
// to the running emulator. Only Game Boy hardware controls are wired here;
// emulator-level actions (pause, step, quit) are handled by the frontend.
func (e *Emulator) HandleAction(act action.Action, pressed bool) {
	key, ok := gbButtonKey(act)
	if !ok {
		return
	}
	if pressed {
		e.mmu.Joypad().Press(key)
	} else {
		e.mmu.Joypad().Release(key)
	}
}

func gbButtonKey(act action.Action) (memory.JoypadKey, bool) {
	switch act {
	case action.GBButtonA:
		return memory.JoypadA, true
	case action.GBButtonB:
		return memory.JoypadB, true
	case action.GBButtonStart:
		return memory.JoypadStart, true
	case action.GBButtonSelect:
		return memory.JoypadSelect, true
	case action.GBDPadUp:
		return memory.JoypadUp, true
	case action.GBDPadDown:
		return memory.JoypadDown, true
	case action.GBDPadLeft:
		return memory.JoypadLeft, true
	case action.GBDPadRight:
		return memory.JoypadRight, true
	default:
		return 0, false
	}
}

// SaveRAM returns the cartridge's battery-backed RAM, or nil if it has none.
func (e *Emulator) SaveRAM() []byte {
	return e.mmu.SaveRAM()
}

// LoadRAM restores previously saved battery-backed RAM contents.
func (e *Emulator) LoadRAM(data []byte) {
	e.mmu.LoadRAM(data)
}
