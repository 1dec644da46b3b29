package vm

import (
	"fmt"
	"log/slog"
	"slices"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16
	ScreenWidth   = 64
	ScreenHeight  = 32
	KeyCount      = 16

	ProgramStart    = uint16(0x200)
	InstructionSize = 2

	// MaxProgramSize is the largest program image that fits above ProgramStart.
	MaxProgramSize = MemorySize - int(ProgramStart)
)

// VM is a CHIP-8 virtual CPU. It performs no I/O of its own: the host feeds
// key state in, calls Step at its instruction rate and Tick at 60 Hz, and
// reads the framebuffer back out. A VM is not safe for concurrent use.
type VM struct {
	memory    [MemorySize]uint8    // Memory (4k)
	registers [RegisterCount]uint8 // V registers (V0-VF)

	stack [StackSize]uint16 // Stack
	sp    uint16            // Stack pointer

	pc    uint16 // Program counter
	index uint16 // Index register

	delayTimer uint8 // Delay timer
	soundTimer uint8 // Sound timer

	gfx      [ScreenWidth * ScreenHeight]uint8 // Graphics buffer
	keypad   [KeyCount]bool                    // Keypad
	drawFlag bool                              // Indicates a draw has occurred

	rand RandomSource
}

// Option configures a VM.
type Option func(*VM)

// WithRandom replaces the source of random bytes used by CXNN.
func WithRandom(src RandomSource) Option {
	return func(vm *VM) {
		vm.rand = src
	}
}

// New returns a VM in its power-on state: font resident at 0x000, PC at
// ProgramStart and the redraw flag raised.
func New(opts ...Option) *VM {
	vm := &VM{
		pc:       ProgramStart,
		drawFlag: true,
		rand:     defaultRandom{},
	}

	copy(vm.memory[fontStart:], chip8Font[:])
	slog.Debug("load font", "at", fmt.Sprintf("0x%04x", fontStart), "n", len(chip8Font))

	for _, opt := range opts {
		opt(vm)
	}

	return vm
}

// Load copies a raw program image into memory at ProgramStart. Nothing is
// written when the image does not fit.
func (vm *VM) Load(program []byte) error {
	if len(program) > MaxProgramSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrProgramTooLarge, len(program), MaxProgramSize)
	}

	slog.Info("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(program))
	copy(vm.memory[ProgramStart:], program)
	return nil
}

// Step fetches, decodes and executes a single instruction. Any failure is
// returned as a *Fault and leaves the VM as it was before the call.
func (vm *VM) Step() error {
	opcode, err := vm.fetchOpcode()
	if err != nil {
		return err
	}

	return vm.executeOpcode(opcode)
}

// Tick advances both timers by one 60 Hz period. It reports true when the
// sound timer runs out on this tick, which is the host's cue to emit a tone.
func (vm *VM) Tick() bool {
	if vm.delayTimer > 0 {
		vm.delayTimer--
	}

	beep := false
	if vm.soundTimer > 0 {
		beep = vm.soundTimer == 1
		vm.soundTimer--
	}

	return beep
}

// Framebuffer returns a copy of the display, one byte per pixel, row-major.
func (vm *VM) Framebuffer() []uint8 {
	return slices.Clone(vm.gfx[:])
}

// Pixel reports whether the pixel at (x, y) is lit. Coordinates outside the
// screen are never lit.
func (vm *VM) Pixel(x, y int) bool {
	if x < 0 || x >= ScreenWidth || y < 0 || y >= ScreenHeight {
		return false
	}
	return vm.gfx[y*ScreenWidth+x] != 0
}

// NeedsRedraw reports whether the framebuffer changed since the last ClearRedraw.
func (vm *VM) NeedsRedraw() bool {
	return vm.drawFlag
}

// ClearRedraw acknowledges the current framebuffer contents.
func (vm *VM) ClearRedraw() {
	vm.drawFlag = false
}

// SetKey sets the state of a single keypad line. Keys outside 0x0-0xF are ignored.
func (vm *VM) SetKey(key Key, pressed bool) {
	if int(key) >= KeyCount {
		return
	}
	vm.keypad[key] = pressed
}

func (vm *VM) KeyDown(key Key) {
	vm.SetKey(key, true)
}

func (vm *VM) KeyUp(key Key) {
	vm.SetKey(key, false)
}

// Key is a line of the hexadecimal keypad.
type Key uint8

const (
	Key0 = Key(iota)
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
)

func (vm *VM) fetchOpcode() (opcode, error) {
	if int(vm.pc)+1 >= MemorySize {
		return 0, &Fault{PC: vm.pc, Err: ErrAddressOutOfRange}
	}

	hi := vm.memory[vm.pc]
	lo := vm.memory[vm.pc+1]

	return opcode(uint16(hi)<<8 | uint16(lo)), nil // Op code is two bytes
}
