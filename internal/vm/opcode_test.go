package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exec places word at the current PC and executes it.
func exec(t *testing.T, vm *VM, word uint16) {
	t.Helper()

	vm.memory[vm.pc] = byte(word >> 8)
	vm.memory[vm.pc+1] = byte(word)
	require.NoError(t, vm.Step(), "opcode 0x%04X", word)
}

func execErr(vm *VM, word uint16) error {
	vm.memory[vm.pc] = byte(word >> 8)
	vm.memory[vm.pc+1] = byte(word)
	return vm.Step()
}

func TestAddCarryLaw(t *testing.T) {
	vm := New()
	for x := 0; x <= 0xFF; x++ {
		for y := 0; y <= 0xFF; y++ {
			vm.pc = ProgramStart
			vm.registers[1] = uint8(x)
			vm.registers[2] = uint8(y)

			exec(t, vm, 0x8124)

			wantCarry := uint8(0)
			if x+y > 0xFF {
				wantCarry = 1
			}
			if vm.registers[0xF] != wantCarry || vm.registers[1] != uint8((x+y)%256) {
				t.Fatalf("add %d+%d: got v1=%d vf=%d", x, y, vm.registers[1], vm.registers[0xF])
			}
		}
	}
}

func TestSubBorrowLaws(t *testing.T) {
	vm := New()
	for x := 0; x <= 0xFF; x++ {
		for y := 0; y <= 0xFF; y++ {
			vm.pc = ProgramStart
			vm.registers[1] = uint8(x)
			vm.registers[2] = uint8(y)
			exec(t, vm, 0x8125)

			wantFlag := uint8(1)
			if y > x {
				wantFlag = 0
			}
			if vm.registers[0xF] != wantFlag || vm.registers[1] != uint8(x-y) {
				t.Fatalf("sub %d-%d: got v1=%d vf=%d", x, y, vm.registers[1], vm.registers[0xF])
			}

			vm.pc = ProgramStart
			vm.registers[1] = uint8(x)
			vm.registers[2] = uint8(y)
			exec(t, vm, 0x8127)

			wantFlag = 1
			if x > y {
				wantFlag = 0
			}
			if vm.registers[0xF] != wantFlag || vm.registers[1] != uint8(y-x) {
				t.Fatalf("rsb %d-%d: got v1=%d vf=%d", y, x, vm.registers[1], vm.registers[0xF])
			}
		}
	}
}

func TestShiftLaws(t *testing.T) {
	vm := New()
	for x := 0; x <= 0xFF; x++ {
		vm.pc = ProgramStart
		vm.registers[3] = uint8(x)
		exec(t, vm, 0x8306)
		assert.Equal(t, uint8(x&1), vm.registers[0xF])
		assert.Equal(t, uint8(x>>1), vm.registers[3])

		vm.pc = ProgramStart
		vm.registers[3] = uint8(x)
		exec(t, vm, 0x830E)
		assert.Equal(t, uint8(x>>7), vm.registers[0xF])
		assert.Equal(t, uint8(x<<1), vm.registers[3])
	}
}

func TestLogicResetsFlag(t *testing.T) {
	tests := []struct {
		name string
		word uint16
		want uint8
	}{
		{"or", 0x8121, 0b1110},
		{"and", 0x8122, 0b1000},
		{"xor", 0x8123, 0b0110},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := New()
			vm.registers[1] = 0b1100
			vm.registers[2] = 0b1010
			vm.registers[0xF] = 7

			exec(t, vm, tt.word)

			assert.Equal(t, tt.want, vm.registers[1])
			assert.Zero(t, vm.registers[0xF])
		})
	}
}

func TestAddConstWraps(t *testing.T) {
	vm := New()
	vm.registers[4] = 0xF0
	vm.registers[0xF] = 5

	exec(t, vm, 0x7420)

	assert.Equal(t, uint8(0x10), vm.registers[4])
	assert.Equal(t, uint8(5), vm.registers[0xF], "7XNN does not touch vf")
}

func TestSkips(t *testing.T) {
	tests := []struct {
		name   string
		word   uint16
		setup  func(vm *VM)
		wantPC uint16
	}{
		{"skeq const taken", 0x3A42, func(vm *VM) { vm.registers[0xA] = 0x42 }, 0x204},
		{"skeq const not taken", 0x3A42, func(vm *VM) {}, 0x202},
		{"skne const taken", 0x4A42, func(vm *VM) {}, 0x204},
		{"skne const not taken", 0x4A42, func(vm *VM) { vm.registers[0xA] = 0x42 }, 0x202},
		{"skeq reg taken", 0x5AB0, func(vm *VM) {}, 0x204},
		{"skeq reg not taken", 0x5AB0, func(vm *VM) { vm.registers[0xB] = 1 }, 0x202},
		{"skne reg taken", 0x9AB0, func(vm *VM) { vm.registers[0xB] = 1 }, 0x204},
		{"skne reg not taken", 0x9AB0, func(vm *VM) {}, 0x202},
		{"skpr taken", 0xEA9E, func(vm *VM) { vm.registers[0xA] = 0xC; vm.KeyDown(KeyC) }, 0x204},
		{"skpr not taken", 0xEA9E, func(vm *VM) { vm.registers[0xA] = 0xC }, 0x202},
		{"skpr out of range key", 0xEA9E, func(vm *VM) { vm.registers[0xA] = 0x20 }, 0x202},
		{"skup taken", 0xEAA1, func(vm *VM) { vm.registers[0xA] = 0xC }, 0x204},
		{"skup not taken", 0xEAA1, func(vm *VM) { vm.registers[0xA] = 0xC; vm.KeyDown(KeyC) }, 0x202},
		{"skup out of range key", 0xEAA1, func(vm *VM) { vm.registers[0xA] = 0x20 }, 0x204},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := New()
			tt.setup(vm)

			exec(t, vm, tt.word)

			assert.Equal(t, tt.wantPC, vm.pc)
		})
	}
}

func TestJumps(t *testing.T) {
	vm := New()
	exec(t, vm, 0x1ABC)
	assert.Equal(t, uint16(0xABC), vm.pc)

	vm = New()
	vm.registers[0] = 0x10
	exec(t, vm, 0xB300)
	assert.Equal(t, uint16(0x310), vm.pc)

	vm = New()
	vm.registers[0] = 0xFF
	err := execErr(vm, 0xBFFF)
	assert.ErrorIs(t, err, ErrAddressOutOfRange)
	assert.Equal(t, ProgramStart, vm.pc)
}

func TestIndexInstructions(t *testing.T) {
	vm := New()
	exec(t, vm, 0xA123)
	assert.Equal(t, uint16(0x123), vm.index)

	vm.registers[2] = 0x10
	vm.registers[0xF] = 9
	exec(t, vm, 0xF21E)
	assert.Equal(t, uint16(0x133), vm.index)
	assert.Equal(t, uint8(9), vm.registers[0xF], "FX1E leaves vf alone")

	vm.registers[2] = 0xB
	exec(t, vm, 0xF229)
	assert.Equal(t, uint16(0xB*5), vm.index)
	assert.Equal(t, chip8Font[0xB*5:0xB*5+5], vm.memory[vm.index:vm.index+5])
}

func TestRandom(t *testing.T) {
	vm := New(WithRandom(fixedRandom(0b1011_0110)))

	exec(t, vm, 0xC70F)

	assert.Equal(t, uint8(0b0110), vm.registers[7])
}

func TestTimerRegisters(t *testing.T) {
	vm := New()
	vm.registers[1] = 33

	exec(t, vm, 0xF115)
	exec(t, vm, 0xF118)
	assert.Equal(t, uint8(33), vm.delayTimer)
	assert.Equal(t, uint8(33), vm.soundTimer)

	vm.Tick()
	exec(t, vm, 0xF207)
	assert.Equal(t, uint8(32), vm.registers[2])
}

func TestBCD(t *testing.T) {
	for _, v := range []uint8{0, 7, 42, 100, 255} {
		vm := New()
		vm.index = 0x300
		vm.registers[5] = v

		exec(t, vm, 0xF533)

		assert.Equal(t, []uint8{v / 100, v / 10 % 10, v % 10}, vm.memory[0x300:0x303])
		assert.Equal(t, uint16(0x300), vm.index)
	}
}

func TestStoreLoadRegisters(t *testing.T) {
	vm := New()
	vm.index = 0x400
	for i := range vm.registers {
		vm.registers[i] = uint8(i * 3)
	}

	exec(t, vm, 0xF355)

	assert.Equal(t, []uint8{0, 3, 6, 9, 0}, vm.memory[0x400:0x405])
	assert.Equal(t, uint16(0x404), vm.index)

	vm.index = 0x401
	exec(t, vm, 0xF265)

	assert.Equal(t, []uint8{3, 6, 9}, vm.registers[:3])
	assert.Equal(t, uint8(9), vm.registers[3])
	assert.Equal(t, uint16(0x404), vm.index)
}

func TestMemoryBoundsFaults(t *testing.T) {
	tests := []struct {
		name  string
		word  uint16
		index uint16
	}{
		{"bcd", 0xF033, MemorySize - 2},
		{"str", 0xF455, MemorySize - 4},
		{"ldr", 0xFF65, MemorySize - 15},
		{"sprite", 0xD015, MemorySize - 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := New()
			vm.index = tt.index
			before := vm.Snapshot()

			err := execErr(vm, tt.word)

			var fault *Fault
			require.ErrorAs(t, err, &fault)
			assert.ErrorIs(t, err, ErrAddressOutOfRange)
			assert.Equal(t, tt.word, fault.Opcode)

			after := vm.Snapshot()
			before.Memory = after.Memory
			assert.Equal(t, before, after)
		})
	}
}

func TestSpriteXorIsSelfInverse(t *testing.T) {
	vm := New()
	vm.index = 0x300
	copy(vm.memory[0x300:], []uint8{0xFF, 0x81, 0xA5})
	vm.registers[0] = 10
	vm.registers[1] = 4
	original := vm.Framebuffer()

	exec(t, vm, 0xD013)
	assert.Zero(t, vm.registers[0xF])
	assert.NotEqual(t, original, vm.Framebuffer())
	for col := 0; col < 8; col++ {
		assert.True(t, vm.Pixel(10+col, 4), "row 0 col %d", col)
	}
	assert.True(t, vm.Pixel(17, 5), "least significant bit is drawn")
	assert.False(t, vm.Pixel(11, 5))

	exec(t, vm, 0xD013)
	assert.Equal(t, uint8(1), vm.registers[0xF])
	assert.Equal(t, original, vm.Framebuffer())
}

func TestSpriteCollisionOnlyOnTurnOff(t *testing.T) {
	vm := New()
	vm.index = 0x300
	vm.memory[0x300] = 0xF0
	vm.memory[0x301] = 0x0F

	exec(t, vm, 0xD011)
	assert.Zero(t, vm.registers[0xF])

	// Disjoint pixels on the same row: no on->off transition.
	vm.index = 0x301
	exec(t, vm, 0xD011)
	assert.Zero(t, vm.registers[0xF])
	for col := 0; col < 8; col++ {
		assert.True(t, vm.Pixel(col, 0))
	}
}

func TestSpriteClipsAtEdges(t *testing.T) {
	vm := New()
	vm.index = 0x300
	copy(vm.memory[0x300:], []uint8{0xFF, 0xFF, 0xFF})
	vm.registers[0] = ScreenWidth - 4
	vm.registers[1] = ScreenHeight - 2

	exec(t, vm, 0xD013)

	lit := 0
	for _, px := range vm.Framebuffer() {
		lit += int(px)
	}
	assert.Equal(t, 8, lit)
	assert.True(t, vm.Pixel(ScreenWidth-1, ScreenHeight-1))
	assert.False(t, vm.Pixel(0, 0), "no wrap to the opposite edge")
}

func TestSpriteOffscreenStartDrawsNothing(t *testing.T) {
	tests := map[string]struct{ x, y uint8 }{
		"right of screen": {x: ScreenWidth, y: 0},
		"below screen":    {x: 0, y: ScreenHeight},
		"far corner":      {x: 0xFF, y: 0xFF},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			vm := New()
			vm.index = fontStart
			vm.registers[0] = tt.x
			vm.registers[1] = tt.y
			vm.registers[flagRegister] = 1

			exec(t, vm, 0xD015)

			assert.Equal(t, make([]uint8, ScreenWidth*ScreenHeight), vm.Framebuffer())
			assert.Zero(t, vm.registers[flagRegister])
			assert.Equal(t, ProgramStart+InstructionSize, vm.pc)
		})
	}
}

func TestClearScreen(t *testing.T) {
	vm := New()
	vm.gfx[5] = 1
	vm.ClearRedraw()

	exec(t, vm, 0x00E0)

	assert.Equal(t, make([]uint8, ScreenWidth*ScreenHeight), vm.Framebuffer())
	assert.True(t, vm.NeedsRedraw())
	assert.Equal(t, uint16(0x202), vm.pc)
}

func TestDisassemble(t *testing.T) {
	tests := map[uint16]string{
		0x00E0: "cls",
		0x00EE: "rts",
		0x1234: "jmp 0x234",
		0x6A2A: "mov va, 42",
		0x8124: "add v1, v2",
		0xD125: "sprite v1, v2, 5",
		0xF355: "str v0-v3",
		0xFFFF: "unknown 0xFFFF",
	}

	for word, want := range tests {
		assert.Equal(t, want, Disassemble(word))
	}
}
