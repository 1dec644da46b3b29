package vm

import "fmt"

// State is a detached copy of every architectural register of a VM. The
// keypad is host input, not machine state, and is not part of it.
type State struct {
	Memory      [MemorySize]uint8                 `cbor:"memory"`
	Registers   [RegisterCount]uint8              `cbor:"v"`
	Stack       [StackSize]uint16                 `cbor:"stack"`
	SP          uint16                            `cbor:"sp"`
	PC          uint16                            `cbor:"pc"`
	I           uint16                            `cbor:"i"`
	DelayTimer  uint8                             `cbor:"dt"`
	SoundTimer  uint8                             `cbor:"st"`
	Framebuffer [ScreenWidth * ScreenHeight]uint8 `cbor:"gfx"`
}

// Snapshot copies out the current state.
func (vm *VM) Snapshot() State {
	return State{
		Memory:      vm.memory,
		Registers:   vm.registers,
		Stack:       vm.stack,
		SP:          vm.sp,
		PC:          vm.pc,
		I:           vm.index,
		DelayTimer:  vm.delayTimer,
		SoundTimer:  vm.soundTimer,
		Framebuffer: vm.gfx,
	}
}

// Restore replaces the VM state with st, releases every key and raises the
// redraw flag.
func (vm *VM) Restore(st State) error {
	if st.SP > StackSize {
		return fmt.Errorf("%w: stack pointer %d", ErrInvalidState, st.SP)
	}
	if st.PC >= MemorySize {
		return fmt.Errorf("%w: program counter 0x%04x", ErrInvalidState, st.PC)
	}

	vm.memory = st.Memory
	vm.registers = st.Registers
	vm.stack = st.Stack
	vm.sp = st.SP
	vm.pc = st.PC
	vm.index = st.I
	vm.delayTimer = st.DelayTimer
	vm.soundTimer = st.SoundTimer
	vm.keypad = [KeyCount]bool{}

	for i, px := range st.Framebuffer {
		vm.gfx[i] = px & 1
	}
	vm.drawFlag = true

	return nil
}
