package vm

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	flagRegister = 0x0F
	spriteWidth  = 8
)

// opcode is a fetched instruction word. Its accessors are views over the
// nibble fields used by the instruction table.
type opcode uint16

func (op opcode) nnn() uint16 { return uint16(op) & 0x0FFF }
func (op opcode) nn() uint8   { return uint8(op & 0x00FF) }
func (op opcode) n() uint8    { return uint8(op & 0x000F) }
func (op opcode) x() uint8    { return uint8((op & 0x0F00) >> 8) }
func (op opcode) y() uint8    { return uint8((op & 0x00F0) >> 4) }

// Disassemble returns the mnemonic form of a single instruction word.
func Disassemble(word uint16) string {
	op := opcode(word)
	return decode(op).Name(op)
}

func (vm *VM) executeOpcode(op opcode) error {
	instr := decode(op)

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", vm.pc),
			"opcode", fmt.Sprintf("0x%04x", uint16(op)),
			"instr", instr.Name(op),
		)
	}

	return instr.Execute(vm, op)
}

func (vm *VM) fault(op opcode, err error) error {
	return &Fault{PC: vm.pc, Opcode: uint16(op), Err: err}
}

// checkRange fails unless the n bytes starting at addr are all in memory.
func (vm *VM) checkRange(op opcode, addr uint16, n int) error {
	if n > 0 && int(addr)+n > MemorySize {
		return vm.fault(op, ErrAddressOutOfRange)
	}
	return nil
}

func (vm *VM) next() {
	vm.pc += InstructionSize
}

func (vm *VM) skipIf(cond bool) {
	if cond {
		vm.pc += 2 * InstructionSize
	} else {
		vm.pc += InstructionSize
	}
}

func (vm *VM) keyPressed(key uint8) bool {
	return int(key) < KeyCount && vm.keypad[key]
}

type instruction struct {
	Name    func(op opcode) string
	Execute func(vm *VM, op opcode) error
}

func decode(op opcode) instruction {
	switch op & 0xF000 {
	case 0x0000:
		switch op {
		case 0x00E0:
			// 00E0 - Clear screen
			return clsInstruction

		case 0x00EE:
			// 00EE - Return from subroutine
			return rtsInstruction
		}

	case 0x1000:
		// 1NNN - Jumps to address NNN
		return jmpInstruction

	case 0x2000:
		// 2NNN - Calls subroutine at NNN
		return jsrInstruction

	case 0x3000:
		// 3XNN - Skips the next instruction if VX equals NN
		return skeqConstInstruction

	case 0x4000:
		// 4XNN - Skips the next instruction if VX does not equal NN
		return skneConstInstruction

	case 0x5000:
		// 5XY0 - Skips the next instruction if VX equals VY
		if op.n() == 0 {
			return skeqRegInstruction
		}

	case 0x6000:
		// 6XNN - Sets VX to NN
		return movConstInstruction

	case 0x7000:
		// 7XNN - Adds NN to VX, no carry
		return addConstInstruction

	case 0x8000:
		switch op.n() {
		case 0x0:
			return movRegInstruction
		case 0x1:
			return orInstruction
		case 0x2:
			return andInstruction
		case 0x3:
			return xorInstruction
		case 0x4:
			return addRegInstruction
		case 0x5:
			return subInstruction
		case 0x6:
			return shrInstruction
		case 0x7:
			return rsbInstruction
		case 0xE:
			return shlInstruction
		}

	case 0x9000:
		// 9XY0 - Skips the next instruction if VX doesn't equal VY
		if op.n() == 0 {
			return skneRegInstruction
		}

	case 0xA000:
		// ANNN - Sets I to the address NNN
		return mviInstruction

	case 0xB000:
		// BNNN - Jumps to the address NNN plus V0
		return jmiInstruction

	case 0xC000:
		// CXNN - Sets VX to a random byte masked by NN
		return randInstruction

	case 0xD000:
		// DXYN - XOR an 8xN sprite read from I onto the screen at (VX, VY).
		// VF is set when any lit pixel is turned off.
		return spriteInstruction

	case 0xE000:
		switch op.nn() {
		case 0x9E:
			return skprInstruction
		case 0xA1:
			return skupInstruction
		}

	case 0xF000:
		switch op.nn() {
		case 0x07:
			return gdelayInstruction
		case 0x0A:
			return keyInstruction
		case 0x15:
			return sdelayInstruction
		case 0x18:
			return ssoundInstruction
		case 0x1E:
			return adiInstruction
		case 0x29:
			return fontInstruction
		case 0x33:
			return bcdInstruction
		case 0x55:
			return strInstruction
		case 0x65:
			return ldrInstruction
		}
	}

	return unknownInstruction
}

var (
	// 00E0	cls	Clear the screen
	clsInstruction = instruction{
		Name: func(op opcode) string {
			return "cls"
		},
		Execute: func(vm *VM, op opcode) error {
			clear(vm.gfx[:])
			vm.drawFlag = true
			vm.next()
			return nil
		},
	}

	// 00EE	rts	return from subroutine call
	rtsInstruction = instruction{
		Name: func(op opcode) string {
			return "rts"
		},
		Execute: func(vm *VM, op opcode) error {
			if vm.sp == 0 {
				return vm.fault(op, ErrStackUnderflow)
			}
			vm.sp--
			vm.pc = vm.stack[vm.sp] + InstructionSize
			return nil
		},
	}

	// 1nnn	jmp nnn	jump to address nnn
	jmpInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("jmp 0x%03x", op.nnn())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.pc = op.nnn()
			return nil
		},
	}

	// 2nnn	jsr nnn	jump to subroutine at address nnn
	jsrInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("jsr 0x%03x", op.nnn())
		},
		Execute: func(vm *VM, op opcode) error {
			if vm.sp >= StackSize {
				return vm.fault(op, ErrStackOverflow)
			}
			vm.stack[vm.sp] = vm.pc
			vm.sp++
			vm.pc = op.nnn()
			return nil
		},
	}

	// 3xnn	skeq vx,nn	skip if register x = constant
	skeqConstInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("skeq v%x, %d", op.x(), op.nn())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.skipIf(vm.registers[op.x()] == op.nn())
			return nil
		},
	}

	// 4xnn	skne vx,nn	skip if register x <> constant
	skneConstInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("skne v%x, %d", op.x(), op.nn())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.skipIf(vm.registers[op.x()] != op.nn())
			return nil
		},
	}

	// 5xy0	skeq vx,vy	skip if register x = register y
	skeqRegInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("skeq v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.skipIf(vm.registers[op.x()] == vm.registers[op.y()])
			return nil
		},
	}

	// 6xnn	mov vx,nn	move constant to register x
	movConstInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("mov v%x, %d", op.x(), op.nn())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.registers[op.x()] = op.nn()
			vm.next()
			return nil
		},
	}

	// 7xnn	add vx,nn	add constant to register x	No carry generated
	addConstInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("add v%x, %d", op.x(), op.nn())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.registers[op.x()] += op.nn()
			vm.next()
			return nil
		},
	}

	// 8xy0	mov vx,vy	move register y into register x
	movRegInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("mov v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.registers[op.x()] = vm.registers[op.y()]
			vm.next()
			return nil
		},
	}

	// 8xy1	or vx,vy	or register y into register x, vf cleared
	orInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("or v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.registers[op.x()] |= vm.registers[op.y()]
			vm.registers[flagRegister] = 0
			vm.next()
			return nil
		},
	}

	// 8xy2	and vx,vy	and register y into register x, vf cleared
	andInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("and v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.registers[op.x()] &= vm.registers[op.y()]
			vm.registers[flagRegister] = 0
			vm.next()
			return nil
		},
	}

	// 8xy3	xor vx,vy	exclusive or register y into register x, vf cleared
	xorInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("xor v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.registers[op.x()] ^= vm.registers[op.y()]
			vm.registers[flagRegister] = 0
			vm.next()
			return nil
		},
	}

	// 8xy4	add vx,vy	add register y to register x, carry in vf
	addRegInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("add v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			x := vm.registers[op.x()]
			y := vm.registers[op.y()]

			if uint16(x)+uint16(y) > 0xFF {
				vm.registers[flagRegister] = 1
			} else {
				vm.registers[flagRegister] = 0
			}
			vm.registers[op.x()] = x + y

			vm.next()
			return nil
		},
	}

	// 8xy5	sub vx,vy	subtract register y from register x, vf cleared on borrow
	subInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("sub v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			x := vm.registers[op.x()]
			y := vm.registers[op.y()]

			if y > x {
				vm.registers[flagRegister] = 0
			} else {
				vm.registers[flagRegister] = 1
			}
			vm.registers[op.x()] = x - y

			vm.next()
			return nil
		},
	}

	// 8x06	shr vx	shift register x right, bit 0 goes into vf
	shrInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("shr v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			x := vm.registers[op.x()]

			vm.registers[flagRegister] = x & 0x1
			vm.registers[op.x()] = x >> 1

			vm.next()
			return nil
		},
	}

	// 8xy7	rsb vx,vy	subtract register x from register y, result in x, vf cleared on borrow
	rsbInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("rsb v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			x := vm.registers[op.x()]
			y := vm.registers[op.y()]

			if x > y {
				vm.registers[flagRegister] = 0
			} else {
				vm.registers[flagRegister] = 1
			}
			vm.registers[op.x()] = y - x

			vm.next()
			return nil
		},
	}

	// 8x0e	shl vx	shift register x left, bit 7 goes into vf
	shlInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("shl v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			x := vm.registers[op.x()]

			vm.registers[flagRegister] = x >> 7
			vm.registers[op.x()] = x << 1

			vm.next()
			return nil
		},
	}

	// 9xy0	skne vx,vy	skip if register x <> register y
	skneRegInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("skne v%x, v%x", op.x(), op.y())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.skipIf(vm.registers[op.x()] != vm.registers[op.y()])
			return nil
		},
	}

	// annn	mvi nnn	load index register with constant nnn
	mviInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("mvi 0x%03x", op.nnn())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.index = op.nnn()
			vm.next()
			return nil
		},
	}

	// bnnn	jmi nnn	jump to address nnn + register v0
	jmiInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("jmi 0x%03x", op.nnn())
		},
		Execute: func(vm *VM, op opcode) error {
			target := op.nnn() + uint16(vm.registers[0])
			if int(target)+1 >= MemorySize {
				return vm.fault(op, ErrAddressOutOfRange)
			}
			vm.pc = target
			return nil
		},
	}

	// cxnn	rand vx,nn	vx = random byte & nn
	randInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("rand v%x, 0x%02x", op.x(), op.nn())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.registers[op.x()] = vm.rand.Byte() & op.nn()
			vm.next()
			return nil
		},
	}

	// dxyn	sprite vx,vy,n	draw sprite at screen location vx,vy height n
	// Rows are 8 pixels wide, MSB first, read from I onwards. Pixels that fall
	// off the right or bottom edge are clipped.
	spriteInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("sprite v%x, v%x, %d", op.x(), op.y(), op.n())
		},
		Execute: func(vm *VM, op opcode) error {
			height := int(op.n())
			if err := vm.checkRange(op, vm.index, height); err != nil {
				return err
			}

			xLocation := int(vm.registers[op.x()])
			yLocation := int(vm.registers[op.y()])

			hasCollision := uint8(0)
			for row := 0; row < height; row++ {
				y := yLocation + row
				if y >= ScreenHeight {
					break
				}

				pixels := vm.memory[int(vm.index)+row]
				for col := 0; col < spriteWidth; col++ {
					x := xLocation + col
					if x >= ScreenWidth {
						break
					}
					if pixels&(0x80>>col) == 0 {
						continue
					}

					screenAddr := y*ScreenWidth + x
					if vm.gfx[screenAddr] != 0 {
						hasCollision = 1
					}
					vm.gfx[screenAddr] ^= 1
				}
			}

			vm.registers[flagRegister] = hasCollision
			vm.drawFlag = true
			vm.next()
			return nil
		},
	}

	// ex9e	skpr vx	skip if key (register x) pressed
	skprInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("skpr v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.skipIf(vm.keyPressed(vm.registers[op.x()]))
			return nil
		},
	}

	// exa1	skup vx	skip if key (register x) not pressed
	skupInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("skup v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.skipIf(!vm.keyPressed(vm.registers[op.x()]))
			return nil
		},
	}

	// fx07	gdelay vx	get delay timer into vx
	gdelayInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("gdelay v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.registers[op.x()] = vm.delayTimer
			vm.next()
			return nil
		},
	}

	// fx0a	key vx	wait for a keypress, put the lowest pressed key in vx
	// While nothing is pressed the PC stays put and the instruction repeats.
	keyInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("key v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			for i, pressed := range vm.keypad {
				if pressed {
					vm.registers[op.x()] = uint8(i)
					vm.next()
					return nil
				}
			}
			return nil
		},
	}

	// fx15	sdelay vx	set the delay timer to vx
	sdelayInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("sdelay v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.delayTimer = vm.registers[op.x()]
			vm.next()
			return nil
		},
	}

	// fx18	ssound vx	set the sound timer to vx
	ssoundInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("ssound v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.soundTimer = vm.registers[op.x()]
			vm.next()
			return nil
		},
	}

	// fx1e	adi vx	add register x to the index register, vf untouched
	adiInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("adi v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.index += uint16(vm.registers[op.x()])
			vm.next()
			return nil
		},
	}

	// fx29	font vx	point I to the glyph for the hex digit in vx
	fontInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("font v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			vm.index = fontStart + uint16(vm.registers[op.x()])*fontGlyphHeight
			vm.next()
			return nil
		},
	}

	// fx33	bcd vx	store the bcd digits of vx at I, I+1, I+2	Doesn't change I
	bcdInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("bcd v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			if err := vm.checkRange(op, vm.index, 3); err != nil {
				return err
			}

			x := vm.registers[op.x()]
			vm.memory[vm.index] = x / 100
			vm.memory[vm.index+1] = (x / 10) % 10
			vm.memory[vm.index+2] = x % 10

			vm.next()
			return nil
		},
	}

	// fx55	str v0-vx	store registers v0-vx at I onwards, then I = I + x + 1
	strInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("str v0-v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			n := uint16(op.x()) + 1
			if err := vm.checkRange(op, vm.index, int(n)); err != nil {
				return err
			}

			copy(vm.memory[vm.index:vm.index+n], vm.registers[:n])
			vm.index += n

			vm.next()
			return nil
		},
	}

	// fx65	ldr v0-vx	load registers v0-vx from I onwards, then I = I + x + 1
	ldrInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("ldr v0-v%x", op.x())
		},
		Execute: func(vm *VM, op opcode) error {
			n := uint16(op.x()) + 1
			if err := vm.checkRange(op, vm.index, int(n)); err != nil {
				return err
			}

			copy(vm.registers[:n], vm.memory[vm.index:vm.index+n])
			vm.index += n

			vm.next()
			return nil
		},
	}

	unknownInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("unknown 0x%04X", uint16(op))
		},
		Execute: func(vm *VM, op opcode) error {
			return vm.fault(op, ErrUnknownOpcode)
		},
	}
)
