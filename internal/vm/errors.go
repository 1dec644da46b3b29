package vm

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrAddressOutOfRange = errors.New("address out of range")

	ErrProgramTooLarge = errors.New("program too large")
	ErrInvalidState    = errors.New("invalid state")
)

// Fault is returned by Step when an instruction cannot be executed. The VM
// state is left exactly as it was before the faulting instruction.
type Fault struct {
	PC     uint16
	Opcode uint16
	Err    error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at 0x%04X (opcode 0x%04X): %v", f.PC, f.Opcode, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}
