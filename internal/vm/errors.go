package vm

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProgramSize     = errors.New("invalid program size")
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
	ErrStackOverflow          = errors.New("stack overflow")
	ErrStackUnderflow         = errors.New("stack underflow")
)

// StartupError is returned when a program cannot be loaded.
// It is always reported before any instruction executes.
type StartupError struct {
	Path string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("unable to load program %q: %v", e.Path, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// UnsupportedInstructionError carries the raw opcode that could not be decoded.
type UnsupportedInstructionError struct {
	Opcode uint16
	PC     uint16
}

func (e *UnsupportedInstructionError) Error() string {
	return fmt.Sprintf("unsupported instruction 0x%04X at 0x%03X", e.Opcode, e.PC)
}

func (e *UnsupportedInstructionError) Unwrap() error {
	return ErrUnsupportedInstruction
}

// IsRuntimeFault reports whether err is fatal to a running instance.
func IsRuntimeFault(err error) bool {
	return errors.Is(err, ErrUnsupportedInstruction) ||
		errors.Is(err, ErrStackOverflow) ||
		errors.Is(err, ErrStackUnderflow)
}
