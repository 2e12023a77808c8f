package vm

import (
	"fmt"
	"log/slog"
	"os"
)

// MaxProgramSize is the space between ProgramStart and the end of memory.
const MaxProgramSize = MemorySize - int(ProgramStart)

// LoadProgram reads a program binary from path and validates its size.
func LoadProgram(path string) ([]byte, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, &StartupError{Path: path, Err: err}
	}

	if err := ValidateProgram(bs); err != nil {
		return nil, &StartupError{Path: path, Err: err}
	}

	slog.Debug("program loaded", "path", path, "n", len(bs))
	return bs, nil
}

// ValidateProgram checks that a program fits into memory after ProgramStart.
func ValidateProgram(bs []byte) error {
	if len(bs) == 0 || len(bs) > MaxProgramSize {
		return fmt.Errorf("%w: %d bytes, acceptable size is 1-%d bytes", ErrInvalidProgramSize, len(bs), MaxProgramSize)
	}
	return nil
}
