// Package keymap translates host key codes to CHIP-8 keys.
//
// The host side is an integer key code as reported by the frontend: an SDL
// keycode or a raw terminal byte, both of which are ASCII for letters and
// digits. The default layout maps the host keys "0".."9", "q", "w", "e",
// "r", "t", "y" to CHIP-8 keys 0x0..0xF.
package keymap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	KeyCount = 16

	// NoKey is the host code used when no key is pressed.
	NoKey = -1

	// PassthroughSentinel in a layout file makes host codes equal CHIP-8 key values.
	PassthroughSentinel = "TREATASASCII"
)

var ErrInvalidLayout = errors.New("invalid keyboard layout")

type Key uint8

var defaultHostCodes = [KeyCount]int{48, 49, 50, 51, 52, 53, 54, 55, 56, 57, 113, 119, 101, 114, 116, 121}

// Mapper is immutable after construction and safe for concurrent use.
type Mapper struct {
	hostCodes   [KeyCount]int
	passthrough bool
}

// Default returns the built-in layout.
func Default() *Mapper {
	return &Mapper{hostCodes: defaultHostCodes}
}

func (m *Mapper) Passthrough() bool {
	return m.passthrough
}

// Map converts a host key code into a CHIP-8 key.
func (m *Mapper) Map(host int) (Key, bool) {
	if host == NoKey {
		return 0, false
	}

	if m.passthrough {
		if host >= 0 && host < KeyCount {
			return Key(host), true
		}
		return 0, false
	}

	for i, code := range m.hostCodes {
		if code == host {
			return Key(i), true
		}
	}
	return 0, false
}

// HostCode returns the host key code that stands for the register value v.
// In passthrough mode v itself is the host code. Otherwise only the low
// nibble of v selects the key.
func (m *Mapper) HostCode(v uint8) int {
	if m.passthrough {
		return int(v)
	}
	return m.hostCodes[v&0x0F]
}

// Parse reads a layout descriptor. Each line is either the passthrough
// sentinel, which ends parsing, or a "<chip8Code> <hostCode>" pair that
// overrides one entry of the default layout.
func Parse(r io.Reader) (*Mapper, error) {
	m := Default()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if strings.Contains(line, PassthroughSentinel) {
			m.passthrough = true
			break
		}

		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected \"<chip8> <host>\", got %q", ErrInvalidLayout, lineNo, line)
		}

		key, err := strconv.Atoi(fields[0])
		if err != nil || key < 0 || key >= KeyCount {
			return nil, fmt.Errorf("%w: line %d: bad chip-8 key %q", ErrInvalidLayout, lineNo, fields[0])
		}

		host, err := strconv.Atoi(fields[1])
		if err != nil || host < 0 {
			return nil, fmt.Errorf("%w: line %d: bad host key %q", ErrInvalidLayout, lineNo, fields[1])
		}

		m.hostCodes[key] = host
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read keyboard layout: %w", err)
	}

	return m, nil
}

// Load reads a layout descriptor from path. A missing or malformed file is
// not fatal: a warning is logged and the default layout is returned.
func Load(path string) *Mapper {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("keyboard layout not loaded, using default", "path", path, "err", err)
		return Default()
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		slog.Warn("keyboard layout is invalid, using default", "path", path, "err", err)
		return Default()
	}

	slog.Debug("keyboard layout loaded", "path", path, "passthrough", m.passthrough)
	return m
}
