// Package tty runs the emulator in a text terminal: stdin in raw mode feeds
// host key codes and the pixel buffer is drawn with half-block characters.
//
// Terminals report key presses but not releases, so a key counts as held
// for keyHold after its last byte arrives. Autorepeat keeps it held.
package tty

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/kapitanov/chip8/internal/emulator"
	"github.com/kapitanov/chip8/internal/vm"
	"golang.org/x/term"
)

const (
	frameDuration = time.Second / 60
	keyHold       = 200 * time.Millisecond

	// two pixel rows per line plus the status line
	minColumns = vm.ScreenWidth
	minRows    = vm.ScreenHeight/2 + 1

	keyCtrlC     = 0x03
	keyEscape    = 0x1b
	keyBackspace = 0x7f
)

var ErrNotTerminal = errors.New("stdin is not a terminal")

// Machine is the part of the emulator the terminal drives.
type Machine interface {
	SetKey(host int)
	ReleaseKey()
	Screen(dst []byte) int
	Status() emulator.Status

	Pause()
	Resume()
	Paused() bool
	Reset() error

	IncreaseClockRate() int
	DecreaseClockRate() int
	IncreaseTimerRate() int
	DecreaseTimerRate() int
}

type Terminal struct {
	in       *os.File
	out      io.Writer
	fd       int
	oldState *term.State

	input chan []byte
	gfx   []byte
	frame bytes.Buffer

	keyUntil time.Time
}

func New(in *os.File, out io.Writer) *Terminal {
	return &Terminal{
		in:    in,
		out:   out,
		fd:    int(in.Fd()),
		input: make(chan []byte, 16),
		gfx:   make([]byte, vm.ScreenSize),
	}
}

// Start switches the terminal to raw mode and starts reading input.
func (t *Terminal) Start() error {
	if !term.IsTerminal(t.fd) {
		return ErrNotTerminal
	}

	oldState, err := term.MakeRaw(t.fd)
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	t.oldState = oldState

	if w, h, err := term.GetSize(t.fd); err == nil && (w < minColumns || h < minRows) {
		slog.Warn("terminal is too small, the picture will be cut", "columns", w, "rows", h, "want_columns", minColumns, "want_rows", minRows)
	}

	// clear screen, hide cursor
	fmt.Fprint(t.out, "\x1b[2J\x1b[?25l")

	go t.readInput()
	return nil
}

// Stop restores the terminal. The reader goroutine exits with the process.
func (t *Terminal) Stop() {
	if t.oldState == nil {
		return
	}

	fmt.Fprint(t.out, "\x1b[?25h\r\n")
	if err := term.Restore(t.fd, t.oldState); err != nil {
		slog.Error("failed to restore terminal", "err", err)
	}
	t.oldState = nil
}

func (t *Terminal) readInput() {
	buf := make([]byte, 16)
	for {
		n, err := t.in.Read(buf)
		if n > 0 {
			t.input <- bytes.Clone(buf[:n])
		}
		if err != nil {
			close(t.input)
			return
		}
	}
}

// Run renders frames and forwards input until quit or ctx is cancelled.
func (t *Terminal) Run(ctx context.Context, m Machine) error {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case chunk, ok := <-t.input:
			if !ok {
				return nil
			}
			quit, err := t.handleInput(chunk, m, time.Now())
			if err != nil {
				return err
			}
			if quit {
				return nil
			}

		case now := <-ticker.C:
			if !t.keyUntil.IsZero() && now.After(t.keyUntil) {
				t.keyUntil = time.Time{}
				m.ReleaseKey()
			}

			m.Screen(t.gfx)
			t.frame.Reset()
			renderFrame(&t.frame, t.gfx, m.Status().String())
			if _, err := t.out.Write(t.frame.Bytes()); err != nil {
				return fmt.Errorf("failed to write frame: %w", err)
			}
		}
	}
}

// handleInput processes the bytes of one read. Arrow and function keys
// arrive as a single ESC-prefixed sequence, so ESC quits only when it is
// read alone.
func (t *Terminal) handleInput(chunk []byte, m Machine, now time.Time) (bool, error) {
	if len(chunk) == 1 && chunk[0] == keyEscape {
		return true, nil
	}

	for _, b := range chunk {
		if b == keyEscape {
			// the rest is an escape sequence
			return false, nil
		}

		quit, err := t.handleKey(b, m, now)
		if quit || err != nil {
			return quit, err
		}
	}
	return false, nil
}

func (t *Terminal) handleKey(b byte, m Machine, now time.Time) (bool, error) {
	switch b {
	case keyCtrlC:
		return true, nil

	case ' ':
		if m.Paused() {
			m.Resume()
		} else {
			m.Pause()
		}

	case '-':
		slog.Debug("clock rate", "hz", m.DecreaseClockRate())
	case '+', '=':
		slog.Debug("clock rate", "hz", m.IncreaseClockRate())
	case '[':
		slog.Debug("timer rate", "hz", m.DecreaseTimerRate())
	case ']':
		slog.Debug("timer rate", "hz", m.IncreaseTimerRate())

	case keyBackspace:
		t.keyUntil = time.Time{}
		if err := m.Reset(); err != nil {
			return false, fmt.Errorf("failed to reset machine: %w", err)
		}

	default:
		t.keyUntil = now.Add(keyHold)
		m.SetKey(int(b))
	}

	return false, nil
}

// renderFrame draws two pixel rows per text line using half blocks,
// followed by a status line. Lines end in CRLF because the terminal is raw.
func renderFrame(buf *bytes.Buffer, gfx []byte, status string) {
	buf.WriteString("\x1b[H")

	for y := 0; y < vm.ScreenHeight; y += 2 {
		for x := 0; x < vm.ScreenWidth; x++ {
			top := gfx[y*vm.ScreenWidth+x] != 0
			bottom := gfx[(y+1)*vm.ScreenWidth+x] != 0

			switch {
			case top && bottom:
				buf.WriteString("█")
			case top:
				buf.WriteString("▀")
			case bottom:
				buf.WriteString("▄")
			default:
				buf.WriteByte(' ')
			}
		}
		buf.WriteString("\r\n")
	}

	// erase to end of line so a shorter status leaves no trail
	buf.WriteString(status)
	buf.WriteString("\x1b[K\r\n")
}
