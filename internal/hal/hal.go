package hal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"github.com/kapitanov/chip8/internal/emulator"
	"github.com/kapitanov/chip8/internal/vm"
	"github.com/veandco/go-sdl2/sdl"
)

const (
	WindowWidth  = 1024
	WindowHeight = 512

	frameDuration = time.Second / 60
)

type HAL struct {
	window          *sdl.Window
	renderer        *sdl.Renderer
	texture         *sdl.Texture
	backBuffer      []uint32
	backBufferPitch int

	gfx   []byte
	keys  keyTracker
	title string
}

var (
	ErrQuit = errors.New("quit")
)

// Machine is the part of the emulator a frontend drives.
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

var _ Machine = (*emulator.Emulator)(nil)

func New() (*HAL, error) {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("failed to init sdl: %w", err)
	}

	window, err := sdl.CreateWindow("CHIP-8", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, WindowWidth, WindowHeight, sdl.WINDOW_SHOWN)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl window: %w", err)
	}
	slog.Debug("hal: create window")
	window.Show()

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl renderer: %w", err)
	}
	err = renderer.SetLogicalSize(WindowWidth, WindowHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to resize sdl renderer: %w", err)
	}
	slog.Debug("hal: create renderer")

	texture, err := renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888, sdl.TEXTUREACCESS_STREAMING, vm.ScreenWidth, vm.ScreenHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl texture: %w", err)
	}
	slog.Debug("hal: create texture")

	return &HAL{
		window:          window,
		renderer:        renderer,
		texture:         texture,
		backBuffer:      make([]uint32, vm.ScreenSize),
		backBufferPitch: int(vm.ScreenWidth) * int(unsafe.Sizeof(uint32(0))),
		gfx:             make([]byte, vm.ScreenSize),
	}, nil
}

func (hal *HAL) Shutdown() {
	if err := hal.texture.Destroy(); err != nil {
		slog.Error("failed to destroy sdl texture", "err", err)
	}

	if err := hal.renderer.Destroy(); err != nil {
		slog.Error("failed to destroy sdl renderer", "err", err)
	}

	if err := hal.window.Destroy(); err != nil {
		slog.Error("failed to destroy sdl window", "err", err)
	}

	sdl.Quit()
}

// Run polls input and renders frames until the window is closed or ctx is
// cancelled. It must be called from the main goroutine.
func (hal *HAL) Run(ctx context.Context, m Machine) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := hal.ReadInput(m); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			return err
		}

		m.Screen(hal.gfx)
		if err := hal.Draw(hal.gfx); err != nil {
			return err
		}

		hal.updateTitle(m)
		hal.WaitForNextFrame()
	}
}

func (hal *HAL) ReadInput(m Machine) error {
	for e := sdl.PollEvent(); e != nil; e = sdl.PollEvent() {
		switch e.GetType() {
		case sdl.QUIT:
			slog.Debug("hal: exit requested")
			return ErrQuit
		case sdl.KEYDOWN:
			err := hal.processKeyDown(e.(*sdl.KeyboardEvent), m)
			if err != nil {
				return err
			}

		case sdl.KEYUP:
			hal.keys.up(int(e.(*sdl.KeyboardEvent).Keysym.Sym))
		}
	}

	if key := hal.keys.current(); key >= 0 {
		m.SetKey(key)
	} else {
		m.ReleaseKey()
	}

	return nil
}

func (hal *HAL) processKeyDown(e *sdl.KeyboardEvent, m Machine) error {
	if e.Repeat != 0 {
		return nil
	}

	switch e.Keysym.Sym {
	case sdl.K_ESCAPE:
		return ErrQuit

	case sdl.K_SPACE:
		if m.Paused() {
			m.Resume()
		} else {
			m.Pause()
		}

	case sdl.K_F1:
		slog.Info("clock rate", "hz", m.DecreaseClockRate())
	case sdl.K_F2:
		slog.Info("clock rate", "hz", m.IncreaseClockRate())
	case sdl.K_F3:
		slog.Info("timer rate", "hz", m.DecreaseTimerRate())
	case sdl.K_F4:
		slog.Info("timer rate", "hz", m.IncreaseTimerRate())

	case sdl.K_F5, sdl.K_BACKSPACE:
		hal.keys.reset()
		if err := m.Reset(); err != nil {
			return fmt.Errorf("failed to reset machine: %w", err)
		}

	default:
		hal.keys.down(int(e.Keysym.Sym))
	}

	return nil
}

func (hal *HAL) Draw(gfx []uint8) error {
	const (
		bgColor = uint32(0x000000)
		fgColor = uint32(0xbea700)
	)

	for y := 0; y < vm.ScreenHeight; y++ {

		for x := 0; x < vm.ScreenWidth; x++ {
			i := x + y*vm.ScreenWidth

			color := bgColor
			if gfx[i] != 0 {
				color = fgColor
			}

			hal.backBuffer[i] = color
		}
	}

	backBufferPtr := unsafe.Pointer(&hal.backBuffer[0])
	if err := hal.texture.Update(nil, backBufferPtr, hal.backBufferPitch); err != nil {
		return fmt.Errorf("failed to update sdl texture: %w", err)
	}

	if err := hal.renderer.Clear(); err != nil {
		return fmt.Errorf("failed to clear sdl renderer: %w", err)
	}

	if err := hal.renderer.Copy(hal.texture, nil, nil); err != nil {
		return fmt.Errorf("failed to copy sdl texture to renderer: %w", err)
	}

	hal.renderer.Present()
	return nil
}

func (hal *HAL) updateTitle(m Machine) {
	title := m.Status().String()
	if title != hal.title {
		hal.window.SetTitle(title)
		hal.title = title
	}
}

func (hal *HAL) WaitForNextFrame() {
	time.Sleep(frameDuration)
}
