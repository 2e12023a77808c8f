// Package emulator drives a CHIP-8 machine on a background goroutine.
//
// The Emulator owns the run loop and its lifecycle: pause and resume,
// waiting for a key, cancellation, reset and the clock and timer rates.
// Host frontends talk to it from their own goroutine: they push the held
// key with SetKey, copy the pixel buffer with Screen and watch State or
// Events for the end of execution.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kapitanov/chip8/internal/keymap"
	"github.com/kapitanov/chip8/internal/vm"
)

var (
	ErrNotStarted     = errors.New("emulator is not started")
	ErrAlreadyStarted = errors.New("emulator is already started")
)

const eventBufferSize = 16

type Config struct {
	ClockRate   int
	TimerRate   int
	Keymap      *keymap.Mapper
	StartPaused bool

	// VMOptions are appended when a machine instance is constructed.
	VMOptions []vm.Option
}

type Emulator struct {
	program []byte
	cfg     Config

	clockRate  atomic.Int32
	timerRate  atomic.Int32
	currentKey atomic.Int32
	paused     atomic.Bool

	wake   chan struct{}
	events chan Event

	mu     sync.Mutex // serializes Start and Reset
	parent context.Context
	run    atomic.Pointer[run]
}

// run is one machine instance together with the goroutine executing it.
type run struct {
	vm     *vm.VM
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
	sound  atomic.Uint32
	err    error
}

func (r *run) setState(s State) {
	r.state.Store(int32(s))
}

func (r *run) getState() State {
	return State(r.state.Load())
}

// New validates the program and prepares an emulator. Nothing runs until Start.
func New(program []byte, cfg Config) (*Emulator, error) {
	if err := vm.ValidateProgram(program); err != nil {
		return nil, err
	}

	if cfg.ClockRate == 0 {
		cfg.ClockRate = DefaultClockRate
	}
	if cfg.TimerRate == 0 {
		cfg.TimerRate = DefaultTimerRate
	}
	if cfg.Keymap == nil {
		cfg.Keymap = keymap.Default()
	}

	e := &Emulator{
		program: program,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		events:  make(chan Event, eventBufferSize),
	}
	e.clockRate.Store(clockLimits.normalize(int32(cfg.ClockRate)))
	e.timerRate.Store(timerLimits.normalize(int32(cfg.TimerRate)))
	e.currentKey.Store(keymap.NoKey)
	e.paused.Store(cfg.StartPaused)

	return e, nil
}

// Start launches the execution loop. Cancelling ctx cancels the loop.
func (e *Emulator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.Load() != nil {
		return ErrAlreadyStarted
	}

	e.parent = ctx
	return e.startLocked()
}

// Reset stops the current loop, waits for it to exit and starts a fresh
// machine with the same program. The new machine starts paused.
func (e *Emulator) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.run.Load()
	if old == nil {
		return ErrNotStarted
	}

	old.cancel()
	<-old.done

	e.paused.Store(true)
	e.currentKey.Store(keymap.NoKey)
	slog.Info("machine reset")
	return e.startLocked()
}

func (e *Emulator) startLocked() error {
	ctx, cancel := context.WithCancel(e.parent)
	r := &run{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	opts := []vm.Option{
		vm.WithKeymap(e.cfg.Keymap),
		vm.WithKeySource(runKeys{e: e, r: r}),
		vm.WithTimerRate(e.TimerRate()),
	}
	opts = append(opts, e.cfg.VMOptions...)

	machine, err := vm.New(e.program, opts...)
	if err != nil {
		cancel()
		return fmt.Errorf("unable to create machine: %w", err)
	}
	r.vm = machine
	if e.paused.Load() {
		r.setState(StatePaused)
	} else {
		r.setState(StateRunning)
	}

	e.run.Store(r)
	go e.loop(ctx, r)
	return nil
}

func (e *Emulator) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()

	err := e.execute(ctx, r)

	var ev Event
	switch {
	case err == nil:
		slog.Debug("program finished", "pc", fmt.Sprintf("0x%04x", r.vm.PC()))
		r.setState(StateTerminated)
		ev = Event{Kind: EventEnded, State: StateTerminated}

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		slog.Debug("execution cancelled")
		r.setState(StateCancelled)
		ev = Event{Kind: EventEnded, State: StateCancelled}

	default:
		slog.Debug("execution failed", "err", err)
		r.err = err
		r.setState(StateTerminated)
		ev = Event{Kind: EventEnded, State: StateTerminated, Err: err}
	}

	e.emit(ev)
}

func (e *Emulator) execute(ctx context.Context, r *run) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.paused.Load() {
			r.setState(StatePaused)
			if err := e.waitUntil(ctx, func() bool { return !e.paused.Load() }); err != nil {
				return err
			}
			r.vm.ResumeTimers(time.Now())
		}
		r.setState(StateRunning)

		timer.Reset(time.Second / time.Duration(e.clockRate.Load()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		r.vm.SetTimerRate(e.TimerRate())
		if err := r.vm.Step(ctx); err != nil {
			return err
		}

		r.vm.TickTimers(time.Now())
		r.sound.Store(uint32(r.vm.SoundTimer()))

		if r.vm.Finished() {
			return nil
		}
	}
}

// emit never blocks. When the buffer is full the oldest event is dropped.
func (e *Emulator) emit(ev Event) {
	for {
		select {
		case e.events <- ev:
			return
		default:
		}

		select {
		case <-e.events:
		default:
		}
	}
}

// Events delivers lifecycle notifications. Exactly one EventEnded is sent
// per started machine, including each one replaced by Reset. The channel is
// never closed.
func (e *Emulator) Events() <-chan Event {
	return e.events
}

func (e *Emulator) Pause() {
	e.paused.Store(true)
}

func (e *Emulator) Resume() {
	e.paused.Store(false)
	e.signal()
}

func (e *Emulator) Paused() bool {
	return e.paused.Load()
}

// Cancel stops the current loop. It is checked once per cycle and also
// interrupts waits for a key or for Resume.
func (e *Emulator) Cancel() {
	if r := e.run.Load(); r != nil {
		r.cancel()
	}
}

func (e *Emulator) State() State {
	r := e.run.Load()
	if r == nil {
		return StatePaused
	}
	return r.getState()
}

// Err returns the fault that terminated the current machine, if any.
func (e *Emulator) Err() error {
	r := e.run.Load()
	if r == nil || !r.getState().Ended() {
		return nil
	}
	return r.err
}

// Done is closed when the current machine's loop has exited.
func (e *Emulator) Done() <-chan struct{} {
	r := e.run.Load()
	if r == nil {
		return nil
	}
	return r.done
}

// Wait blocks until the current machine's loop exits and returns its fault.
func (e *Emulator) Wait() error {
	r := e.run.Load()
	if r == nil {
		return ErrNotStarted
	}
	<-r.done
	return r.err
}

// Screen copies the pixel buffer into dst.
func (e *Emulator) Screen(dst []byte) int {
	r := e.run.Load()
	if r == nil {
		return 0
	}
	return r.vm.Display().Snapshot(dst)
}

func (e *Emulator) SoundTimer() uint8 {
	r := e.run.Load()
	if r == nil {
		return 0
	}
	return uint8(r.sound.Load())
}
