package vm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/kapitanov/chip8/internal/keymap"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16
	ScreenWidth   = 64
	ScreenHeight  = 32
	ScreenSize    = ScreenWidth * ScreenHeight

	ProgramStart    = uint16(0x200)
	InstructionSize = 2
	AddrMask        = 0x0FFF
)

// KeySource supplies the currently pressed host key.
type KeySource interface {
	// CurrentKey returns the pressed host key code or keymap.NoKey.
	CurrentKey() int

	// WaitKey blocks until host is pressed, then consumes it.
	// It returns early only with the context's error.
	WaitKey(ctx context.Context, host int) error
}

type VM struct {
	memory    [MemorySize]uint8    // Memory (4k)
	registers [RegisterCount]uint8 // V registers (V0-VF)

	stack [StackSize]uint16 // Stack
	sp    int               // Stack pointer

	pc    uint16 // Program counter
	index uint16 // Index register

	timers  *Timers
	display *Display

	keymap *keymap.Mapper
	keys   KeySource
	random func() uint8

	programEnd uint16
}

type Option func(*VM)

func WithKeymap(m *keymap.Mapper) Option {
	return func(vm *VM) {
		vm.keymap = m
	}
}

func WithKeySource(k KeySource) Option {
	return func(vm *VM) {
		vm.keys = k
	}
}

func WithTimerRate(hz int) Option {
	return func(vm *VM) {
		vm.timers.SetRate(hz)
	}
}

// WithRandom replaces the byte source used by the random opcode.
func WithRandom(fn func() uint8) Option {
	return func(vm *VM) {
		vm.random = fn
	}
}

// New constructs a machine with the font and program loaded and PC at
// ProgramStart.
func New(program []byte, opts ...Option) (*VM, error) {
	if err := ValidateProgram(program); err != nil {
		return nil, err
	}

	vm := &VM{
		timers:  NewTimers(DefaultTimerRate),
		display: &Display{},
		keymap:  keymap.Default(),
		keys:    noKeys{},
		random:  func() uint8 { return uint8(rand.IntN(256)) },
	}

	for _, opt := range opts {
		opt(vm)
	}

	vm.initialize(program)
	return vm, nil
}

func (vm *VM) initialize(program []byte) {
	vm.pc = ProgramStart
	vm.index = 0
	vm.sp = 0

	// Load font set into memory
	slog.Debug("load font", "at", fmt.Sprintf("0x%04x", FontAddr), "n", len(chip8Font))
	copy(vm.memory[FontAddr:], chip8Font)

	// Load program into memory
	slog.Debug("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(program))
	copy(vm.memory[ProgramStart:], program)

	vm.programEnd = ProgramStart + uint16(len(program))
}

// Step executes exactly one instruction.
func (vm *VM) Step(ctx context.Context) error {
	pc := vm.pc
	opcode := vm.fetchOpcode()
	vm.pc += InstructionSize

	return vm.executeOpcode(ctx, pc, opcode)
}

// Finished reports whether PC has run past the end of the loaded program.
func (vm *VM) Finished() bool {
	return vm.pc >= vm.programEnd
}

// TickTimers advances the delay and sound timers to now.
func (vm *VM) TickTimers(now time.Time) {
	vm.timers.Tick(now)
}

// ResumeTimers skips the time between the last tick and now, for a machine
// coming back from pause.
func (vm *VM) ResumeTimers(now time.Time) {
	vm.timers.Resume(now)
}

func (vm *VM) SetTimerRate(hz int) {
	vm.timers.SetRate(hz)
}

func (vm *VM) PC() uint16 {
	return vm.pc
}

func (vm *VM) Index() uint16 {
	return vm.index
}

func (vm *VM) Register(i int) uint8 {
	return vm.registers[i&0x0F]
}

func (vm *VM) DelayTimer() uint8 {
	return vm.timers.Delay
}

func (vm *VM) SoundTimer() uint8 {
	return vm.timers.Sound
}

// Display returns the pixel buffer. It is safe to read from any goroutine.
func (vm *VM) Display() *Display {
	return vm.display
}

func (vm *VM) fetchOpcode() uint16 {
	hi := vm.memory[vm.pc&AddrMask]
	lo := vm.memory[(vm.pc+1)&AddrMask]

	opcode := uint16(hi)<<8 | uint16(lo) // Op code is two bytes
	return opcode
}

func (vm *VM) push(addr uint16) error {
	if vm.sp >= StackSize {
		return fmt.Errorf("%w: call at 0x%03X", ErrStackOverflow, vm.pc-InstructionSize)
	}
	vm.stack[vm.sp] = addr
	vm.sp++
	return nil
}

func (vm *VM) pop() (uint16, error) {
	if vm.sp == 0 {
		return 0, fmt.Errorf("%w: return at 0x%03X", ErrStackUnderflow, vm.pc-InstructionSize)
	}
	vm.sp--
	return vm.stack[vm.sp], nil
}

// noKeys is used when no key source is attached: nothing is ever pressed.
type noKeys struct{}

func (noKeys) CurrentKey() int {
	return keymap.NoKey
}

func (noKeys) WaitKey(ctx context.Context, _ int) error {
	<-ctx.Done()
	return ctx.Err()
}
