package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/kapitanov/chip8/internal/keymap"
	"github.com/retroenv/retrogolib/assert"
)

func TestStep_AdvancesPC(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
	}{
		{"cls", 0x00E0},
		{"mov const", 0x6A05},
		{"add const", 0x7A01},
		{"mov reg", 0x8AB0},
		{"or", 0x8AB1},
		{"and", 0x8AB2},
		{"xor", 0x8AB3},
		{"add reg", 0x8AB4},
		{"sub", 0x8AB5},
		{"shr", 0x8A06},
		{"rsb", 0x8AB7},
		{"shl", 0x8A0E},
		{"mvi", 0xA123},
		{"rand", 0xC0FF},
		{"sprite", 0xD001},
		{"gdelay", 0xF007},
		{"sdelay", 0xF015},
		{"ssound", 0xF018},
		{"adi", 0xF01E},
		{"font", 0xF029},
		{"bcd", 0xF033},
		{"str", 0xF055},
		{"ldr", 0xF065},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestVM(t, tt.opcode)
			step(t, m)
			assert.Equal(t, ProgramStart+InstructionSize, m.PC())
		})
	}
}

func TestStep_ControlFlow(t *testing.T) {
	t.Run("jmp", func(t *testing.T) {
		m := newTestVM(t, 0x1345)
		step(t, m)
		assert.Equal(t, uint16(0x345), m.PC())
	})

	t.Run("jsr and rts", func(t *testing.T) {
		m := newTestVM(t, 0x2204, 0x0000, 0x00EE)
		step(t, m)
		assert.Equal(t, uint16(0x204), m.PC())
		assert.Equal(t, 1, m.sp)
		assert.Equal(t, uint16(0x202), m.stack[0])

		step(t, m)
		assert.Equal(t, uint16(0x202), m.PC())
		assert.Equal(t, 0, m.sp)
	})

	t.Run("jmi", func(t *testing.T) {
		m := newTestVM(t, 0xB300)
		m.registers[0] = 0x12
		step(t, m)
		assert.Equal(t, uint16(0x312), m.PC())
	})

	t.Run("jmi wraps to 12 bits", func(t *testing.T) {
		m := newTestVM(t, 0xBFFF)
		m.registers[0] = 0x02
		step(t, m)
		assert.Equal(t, uint16(0x001), m.PC())
	})
}

func TestStep_Skips(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		vx, vy uint8
		skip   bool
	}{
		{"skeq const equal", 0x3A05, 5, 0, true},
		{"skeq const differ", 0x3A05, 6, 0, false},
		{"skne const equal", 0x4A05, 5, 0, false},
		{"skne const differ", 0x4A05, 6, 0, true},
		{"skeq reg equal", 0x5AB0, 7, 7, true},
		{"skeq reg differ", 0x5AB0, 7, 8, false},
		{"skne reg equal", 0x9AB0, 7, 7, false},
		{"skne reg differ", 0x9AB0, 7, 8, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestVM(t, tt.opcode)
			m.registers[0xA] = tt.vx
			m.registers[0xB] = tt.vy
			step(t, m)

			want := ProgramStart + InstructionSize
			if tt.skip {
				want += InstructionSize
			}
			assert.Equal(t, want, m.PC())
		})
	}
}

func TestStep_Arithmetic(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		vx, vy uint8
		want   uint8
		flag   uint8
	}{
		{"add no carry", 0x8AB4, 0x10, 0x20, 0x30, 0},
		{"add carry", 0x8AB4, 0xFF, 0x01, 0x00, 1},
		{"add carry 0x80", 0x8AB4, 0x80, 0x80, 0x00, 1},
		{"add max no carry", 0x8AB4, 0xFF, 0x00, 0xFF, 0},
		{"sub no borrow", 0x8AB5, 5, 3, 2, 1},
		{"sub equal", 0x8AB5, 4, 4, 0, 1},
		{"sub borrow", 0x8AB5, 3, 5, 0xFE, 0},
		{"rsb no borrow", 0x8AB7, 3, 5, 2, 1},
		{"rsb borrow", 0x8AB7, 5, 3, 0xFE, 0},
		{"shr odd", 0x8A06, 0x03, 0, 0x01, 1},
		{"shr even", 0x8A06, 0x02, 0, 0x01, 0},
		{"shl high", 0x8A0E, 0x81, 0, 0x02, 1},
		{"shl low", 0x8A0E, 0x41, 0, 0x82, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestVM(t, tt.opcode)
			m.registers[0xA] = tt.vx
			m.registers[0xB] = tt.vy
			m.registers[0xF] = 0x55
			step(t, m)

			assert.Equal(t, tt.want, m.Register(0xA))
			assert.Equal(t, tt.flag, m.Register(0xF))
		})
	}
}

func TestStep_FlagWrittenAfterResult(t *testing.T) {
	// VF is the destination: the carry overwrites the sum.
	m := newTestVM(t, 0x8F04)
	m.registers[0xF] = 0xFF
	m.registers[0x0] = 0x01
	step(t, m)

	assert.Equal(t, uint8(1), m.Register(0xF))
}

func TestStep_Logic(t *testing.T) {
	m := newTestVM(t, 0x6AF0, 0x6B3C, 0x8AB1, 0x8CA0, 0x8CB2, 0x8DA0, 0x8DB3, 0x7DFF)
	for range 8 {
		step(t, m)
	}

	assert.Equal(t, uint8(0xFC), m.Register(0xA))
	assert.Equal(t, uint8(0x3C), m.Register(0xC))
	assert.Equal(t, uint8(0xBF), m.Register(0xD)) // 0xFC^0x3C = 0xC0, + 0xFF wraps
	assert.Equal(t, uint8(0), m.Register(0xF))
}

func TestStep_Draw(t *testing.T) {
	t.Run("twice restores the buffer", func(t *testing.T) {
		// V0=0, I=glyph 0, V0=10, V1=5, draw, draw
		m := newTestVM(t, 0x6000, 0xF029, 0x600A, 0x6105, 0xD015, 0xD015)
		for range 5 {
			step(t, m)
		}

		before := make([]byte, ScreenSize)
		m.Display().Snapshot(before)
		assert.Equal(t, uint8(0), m.Register(0xF))
		assert.Equal(t, uint8(1), m.Display().Pixel(10, 5))
		assert.Equal(t, uint8(0), m.Display().Pixel(11, 6))

		step(t, m)
		assert.Equal(t, uint8(1), m.Register(0xF))

		after := make([]byte, ScreenSize)
		m.Display().Snapshot(after)
		for i, b := range after {
			if b != 0 {
				t.Fatalf("pixel %d still set", i)
			}
		}
	})

	t.Run("twice over existing content", func(t *testing.T) {
		m := newTestVM(t, 0xD015, 0xF129, 0xD015, 0xD015)
		m.registers[1] = 1

		step(t, m)
		want := make([]byte, ScreenSize)
		m.Display().Snapshot(want)

		for range 3 {
			step(t, m)
		}
		got := make([]byte, ScreenSize)
		m.Display().Snapshot(got)

		assert.Equal(t, uint8(1), m.Register(0xF))
		assert.Equal(t, string(want), string(got))
	})

	t.Run("wraps at buffer end", func(t *testing.T) {
		m := newTestVM(t, 0xD011)
		m.memory[0x300] = 0xFF
		m.index = 0x300
		m.registers[0] = 63
		m.registers[1] = 31
		step(t, m)

		gfx := make([]byte, ScreenSize)
		m.Display().Snapshot(gfx)
		assert.Equal(t, uint8(1), gfx[ScreenSize-1])
		for i := 0; i < 7; i++ {
			assert.Equal(t, uint8(1), gfx[i])
		}
		assert.Equal(t, uint8(0), gfx[7])
		assert.Equal(t, uint8(0), m.Register(0xF))
	})

	t.Run("origin read before flag clear", func(t *testing.T) {
		m := newTestVM(t, 0xDF11)
		m.memory[0x300] = 0x80
		m.index = 0x300
		m.registers[0xF] = 3
		m.registers[1] = 2
		step(t, m)

		assert.Equal(t, uint8(1), m.Display().Pixel(3, 2))
	})

	t.Run("cls", func(t *testing.T) {
		m := newTestVM(t, 0xD015, 0x00E0)
		step(t, m)
		step(t, m)

		gfx := make([]byte, ScreenSize)
		m.Display().Snapshot(gfx)
		for _, b := range gfx {
			assert.Equal(t, uint8(0), b)
		}
	})
}

func TestStep_BCD(t *testing.T) {
	tests := []struct {
		value uint8
		want  [3]uint8
	}{
		{255, [3]uint8{2, 5, 5}},
		{7, [3]uint8{0, 0, 7}},
		{100, [3]uint8{1, 0, 0}},
		{42, [3]uint8{0, 4, 2}},
	}

	for _, tt := range tests {
		m := newTestVM(t, 0xF533)
		m.registers[5] = tt.value
		m.index = 0x400
		step(t, m)

		assert.Equal(t, tt.want[0], m.memory[0x400])
		assert.Equal(t, tt.want[1], m.memory[0x401])
		assert.Equal(t, tt.want[2], m.memory[0x402])
		assert.Equal(t, uint16(0x400), m.Index())
	}
}

func TestStep_StoreLoad(t *testing.T) {
	m := newTestVM(t, 0xF255, 0x6000, 0x6100, 0x6200, 0xF165)
	m.registers[0] = 1
	m.registers[1] = 2
	m.registers[2] = 3
	m.registers[3] = 4
	m.index = 0x500

	step(t, m)
	assert.Equal(t, uint8(1), m.memory[0x500])
	assert.Equal(t, uint8(2), m.memory[0x501])
	assert.Equal(t, uint8(3), m.memory[0x502])
	assert.Equal(t, uint8(0), m.memory[0x503])
	assert.Equal(t, uint16(0x500), m.Index())

	for range 4 {
		step(t, m)
	}
	assert.Equal(t, uint8(1), m.Register(0))
	assert.Equal(t, uint8(2), m.Register(1))
	assert.Equal(t, uint8(0), m.Register(2))
}

func TestStep_Index(t *testing.T) {
	t.Run("font", func(t *testing.T) {
		m := newTestVM(t, 0xF029)
		m.registers[0] = 0xA
		step(t, m)
		assert.Equal(t, uint16(50), m.Index())
	})

	t.Run("adi wraps", func(t *testing.T) {
		m := newTestVM(t, 0xF01E)
		m.index = 0xFFF
		m.registers[0] = 2
		m.registers[0xF] = 9
		step(t, m)
		assert.Equal(t, uint16(0x001), m.Index())
		assert.Equal(t, uint8(9), m.Register(0xF))
	})
}

func TestStep_TimersAndRandom(t *testing.T) {
	m := newTestVM(t, 0xF015, 0xF118, 0xF207, 0xC30F)
	m.registers[0] = 30
	m.registers[1] = 40
	for range 4 {
		step(t, m)
	}

	assert.Equal(t, uint8(30), m.DelayTimer())
	assert.Equal(t, uint8(40), m.SoundTimer())
	assert.Equal(t, uint8(30), m.Register(2))
	assert.Equal(t, uint8(0x0B), m.Register(3))
}

func TestStep_Keys(t *testing.T) {
	tests := []struct {
		name    string
		opcode  uint16
		current int
		skip    bool
	}{
		{"skpr pressed", 0xE09E, 'q', true},
		{"skpr other key", 0xE09E, 'w', false},
		{"skpr none", 0xE09E, keymap.NoKey, false},
		{"skup pressed", 0xE0A1, 'q', false},
		{"skup none", 0xE0A1, keymap.NoKey, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := &fakeKeys{current: tt.current}
			m, err := New(assemble(tt.opcode), WithKeySource(keys))
			assert.NoError(t, err)
			m.registers[0] = 0xA // host 'q' in the default layout
			step(t, m)

			want := ProgramStart + InstructionSize
			if tt.skip {
				want += InstructionSize
			}
			assert.Equal(t, want, m.PC())
		})
	}
}

func TestStep_WaitKey(t *testing.T) {
	keys := &fakeKeys{current: keymap.NoKey}
	m, err := New(assemble(0xF30A), WithKeySource(keys))
	assert.NoError(t, err)
	m.registers[3] = 5
	step(t, m)

	assert.Equal(t, 1, len(keys.waited))
	assert.Equal(t, int('5'), keys.waited[0])
	assert.Equal(t, ProgramStart+InstructionSize, m.PC())
}

func TestStep_StackFaults(t *testing.T) {
	t.Run("overflow", func(t *testing.T) {
		m := newTestVM(t, 0x2200)
		for range StackSize {
			step(t, m)
		}

		err := m.Step(context.Background())
		assert.True(t, errors.Is(err, ErrStackOverflow))
		assert.True(t, IsRuntimeFault(err))
	})

	t.Run("underflow", func(t *testing.T) {
		m := newTestVM(t, 0x00EE)
		err := m.Step(context.Background())
		assert.True(t, errors.Is(err, ErrStackUnderflow))
		assert.True(t, IsRuntimeFault(err))
	})
}

func TestStep_Unsupported(t *testing.T) {
	for _, opcode := range []uint16{0x0000, 0x0123, 0x5AB1, 0x8AB8, 0x9AB3, 0xE000, 0xF0FF, 0xFFFF} {
		m := newTestVM(t, opcode)
		err := m.Step(context.Background())

		var unsupported *UnsupportedInstructionError
		assert.True(t, errors.As(err, &unsupported))
		assert.Equal(t, opcode, unsupported.Opcode)
		assert.Equal(t, ProgramStart, unsupported.PC)
		assert.True(t, errors.Is(err, ErrUnsupportedInstruction))
		assert.True(t, IsRuntimeFault(err))
	}
}
