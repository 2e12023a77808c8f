package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/kapitanov/chip8/internal/emulator"
	"github.com/kapitanov/chip8/internal/vm"
	"github.com/retroenv/retrogolib/assert"
)

func TestLogEvents(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	events := make(chan emulator.Event, 3)
	events <- emulator.Event{Kind: emulator.EventWaitingForKey, State: emulator.StateWaitingForKey}
	events <- emulator.Event{Kind: emulator.EventEnded, State: emulator.StateCancelled}
	events <- emulator.Event{Kind: emulator.EventEnded, State: emulator.StateTerminated, Err: vm.ErrStackUnderflow}
	close(events)

	logEvents(context.Background(), log, events)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, 3, len(lines))
	assert.True(t, strings.Contains(lines[0], `msg="waiting for key"`))
	assert.True(t, strings.Contains(lines[1], "level=INFO"))
	assert.True(t, strings.Contains(lines[1], "state=cancelled"))
	assert.True(t, strings.Contains(lines[2], "level=WARN"))
	assert.True(t, strings.Contains(lines[2], `err="stack underflow"`))
}

func TestShutdown(t *testing.T) {
	t.Run("fault is returned", func(t *testing.T) {
		machine, err := emulator.New([]byte{0xFF, 0xFF}, emulator.Config{ClockRate: emulator.MaxClockRate})
		assert.NoError(t, err)
		assert.NoError(t, machine.Start(context.Background()))
		<-machine.Done()

		err = shutdown(machine)
		assert.True(t, errors.Is(err, vm.ErrUnsupportedInstruction))
	})

	t.Run("cancel is not an error", func(t *testing.T) {
		machine, err := emulator.New([]byte{0x12, 0x00}, emulator.Config{})
		assert.NoError(t, err)
		assert.NoError(t, machine.Start(context.Background()))

		assert.NoError(t, shutdown(machine))
		assert.Equal(t, emulator.StateCancelled, machine.State())
	})
}
