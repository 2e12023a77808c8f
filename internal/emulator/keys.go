package emulator

import (
	"context"
	"log/slog"

	"github.com/kapitanov/chip8/internal/keymap"
)

// SetKey records the host key currently held down and wakes the loop if it
// is waiting on one.
func (e *Emulator) SetKey(host int) {
	if e.currentKey.Swap(int32(host)) == int32(host) {
		return
	}

	if host == keymap.NoKey {
		return
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		key, ok := e.cfg.Keymap.Map(host)
		slog.Debug("key down", "host", host, "key", key, "mapped", ok)
	}

	e.signal()
}

func (e *Emulator) ReleaseKey() {
	e.currentKey.Store(keymap.NoKey)
}

// CurrentKey returns the held host key or keymap.NoKey.
func (e *Emulator) CurrentKey() int {
	return int(e.currentKey.Load())
}

// signal posts a token into the single wake slot without blocking.
// A token already waiting there is enough: the loop re-checks its
// condition every time it wakes.
func (e *Emulator) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// waitUntil blocks until cond holds, consuming wake tokens.
func (e *Emulator) waitUntil(ctx context.Context, cond func() bool) error {
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
		}
	}
	return nil
}

// runKeys is the key source handed to one VM instance.
type runKeys struct {
	e *Emulator
	r *run
}

func (k runKeys) CurrentKey() int {
	return k.e.CurrentKey()
}

// WaitKey consumes host if it is held now. Otherwise it switches the run to
// StateWaitingForKey, announces it and sleeps until the key arrives.
func (k runKeys) WaitKey(ctx context.Context, host int) error {
	consume := func() bool {
		return k.e.currentKey.CompareAndSwap(int32(host), keymap.NoKey)
	}

	if consume() {
		return nil
	}

	k.r.setState(StateWaitingForKey)
	k.e.emit(Event{Kind: EventWaitingForKey, State: StateWaitingForKey})
	slog.Debug("waiting for key", "host", host)

	if err := k.e.waitUntil(ctx, consume); err != nil {
		return err
	}

	k.r.setState(StateRunning)
	return nil
}
