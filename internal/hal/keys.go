package hal

import "github.com/kapitanov/chip8/internal/keymap"

// keyTracker keeps host keys in the order they were pressed. The machine
// sees only one key at a time: the oldest one still held.
type keyTracker struct {
	pressed []int
}

func (t *keyTracker) down(key int) {
	for _, k := range t.pressed {
		if k == key {
			return
		}
	}
	t.pressed = append(t.pressed, key)
}

func (t *keyTracker) up(key int) {
	for i, k := range t.pressed {
		if k == key {
			t.pressed = append(t.pressed[:i], t.pressed[i+1:]...)
			return
		}
	}
}

func (t *keyTracker) reset() {
	t.pressed = t.pressed[:0]
}

func (t *keyTracker) current() int {
	if len(t.pressed) == 0 {
		return keymap.NoKey
	}
	return t.pressed[0]
}
