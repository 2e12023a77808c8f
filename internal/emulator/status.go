package emulator

import (
	"fmt"
	"strings"
)

// Status is a point-in-time view for frontends to display.
type Status struct {
	State     State
	Paused    bool
	ClockRate int
	TimerRate int
	Sound     uint8
}

func (e *Emulator) Status() Status {
	return Status{
		State:     e.State(),
		Paused:    e.Paused(),
		ClockRate: e.ClockRate(),
		TimerRate: e.TimerRate(),
		Sound:     e.SoundTimer(),
	}
}

func (s Status) String() string {
	var sb strings.Builder
	sb.WriteString("CHIP-8 | ")

	switch {
	case s.State.Ended():
		sb.WriteString(s.State.String())
	case s.Paused:
		sb.WriteString("paused")
	default:
		sb.WriteString(s.State.String())
	}

	fmt.Fprintf(&sb, " | CPU %s | Timer %s", formatHz(s.ClockRate), formatHz(s.TimerRate))
	if s.Sound > 0 {
		sb.WriteString(" | beep")
	}
	return sb.String()
}

func formatHz(hz int) string {
	if hz >= 1000 {
		return fmt.Sprintf("%d.%dKHz", hz/1000, hz%1000/100)
	}
	return fmt.Sprintf("%dHz", hz)
}
