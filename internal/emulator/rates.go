package emulator

import "sync/atomic"

const (
	DefaultClockRate = 700
	MinClockRate     = 200
	MaxClockRate     = 1000
	ClockRateStep    = 100

	DefaultTimerRate = 60
	MinTimerRate     = 20
	MaxTimerRate     = 100
	TimerRateStep    = 10
)

type rateLimits struct {
	min, max, step int32
}

var (
	clockLimits = rateLimits{min: MinClockRate, max: MaxClockRate, step: ClockRateStep}
	timerLimits = rateLimits{min: MinTimerRate, max: MaxTimerRate, step: TimerRateStep}
)

// normalize clamps v into the range and snaps it down to a whole step.
func (l rateLimits) normalize(v int32) int32 {
	v = min(max(v, l.min), l.max)
	return l.min + (v-l.min)/l.step*l.step
}

// adjust moves v by the given number of steps and returns the new value.
func (l rateLimits) adjust(v *atomic.Int32, steps int32) int {
	for {
		cur := v.Load()
		next := l.normalize(cur + steps*l.step)
		if v.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

func (e *Emulator) ClockRate() int {
	return int(e.clockRate.Load())
}

func (e *Emulator) TimerRate() int {
	return int(e.timerRate.Load())
}

// IncreaseClockRate raises the CPU clock by one step. It applies on the next cycle.
func (e *Emulator) IncreaseClockRate() int {
	return clockLimits.adjust(&e.clockRate, 1)
}

func (e *Emulator) DecreaseClockRate() int {
	return clockLimits.adjust(&e.clockRate, -1)
}

func (e *Emulator) IncreaseTimerRate() int {
	return timerLimits.adjust(&e.timerRate, 1)
}

func (e *Emulator) DecreaseTimerRate() int {
	return timerLimits.adjust(&e.timerRate, -1)
}
