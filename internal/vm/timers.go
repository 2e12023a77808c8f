package vm

import "time"

const DefaultTimerRate = 60

// Timers holds the delay and sound counters. They count down once per
// period of wall-clock time, independently of how many instructions run.
type Timers struct {
	Delay uint8
	Sound uint8

	period time.Duration
	last   time.Time
}

func NewTimers(hz int) *Timers {
	t := &Timers{}
	t.SetRate(hz)
	return t
}

// SetRate changes the tick frequency. It takes effect on the next Tick.
func (t *Timers) SetRate(hz int) {
	if hz <= 0 {
		hz = DefaultTimerRate
	}
	t.period = time.Second / time.Duration(hz)
}

// Resume restarts the clock at now so that time spent paused is not
// counted. The fraction of a period elapsed before the pause is dropped.
func (t *Timers) Resume(now time.Time) {
	if !t.last.IsZero() {
		t.last = now
	}
}

// Tick decrements both counters once for every full period elapsed since
// the previous tick. The first call only starts the clock.
func (t *Timers) Tick(now time.Time) {
	if t.last.IsZero() {
		t.last = now
		return
	}

	elapsed := now.Sub(t.last)
	if elapsed < t.period {
		return
	}

	n := elapsed / t.period
	t.last = t.last.Add(n * t.period)

	t.Delay = countDown(t.Delay, n)
	t.Sound = countDown(t.Sound, n)
}

func countDown(v uint8, n time.Duration) uint8 {
	if time.Duration(v) <= n {
		return 0
	}
	return v - uint8(n)
}
