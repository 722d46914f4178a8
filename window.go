package monitor

import "time"

// Rate windows are aligned to a fixed wall-clock grid so that points
// emitted by independent processes with unsynchronized flush timers
// still land on comparable timestamps. The grid step grows with the
// flush interval but never drops below minWindowStep.
const minWindowStep = 250 * time.Millisecond

// windowStep derives the alignment grid step for a flush interval:
// 500ms per full 2s of interval, clamped to minWindowStep.
func windowStep(interval time.Duration) time.Duration {
	step := 500 * time.Millisecond * time.Duration(interval/(2*time.Second))
	if step < minWindowStep {
		step = minWindowStep
	}
	return step
}

// roundToWindow rounds t up to the next grid boundary (microsecond
// precision). An instant already on the boundary maps to itself, so a
// window timestamp is always >= the instants it covers.
func roundToWindow(t time.Time, step time.Duration) time.Time {
	stepUs := step.Microseconds()
	if stepUs <= 0 {
		return t
	}
	steps := (t.UnixMicro() + stepUs - 1) / stepUs
	return time.UnixMicro(steps * stepUs).UTC()
}
