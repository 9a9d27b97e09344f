// timebase.go - Emulated-cycle to wall-clock conversion and self-calibration

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"math"
	"time"
)

// Machine profile constants for the or1k target.
const (
	OR1K_CYCLES_PER_MS = 20000 // nominal 20 MHz guest clock
	QUANTA_PER_SECOND  = 100

	MIN_CYCLES_PER_QUANTUM = 0x2000
	MAX_CYCLES_PER_QUANTUM = 0x400000

	// Calibration closes a measurement window no more often than this, so
	// single-quantum jitter cannot whipsaw the correction factor.
	CALIBRATION_WINDOW = 250 * time.Millisecond

	MIN_CORRECTION = 0.01
	MAX_CORRECTION = 100.0

	MAX_TIMER_CPI = 1000
)

// TimeBase converts between emulated CPU cycles and host wall-clock time.
// cyclesPerMillisecond and quantaPerSecond are fixed by the machine profile;
// cyclesPerQuantum and the correction factor adapt each quantum to the
// measured emulation speed. Only the machine loop goroutine touches it.
type TimeBase struct {
	cyclesPerMS     uint32
	quantaPerSecond int

	cyclesPerQuantum int32
	correction       float64
	cpi              uint32 // measured tick-timer cycles per instruction

	windowStart time.Time
	windowTicks uint64 // core cycle counter at window start
	windowSteps uint64 // instructions consumed in the window
	idleWall    time.Duration
	idleCycles  uint64
	idleQuanta  uint64

	now func() time.Time
}

func NewTimeBase(cyclesPerMS uint32, quantaPerSecond int) *TimeBase {
	tb := &TimeBase{
		cyclesPerMS:     cyclesPerMS,
		quantaPerSecond: quantaPerSecond,
		now:             time.Now,
	}
	tb.Reset(0)
	return tb
}

// Reset restores initial calibration. currentTicks rebases the measurement
// window against the core's cycle counter (which may itself have been reset).
func (tb *TimeBase) Reset(currentTicks uint64) {
	tb.correction = 1.0
	tb.cpi = 1
	// Start with 10ms worth of nominal cycles per quantum.
	initial := int64(tb.cyclesPerMS) * 10
	tb.cyclesPerQuantum = clampQuantum(initial)
	tb.windowStart = tb.now()
	tb.windowTicks = currentTicks
	tb.windowSteps = 0
	tb.idleWall = 0
	tb.idleCycles = 0
	tb.idleQuanta = 0
}

func clampQuantum(v int64) int32 {
	if v < MIN_CYCLES_PER_QUANTUM {
		return MIN_CYCLES_PER_QUANTUM
	}
	if v > MAX_CYCLES_PER_QUANTUM {
		return MAX_CYCLES_PER_QUANTUM
	}
	return int32(v)
}

func (tb *TimeBase) CyclesPerQuantum() int32 {
	return tb.cyclesPerQuantum
}

func (tb *TimeBase) CorrectionFactor() float64 {
	return tb.correction
}

func (tb *TimeBase) TimerCyclesPerInstruction() uint32 {
	return tb.cpi
}

func (tb *TimeBase) CyclesPerMillisecond() uint32 {
	return tb.cyclesPerMS
}

// AddIdleTime reports a completed idle period so calibration can exclude it:
// cycles granted by ProgressTime are not executed work and the wall time
// spent sleeping is not emulation slowness.
func (tb *TimeBase) AddIdleTime(wall time.Duration, cycles uint64) {
	if wall > 0 {
		tb.idleWall += wall
	}
	tb.idleCycles += cycles
}

// Update is called once per quantum with the consumed instruction count and
// the core's monotonic cycle counter. When the measurement window is old
// enough it recomputes the correction factor, the quantum size and the
// cycles-per-instruction estimate, then opens a fresh window. Degenerate
// windows (no elapsed time, no cycle movement) leave previous values alone.
func (tb *TimeBase) Update(consumed int32, cpuTicks uint64, wentIdle bool) {
	if consumed > 0 {
		tb.windowSteps += uint64(consumed)
	}
	if wentIdle {
		tb.idleQuanta++
	}

	elapsed := tb.now().Sub(tb.windowStart)
	if elapsed < CALIBRATION_WINDOW {
		return
	}

	runWall := elapsed - tb.idleWall
	tickDelta := cpuTicks - tb.windowTicks
	runTicks := uint64(0)
	if tickDelta > tb.idleCycles {
		runTicks = tickDelta - tb.idleCycles
	}
	runMs := float64(runWall) / float64(time.Millisecond)

	if runMs > 0 && runTicks > 0 {
		measured := (float64(runTicks) / runMs) / float64(tb.cyclesPerMS)
		if measured < MIN_CORRECTION {
			measured = MIN_CORRECTION
		}
		if measured > MAX_CORRECTION {
			measured = MAX_CORRECTION
		}
		// Halfway smoothing keeps one noisy window from dominating.
		tb.correction = (tb.correction + measured) / 2

		if tb.windowSteps > 0 {
			perQuantum := float64(tb.windowSteps) / runMs * 1000 / float64(tb.quantaPerSecond)
			tb.cyclesPerQuantum = clampQuantum(int64(perQuantum))

			cpi := runTicks / tb.windowSteps
			if cpi < 1 {
				cpi = 1
			}
			if cpi > MAX_TIMER_CPI {
				cpi = MAX_TIMER_CPI
			}
			tb.cpi = uint32(cpi)
		}
	}

	tb.windowStart = tb.now()
	tb.windowTicks = cpuTicks
	tb.windowSteps = 0
	tb.idleWall = 0
	tb.idleCycles = 0
}

// CyclesToHostMilliseconds converts a cycle count to corrected host
// milliseconds, rounded to nearest: floor(c / cyclesPerMS / correction + 0.5).
func (tb *TimeBase) CyclesToHostMilliseconds(cycles uint64) int {
	ms := float64(cycles)/float64(tb.cyclesPerMS)/tb.correction + 0.5
	return int(math.Floor(ms))
}

// WallMillisecondsToCycles converts elapsed host time to nominal cycles.
// Deliberately uncorrected: early-wake compensation grants cycles at the
// nominal clock rate and clamps against the armed maximum.
func (tb *TimeBase) WallMillisecondsToCycles(wall time.Duration) uint64 {
	ms := float64(wall) / float64(time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return uint64(ms * float64(tb.cyclesPerMS))
}

func (tb *TimeBase) String() string {
	return fmt.Sprintf("timebase: quantum=%d correction=%.3f cpi=%d idleQuanta=%d",
		tb.cyclesPerQuantum, tb.correction, tb.cpi, tb.idleQuanta)
}
