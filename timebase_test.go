// timebase_test.go - Calibration and cycle/wall conversion tests

package main

import (
	"math"
	"strings"
	"testing"
	"time"
)

// fakeClock drives the timebase deterministically.
type fakeClock struct {
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Unix(1000, 0)}
}

func (c *fakeClock) now() time.Time {
	return c.cur
}

func (c *fakeClock) advance(d time.Duration) {
	c.cur = c.cur.Add(d)
}

func newTestTimeBase() (*TimeBase, *fakeClock) {
	clock := newFakeClock()
	tb := NewTimeBase(OR1K_CYCLES_PER_MS, QUANTA_PER_SECOND)
	tb.now = clock.now
	tb.Reset(0)
	return tb, clock
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestTimeBaseInitialCalibration verifies the power-on values: unity
// correction, one timer cycle per instruction, and a 10ms nominal quantum.
func TestTimeBaseInitialCalibration(t *testing.T) {
	tb, _ := newTestTimeBase()

	if !almostEqual(tb.CorrectionFactor(), 1.0) {
		t.Fatalf("correction = %f, expected 1.0", tb.CorrectionFactor())
	}
	if tb.TimerCyclesPerInstruction() != 1 {
		t.Fatalf("cpi = %d, expected 1", tb.TimerCyclesPerInstruction())
	}
	if tb.CyclesPerQuantum() != OR1K_CYCLES_PER_MS*10 {
		t.Fatalf("quantum = %d, expected %d", tb.CyclesPerQuantum(), OR1K_CYCLES_PER_MS*10)
	}
}

// TestCyclesToHostMilliseconds verifies round-to-nearest conversion under
// unity and non-unity correction factors.
func TestCyclesToHostMilliseconds(t *testing.T) {
	tb, _ := newTestTimeBase()

	cases := []struct {
		cycles uint64
		want   int
	}{
		{0, 0},
		{9999, 0},          // 0.49995ms rounds down
		{10000, 1},         // exactly half rounds up
		{20000, 1},         // 1ms
		{30000, 2},         // 1.5ms rounds up
		{20000 * 250, 250}, // typical timer period
		{20000 * 100000, 100000},
	}
	for _, c := range cases {
		if got := tb.CyclesToHostMilliseconds(c.cycles); got != c.want {
			t.Fatalf("CyclesToHostMilliseconds(%d) = %d, expected %d", c.cycles, got, c.want)
		}
	}

	// Emulation running 2x faster than nominal halves the wait.
	tb.correction = 2.0
	if got := tb.CyclesToHostMilliseconds(80000); got != 2 {
		t.Fatalf("corrected conversion = %d, expected 2", got)
	}
}

// TestWallMillisecondsToCycles verifies the uncorrected nominal conversion
// used for early-wake compensation.
func TestWallMillisecondsToCycles(t *testing.T) {
	tb, _ := newTestTimeBase()
	tb.correction = 3.0 // must not influence the result

	cases := []struct {
		wall time.Duration
		want uint64
	}{
		{0, 0},
		{-time.Millisecond, 0},
		{time.Millisecond, 20000},
		{2500 * time.Microsecond, 50000},
		{time.Second, 20000000},
	}
	for _, c := range cases {
		if got := tb.WallMillisecondsToCycles(c.wall); got != c.want {
			t.Fatalf("WallMillisecondsToCycles(%v) = %d, expected %d", c.wall, got, c.want)
		}
	}
}

// TestUpdateRecalibrates verifies a closed measurement window: a guest
// observed running at twice nominal speed moves correction halfway toward
// 2.0 and re-derives quantum size and cycles per instruction.
func TestUpdateRecalibrates(t *testing.T) {
	tb, clock := newTestTimeBase()

	clock.advance(250 * time.Millisecond)
	// 10M timer cycles in 250ms = 2x the nominal 20000 cycles/ms.
	tb.Update(2500000, 10000000, false)

	if !almostEqual(tb.CorrectionFactor(), 1.5) {
		t.Fatalf("correction = %f, expected 1.5", tb.CorrectionFactor())
	}
	// 2.5M instructions in 250ms = 10M/s = 100000 per quantum at 100 quanta/s.
	if tb.CyclesPerQuantum() != 100000 {
		t.Fatalf("quantum = %d, expected 100000", tb.CyclesPerQuantum())
	}
	if tb.TimerCyclesPerInstruction() != 4 {
		t.Fatalf("cpi = %d, expected 4", tb.TimerCyclesPerInstruction())
	}
}

// TestUpdateBeforeWindowCloses verifies that calibration holds still inside
// the measurement window.
func TestUpdateBeforeWindowCloses(t *testing.T) {
	tb, clock := newTestTimeBase()
	quantum := tb.CyclesPerQuantum()

	clock.advance(100 * time.Millisecond)
	tb.Update(1000000, 99000000, false)

	if !almostEqual(tb.CorrectionFactor(), 1.0) {
		t.Fatalf("correction = %f, expected unchanged 1.0", tb.CorrectionFactor())
	}
	if tb.CyclesPerQuantum() != quantum {
		t.Fatalf("quantum = %d, expected unchanged %d", tb.CyclesPerQuantum(), quantum)
	}
}

// TestUpdateExcludesIdleTime verifies that slept wall time and granted idle
// cycles do not count as emulation speed.
func TestUpdateExcludesIdleTime(t *testing.T) {
	tb, clock := newTestTimeBase()

	clock.advance(250 * time.Millisecond)
	tb.AddIdleTime(200*time.Millisecond, 4800000)
	// 5M total cycle delta, 4.8M granted while idle: 200K real in 50ms of
	// real run time = 0.2x nominal.
	tb.Update(1000000, 5000000, false)

	if !almostEqual(tb.CorrectionFactor(), 0.6) {
		t.Fatalf("correction = %f, expected 0.6", tb.CorrectionFactor())
	}
	if tb.CyclesPerQuantum() != 200000 {
		t.Fatalf("quantum = %d, expected 200000", tb.CyclesPerQuantum())
	}
	if tb.TimerCyclesPerInstruction() != 1 {
		t.Fatalf("cpi = %d, expected floor of 1", tb.TimerCyclesPerInstruction())
	}
}

// TestUpdateClampsCorrection verifies the correction factor clamps before
// smoothing.
func TestUpdateClampsCorrection(t *testing.T) {
	tb, clock := newTestTimeBase()
	clock.advance(250 * time.Millisecond)
	// Absurdly fast window: measured would be 2000x, clamps to 100.
	tb.Update(1000, 10000000000, false)
	if !almostEqual(tb.CorrectionFactor(), 50.5) {
		t.Fatalf("correction = %f, expected (1+100)/2 = 50.5", tb.CorrectionFactor())
	}

	tb, clock = newTestTimeBase()
	clock.advance(250 * time.Millisecond)
	// Nearly stalled: measured would be 0.0002, clamps to 0.01.
	tb.Update(1000, 1000, false)
	if !almostEqual(tb.CorrectionFactor(), 0.505) {
		t.Fatalf("correction = %f, expected (1+0.01)/2 = 0.505", tb.CorrectionFactor())
	}
}

// TestUpdateClampsQuantum verifies the quantum bounds at both ends.
func TestUpdateClampsQuantum(t *testing.T) {
	tb, clock := newTestTimeBase()
	clock.advance(250 * time.Millisecond)
	// 100 instructions in 250ms would give a sub-minimum quantum.
	tb.Update(100, 5000000, false)
	if tb.CyclesPerQuantum() != MIN_CYCLES_PER_QUANTUM {
		t.Fatalf("quantum = %d, expected clamp to 0x%X", tb.CyclesPerQuantum(), MIN_CYCLES_PER_QUANTUM)
	}

	tb, clock = newTestTimeBase()
	clock.advance(250 * time.Millisecond)
	// 2G instructions in 250ms would give a huge quantum.
	tb.Update(2000000000, 5000000, false)
	if tb.CyclesPerQuantum() != MAX_CYCLES_PER_QUANTUM {
		t.Fatalf("quantum = %d, expected clamp to 0x%X", tb.CyclesPerQuantum(), MAX_CYCLES_PER_QUANTUM)
	}
}

// TestUpdateDegenerateWindow verifies that a window with no cycle movement
// leaves previous calibration alone.
func TestUpdateDegenerateWindow(t *testing.T) {
	tb, clock := newTestTimeBase()
	quantum := tb.CyclesPerQuantum()

	clock.advance(250 * time.Millisecond)
	tb.Update(0, 0, false)

	if !almostEqual(tb.CorrectionFactor(), 1.0) {
		t.Fatalf("correction = %f, expected unchanged 1.0", tb.CorrectionFactor())
	}
	if tb.CyclesPerQuantum() != quantum {
		t.Fatalf("quantum = %d, expected unchanged %d", tb.CyclesPerQuantum(), quantum)
	}
}

// TestResetRebasesWindow verifies Reset restores initial calibration and
// rebases against a nonzero core cycle counter.
func TestResetRebasesWindow(t *testing.T) {
	tb, clock := newTestTimeBase()

	clock.advance(250 * time.Millisecond)
	tb.Update(2500000, 10000000, false)
	if almostEqual(tb.CorrectionFactor(), 1.0) {
		t.Fatal("precondition: correction should have moved")
	}

	tb.Reset(10000000)
	if !almostEqual(tb.CorrectionFactor(), 1.0) {
		t.Fatalf("correction after Reset = %f, expected 1.0", tb.CorrectionFactor())
	}

	// The next window measures deltas from the rebased counter, not from 0.
	clock.advance(250 * time.Millisecond)
	tb.Update(2500000, 15000000, false)
	if !almostEqual(tb.CorrectionFactor(), 1.0) {
		t.Fatalf("correction = %f, expected 1.0 for nominal-speed window", tb.CorrectionFactor())
	}
}

// TestIdleQuantaCounted verifies the diagnostic idle counter shows up in
// the String dump.
func TestIdleQuantaCounted(t *testing.T) {
	tb, _ := newTestTimeBase()
	tb.Update(100, 100, true)
	tb.Update(100, 200, true)
	tb.Update(100, 300, false)

	if !strings.Contains(tb.String(), "idleQuanta=2") {
		t.Fatalf("String() = %q, expected idleQuanta=2", tb.String())
	}
}
