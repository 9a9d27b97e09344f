// cpu_or1k.go - OpenRISC 1000 architectural timing core (tick timer + PIC)
//
// Implements the or1k system architecture the scheduler interacts with: the
// tick timer (TTMR/TTCR, group 10 SPRs) and the programmable interrupt
// controller (PICMR/PICSR, group 9 SPRs), with per-hart PIC state for the
// smp variant. Instruction decode lives in interpreter layers that wrap
// this core; on its own it consumes every budget slice as straight-line
// work, which is exactly what the scheduler and loader tests need.

package main

import (
	"fmt"
	"strings"
)

// SPR addresses, group<<11 | offset per the OpenRISC 1000 architecture manual.
const (
	SPR_PICMR = 0x4800 // group 9: interrupt mask
	SPR_PICSR = 0x4802 // group 9: interrupt status
	SPR_TTMR  = 0x5000 // group 10: tick timer mode
	SPR_TTCR  = 0x5001 // group 10: tick timer count
)

// TTMR fields.
const (
	TTMR_TP_MASK = 0x0FFFFFFF // time period compare value
	TTMR_IP      = 1 << 28    // interrupt pending
	TTMR_IE      = 1 << 29    // interrupt enabled
	TTMR_M_MASK  = 0x3 << 30  // mode

	TTMR_MODE_DISABLED   = 0x0 << 30
	TTMR_MODE_RESTART    = 0x1 << 30
	TTMR_MODE_STOP       = 0x2 << 30
	TTMR_MODE_CONTINUOUS = 0x3 << 30
)

// Interrupt lines 0 and 1 are non-maskable; PICMR reads keep them set.
const PICMR_NONMASKABLE = 0x3

const OR1K_MAX_CORES = 8

type or1kHart struct {
	picmr uint32
	picsr uint32
}

// OR1KCore models the or1k timing and interrupt architecture behind the
// CPUCore contract. Big endian, 28-bit tick-timer compare window, one PIC
// per hart. The monotonic cycle counter is kept separately from TTCR so
// tick deltas survive architectural wraps.
type OR1KCore struct {
	ram    *MachineRAM
	harts  []or1kHart
	ttmr   uint32
	ttcr   uint32
	cycles uint64 // monotonic, never wraps

	entryPC   uint32
	entryWord uint32 // first instruction word at the reset vector, diagnostic
}

func newOR1KCore(ram *MachineRAM, ncores int) (CPUCore, error) {
	if ncores < 1 || ncores > OR1K_MAX_CORES {
		return nil, fmt.Errorf("cpu_or1k: ncores %d out of range 1-%d", ncores, OR1K_MAX_CORES)
	}
	c := &OR1KCore{
		ram:   ram,
		harts: make([]or1kHart, ncores),
	}
	c.Reset()
	return c, nil
}

func init() {
	RegisterCoreFactory("or1k", "default", func(ram *MachineRAM, ncores int) (CPUCore, error) {
		// The default variant is single-hart regardless of requested count.
		return newOR1KCore(ram, 1)
	})
	RegisterCoreFactory("or1k", "smp", newOR1KCore)
}

func (c *OR1KCore) Reset() {
	c.ttmr = 0
	c.ttcr = 0
	c.cycles = 0
	for i := range c.harts {
		c.harts[i].picmr = PICMR_NONMASKABLE
		c.harts[i].picsr = 0
	}
	c.entryPC = 0x100 // or1k reset exception vector
	c.entryWord = 0
}

// AnalyzeImage records entry state from the committed boot image. The or1k
// reset vector is fixed at 0x100; the word found there is kept for the
// diagnostic dump.
func (c *OR1KCore) AnalyzeImage() {
	c.entryPC = 0x100
	if c.ram != nil && c.ram.Size() >= 0x104 {
		c.entryWord = c.ram.Read32(0x100)
	}
}

// Step consumes the whole budget, advancing the tick timer at cpiHint
// cycles per instruction. Returns 0: the timing core never idles on its
// own, an interpreter wrapper reports idle when the guest executes a
// power-management doze.
func (c *OR1KCore) Step(budget int32, cpiHint uint32) int32 {
	if budget <= 0 {
		return 0
	}
	if cpiHint == 0 {
		cpiHint = 1
	}
	c.ProgressTime(uint64(budget) * uint64(cpiHint))
	return 0
}

// ProgressTime advances the tick timer by the given cycle count, honouring
// the TTMR mode, and moves the monotonic counter.
func (c *OR1KCore) ProgressTime(cycles uint64) {
	c.cycles += cycles
	mode := c.ttmr & TTMR_M_MASK
	if mode == TTMR_MODE_DISABLED {
		return
	}
	tp := c.ttmr & TTMR_TP_MASK
	for cycles > 0 {
		count := c.ttcr & TTMR_TP_MASK
		if mode == TTMR_MODE_STOP && count == tp {
			return // counter holds at the match value until reprogrammed
		}
		remain := (tp - count) & TTMR_TP_MASK
		if remain == 0 {
			remain = TTMR_TP_MASK + 1 // a full 28-bit period away
		}
		if cycles < uint64(remain) {
			c.ttcr += uint32(cycles)
			return
		}
		cycles -= uint64(remain)
		switch mode {
		case TTMR_MODE_RESTART:
			c.ttcr = 0
		case TTMR_MODE_STOP:
			c.ttcr = tp
			cycles = 0
		case TTMR_MODE_CONTINUOUS:
			c.ttcr += remain
		}
		if c.ttmr&TTMR_IE != 0 {
			c.ttmr |= TTMR_IP
		}
	}
}

func (c *OR1KCore) GetTicks() uint64 {
	return c.cycles
}

// GetTimeToNextInterrupt reports cycles until the next timer interrupt.
// Pending work (an unmasked PIC line or a matured tick interrupt) returns
// zero so an idle request resumes immediately. A disabled timer with no
// pending lines reports no deadline at all.
func (c *OR1KCore) GetTimeToNextInterrupt() (uint64, bool) {
	for i := range c.harts {
		if c.harts[i].picsr&c.harts[i].picmr != 0 {
			return 0, true
		}
	}
	if c.ttmr&TTMR_IP != 0 {
		return 0, true
	}
	if c.ttmr&TTMR_M_MASK == TTMR_MODE_DISABLED {
		return 0, false
	}
	delta := ((c.ttmr & TTMR_TP_MASK) - (c.ttcr & TTMR_TP_MASK)) & TTMR_TP_MASK
	if delta == 0 {
		delta = TTMR_TP_MASK + 1
	}
	return uint64(delta), true
}

func (c *OR1KCore) RaiseInterrupt(line uint32, core int) {
	if line > 31 {
		return
	}
	bit := uint32(1) << line
	if core == ALL_CORES {
		for i := range c.harts {
			c.harts[i].picsr |= bit
		}
		return
	}
	if core >= 0 && core < len(c.harts) {
		c.harts[core].picsr |= bit
	}
}

func (c *OR1KCore) ClearInterrupt(line uint32, core int) {
	if line > 31 {
		return
	}
	bit := uint32(1) << line
	if core == ALL_CORES {
		for i := range c.harts {
			c.harts[i].picsr &^= bit
		}
		return
	}
	if core >= 0 && core < len(c.harts) {
		c.harts[core].picsr &^= bit
	}
}

func (c *OR1KCore) LittleEndian() bool {
	return false
}

// GetSPR reads an architectural special-purpose register. PIC registers
// resolve against hart 0; interpreter layers address other harts directly.
func (c *OR1KCore) GetSPR(addr uint32) uint32 {
	switch addr {
	case SPR_PICMR:
		return c.harts[0].picmr | PICMR_NONMASKABLE
	case SPR_PICSR:
		return c.harts[0].picsr
	case SPR_TTMR:
		return c.ttmr
	case SPR_TTCR:
		return c.ttcr
	}
	return 0
}

// SetSPR writes an architectural special-purpose register. Writing TTMR
// with IP clear acknowledges a pending tick interrupt, matching or1k
// handler behaviour.
func (c *OR1KCore) SetSPR(addr uint32, value uint32) {
	switch addr {
	case SPR_PICMR:
		c.harts[0].picmr = value | PICMR_NONMASKABLE
	case SPR_PICSR:
		c.harts[0].picsr = value
	case SPR_TTMR:
		c.ttmr = value
	case SPR_TTCR:
		c.ttcr = value
	}
}

func (c *OR1KCore) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "or1k: ncores=%d ticks=%d\n", len(c.harts), c.cycles)
	fmt.Fprintf(&b, "TTMR=0x%08X TTCR=0x%08X entry=0x%08X insn@entry=0x%08X\n",
		c.ttmr, c.ttcr, c.entryPC, c.entryWord)
	for i := range c.harts {
		fmt.Fprintf(&b, "hart%d: PICMR=0x%08X PICSR=0x%08X\n", i, c.harts[i].picmr, c.harts[i].picsr)
	}
	return b.String()
}
