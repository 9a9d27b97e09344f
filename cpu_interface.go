// cpu_interface.go - CPU core contract and factory registry

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"sort"
)

// ALL_CORES selects every core of an SMP cluster in interrupt operations.
const ALL_CORES = -1

// CPUCore is the contract between the machine loop and a CPU implementation.
// The loop is the only caller of Step/ProgressTime/AnalyzeImage; interrupt
// methods are also invoked from the loop goroutine (external sources are
// marshalled onto it first).
type CPUCore interface {
	// Step executes up to budget instructions and returns how many were NOT
	// executed. A non-zero return means the core entered an idle state
	// (waiting for an interrupt) before exhausting the budget. cpiHint is
	// the current estimate of tick-timer cycles per instruction, used to
	// advance architectural timers during the slice.
	Step(budget int32, cpiHint uint32) int32

	// Reset returns all architectural state to power-on values. Memory
	// contents are not touched.
	Reset()

	// AnalyzeImage is invoked once after a boot image has been committed to
	// RAM, before execution starts, so the core can derive entry state from
	// the loaded image.
	AnalyzeImage()

	// RaiseInterrupt asserts an external interrupt line. core selects the
	// target hart; ALL_CORES asserts on every hart.
	RaiseInterrupt(line uint32, core int)

	// ClearInterrupt deasserts an external interrupt line.
	ClearInterrupt(line uint32, core int)

	// GetTicks returns the monotonic cycle counter. Unlike the architectural
	// tick-timer register it never wraps, so callers can take deltas.
	GetTicks() uint64

	// GetTimeToNextInterrupt returns the number of cycles until the next
	// scheduled timer interrupt. ok is false when no timer interrupt is
	// pending or scheduled, meaning an idle core has nothing to wait for.
	GetTimeToNextInterrupt() (cycles uint64, ok bool)

	// ProgressTime advances architectural timers by the given cycle count
	// without executing instructions. Used to account for host time spent
	// in the idle state.
	ProgressTime(cycles uint64)

	// LittleEndian reports the guest byte order. The boot loader uses it to
	// decide whether the image needs a word swap.
	LittleEndian() bool

	// String renders a diagnostic register dump for abort reporting.
	fmt.Stringer
}

// CoreFactory constructs a CPU implementation bound to guest RAM.
type CoreFactory func(ram *MachineRAM, ncores int) (CPUCore, error)

var coreRegistry = map[string]CoreFactory{}

func coreKey(arch, variant string) string {
	return arch + "/" + variant
}

// RegisterCoreFactory makes a CPU implementation available to Init and
// ChangeCore under (architecture, variant). Called from init functions,
// following the database/sql driver registration idiom.
func RegisterCoreFactory(arch, variant string, fn CoreFactory) {
	key := coreKey(arch, variant)
	if _, dup := coreRegistry[key]; dup {
		panic("cpu_interface: duplicate core registration for " + key)
	}
	coreRegistry[key] = fn
}

// NewCPUCore resolves (architecture, variant) and constructs the core.
func NewCPUCore(arch, variant string, ram *MachineRAM, ncores int) (CPUCore, error) {
	fn, ok := coreRegistry[coreKey(arch, variant)]
	if !ok {
		return nil, fmt.Errorf("cpu_interface: no core registered for architecture %q variant %q (available: %v)",
			arch, variant, RegisteredCores())
	}
	return fn(ram, ncores)
}

// RegisteredCores lists every registered architecture/variant pair, sorted.
func RegisteredCores() []string {
	keys := make([]string, 0, len(coreRegistry))
	for k := range coreRegistry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
