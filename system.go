// system.go - Machine composition and control surface

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MachineState is the scheduler state: stopped, executing quanta, or idle
// waiting for the next interrupt.
type MachineState int

const (
	SYSTEM_STOP MachineState = iota
	SYSTEM_RUN
	SYSTEM_HALT
)

func (s MachineState) String() string {
	switch s {
	case SYSTEM_RUN:
		return "run"
	case SYSTEM_HALT:
		return "idle"
	}
	return "stop"
}

// MachineConfig selects the guest machine built by Init.
type MachineConfig struct {
	Architecture string
	CPUVariant   string
	NCores       int
	MemorySizeMB int
	Boot         BootConfig
}

func DefaultConfig() MachineConfig {
	return MachineConfig{
		Architecture: "or1k",
		CPUVariant:   "default",
		NCores:       1,
		MemorySizeMB: 32,
		Boot:         BootConfig{PatchMemSize: true},
	}
}

var ErrMachineDown = errors.New("system: machine loop is not running")

// Machine owns every piece of guest state: RAM, the CPU core, devices, the
// time base and the scheduler. There are no package-level machine globals;
// main composes exactly one of these, tests compose as many as they like.
//
// Concurrency model: one loop goroutine (Run) owns all mutable machine
// state. Every other goroutine talks to it through command packets; the
// status store is the one read-side exception.
type Machine struct {
	cfg      MachineConfig
	ram      *MachineRAM
	cpu      CPUCore
	router   *InterruptRouter
	timebase *TimeBase

	uart0 *UARTDevice
	kbd   *KBDDevice
	fb    *FBDevice
	snd   *SoundDevice
	rtc   *RTCDevice

	state MachineState

	// GetIPS accumulator (read-and-reset), plus an independent per-second
	// window for the status overlay so display polling cannot disturb the
	// GetIPS contract.
	ips        uint64
	rateWindow uint64
	rateStart  time.Time

	// Deferred wake. At most one is outstanding; arming supersedes the
	// previous one. The timer is armed, stopped and drained only on the
	// loop goroutine.
	wakeTimer    *time.Timer
	wakeArmed    bool
	idleSince    time.Time
	idleMaxCycle uint64

	status   *statusStore
	commands chan command
	done     chan struct{}
	inited   bool
}

func NewMachine() *Machine {
	m := &Machine{
		router:   NewInterruptRouter(),
		status:   newStatusStore(),
		commands: make(chan command, 64),
		done:     make(chan struct{}),
	}
	m.wakeTimer = time.NewTimer(time.Hour)
	if !m.wakeTimer.Stop() {
		<-m.wakeTimer.C
	}
	m.router.SetWakeHandler(m.earlyWake)
	return m
}

// Init builds the guest machine described by cfg: RAM, the fixed device
// map, and the CPU core resolved through the registry. An unsupported
// architecture or variant is a diagnostic, not a crash; the machine simply
// stays unusable until a valid Init. Must be called before Run.
func (m *Machine) Init(cfg MachineConfig) error {
	if cfg.NCores < 1 {
		cfg.NCores = 1
	}
	ram, err := NewMachineRAM(cfg.MemorySizeMB)
	if err != nil {
		return fmt.Errorf("system: init: %w", err)
	}

	uart0 := NewUARTDevice(m.router, UART0_IRQ)
	kbd := NewKBDDevice(m.router, KBD_IRQ)
	fb := NewFBDevice(ram)
	snd := NewSoundDevice()
	rtc := NewRTCDevice()
	for _, d := range []struct {
		dev    MMIODevice
		base   uint32
		length uint32
	}{
		{uart0, UART0_BASE, UART0_SIZE},
		{fb, FB_BASE, FB_SIZE},
		{kbd, KBD_BASE, KBD_SIZE},
		{snd, SND_BASE, SND_SIZE},
		{rtc, RTC_BASE, RTC_SIZE},
	} {
		if err := ram.AddDevice(d.dev, d.base, d.length); err != nil {
			return fmt.Errorf("system: init: %w", err)
		}
	}

	cpu, err := NewCPUCore(cfg.Architecture, cfg.CPUVariant, ram, cfg.NCores)
	if err != nil {
		fmt.Fprintf(os.Stderr, "system: %v\n", err)
		return err
	}

	m.cfg = cfg
	m.ram = ram
	m.cpu = cpu
	m.uart0 = uart0
	m.kbd = kbd
	m.fb = fb
	m.snd = snd
	m.rtc = rtc
	m.timebase = NewTimeBase(OR1K_CYCLES_PER_MS, QUANTA_PER_SECOND)
	m.router.SetCore(cpu)
	m.state = SYSTEM_STOP
	m.ips = 0
	m.rateWindow = 0
	m.rateStart = time.Now()
	m.inited = true

	m.status.set(func(st *MachineStatus) {
		st.State = m.state.String()
		st.Architecture = cfg.Architecture
		st.Variant = cfg.CPUVariant
		st.NCores = cfg.NCores
		st.MemoryMB = cfg.MemorySizeMB
	})
	return nil
}

// Device accessors for host surfaces wired up in main.

func (m *Machine) UART0() *UARTDevice { return m.uart0 }

func (m *Machine) Framebuffer() *FBDevice { return m.fb }

func (m *Machine) Sound() *SoundDevice { return m.snd }

func (m *Machine) Status() MachineStatus { return m.status.snapshot() }

func (m *Machine) Done() <-chan struct{} { return m.done }

// ---- External control surface (safe from any goroutine once Run started) ----

// LoadAndStart boots an image file: transport, sniff, place, fixups, commit,
// run. Transport and placement failures are returned and leave the machine
// stopped.
func (m *Machine) LoadAndStart(path string) error {
	return m.post(command{kind: cmdLoadKernel, path: path, reply: make(chan cmdResult, 1)}).err
}

// LoadAndStartBytes boots an in-memory image, for scripts and tests.
func (m *Machine) LoadAndStartBytes(name string, data []byte) error {
	return m.post(command{kind: cmdLoadKernel, path: name, data: data, reply: make(chan cmdResult, 1)}).err
}

// Reset performs a hard reset: devices and core return to power-on state,
// loaded memory is preserved, the IPS accumulator clears and the machine
// stops. Continue restarts execution from the reset vector.
func (m *Machine) Reset() error {
	return m.post(command{kind: cmdReset, reply: make(chan cmdResult, 1)}).err
}

// ChangeCore hot-swaps the CPU implementation variant at runtime.
func (m *Machine) ChangeCore(variant string) error {
	return m.post(command{kind: cmdChangeCore, variant: variant, reply: make(chan cmdResult, 1)}).err
}

// Stop pauses execution; Continue resumes it.
func (m *Machine) Stop() error {
	return m.post(command{kind: cmdStop, reply: make(chan cmdResult, 1)}).err
}

func (m *Machine) Continue() error {
	return m.post(command{kind: cmdContinue, reply: make(chan cmdResult, 1)}).err
}

// GetIPS returns the number of instructions executed since the previous
// GetIPS call and zeroes the accumulator. Two back-to-back calls always
// return n, then 0.
func (m *Machine) GetIPS() uint64 {
	return m.post(command{kind: cmdQueryIPS, reply: make(chan cmdResult, 1)}).ips
}

// RaiseInterrupt asserts an external interrupt line from a host goroutine.
// A machine idling in SYSTEM_HALT wakes early with clock compensation.
func (m *Machine) RaiseInterrupt(line uint32, core int) {
	m.post(command{kind: cmdRaiseIRQ, line: line, core: core})
}

func (m *Machine) ClearInterrupt(line uint32, core int) {
	m.post(command{kind: cmdClearIRQ, line: line, core: core})
}

// SendKey delivers one input byte to the guest console (serial rx plus the
// keycode FIFO).
func (m *Machine) SendKey(b byte) {
	m.post(command{kind: cmdKeyInput, key: b})
}

// Paste delivers a block of text to the guest console.
func (m *Machine) Paste(text string) {
	if text == "" {
		return
	}
	m.post(command{kind: cmdPaste, text: text})
}

// Peek32 reads one guest word through the loop, so scripts observe memory
// with the same ordering guarantees as the core.
func (m *Machine) Peek32(addr uint32) (uint32, error) {
	r := m.post(command{kind: cmdPeek, addr: addr, reply: make(chan cmdResult, 1)})
	return r.value, r.err
}

// Poke32 writes one guest word through the loop.
func (m *Machine) Poke32(addr uint32, value uint32) error {
	return m.post(command{kind: cmdPoke, addr: addr, value: value, reply: make(chan cmdResult, 1)}).err
}

// PrintOnAbort flushes buffered serial output and dumps diagnostic state to
// stderr. Wired to fatal-abort paths and the status verb of the control
// socket.
func (m *Machine) PrintOnAbort() string {
	return m.post(command{kind: cmdPrintState, reply: make(chan cmdResult, 1)}).text
}

// Shutdown stops the loop and waits for it to exit. Idempotent.
func (m *Machine) Shutdown() {
	m.post(command{kind: cmdShutdown, reply: make(chan cmdResult, 1)})
	<-m.done
}

func (m *Machine) post(c command) cmdResult {
	select {
	case m.commands <- c:
	case <-m.done:
		return cmdResult{err: ErrMachineDown}
	}
	if c.reply == nil {
		return cmdResult{}
	}
	select {
	case r := <-c.reply:
		return r
	case <-m.done:
		return cmdResult{err: ErrMachineDown}
	}
}

// KernelName reports the basename of the last loaded image, for status.
func kernelName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
