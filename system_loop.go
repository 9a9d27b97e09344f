// system_loop.go - Machine loop: quantum execution, idle handling, dispatch

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Command packets form the closed set of operations the loop accepts. One
// packet type with a kind tag keeps dispatch in a single switch.
type cmdKind int

const (
	cmdLoadKernel cmdKind = iota
	cmdReset
	cmdStop
	cmdContinue
	cmdChangeCore
	cmdRaiseIRQ
	cmdClearIRQ
	cmdKeyInput
	cmdPaste
	cmdPeek
	cmdPoke
	cmdQueryIPS
	cmdPrintState
	cmdShutdown
)

type command struct {
	kind    cmdKind
	path    string
	data    []byte
	variant string
	line    uint32
	core    int
	key     byte
	text    string
	addr    uint32
	value   uint32
	reply   chan cmdResult
}

type cmdResult struct {
	ips   uint64
	text  string
	value uint32
	err   error
}

func reply(c command, r cmdResult) {
	if c.reply != nil {
		c.reply <- r
	}
}

// Run is the machine loop. It owns all guest state and has exactly two
// suspension points: the non-blocking command drain between quanta and the
// blocking wait while idle or stopped. Runs until a shutdown command.
func (m *Machine) Run() {
	defer close(m.done)
	for {
		switch m.state {
		case SYSTEM_RUN:
			m.runQuantum()
			for {
				select {
				case c := <-m.commands:
					if m.dispatch(c) {
						return
					}
					continue
				default:
				}
				break
			}

		case SYSTEM_HALT:
			select {
			case <-m.wakeTimer.C:
				m.timerWake()
			case c := <-m.commands:
				if m.dispatch(c) {
					return
				}
			}

		case SYSTEM_STOP:
			c := <-m.commands
			if m.dispatch(c) {
				return
			}
		}
	}
}

// runQuantum executes one scheduling slice: step the CPU, account the
// consumed instructions, flush polled devices, recalibrate, and detect idle.
// A no-op unless the machine is actively running.
func (m *Machine) runQuantum() {
	if m.state != SYSTEM_RUN {
		return
	}
	budget := m.timebase.CyclesPerQuantum()
	unused := m.cpu.Step(budget, m.timebase.TimerCyclesPerInstruction())
	if unused < 0 {
		unused = 0
	}
	if unused > budget {
		unused = budget
	}
	consumed := budget - unused
	if consumed < 1 {
		consumed = 1 // a slice always costs at least one instruction
	}
	m.ips += uint64(consumed)
	m.accountRate(uint64(consumed))

	m.uart0.Step()

	m.timebase.Update(consumed, m.cpu.GetTicks(), unused > 0)

	if unused > 0 {
		m.handleHalt()
	}
}

// handleHalt runs when the core gave budget back: the guest is waiting for
// an interrupt. With no scheduled timer interrupt the machine keeps
// repolling quanta; a deadline within a millisecond is treated as
// immediate. Otherwise the machine parks in SYSTEM_HALT with one deferred
// wake armed for the corrected host time until that deadline.
func (m *Machine) handleHalt() {
	delta, ok := m.cpu.GetTimeToNextInterrupt()
	if !ok {
		return
	}
	waitMs := m.timebase.CyclesToHostMilliseconds(delta)
	if waitMs <= 1 {
		return
	}
	if waitMs > 1000 {
		fmt.Printf("scheduler: warning: guest idle for %dms\n", waitMs)
	}
	m.idleSince = time.Now()
	m.idleMaxCycle = delta
	m.armDeferredWake(time.Duration(waitMs) * time.Millisecond)
	m.setState(SYSTEM_HALT)
}

// timerWake fires when the idle deadline expires: the guest clock advances
// by the full armed cycle count and execution resumes.
func (m *Machine) timerWake() {
	m.wakeArmed = false // the fire consumed the timer value
	if m.state != SYSTEM_HALT {
		return
	}
	m.cpu.ProgressTime(m.idleMaxCycle)
	m.timebase.AddIdleTime(time.Since(m.idleSince), m.idleMaxCycle)
	m.setState(SYSTEM_RUN)
}

// earlyWake is the router's notification hook. An interrupt raised while
// idle cancels the deferred wake and advances the guest clock by the wall
// time actually slept, clamped to the armed maximum. The interrupt itself
// was already forwarded to the core before this runs.
func (m *Machine) earlyWake() {
	if m.state != SYSTEM_HALT {
		return
	}
	m.stopDeferredWake()
	elapsed := time.Since(m.idleSince)
	cycles := m.timebase.WallMillisecondsToCycles(elapsed)
	if cycles > m.idleMaxCycle {
		cycles = m.idleMaxCycle
	}
	m.cpu.ProgressTime(cycles)
	m.timebase.AddIdleTime(elapsed, cycles)
	m.setState(SYSTEM_RUN)
}

// armDeferredWake schedules the single outstanding wake. Arming always
// supersedes any previous wake.
func (m *Machine) armDeferredWake(d time.Duration) {
	m.stopDeferredWake()
	m.wakeTimer.Reset(d)
	m.wakeArmed = true
}

// stopDeferredWake cancels and drains the wake timer so a stale expiry can
// never leak into a later idle period.
func (m *Machine) stopDeferredWake() {
	if !m.wakeArmed {
		return
	}
	if !m.wakeTimer.Stop() {
		select {
		case <-m.wakeTimer.C:
		default:
		}
	}
	m.wakeArmed = false
}

func (m *Machine) setState(s MachineState) {
	if m.state == s {
		return
	}
	m.state = s
	m.status.set(func(st *MachineStatus) { st.State = s.String() })
}

// accountRate maintains the per-second instruction rate for the status
// overlay, independent of the GetIPS read-and-reset accumulator.
func (m *Machine) accountRate(consumed uint64) {
	m.rateWindow += consumed
	if elapsed := time.Since(m.rateStart); elapsed >= time.Second {
		rate := uint64(float64(m.rateWindow) / elapsed.Seconds())
		m.status.set(func(st *MachineStatus) { st.IPS = rate })
		m.rateWindow = 0
		m.rateStart = time.Now()
	}
}

// dispatch handles one command packet. Returns true on shutdown.
func (m *Machine) dispatch(c command) bool {
	switch c.kind {
	case cmdLoadKernel:
		reply(c, cmdResult{err: m.doLoadAndStart(c.path, c.data)})

	case cmdReset:
		reply(c, cmdResult{err: m.doReset()})

	case cmdStop:
		m.stopDeferredWake()
		m.setState(SYSTEM_STOP)
		reply(c, cmdResult{})

	case cmdContinue:
		var err error
		if m.cpu == nil {
			err = fmt.Errorf("system: not initialised")
		} else if m.state == SYSTEM_STOP {
			m.setState(SYSTEM_RUN)
		}
		reply(c, cmdResult{err: err})

	case cmdChangeCore:
		reply(c, cmdResult{err: m.doChangeCore(c.variant)})

	case cmdRaiseIRQ:
		m.router.RaiseInterrupt(c.line, c.core)
		reply(c, cmdResult{})

	case cmdClearIRQ:
		m.router.ClearInterrupt(c.line, c.core)
		reply(c, cmdResult{})

	case cmdKeyInput:
		if m.uart0 != nil {
			m.uart0.ReceiveByte(c.key)
		}
		if m.kbd != nil {
			m.kbd.Press(uint32(c.key))
		}
		reply(c, cmdResult{})

	case cmdPaste:
		if m.uart0 != nil {
			m.uart0.ReceiveString(c.text)
		}
		reply(c, cmdResult{})

	case cmdPeek:
		if m.ram == nil {
			reply(c, cmdResult{err: fmt.Errorf("system: not initialised")})
			break
		}
		reply(c, cmdResult{value: m.ram.Read32(c.addr)})

	case cmdPoke:
		if m.ram == nil {
			reply(c, cmdResult{err: fmt.Errorf("system: not initialised")})
			break
		}
		m.ram.Write32(c.addr, c.value)
		reply(c, cmdResult{})

	case cmdQueryIPS:
		reply(c, cmdResult{ips: m.ips})
		m.ips = 0

	case cmdPrintState:
		reply(c, cmdResult{text: m.doPrintState()})

	case cmdShutdown:
		m.stopDeferredWake()
		m.setState(SYSTEM_STOP)
		reply(c, cmdResult{})
		return true
	}
	return false
}

// doLoadAndStart is the boot pipeline commit path. Failures leave the
// machine stopped with memory untouched beyond whatever the failed phase
// wrote; the error is both returned and logged.
func (m *Machine) doLoadAndStart(path string, data []byte) error {
	if m.cpu == nil {
		return fmt.Errorf("system: not initialised")
	}
	m.stopDeferredWake()
	m.setState(SYSTEM_STOP)

	if data == nil {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			err = &BootError{Operation: "transport", Details: path, Err: err}
			fmt.Fprintf(os.Stderr, "system: %v\n", err)
			return err
		}
	}

	res, err := loadBootImage(data, m.ram, m.cpu.LittleEndian(), m.cfg.Boot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "system: %v\n", err)
		return err
	}

	m.ram.ResetDevices()
	m.ips = 0
	m.rateWindow = 0
	m.rateStart = time.Now()
	m.cpu.Reset()
	m.timebase.Reset(m.cpu.GetTicks())
	m.cpu.AnalyzeImage()

	name := kernelName(path)
	m.status.set(func(st *MachineStatus) { st.Kernel = name })
	fmt.Printf("system: booted %s (%s image, %d bytes in RAM", name, res.Kind, res.Length)
	if res.EmbeddedELF {
		fmt.Printf(", embedded elf")
	}
	if res.Patches > 0 {
		fmt.Printf(", %d memsize patch(es)", res.Patches)
	}
	if res.Swapped {
		fmt.Printf(", word-swapped")
	}
	fmt.Printf(")\n")

	m.setState(SYSTEM_RUN)
	return nil
}

// doReset returns devices, core and timebase to power-on state and stops
// the machine. Loaded memory is preserved; Continue resumes execution from
// the reset vector.
func (m *Machine) doReset() error {
	if m.cpu == nil {
		return fmt.Errorf("system: not initialised")
	}
	m.stopDeferredWake()
	m.ram.ResetDevices()
	m.cpu.Reset()
	m.timebase.Reset(m.cpu.GetTicks())
	m.cpu.AnalyzeImage()
	m.ips = 0
	m.rateWindow = 0
	m.rateStart = time.Now()
	m.setState(SYSTEM_STOP)
	return nil
}

// doChangeCore hot-swaps the CPU implementation variant. Failure keeps the
// current core; success resets the new core against the loaded image.
func (m *Machine) doChangeCore(variant string) error {
	if m.cpu == nil {
		return fmt.Errorf("system: not initialised")
	}
	cpu, err := NewCPUCore(m.cfg.Architecture, variant, m.ram, m.cfg.NCores)
	if err != nil {
		fmt.Fprintf(os.Stderr, "system: %v\n", err)
		return err
	}
	wasActive := m.state != SYSTEM_STOP
	m.stopDeferredWake()
	m.cpu = cpu
	m.router.SetCore(cpu)
	m.cfg.CPUVariant = variant
	m.cpu.Reset()
	m.timebase.Reset(m.cpu.GetTicks())
	m.cpu.AnalyzeImage()
	m.status.set(func(st *MachineStatus) { st.Variant = variant })
	if wasActive {
		m.setState(SYSTEM_RUN)
	} else {
		m.setState(SYSTEM_STOP)
	}
	return nil
}

// doPrintState flushes buffered console output and renders the diagnostic
// dump to stderr (and to the caller).
func (m *Machine) doPrintState() string {
	var b strings.Builder
	if m.uart0 != nil {
		if residual := m.uart0.FlushNow(); len(residual) > 0 {
			fmt.Fprintf(&b, "console tail:\n%s\n", residual)
		}
	}
	if m.cpu != nil {
		b.WriteString(m.cpu.String())
	}
	if m.timebase != nil {
		b.WriteString(m.timebase.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "state=%s ips-accum=%d\n", m.state, m.ips)
	text := b.String()
	fmt.Fprint(os.Stderr, text)
	return text
}
