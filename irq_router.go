// irq_router.go - Interrupt routing between devices and the CPU core

package main

// IRQController is what devices hold to assert and deassert their lines.
type IRQController interface {
	RaiseInterrupt(line uint32, core int)
	ClearInterrupt(line uint32, core int)
}

// InterruptRouter forwards device interrupt edges to the active CPU core and
// notifies the scheduler so an idle machine can wake early. The forward to
// the core always happens before the wake notification, so a woken scheduler
// observes the interrupt as already pending. All calls run on the machine
// loop goroutine; host-side sources post command packets that end up here.
type InterruptRouter struct {
	cpu  CPUCore
	wake func()
}

func NewInterruptRouter() *InterruptRouter {
	return &InterruptRouter{}
}

// SetCore points the router at a (possibly hot-swapped) CPU implementation.
func (r *InterruptRouter) SetCore(cpu CPUCore) {
	r.cpu = cpu
}

// SetWakeHandler installs the scheduler's early-wake entry point.
func (r *InterruptRouter) SetWakeHandler(fn func()) {
	r.wake = fn
}

func (r *InterruptRouter) RaiseInterrupt(line uint32, core int) {
	if r.cpu != nil {
		r.cpu.RaiseInterrupt(line, core)
	}
	if r.wake != nil {
		r.wake()
	}
}

// ClearInterrupt deasserts a line. Clearing never influences scheduling
// state: a machine that went idle stays idle.
func (r *InterruptRouter) ClearInterrupt(line uint32, core int) {
	if r.cpu != nil {
		r.cpu.ClearInterrupt(line, core)
	}
}
