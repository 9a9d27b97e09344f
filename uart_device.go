// uart_device.go - 8250-subset serial port (guest console)

package main

// 8250 register offsets.
const (
	UART_RBR = 0 // receive buffer (read) / transmit holding (write)
	UART_IER = 1 // interrupt enable
	UART_IIR = 2 // interrupt identification (read) / FIFO control (write)
	UART_LCR = 3 // line control
	UART_MCR = 4 // modem control
	UART_LSR = 5 // line status
	UART_MSR = 6 // modem status
	UART_SCR = 7 // scratch
)

const (
	UART_IER_RDA  = 0x01 // received data available
	UART_IER_THRE = 0x02 // transmit holding register empty

	UART_IIR_NONE = 0x01
	UART_IIR_THRE = 0x02
	UART_IIR_RDA  = 0x04

	UART_LSR_DR        = 0x01 // data ready
	UART_LSR_TX_EMPTY  = 0x60 // THRE | TEMT, transmit never backpressures
	UART_LCR_DLAB      = 0x80
	UART_RX_FIFO_LIMIT = 1024
)

// UARTDevice is the guest serial console. The transmit side buffers bytes
// and flushes once per scheduling quantum through Step; the receive side is
// fed by host surfaces (terminal, display input, paste) already marshalled
// onto the machine loop goroutine, so no locking is needed.
type UARTDevice struct {
	irq  IRQController
	line uint32

	rxFifo []byte
	txBuf  []byte
	output func([]byte)

	ier     uint8
	lcr     uint8
	mcr     uint8
	scr     uint8
	dll     uint8 // divisor latch low/high, stored for readback only
	dlh     uint8
	pending uint8 // IIR cause bits awaiting service
}

func NewUARTDevice(irq IRQController, line uint32) *UARTDevice {
	return &UARTDevice{irq: irq, line: line}
}

// SetOutput installs the transmit sink. Flushed data goes to the sink in
// Step-sized chunks; without a sink the buffer is retained for FlushNow.
func (u *UARTDevice) SetOutput(fn func([]byte)) {
	u.output = fn
}

func (u *UARTDevice) Reset() {
	u.rxFifo = u.rxFifo[:0]
	u.txBuf = u.txBuf[:0]
	u.ier = 0
	u.lcr = 0
	u.mcr = 0
	u.scr = 0
	u.dll = 0
	u.dlh = 0
	u.pending = 0
	if u.irq != nil {
		u.irq.ClearInterrupt(u.line, ALL_CORES)
	}
}

// ReceiveByte queues a byte from the host side and raises the rx interrupt
// if the guest enabled it.
func (u *UARTDevice) ReceiveByte(b byte) {
	if len(u.rxFifo) >= UART_RX_FIFO_LIMIT {
		return // overflow drops input rather than stalling the host
	}
	u.rxFifo = append(u.rxFifo, b)
	u.updateIRQ()
}

// ReceiveString queues a whole string, used by clipboard paste.
func (u *UARTDevice) ReceiveString(s string) {
	for i := 0; i < len(s); i++ {
		u.ReceiveByte(s[i])
	}
}

// Step flushes the transmit buffer. Called once per scheduling quantum.
func (u *UARTDevice) Step() {
	if len(u.txBuf) == 0 {
		return
	}
	if u.output != nil {
		u.output(u.txBuf)
		u.txBuf = u.txBuf[:0]
	} else if len(u.txBuf) > 0x10000 {
		u.txBuf = u.txBuf[len(u.txBuf)-0x8000:]
	}
	if u.ier&UART_IER_THRE != 0 {
		u.pending |= UART_IIR_THRE
		u.updateIRQ()
	}
}

// FlushNow drains any buffered transmit data immediately (abort reporting).
func (u *UARTDevice) FlushNow() []byte {
	out := u.txBuf
	u.txBuf = nil
	if u.output != nil && len(out) > 0 {
		u.output(out)
		return nil
	}
	return out
}

func (u *UARTDevice) updateIRQ() {
	if len(u.rxFifo) > 0 && u.ier&UART_IER_RDA != 0 {
		u.pending |= UART_IIR_RDA
	}
	if u.pending != 0 {
		u.irq.RaiseInterrupt(u.line, ALL_CORES)
	} else {
		u.irq.ClearInterrupt(u.line, ALL_CORES)
	}
}

func (u *UARTDevice) Read8(offset uint32) uint8 {
	switch offset {
	case UART_RBR:
		if u.lcr&UART_LCR_DLAB != 0 {
			return u.dll
		}
		if len(u.rxFifo) == 0 {
			return 0
		}
		b := u.rxFifo[0]
		u.rxFifo = u.rxFifo[1:]
		if len(u.rxFifo) == 0 {
			u.pending &^= UART_IIR_RDA
		}
		u.updateIRQ()
		return b
	case UART_IER:
		if u.lcr&UART_LCR_DLAB != 0 {
			return u.dlh
		}
		return u.ier
	case UART_IIR:
		if u.pending&UART_IIR_RDA != 0 {
			return UART_IIR_RDA
		}
		if u.pending&UART_IIR_THRE != 0 {
			u.pending &^= UART_IIR_THRE // reading IIR services THRE
			u.updateIRQ()
			return UART_IIR_THRE
		}
		return UART_IIR_NONE
	case UART_LCR:
		return u.lcr
	case UART_MCR:
		return u.mcr
	case UART_LSR:
		lsr := uint8(UART_LSR_TX_EMPTY)
		if len(u.rxFifo) > 0 {
			lsr |= UART_LSR_DR
		}
		return lsr
	case UART_MSR:
		return 0
	case UART_SCR:
		return u.scr
	}
	return 0
}

func (u *UARTDevice) Write8(offset uint32, value uint8) {
	switch offset {
	case UART_RBR:
		if u.lcr&UART_LCR_DLAB != 0 {
			u.dll = value
			return
		}
		u.txBuf = append(u.txBuf, value)
	case UART_IER:
		if u.lcr&UART_LCR_DLAB != 0 {
			u.dlh = value
			return
		}
		u.ier = value
		u.updateIRQ()
	case UART_IIR:
		// FCR writes: FIFO enable/clear bits, no-ops for this model except
		// the rx clear bit.
		if value&0x02 != 0 {
			u.rxFifo = u.rxFifo[:0]
			u.pending &^= UART_IIR_RDA
			u.updateIRQ()
		}
	case UART_LCR:
		u.lcr = value
	case UART_MCR:
		u.mcr = value
	case UART_SCR:
		u.scr = value
	}
}

func (u *UARTDevice) Read32(offset uint32) uint32 {
	return uint32(u.Read8(offset))
}

func (u *UARTDevice) Write32(offset uint32, value uint32) {
	u.Write8(offset, uint8(value))
}
