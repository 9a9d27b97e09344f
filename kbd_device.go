// kbd_device.go - Keycode FIFO input device

package main

const (
	KBD_REG_DATA   = 0x0 // pops the next keycode, 0 when empty
	KBD_REG_STATUS = 0x4 // number of queued keycodes

	KBD_FIFO_LIMIT = 256
)

// KBDDevice queues raw keycodes from the display backend and interrupts the
// guest on arrival. Host input is marshalled onto the machine loop before it
// reaches Press, so the FIFO needs no lock.
type KBDDevice struct {
	irq  IRQController
	line uint32
	fifo []uint32
}

func NewKBDDevice(irq IRQController, line uint32) *KBDDevice {
	return &KBDDevice{irq: irq, line: line}
}

func (k *KBDDevice) Reset() {
	k.fifo = k.fifo[:0]
	if k.irq != nil {
		k.irq.ClearInterrupt(k.line, ALL_CORES)
	}
}

// Press queues a keycode and asserts the interrupt line.
func (k *KBDDevice) Press(code uint32) {
	if code == 0 || len(k.fifo) >= KBD_FIFO_LIMIT {
		return
	}
	k.fifo = append(k.fifo, code)
	k.irq.RaiseInterrupt(k.line, ALL_CORES)
}

func (k *KBDDevice) Read32(offset uint32) uint32 {
	switch offset {
	case KBD_REG_DATA:
		if len(k.fifo) == 0 {
			return 0
		}
		code := k.fifo[0]
		k.fifo = k.fifo[1:]
		if len(k.fifo) == 0 {
			k.irq.ClearInterrupt(k.line, ALL_CORES)
		}
		return code
	case KBD_REG_STATUS:
		return uint32(len(k.fifo))
	}
	return 0
}

func (k *KBDDevice) Write32(offset uint32, value uint32) {
	// Read-only register file.
}

func (k *KBDDevice) Read8(offset uint32) uint8 {
	// Byte access never pops the FIFO; only the status count is visible.
	if offset&^3 == KBD_REG_STATUS {
		return uint8(uint32(len(k.fifo)) >> ((offset & 3) * 8))
	}
	return 0
}

func (k *KBDDevice) Write8(offset uint32, value uint8) {
}
