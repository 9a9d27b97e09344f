// memory_map.go - Guest physical memory and memory-mapped device dispatch

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Guest physical memory layout. RAM starts at 0 and device windows sit far
// above it in the 0x9xxxxxxx range, so a simple sorted range scan is enough
// for MMIO dispatch and every RAM access takes the bounds-check fast path.
const (
	UART0_BASE = 0x90000000
	UART0_SIZE = 0x8
	FB_BASE    = 0x91000000
	FB_SIZE    = 0x100
	KBD_BASE   = 0x94000000
	KBD_SIZE   = 0x100
	SND_BASE   = 0x98000000
	SND_SIZE   = 0x400
	RTC_BASE   = 0x99000000
	RTC_SIZE   = 0x20

	UART0_IRQ = 2
	KBD_IRQ   = 5
)

// MMIODevice is the register-window contract for memory-mapped peripherals.
// Offsets are relative to the device base. Narrow and wide access are both
// required because the or1k peripherals are split between byte-register
// devices (UART) and word-register devices (framebuffer, sound, RTC).
type MMIODevice interface {
	Read8(offset uint32) uint8
	Write8(offset uint32, value uint8)
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
	Reset()
}

type mmioRegion struct {
	base uint32
	end  uint32 // exclusive
	dev  MMIODevice
}

// MachineRAM owns the flat guest-physical byte slice and the device map.
// All accessors are only ever called from the machine loop goroutine; the
// loader additionally touches the raw slice while the loop is stopped.
type MachineRAM struct {
	mem     []byte
	size    uint32
	regions []mmioRegion // sorted by base
}

func NewMachineRAM(sizeMB int) (*MachineRAM, error) {
	if sizeMB < 1 || sizeMB > 1024 {
		return nil, fmt.Errorf("memory_map: unsupported RAM size %dMB", sizeMB)
	}
	size := uint32(sizeMB) * 0x100000
	return &MachineRAM{
		mem:  make([]byte, size),
		size: size,
	}, nil
}

// AddDevice registers a device window at [base, base+length). Ranges must not
// overlap RAM or each other; violations are registration errors rather than
// silent shadowing.
func (m *MachineRAM) AddDevice(dev MMIODevice, base uint32, length uint32) error {
	if dev == nil {
		return fmt.Errorf("memory_map: nil device at 0x%08X", base)
	}
	if length == 0 {
		return fmt.Errorf("memory_map: zero-length device window at 0x%08X", base)
	}
	end := base + length
	if end < base {
		return fmt.Errorf("memory_map: device window 0x%08X+0x%X wraps the address space", base, length)
	}
	if base < m.size {
		return fmt.Errorf("memory_map: device window 0x%08X overlaps RAM (0x0-0x%08X)", base, m.size)
	}
	for _, r := range m.regions {
		if base < r.end && r.base < end {
			return fmt.Errorf("memory_map: device window 0x%08X-0x%08X overlaps existing window 0x%08X-0x%08X",
				base, end, r.base, r.end)
		}
	}
	m.regions = append(m.regions, mmioRegion{base: base, end: end, dev: dev})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
	return nil
}

func (m *MachineRAM) lookup(addr uint32) *mmioRegion {
	lo, hi := 0, len(m.regions)
	for lo < hi {
		mid := (lo + hi) / 2
		if addr >= m.regions[mid].end {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(m.regions) && addr >= m.regions[lo].base {
		return &m.regions[lo]
	}
	return nil
}

func (m *MachineRAM) Read8(addr uint32) uint8 {
	if addr < m.size {
		return m.mem[addr]
	}
	if r := m.lookup(addr); r != nil {
		return r.dev.Read8(addr - r.base)
	}
	return 0
}

func (m *MachineRAM) Write8(addr uint32, value uint8) {
	if addr < m.size {
		m.mem[addr] = value
		return
	}
	if r := m.lookup(addr); r != nil {
		r.dev.Write8(addr-r.base, value)
	}
}

func (m *MachineRAM) Read16(addr uint32) uint16 {
	if addr < m.size && m.size-addr >= 2 {
		return binary.LittleEndian.Uint16(m.mem[addr : addr+2])
	}
	if r := m.lookup(addr); r != nil {
		off := addr - r.base
		return uint16(r.dev.Read8(off)) | uint16(r.dev.Read8(off+1))<<8
	}
	return 0
}

func (m *MachineRAM) Write16(addr uint32, value uint16) {
	if addr < m.size && m.size-addr >= 2 {
		binary.LittleEndian.PutUint16(m.mem[addr:addr+2], value)
		return
	}
	if r := m.lookup(addr); r != nil {
		off := addr - r.base
		r.dev.Write8(off, uint8(value))
		r.dev.Write8(off+1, uint8(value>>8))
	}
}

func (m *MachineRAM) Read32(addr uint32) uint32 {
	if addr < m.size && m.size-addr >= 4 {
		return binary.LittleEndian.Uint32(m.mem[addr : addr+4])
	}
	if r := m.lookup(addr); r != nil {
		return r.dev.Read32(addr - r.base)
	}
	return 0
}

func (m *MachineRAM) Write32(addr uint32, value uint32) {
	if addr < m.size && m.size-addr >= 4 {
		binary.LittleEndian.PutUint32(m.mem[addr:addr+4], value)
		return
	}
	if r := m.lookup(addr); r != nil {
		r.dev.Write32(addr-r.base, value)
	}
}

// GetMemory exposes the raw RAM slice for the boot loader and the display
// backend. Callers must not resize it.
func (m *MachineRAM) GetMemory() []byte {
	return m.mem
}

func (m *MachineRAM) Size() uint32 {
	return m.size
}

func (m *MachineRAM) SizeMB() int {
	return int(m.size / 0x100000)
}

// Little2Big swaps the bytes of every 32-bit word in [0, length). Big-endian
// cores see RAM through swapped words while the host slice stays little
// endian; applying the swap twice restores the original bytes. A trailing
// partial word is swapped as a full word, so length is rounded up to the
// next word boundary (capped at RAM size).
func (m *MachineRAM) Little2Big(length uint32) {
	length = (length + 3) &^ 3
	if length > m.size {
		length = m.size
	}
	for i := uint32(0); i < length; i += 4 {
		m.mem[i], m.mem[i+1], m.mem[i+2], m.mem[i+3] = m.mem[i+3], m.mem[i+2], m.mem[i+1], m.mem[i]
	}
}

// ResetDevices resets every registered device in registration address order.
func (m *MachineRAM) ResetDevices() {
	for _, r := range m.regions {
		r.dev.Reset()
	}
}

// Reset zeroes RAM and resets all devices.
func (m *MachineRAM) Reset() {
	clear(m.mem)
	m.ResetDevices()
}
