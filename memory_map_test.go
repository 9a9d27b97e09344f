// memory_map_test.go - Guest RAM and MMIO dispatch tests

package main

import (
	"encoding/binary"
	"testing"
)

// scratchDevice is a minimal MMIO peripheral backed by a byte array, used
// to observe dispatch offsets and reset propagation.
type scratchDevice struct {
	regs   [256]uint8
	resets int
}

func (d *scratchDevice) Read8(offset uint32) uint8 {
	return d.regs[offset%256]
}

func (d *scratchDevice) Write8(offset uint32, value uint8) {
	d.regs[offset%256] = value
}

func (d *scratchDevice) Read32(offset uint32) uint32 {
	o := offset % 256
	return uint32(d.regs[o]) | uint32(d.regs[o+1])<<8 | uint32(d.regs[o+2])<<16 | uint32(d.regs[o+3])<<24
}

func (d *scratchDevice) Write32(offset uint32, value uint32) {
	o := offset % 256
	d.regs[o] = uint8(value)
	d.regs[o+1] = uint8(value >> 8)
	d.regs[o+2] = uint8(value >> 16)
	d.regs[o+3] = uint8(value >> 24)
}

func (d *scratchDevice) Reset() {
	d.resets++
	for i := range d.regs {
		d.regs[i] = 0
	}
}

// TestMachineRAMSize verifies constructor bounds and that Size, SizeMB and
// GetMemory agree with the requested size.
func TestMachineRAMSize(t *testing.T) {
	if _, err := NewMachineRAM(0); err == nil {
		t.Fatal("NewMachineRAM(0) should fail")
	}
	if _, err := NewMachineRAM(2048); err == nil {
		t.Fatal("NewMachineRAM(2048) should fail")
	}

	ram, err := NewMachineRAM(32)
	if err != nil {
		t.Fatalf("NewMachineRAM(32) failed: %v", err)
	}
	if ram.Size() != 32*0x100000 {
		t.Fatalf("Size() = 0x%X, expected 0x%X", ram.Size(), 32*0x100000)
	}
	if ram.SizeMB() != 32 {
		t.Fatalf("SizeMB() = %d, expected 32", ram.SizeMB())
	}
	if len(ram.GetMemory()) != int(ram.Size()) {
		t.Fatalf("GetMemory() length %d, expected %d", len(ram.GetMemory()), ram.Size())
	}
}

// TestRAMReadWriteWidths verifies 8/16/32-bit access against the raw
// little-endian backing slice.
func TestRAMReadWriteWidths(t *testing.T) {
	ram, err := NewMachineRAM(1)
	if err != nil {
		t.Fatalf("NewMachineRAM failed: %v", err)
	}

	ram.Write32(0x1000, 0x12345678)
	if got := binary.LittleEndian.Uint32(ram.GetMemory()[0x1000:]); got != 0x12345678 {
		t.Fatalf("backing slice holds 0x%08X, expected 0x12345678", got)
	}
	if got := ram.Read32(0x1000); got != 0x12345678 {
		t.Fatalf("Read32 = 0x%08X, expected 0x12345678", got)
	}
	if got := ram.Read16(0x1000); got != 0x5678 {
		t.Fatalf("Read16 = 0x%04X, expected 0x5678", got)
	}
	if got := ram.Read8(0x1003); got != 0x12 {
		t.Fatalf("Read8 = 0x%02X, expected 0x12", got)
	}

	ram.Write16(0x2000, 0xBEEF)
	ram.Write8(0x2002, 0xAD)
	ram.Write8(0x2003, 0xDE)
	if got := ram.Read32(0x2000); got != 0xDEADBEEF {
		t.Fatalf("composed Read32 = 0x%08X, expected 0xDEADBEEF", got)
	}
}

// TestAddDeviceValidation verifies that bad device windows are registration
// errors: nil device, empty window, address wrap, RAM overlap, and window
// overlap.
func TestAddDeviceValidation(t *testing.T) {
	ram, _ := NewMachineRAM(32)
	dev := &scratchDevice{}

	if err := ram.AddDevice(nil, UART0_BASE, UART0_SIZE); err == nil {
		t.Fatal("nil device should be rejected")
	}
	if err := ram.AddDevice(dev, UART0_BASE, 0); err == nil {
		t.Fatal("zero-length window should be rejected")
	}
	if err := ram.AddDevice(dev, 0xFFFFFFFC, 0x8); err == nil {
		t.Fatal("wrapping window should be rejected")
	}
	if err := ram.AddDevice(dev, 0x1000, 0x100); err == nil {
		t.Fatal("window inside RAM should be rejected")
	}

	if err := ram.AddDevice(dev, UART0_BASE, UART0_SIZE); err != nil {
		t.Fatalf("valid window rejected: %v", err)
	}
	if err := ram.AddDevice(&scratchDevice{}, UART0_BASE+4, 0x10); err == nil {
		t.Fatal("overlapping window should be rejected")
	}
	if err := ram.AddDevice(&scratchDevice{}, UART0_BASE+UART0_SIZE, 0x10); err != nil {
		t.Fatalf("adjacent window rejected: %v", err)
	}
}

// TestMMIODispatch verifies that accesses above RAM route to the owning
// device with base-relative offsets, and that unmapped addresses read as
// zero and swallow writes.
func TestMMIODispatch(t *testing.T) {
	ram, _ := NewMachineRAM(1)
	dev := &scratchDevice{}
	if err := ram.AddDevice(dev, SND_BASE, SND_SIZE); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	ram.Write32(SND_BASE+0x10, 0xCAFEBABE)
	if got := dev.Read32(0x10); got != 0xCAFEBABE {
		t.Fatalf("device saw 0x%08X at offset 0x10, expected 0xCAFEBABE", got)
	}
	if got := ram.Read32(SND_BASE + 0x10); got != 0xCAFEBABE {
		t.Fatalf("Read32 via bus = 0x%08X, expected 0xCAFEBABE", got)
	}

	ram.Write8(SND_BASE+0x20, 0x5A)
	if got := ram.Read8(SND_BASE + 0x20); got != 0x5A {
		t.Fatalf("Read8 via bus = 0x%02X, expected 0x5A", got)
	}

	// 16-bit device access is synthesized from byte pairs.
	ram.Write16(SND_BASE+0x30, 0xA1B2)
	if got := ram.Read16(SND_BASE + 0x30); got != 0xA1B2 {
		t.Fatalf("Read16 via bus = 0x%04X, expected 0xA1B2", got)
	}
	if dev.regs[0x30] != 0xB2 || dev.regs[0x31] != 0xA1 {
		t.Fatalf("byte split = %02X %02X, expected B2 A1", dev.regs[0x30], dev.regs[0x31])
	}

	// Unmapped hole between windows.
	if got := ram.Read32(0x80000000); got != 0 {
		t.Fatalf("unmapped read = 0x%08X, expected 0", got)
	}
	ram.Write32(0x80000000, 0xFFFFFFFF) // must not panic
}

// TestAccessAtAddressSpaceTop verifies that wide accesses which straddle the
// end of RAM or sit at the top of the 32-bit address space take the unmapped
// path: reads return zero and writes are swallowed. The arithmetic in the
// bounds check must not wrap.
func TestAccessAtAddressSpaceTop(t *testing.T) {
	ram, _ := NewMachineRAM(1)
	size := ram.Size()

	ram.Write32(size-4, 0x0BADF00D)
	if got := ram.Read32(size - 4); got != 0x0BADF00D {
		t.Fatalf("last RAM word = 0x%08X, expected 0x0BADF00D", got)
	}
	if got := ram.Read16(size - 2); got != 0x0BAD {
		t.Fatalf("last RAM halfword = 0x%04X, expected 0x0BAD", got)
	}

	// Straddling the end of RAM is unmapped, not a partial RAM access.
	if got := ram.Read32(size - 2); got != 0 {
		t.Fatalf("straddling Read32 = 0x%08X, expected 0", got)
	}
	if got := ram.Read16(size - 1); got != 0 {
		t.Fatalf("straddling Read16 = 0x%04X, expected 0", got)
	}
	ram.Write32(size-2, 0xFFFFFFFF)
	ram.Write16(size-1, 0xFFFF)

	for _, addr := range []uint32{0xFFFFFFFC, 0xFFFFFFFD, 0xFFFFFFFE, 0xFFFFFFFF} {
		if got := ram.Read32(addr); got != 0 {
			t.Fatalf("Read32(0x%08X) = 0x%08X, expected 0", addr, got)
		}
		if got := ram.Read16(addr); got != 0 {
			t.Fatalf("Read16(0x%08X) = 0x%04X, expected 0", addr, got)
		}
		ram.Write32(addr, 0xDEADBEEF)
		ram.Write16(addr, 0xBEEF)
	}
	if got := ram.Read8(0xFFFFFFFF); got != 0 {
		t.Fatalf("Read8(0xFFFFFFFF) = 0x%02X, expected 0", got)
	}
	ram.Write8(0xFFFFFFFF, 0xEE)

	if got := ram.Read32(size - 4); got != 0x0BADF00D {
		t.Fatalf("last RAM word disturbed by swallowed writes: 0x%08X", got)
	}
}

// TestLittle2BigInvolution verifies the word swap transforms bytes as the
// big-endian core expects and that applying it twice restores the image.
func TestLittle2BigInvolution(t *testing.T) {
	ram, _ := NewMachineRAM(1)
	mem := ram.GetMemory()
	copy(mem, []byte{0x11, 0x22, 0x33, 0x44, 0xAA, 0xBB, 0xCC, 0xDD})

	ram.Little2Big(8)
	want := []byte{0x44, 0x33, 0x22, 0x11, 0xDD, 0xCC, 0xBB, 0xAA}
	for i, b := range want {
		if mem[i] != b {
			t.Fatalf("after swap mem[%d] = 0x%02X, expected 0x%02X", i, mem[i], b)
		}
	}

	ram.Little2Big(8)
	orig := []byte{0x11, 0x22, 0x33, 0x44, 0xAA, 0xBB, 0xCC, 0xDD}
	for i, b := range orig {
		if mem[i] != b {
			t.Fatalf("after double swap mem[%d] = 0x%02X, expected 0x%02X", i, mem[i], b)
		}
	}
}

// TestLittle2BigPartialWord verifies that a length not on a word boundary
// still swaps the trailing word in full.
func TestLittle2BigPartialWord(t *testing.T) {
	ram, _ := NewMachineRAM(1)
	mem := ram.GetMemory()
	copy(mem, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})

	ram.Little2Big(5) // rounds up to 8
	want := []byte{0x04, 0x03, 0x02, 0x01, 0x08, 0x07, 0x06, 0x05}
	for i, b := range want {
		if mem[i] != b {
			t.Fatalf("mem[%d] = 0x%02X, expected 0x%02X", i, mem[i], b)
		}
	}
}

// TestResetClearsRAMAndDevices verifies that Reset zeroes memory and
// propagates to every registered device, while ResetDevices leaves RAM
// intact.
func TestResetClearsRAMAndDevices(t *testing.T) {
	ram, _ := NewMachineRAM(1)
	dev := &scratchDevice{}
	if err := ram.AddDevice(dev, RTC_BASE, RTC_SIZE); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	ram.Write32(0x100, 0x11223344)
	ram.ResetDevices()
	if dev.resets != 1 {
		t.Fatalf("device resets = %d, expected 1", dev.resets)
	}
	if got := ram.Read32(0x100); got != 0x11223344 {
		t.Fatalf("ResetDevices touched RAM: 0x%08X", got)
	}

	ram.Reset()
	if dev.resets != 2 {
		t.Fatalf("device resets = %d, expected 2", dev.resets)
	}
	if got := ram.Read32(0x100); got != 0 {
		t.Fatalf("Reset left RAM at 0x%08X, expected 0", got)
	}
}

// =============================================================================
// Benchmarks for guest memory access
// =============================================================================

// BenchmarkRead32_RAM measures the fast path below the RAM boundary.
func BenchmarkRead32_RAM(b *testing.B) {
	ram, _ := NewMachineRAM(32)
	ram.Write32(0x1000, 0x12345678)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ram.Read32(0x1000)
	}
}

// BenchmarkRead32_Device measures the MMIO dispatch path.
func BenchmarkRead32_Device(b *testing.B) {
	ram, _ := NewMachineRAM(32)
	ram.AddDevice(&scratchDevice{}, UART0_BASE, UART0_SIZE)
	ram.AddDevice(&scratchDevice{}, FB_BASE, FB_SIZE)
	ram.AddDevice(&scratchDevice{}, SND_BASE, SND_SIZE)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ram.Read32(FB_BASE + 4)
	}
}

// BenchmarkWrite32_RAM measures the write fast path.
func BenchmarkWrite32_RAM(b *testing.B) {
	ram, _ := NewMachineRAM(32)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ram.Write32(0x1000, uint32(i))
	}
}
