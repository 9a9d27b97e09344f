// fb_device_test.go - Framebuffer scanout tests

package main

import "testing"

// TestFBRegisters verifies the register window: geometry is fixed, control
// and base are guest-programmable.
func TestFBRegisters(t *testing.T) {
	ram, _ := NewMachineRAM(1)
	f := NewFBDevice(ram)

	if got := f.Read32(FB_REG_WIDTH); got != FB_WIDTH {
		t.Fatalf("WIDTH = %d, expected %d", got, FB_WIDTH)
	}
	if got := f.Read32(FB_REG_HEIGHT); got != FB_HEIGHT {
		t.Fatalf("HEIGHT = %d, expected %d", got, FB_HEIGHT)
	}
	if f.Enabled() {
		t.Fatal("scanout enabled at power-on")
	}

	f.Write32(FB_REG_BASE, 0x10000)
	f.Write32(FB_REG_CTRL, FB_CTRL_ENABLE)
	if !f.Enabled() {
		t.Fatal("CTRL enable bit ignored")
	}
	if got := f.Read32(FB_REG_BASE); got != 0x10000 {
		t.Fatalf("BASE = 0x%X, expected 0x10000", got)
	}

	f.Reset()
	if f.Enabled() || f.Read32(FB_REG_BASE) != 0 {
		t.Fatal("Reset should disable scanout and zero the base")
	}
}

// TestFBSnapshotConvertsRGB565 verifies the pixel conversion with full bit
// replication for the three primaries.
func TestFBSnapshotConvertsRGB565(t *testing.T) {
	ram, _ := NewMachineRAM(2)
	f := NewFBDevice(ram)

	const base = 0x10000
	mem := ram.GetMemory()
	// red 0xF800, green 0x07E0, blue 0x001F, little-endian in guest RAM
	copy(mem[base:], []byte{0x00, 0xF8, 0xE0, 0x07, 0x1F, 0x00})

	f.Write32(FB_REG_BASE, base)
	f.Write32(FB_REG_CTRL, FB_CTRL_ENABLE)

	dst := make([]byte, FB_WIDTH*FB_HEIGHT*4)
	if !f.SnapshotRGBA(dst) {
		t.Fatal("SnapshotRGBA returned false for an enabled, in-range base")
	}

	want := []byte{
		0xFF, 0x00, 0x00, 0xFF,
		0x00, 0xFF, 0x00, 0xFF,
		0x00, 0x00, 0xFF, 0xFF,
	}
	for i, b := range want {
		if dst[i] != b {
			t.Fatalf("dst[%d] = 0x%02X, expected 0x%02X", i, dst[i], b)
		}
	}
}

// TestFBSnapshotBounds verifies that disabled scanout and a base running
// past RAM both refuse to snapshot.
func TestFBSnapshotBounds(t *testing.T) {
	ram, _ := NewMachineRAM(1)
	f := NewFBDevice(ram)
	dst := make([]byte, FB_WIDTH*FB_HEIGHT*4)

	if f.SnapshotRGBA(dst) {
		t.Fatal("snapshot with scanout disabled should fail")
	}

	f.Write32(FB_REG_CTRL, FB_CTRL_ENABLE)
	// 1MB of RAM cannot hold a full 640x400 RGB565 frame at this base.
	f.Write32(FB_REG_BASE, ram.Size()-0x100)
	if f.SnapshotRGBA(dst) {
		t.Fatal("snapshot past the end of RAM should fail")
	}
}
