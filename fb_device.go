// fb_device.go - Pointer-based framebuffer device

package main

// Display geometry is fixed by the machine profile, matching the guest
// driver the or1k images ship with.
const (
	FB_WIDTH  = 640
	FB_HEIGHT = 400

	FB_REG_CTRL   = 0x0 // bit 0 enables scanout
	FB_REG_BASE   = 0x4 // guest-physical address of RGB565 pixel data
	FB_REG_WIDTH  = 0x8
	FB_REG_HEIGHT = 0xC

	FB_CTRL_ENABLE = 0x1
)

// FBDevice exposes control registers for a framebuffer whose pixel data
// lives in guest RAM (the guest driver allocates it and programs BASE).
// The display backend pulls SnapshotRGBA once per host frame; enabled and
// base are read under the machine loop's ownership, the snapshot copy is
// taken from the raw RAM slice which is safe to read concurrently for
// display purposes (tearing is acceptable, faults are not).
type FBDevice struct {
	ram     *MachineRAM
	enabled bool
	base    uint32
}

func NewFBDevice(ram *MachineRAM) *FBDevice {
	return &FBDevice{ram: ram}
}

func (f *FBDevice) Reset() {
	f.enabled = false
	f.base = 0
}

func (f *FBDevice) Enabled() bool {
	return f.enabled
}

func (f *FBDevice) Read32(offset uint32) uint32 {
	switch offset {
	case FB_REG_CTRL:
		if f.enabled {
			return FB_CTRL_ENABLE
		}
		return 0
	case FB_REG_BASE:
		return f.base
	case FB_REG_WIDTH:
		return FB_WIDTH
	case FB_REG_HEIGHT:
		return FB_HEIGHT
	}
	return 0
}

func (f *FBDevice) Write32(offset uint32, value uint32) {
	switch offset {
	case FB_REG_CTRL:
		f.enabled = value&FB_CTRL_ENABLE != 0
	case FB_REG_BASE:
		f.base = value
	}
}

func (f *FBDevice) Read8(offset uint32) uint8 {
	return uint8(f.Read32(offset&^3) >> ((offset & 3) * 8))
}

func (f *FBDevice) Write8(offset uint32, value uint8) {
	// Registers are word-sized; byte writes only land on the control bit.
	if offset == FB_REG_CTRL {
		f.Write32(FB_REG_CTRL, uint32(value))
	}
}

// SnapshotRGBA converts the current RGB565 pixel data into the caller's
// RGBA buffer (len >= FB_WIDTH*FB_HEIGHT*4). Returns false when scanout is
// disabled or the programmed base would run past RAM.
func (f *FBDevice) SnapshotRGBA(dst []byte) bool {
	if !f.enabled {
		return false
	}
	need := uint32(FB_WIDTH * FB_HEIGHT * 2)
	base := f.base
	if base+need < base || base+need > f.ram.Size() {
		return false
	}
	mem := f.ram.GetMemory()
	src := mem[base : base+need]
	di := 0
	for i := 0; i < len(src); i += 2 {
		px := uint16(src[i]) | uint16(src[i+1])<<8
		r := uint8(px>>11) & 0x1F
		g := uint8(px>>5) & 0x3F
		b := uint8(px) & 0x1F
		dst[di+0] = r<<3 | r>>2
		dst[di+1] = g<<2 | g>>4
		dst[di+2] = b<<3 | b>>2
		dst[di+3] = 0xFF
		di += 4
	}
	return true
}
