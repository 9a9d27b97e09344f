// rtc_device.go - Host real-time clock, polled by the guest

package main

import "time"

const (
	RTC_REG_EPOCH_LO = 0x0 // ms since Unix epoch, low word; read latches high
	RTC_REG_EPOCH_HI = 0x4
	RTC_REG_UPTIME   = 0x8 // ms since device reset
)

// RTCDevice exposes host wall-clock time. Reading EPOCH_LO latches the high
// word so a split 64-bit read cannot tear across a millisecond rollover.
type RTCDevice struct {
	start   time.Time
	latched uint32
	now     func() time.Time
}

func NewRTCDevice() *RTCDevice {
	r := &RTCDevice{now: time.Now}
	r.Reset()
	return r
}

func (r *RTCDevice) Reset() {
	r.start = r.now()
	r.latched = 0
}

func (r *RTCDevice) Read32(offset uint32) uint32 {
	switch offset {
	case RTC_REG_EPOCH_LO:
		ms := uint64(r.now().UnixMilli())
		r.latched = uint32(ms >> 32)
		return uint32(ms)
	case RTC_REG_EPOCH_HI:
		return r.latched
	case RTC_REG_UPTIME:
		return uint32(r.now().Sub(r.start) / time.Millisecond)
	}
	return 0
}

func (r *RTCDevice) Write32(offset uint32, value uint32) {
	// Read-only clock.
}

func (r *RTCDevice) Read8(offset uint32) uint8 {
	if offset&^3 == RTC_REG_UPTIME {
		return uint8(r.Read32(RTC_REG_UPTIME) >> ((offset & 3) * 8))
	}
	return 0
}

func (r *RTCDevice) Write8(offset uint32, value uint8) {
}
