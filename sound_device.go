// sound_device.go - PCM sample ring fed by the guest, drained by the audio sink

package main

import "sync"

const (
	SND_REG_CTRL   = 0x0 // bit 0 enables output
	SND_REG_RATE   = 0x4 // sample rate in Hz
	SND_REG_DATA   = 0x8 // write: push one signed 16-bit mono sample
	SND_REG_STATUS = 0xC // read: free slots in the ring

	SND_CTRL_ENABLE = 0x1
	SND_RING_SIZE   = 16384
	SND_DEFAULT_HZ  = 22050
)

// SoundDevice holds a ring of guest-pushed samples. Register access happens
// on the machine loop; ReadSample is called from the audio backend's player
// goroutine, so the ring is mutex-guarded. Underruns emit silence and are
// counted rather than reported to the guest.
type SoundDevice struct {
	mu      sync.Mutex
	ring    [SND_RING_SIZE]int16
	head    int
	tail    int
	count   int
	enabled bool
	rate    uint32

	pushed    uint64
	underruns uint64
}

func NewSoundDevice() *SoundDevice {
	return &SoundDevice{rate: SND_DEFAULT_HZ}
}

func (s *SoundDevice) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = 0
	s.tail = 0
	s.count = 0
	s.enabled = false
	s.rate = SND_DEFAULT_HZ
	s.pushed = 0
	s.underruns = 0
}

func (s *SoundDevice) Rate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.rate)
}

func (s *SoundDevice) Read32(offset uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch offset {
	case SND_REG_CTRL:
		if s.enabled {
			return SND_CTRL_ENABLE
		}
		return 0
	case SND_REG_RATE:
		return s.rate
	case SND_REG_STATUS:
		return uint32(SND_RING_SIZE - s.count)
	}
	return 0
}

func (s *SoundDevice) Write32(offset uint32, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch offset {
	case SND_REG_CTRL:
		s.enabled = value&SND_CTRL_ENABLE != 0
	case SND_REG_RATE:
		if value >= 4000 && value <= 96000 {
			s.rate = value
		}
	case SND_REG_DATA:
		if s.count < SND_RING_SIZE {
			s.ring[s.head] = int16(value)
			s.head = (s.head + 1) % SND_RING_SIZE
			s.count++
			s.pushed++
		}
	}
}

func (s *SoundDevice) Read8(offset uint32) uint8 {
	return uint8(s.Read32(offset&^3) >> ((offset & 3) * 8))
}

func (s *SoundDevice) Write8(offset uint32, value uint8) {
	// Word-sized register file; byte writes only reach the control bit.
	if offset == SND_REG_CTRL {
		s.Write32(SND_REG_CTRL, uint32(value))
	}
}

// ReadSample pops one sample as float32 for the audio backend. Disabled or
// empty rings produce silence.
func (s *SoundDevice) ReadSample() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.count == 0 {
		if s.enabled {
			s.underruns++
		}
		return 0
	}
	v := s.ring[s.tail]
	s.tail = (s.tail + 1) % SND_RING_SIZE
	s.count--
	return float32(v) / 32768.0
}
