// machine_status.go - Shared machine status snapshot for display and IPC

package main

import (
	"sync"
	"time"
)

// MachineStatus is a point-in-time view of the machine for the display
// overlay and the control socket. It is a plain value; readers get a copy.
type MachineStatus struct {
	State        string
	Architecture string
	Variant      string
	NCores       int
	MemoryMB     int
	Kernel       string
	IPS          uint64 // instructions per second, loop-measured
	Uptime       time.Duration
}

// statusStore is written by the machine loop and read by host goroutines.
type statusStore struct {
	mu    sync.RWMutex
	cur   MachineStatus
	start time.Time
}

func newStatusStore() *statusStore {
	return &statusStore{start: time.Now()}
}

func (s *statusStore) set(fn func(*MachineStatus)) {
	s.mu.Lock()
	fn(&s.cur)
	s.mu.Unlock()
}

func (s *statusStore) snapshot() MachineStatus {
	s.mu.RLock()
	snap := s.cur
	s.mu.RUnlock()
	snap.Uptime = time.Since(s.start).Round(time.Second)
	return snap
}
