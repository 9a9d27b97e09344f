//go:build windows

// terminal_host_windows.go - Console bridge for Windows hosts
//
// Same surface as the POSIX version but with a blocking stdin read, since
// SetNonblock is not available for console handles. The reader goroutine
// exits on the next keystroke after Stop.

package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const TERM_DETACH_KEY = 0x1D

type TerminalHost struct {
	machine  *Machine
	onDetach func()

	stopCh       chan struct{}
	done         chan struct{}
	stopped      sync.Once
	fd           int
	oldTermState *term.State
}

func NewTerminalHost(machine *Machine, onDetach func()) *TerminalHost {
	return &TerminalHost{
		machine:  machine,
		onDetach: onDetach,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *TerminalHost) Start() error {
	h.fd = int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		close(h.done)
		return fmt.Errorf("terminal_host: failed to set raw mode: %w", err)
	}
	h.oldTermState = oldState

	go func() {
		defer close(h.done)
		buf := make([]byte, 1)

		for {
			select {
			case <-h.stopCh:
				return
			default:
			}

			n, err := os.Stdin.Read(buf)
			if n > 0 {
				b := buf[0]
				if b == TERM_DETACH_KEY {
					if h.onDetach != nil {
						h.onDetach()
					}
					return
				}
				if b == '\r' {
					b = '\n'
				}
				if b == 0x7F {
					b = 0x08
				}
				h.machine.SendKey(b)
			}
			if err != nil {
				return
			}
			if n == 0 {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	return nil
}

func (h *TerminalHost) Stop() {
	h.stopped.Do(func() {
		close(h.stopCh)
	})
	<-h.done
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}
