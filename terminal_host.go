//go:build !windows

// terminal_host.go - Raw stdin/stdout bridge to the guest serial console

package main

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
)

// Ctrl+] detaches from the guest console, telnet style. Raw mode swallows
// Ctrl+C so the guest can use it.
const TERM_DETACH_KEY = 0x1D

// TerminalHost puts the controlling terminal into raw mode and pumps stdin
// bytes into the machine's serial console. Guest output reaches stdout
// through the UART transmit sink installed by main. Only instantiated for
// interactive use, never in tests.
type TerminalHost struct {
	machine  *Machine
	onDetach func()

	stopCh       chan struct{}
	done         chan struct{}
	stopped      sync.Once
	fd           int
	nonblockSet  bool
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

// Start switches stdin to raw non-blocking mode and begins the reader
// goroutine. Call Stop to restore the terminal.
func (h *TerminalHost) Start() error {
	h.fd = int(os.Stdin.Fd())

	// Raw mode: the guest kernel handles echo and line discipline itself.
	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		close(h.done)
		return fmt.Errorf("terminal_host: failed to set raw mode: %w", err)
	}
	h.oldTermState = oldState

	if err := syscall.SetNonblock(h.fd, true); err != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
		close(h.done)
		return fmt.Errorf("terminal_host: failed to set nonblocking stdin: %w", err)
	}
	h.nonblockSet = true

	go func() {
		defer close(h.done)
		buf := make([]byte, 1)

		for {
			select {
			case <-h.stopCh:
				return
			default:
			}

			n, err := syscall.Read(h.fd, buf)
			if n > 0 {
				b := buf[0]
				if b == TERM_DETACH_KEY {
					if h.onDetach != nil {
						h.onDetach()
					}
					return
				}
				// Raw mode sends CR for Enter; the guest tty expects LF.
				if b == '\r' {
					b = '\n'
				}
				// Modern terminals send 0x7F (DEL) for Backspace.
				if b == 0x7F {
					b = 0x08
				}
				h.machine.SendKey(b)
			}
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				time.Sleep(5 * time.Millisecond)
				continue
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

// Stop terminates the reader goroutine and restores the terminal state.
func (h *TerminalHost) Stop() {
	h.stopped.Do(func() {
		close(h.stopCh)
	})
	<-h.done
	if h.nonblockSet {
		_ = syscall.SetNonblock(h.fd, false)
		h.nonblockSet = false
	}
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}
