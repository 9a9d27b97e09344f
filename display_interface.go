// display_interface.go - Display backend contract for the guest framebuffer

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import "fmt"

// DisplayError carries operation context for display failures.
type DisplayError struct {
	Operation string
	Details   string
	Err       error
}

func (e *DisplayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("display %s failed: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("display %s failed: %s", e.Operation, e.Details)
}

// DisplayOutput is the minimal backend contract: a window (or nothing, in
// headless builds) that pulls the guest framebuffer and feeds input back.
type DisplayOutput interface {
	Start() error
	Stop() error
	IsStarted() bool

	// Done closes when the user closes the window.
	Done() <-chan struct{}

	// SetKeyHandler installs the sink for guest console input bytes.
	SetKeyHandler(fn func(byte))

	// SetPasteHandler installs the sink for clipboard paste text.
	SetPasteHandler(fn func(string))

	// SetResetHandler installs the hard-reset hook (F10).
	SetResetHandler(fn func())
}

// NewDisplayOutput constructs the backend selected at build time: an ebiten
// window normally, an inert stub under the headless tag.
func NewDisplayOutput(fb *FBDevice, status func() MachineStatus) (DisplayOutput, error) {
	return newDisplayBackend(fb, status)
}
