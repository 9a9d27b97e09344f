//go:build headless

package main

// HeadlessDisplay satisfies DisplayOutput without opening a window. Used
// for server deployments and the test suite.
type HeadlessDisplay struct {
	started bool
	done    chan struct{}
}

func newDisplayBackend(fb *FBDevice, status func() MachineStatus) (DisplayOutput, error) {
	if fb == nil {
		return nil, &DisplayError{Operation: "create", Details: "no framebuffer device"}
	}
	return &HeadlessDisplay{done: make(chan struct{})}, nil
}

func (h *HeadlessDisplay) Start() error {
	h.started = true
	return nil
}

func (h *HeadlessDisplay) Stop() error {
	h.started = false
	return nil
}

func (h *HeadlessDisplay) IsStarted() bool {
	return h.started
}

// Done never closes: a headless display has no window to close.
func (h *HeadlessDisplay) Done() <-chan struct{} {
	return h.done
}

func (h *HeadlessDisplay) SetKeyHandler(fn func(byte))     {}
func (h *HeadlessDisplay) SetPasteHandler(fn func(string)) {}
func (h *HeadlessDisplay) SetResetHandler(fn func())       {}
