//go:build !headless

// display_backend_ebiten.go - Ebiten window pulling the guest framebuffer

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.design/x/clipboard"
	"golang.org/x/image/font/basicfont"
)

const DISPLAY_SCALE = 2

// EbitenDisplay renders the guest framebuffer in a window and feeds key
// and clipboard input back to the machine. It pulls pixels once per host
// frame; the guest pushes nothing.
type EbitenDisplay struct {
	fb     *FBDevice
	status func() MachineStatus

	window      *ebiten.Image
	frameBuffer []byte
	bufferMutex sync.RWMutex
	frameCount  uint64
	running     bool
	fullscreen  bool
	windowedW   int
	windowedH   int
	vsyncChan   chan struct{}
	done        chan struct{}

	keyHandler   func(byte)
	pasteHandler func(string)

	clipboardOnce sync.Once
	clipboardOK   bool
	showStatusBar bool

	resetHandler    func()
	resetInProgress atomic.Bool
}

func newDisplayBackend(fb *FBDevice, status func() MachineStatus) (DisplayOutput, error) {
	if fb == nil {
		return nil, &DisplayError{Operation: "create", Details: "no framebuffer device"}
	}
	return &EbitenDisplay{
		fb:            fb,
		status:        status,
		windowedW:     FB_WIDTH * DISPLAY_SCALE,
		windowedH:     FB_HEIGHT * DISPLAY_SCALE,
		frameBuffer:   make([]byte, FB_WIDTH*FB_HEIGHT*4),
		vsyncChan:     make(chan struct{}, 1),
		done:          make(chan struct{}),
		showStatusBar: true,
	}, nil
}

func (ed *EbitenDisplay) Start() error {
	if ed.running {
		return nil
	}
	ed.bufferMutex.Lock()
	ed.done = make(chan struct{})
	ed.bufferMutex.Unlock()
	ed.running = true
	ebiten.SetWindowSize(ed.windowedW, ed.windowedH)
	ebiten.SetWindowTitle("gor1k (c) 2025 - 2026 Zayn Otley")
	ebiten.SetWindowResizable(true)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetVsyncEnabled(true)

	go func() {
		defer func() {
			ed.running = false
			ed.bufferMutex.RLock()
			done := ed.done
			ed.bufferMutex.RUnlock()
			select {
			case <-done:
			default:
				close(done)
			}
		}()
		if err := ebiten.RunGame(ed); err != nil {
			fmt.Printf("Ebiten error: %v\n", err)
		}
	}()

	// Wait for first Draw call to ensure Ebiten is ready
	<-ed.vsyncChan
	return nil
}

func (ed *EbitenDisplay) Stop() error {
	ed.running = false
	return nil
}

func (ed *EbitenDisplay) IsStarted() bool {
	return ed.running
}

func (ed *EbitenDisplay) Done() <-chan struct{} {
	ed.bufferMutex.RLock()
	done := ed.done
	ed.bufferMutex.RUnlock()
	return done
}

func (ed *EbitenDisplay) SetKeyHandler(fn func(byte)) {
	ed.bufferMutex.Lock()
	ed.keyHandler = fn
	ed.bufferMutex.Unlock()
}

func (ed *EbitenDisplay) SetPasteHandler(fn func(string)) {
	ed.bufferMutex.Lock()
	ed.pasteHandler = fn
	ed.bufferMutex.Unlock()
}

func (ed *EbitenDisplay) SetResetHandler(fn func()) {
	ed.bufferMutex.Lock()
	ed.resetHandler = fn
	ed.bufferMutex.Unlock()
}

func (ed *EbitenDisplay) Update() error {
	if ebiten.IsWindowBeingClosed() {
		return ebiten.Termination
	}
	if !ed.running {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		ed.bufferMutex.Lock()
		ed.fullscreen = !ed.fullscreen
		ebiten.SetFullscreen(ed.fullscreen)
		if !ed.fullscreen {
			ebiten.SetWindowSize(ed.windowedW, ed.windowedH)
		}
		ed.bufferMutex.Unlock()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF10) {
		if ed.resetInProgress.CompareAndSwap(false, true) {
			ed.bufferMutex.RLock()
			handler := ed.resetHandler
			ed.bufferMutex.RUnlock()
			if handler != nil {
				go func() {
					defer ed.resetInProgress.Store(false)
					handler()
				}()
			} else {
				ed.resetInProgress.Store(false)
			}
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		ed.bufferMutex.Lock()
		ed.showStatusBar = !ed.showStatusBar
		ed.bufferMutex.Unlock()
	}
	ed.handleKeyboardInput()
	return nil
}

func (ed *EbitenDisplay) emitByte(b byte) {
	ed.bufferMutex.RLock()
	handler := ed.keyHandler
	ed.bufferMutex.RUnlock()
	if handler != nil {
		handler(b)
	}
}

func (ed *EbitenDisplay) emitSeq(seq []byte) {
	for _, b := range seq {
		ed.emitByte(b)
	}
}

func (ed *EbitenDisplay) handleKeyboardInput() {
	ed.bufferMutex.RLock()
	hasHandler := ed.keyHandler != nil
	ed.bufferMutex.RUnlock()
	if !hasHandler {
		return
	}

	ctrl := ebiten.IsKeyPressed(ebiten.KeyControlLeft) || ebiten.IsKeyPressed(ebiten.KeyControlRight)
	shift := ebiten.IsKeyPressed(ebiten.KeyShiftLeft) || ebiten.IsKeyPressed(ebiten.KeyShiftRight)

	// Clipboard paste: Ctrl+Shift+V
	if ctrl && shift && inpututil.IsKeyJustPressed(ebiten.KeyV) {
		ed.handleClipboardPaste()
		return
	}

	// Ctrl+letter combinations become control bytes for the guest shell.
	if ctrl {
		for k := ebiten.KeyA; k <= ebiten.KeyZ; k++ {
			if inpututil.IsKeyJustPressed(k) {
				ed.emitByte(byte(k-ebiten.KeyA) + 1)
			}
		}
		return
	}

	// Printable input path.
	for _, r := range ebiten.AppendInputChars(nil) {
		if b, ok := runeToInputByte(r); ok {
			ed.emitByte(b)
		}
	}

	specialKeys := []ebiten.Key{
		ebiten.KeyEnter,
		ebiten.KeyNumpadEnter,
		ebiten.KeyBackspace,
		ebiten.KeyTab,
		ebiten.KeyEscape,
		ebiten.KeyArrowUp,
		ebiten.KeyArrowDown,
		ebiten.KeyArrowRight,
		ebiten.KeyArrowLeft,
		ebiten.KeyHome,
		ebiten.KeyEnd,
		ebiten.KeyDelete,
	}
	for _, key := range specialKeys {
		if inpututil.IsKeyJustPressed(key) {
			if seq, ok := translateSpecialKey(key); ok {
				ed.emitSeq(seq)
			}
		}
	}
}

func runeToInputByte(r rune) (byte, bool) {
	if r <= 0 || r > 0xFF {
		return 0, false
	}
	return byte(r), true
}

func translateSpecialKey(key ebiten.Key) ([]byte, bool) {
	switch key {
	case ebiten.KeyEnter, ebiten.KeyNumpadEnter:
		return []byte{'\n'}, true
	case ebiten.KeyBackspace:
		return []byte{'\b'}, true
	case ebiten.KeyTab:
		return []byte{'\t'}, true
	case ebiten.KeyEscape:
		return []byte{0x1B}, true
	case ebiten.KeyArrowUp:
		return []byte{0x1B, '[', 'A'}, true
	case ebiten.KeyArrowDown:
		return []byte{0x1B, '[', 'B'}, true
	case ebiten.KeyArrowRight:
		return []byte{0x1B, '[', 'C'}, true
	case ebiten.KeyArrowLeft:
		return []byte{0x1B, '[', 'D'}, true
	case ebiten.KeyHome:
		return []byte{0x1B, '[', 'H'}, true
	case ebiten.KeyEnd:
		return []byte{0x1B, '[', 'F'}, true
	case ebiten.KeyDelete:
		return []byte{0x1B, '[', '3', '~'}, true
	default:
		return nil, false
	}
}

func normalizePasteText(raw []byte) []byte {
	norm := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\r' {
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
			norm = append(norm, '\n')
			continue
		}
		norm = append(norm, raw[i])
	}
	return norm
}

func capPasteText(raw []byte, max int) []byte {
	if len(raw) <= max {
		return raw
	}
	return raw[:max]
}

func (ed *EbitenDisplay) handleClipboardPaste() {
	ed.clipboardOnce.Do(func() {
		ed.clipboardOK = clipboard.Init() == nil
	})
	if !ed.clipboardOK {
		return
	}
	data := clipboard.Read(clipboard.FmtText)
	if len(data) == 0 {
		return
	}
	data = normalizePasteText(data)
	data = capPasteText(data, 4096)

	ed.bufferMutex.RLock()
	paste := ed.pasteHandler
	ed.bufferMutex.RUnlock()
	if paste != nil {
		paste(string(data))
		return
	}
	for _, b := range data {
		ed.emitByte(b)
	}
}

func (ed *EbitenDisplay) Draw(screen *ebiten.Image) {
	if ed.window == nil {
		ed.window = ebiten.NewImage(FB_WIDTH, FB_HEIGHT)
	}

	ed.bufferMutex.Lock()
	if !ed.fb.SnapshotRGBA(ed.frameBuffer) {
		// Scanout disabled: blank screen, keep the status bar readable.
		for i := range ed.frameBuffer {
			ed.frameBuffer[i] = 0
		}
	}
	ed.window.WritePixels(ed.frameBuffer)
	showStatusBar := ed.showStatusBar
	ed.bufferMutex.Unlock()

	screen.DrawImage(ed.window, nil)
	if showStatusBar {
		ed.drawMachineStatusBar(screen)
	}

	ed.frameCount++
	select {
	case ed.vsyncChan <- struct{}{}:
	default:
	}
}

func (ed *EbitenDisplay) Layout(_, _ int) (int, int) {
	return FB_WIDTH, FB_HEIGHT
}

type statusToken struct {
	name    string
	enabled bool
}

func drawStatusLine(screen *ebiten.Image, x, baselineY int, label string, tokens []statusToken) {
	face := basicfont.Face7x13
	labelColor := color.RGBA{190, 190, 190, 255}
	offColor := color.RGBA{120, 120, 120, 255}
	onColor := color.RGBA{0, 220, 90, 255}

	text.Draw(screen, label, face, x, baselineY, labelColor)
	cursorX := x + text.BoundString(face, label).Dx() + 6

	for _, token := range tokens {
		c := offColor
		if token.enabled {
			c = onColor
		}
		text.Draw(screen, token.name, face, cursorX, baselineY, c)
		cursorX += text.BoundString(face, token.name).Dx() + 8
	}
}

func (ed *EbitenDisplay) drawMachineStatusBar(screen *ebiten.Image) {
	var s MachineStatus
	if ed.status != nil {
		s = ed.status()
	}

	barHeight := 31
	if barHeight >= FB_HEIGHT {
		return
	}
	y := FB_HEIGHT - barHeight
	ebitenutil.DrawRect(screen, 0, float64(y), float64(FB_WIDTH), float64(barHeight), color.RGBA{0, 0, 0, 180})

	drawStatusLine(screen, 6, y+13, "SYS  ", []statusToken{
		{name: "STOP", enabled: s.State == "stop"},
		{name: "|", enabled: false},
		{name: "RUN", enabled: s.State == "run"},
		{name: "|", enabled: false},
		{name: "IDLE", enabled: s.State == "idle"},
	})

	kernel := s.Kernel
	if kernel == "" {
		kernel = "no kernel"
	}
	drawStatusLine(screen, 6, y+26, "CORE ", []statusToken{
		{name: fmt.Sprintf("%s/%s", s.Architecture, s.Variant), enabled: true},
		{name: "|", enabled: false},
		{name: fmt.Sprintf("x%d", s.NCores), enabled: s.NCores > 1},
		{name: "|", enabled: false},
		{name: kernel, enabled: s.Kernel != ""},
		{name: "|", enabled: false},
		{name: fmt.Sprintf("%.2f MIPS", float64(s.IPS)/1e6), enabled: s.State == "run"},
	})

	legendColor := color.RGBA{160, 160, 160, 255}
	legend := "F10 Reset  F11 Fullscreen  F12 Status Bar"
	legendW := text.BoundString(basicfont.Face7x13, legend).Dx()
	legendX := max(FB_WIDTH-legendW-6, 6)
	legendOpts := &ebiten.DrawImageOptions{}
	legendOpts.GeoM.Translate(float64(legendX), float64(y+13))
	legendOpts.ColorScale.ScaleWithColor(legendColor)
	text.DrawWithOptions(screen, legend, basicfont.Face7x13, legendOpts)
}
