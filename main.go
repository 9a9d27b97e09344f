// main.go - Main entry point for the gor1k full-system emulator

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/term"
)

func boilerPlate() {
	fmt.Println("\n\033[38;2;255;20;147mgor1k\033[0m - an OpenRISC 1000 full-system emulator")
	fmt.Println("(c) 2025 - 2026 Zayn Otley")
	fmt.Println("https://github.com/IntuitionAmiga/gor1k")
	fmt.Println("License: GPLv3 or later")
}

func main() {
	boilerPlate()

	var (
		arch      string
		cpu       string
		cores     int
		memoryMB  int
		noDisplay bool
		noAudio   bool
		noTerm    bool
		noPatch   bool
		enableIPC bool
		script    string
		remote    string
	)

	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&arch, "arch", "or1k", "Guest architecture")
	flagSet.StringVar(&cpu, "cpu", "default", "CPU core variant (default, smp)")
	flagSet.IntVar(&cores, "cores", 1, "Number of CPU cores")
	flagSet.IntVar(&memoryMB, "memory", 32, "Guest RAM size in MB")
	flagSet.BoolVar(&noDisplay, "nodisplay", false, "Run without a display window")
	flagSet.BoolVar(&noAudio, "noaudio", false, "Run without audio output")
	flagSet.BoolVar(&noTerm, "noterm", false, "Do not attach the console to this terminal")
	flagSet.BoolVar(&noPatch, "nopatch", false, "Do not patch the memory size into the boot image")
	flagSet.BoolVar(&enableIPC, "ipc", false, "Listen on the control socket")
	flagSet.StringVar(&script, "script", "", "Run a Lua automation script after boot")
	flagSet.StringVar(&remote, "remote", "", "Send a command to a running instance and exit")

	flagSet.Usage = func() {
		flagSet.SetOutput(os.Stdout)
		fmt.Println("Usage: ./gor1k [options] kernel-image")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			flagSet.Usage()
			os.Exit(0)
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	filename := flagSet.Arg(0)

	if remote != "" {
		runRemote(remote, filename)
		return
	}

	cfg := MachineConfig{
		Architecture: arch,
		CPUVariant:   cpu,
		NCores:       cores,
		MemorySizeMB: memoryMB,
		Boot:         BootConfig{PatchMemSize: !noPatch},
	}

	machine := NewMachine()
	if err := machine.Init(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	go machine.Run()

	// Guest serial output goes straight to this terminal.
	machine.UART0().SetOutput(func(b []byte) {
		os.Stdout.Write(b)
	})

	var audio *OtoPlayer
	if !noAudio {
		var err error
		audio, err = NewOtoPlayer(machine.Sound().Rate())
		if err != nil {
			fmt.Printf("Warning: audio unavailable: %v\n", err)
		} else {
			audio.SetupPlayer(machine.Sound())
			audio.Start()
		}
	}

	quit := make(chan struct{})
	var quitOnce sync.Once
	requestQuit := func() { quitOnce.Do(func() { close(quit) }) }

	var display DisplayOutput
	if !noDisplay {
		var err error
		display, err = NewDisplayOutput(machine.Framebuffer(), machine.Status)
		if err != nil {
			fmt.Printf("Failed to initialize display: %v\n", err)
			os.Exit(1)
		}
		display.SetKeyHandler(machine.SendKey)
		display.SetPasteHandler(machine.Paste)
		display.SetResetHandler(func() {
			if err := machine.Reset(); err != nil {
				fmt.Fprintf(os.Stderr, "reset: %v\n", err)
			}
		})
		if err := display.Start(); err != nil {
			fmt.Printf("Failed to start display: %v\n", err)
			os.Exit(1)
		}
	}

	var termHost *TerminalHost
	if !noTerm && term.IsTerminal(int(os.Stdin.Fd())) {
		termHost = NewTerminalHost(machine, requestQuit)
		if err := termHost.Start(); err != nil {
			fmt.Printf("Warning: terminal input unavailable: %v\n", err)
			termHost = nil
		}
	}

	var control *ControlServer
	if enableIPC {
		var err error
		control, err = NewControlServer(machine)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		control.Start()
		fmt.Printf("Control socket: %s\n", control.SocketPath())
	}

	if filename != "" {
		if err := machine.LoadAndStart(filename); err != nil {
			fmt.Printf("Error loading kernel: %v\n", err)
			os.Exit(1)
		}
	}

	if script != "" {
		host := NewScriptHost(machine)
		if err := host.RunFile(script); err != nil {
			fmt.Fprintf(os.Stderr, "script: %v\n", err)
		}
		if noDisplay {
			requestQuit()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var displayDone <-chan struct{}
	if display != nil {
		displayDone = display.Done()
	}

	select {
	case <-sigCh:
		machine.PrintOnAbort()
	case <-displayDone:
	case <-machine.Done():
	case <-quit:
	}

	if termHost != nil {
		termHost.Stop()
	}
	if control != nil {
		control.Stop()
	}
	if display != nil {
		display.Stop()
	}
	if audio != nil {
		audio.Close()
	}
	machine.Shutdown()
}

// runRemote forwards one command to an already-running instance over the
// control socket.
func runRemote(cmd, filename string) {
	req := ipcRequest{Cmd: cmd}
	switch cmd {
	case "load":
		abs, err := filepath.Abs(filename)
		if err != nil || filename == "" {
			fmt.Println("Error: -remote load requires a kernel image path")
			os.Exit(1)
		}
		req.Path = abs
	case "paste":
		req.Text = filename
	case "core":
		req.Variant = filename
	}
	resp, err := SendControl(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	switch {
	case resp.Machine != nil:
		m := resp.Machine
		fmt.Printf("state=%s arch=%s/%s cores=%d mem=%dMB kernel=%q ips=%d uptime=%s\n",
			m.State, m.Architecture, m.Variant, m.NCores, m.MemoryMB, m.Kernel, m.IPS, m.Uptime)
	case resp.IPS != 0:
		fmt.Printf("%d\n", resp.IPS)
	case resp.Message != "":
		fmt.Println(resp.Message)
	default:
		fmt.Println("ok")
	}
}
