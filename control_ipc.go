// control_ipc.go - Unix domain socket control surface for a running machine

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

const ipcMaxRequestSize = 8192

type ipcRequest struct {
	Cmd     string `json:"cmd"`
	Path    string `json:"path,omitempty"`
	Text    string `json:"text,omitempty"`
	Line    uint32 `json:"line,omitempty"`
	Core    int    `json:"core,omitempty"`
	Variant string `json:"variant,omitempty"`
}

type ipcResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	IPS     uint64         `json:"ips,omitempty"`
	Machine *MachineStatus `json:"machine,omitempty"`
}

// ControlServer listens on a Unix socket and dispatches commands against
// the machine. One request per connection, JSON in, JSON out.
type ControlServer struct {
	listener net.Listener
	machine  *Machine
	done     chan struct{}
	sockPath string
}

func resolveControlSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "gor1k.sock")
	}
	return "/tmp/gor1k.sock"
}

// NewControlServer creates and binds the control socket at the default path.
func NewControlServer(m *Machine) (*ControlServer, error) {
	return newControlServerAt(resolveControlSocketPath(), m)
}

// newControlServerAt creates and binds the control socket at the given path.
func newControlServerAt(sockPath string, m *Machine) (*ControlServer, error) {
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		// Stale socket cleanup: try connecting. If peer is dead, remove and retry.
		conn, dialErr := net.DialTimeout("unix", sockPath, 2*time.Second)
		if dialErr != nil {
			os.Remove(sockPath)
			ln, err = net.Listen("unix", sockPath)
			if err != nil {
				return nil, fmt.Errorf("control socket bind failed: %w", err)
			}
		} else {
			conn.Close()
			return nil, fmt.Errorf("another instance is already listening on %s", sockPath)
		}
	}
	return &ControlServer{listener: ln, machine: m, done: make(chan struct{}), sockPath: sockPath}, nil
}

// Start begins accepting control connections in a goroutine.
func (s *ControlServer) Start() {
	go s.acceptLoop()
}

// Stop closes the listener and waits for the accept loop to exit.
func (s *ControlServer) Stop() {
	s.listener.Close()
	<-s.done
	os.Remove(s.sockPath)
}

func (s *ControlServer) SocketPath() string {
	return s.sockPath
}

func (s *ControlServer) acceptLoop() {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *ControlServer) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	buf := make([]byte, ipcMaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}

	var req ipcRequest
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, ipcResponse{Status: "err", Message: "invalid json"})
		return
	}

	s.writeResponse(conn, s.dispatch(req))
}

func (s *ControlServer) dispatch(req ipcRequest) ipcResponse {
	switch req.Cmd {
	case "load":
		if err := validateKernelPath(req.Path); err != nil {
			return ipcResponse{Status: "err", Message: err.Error()}
		}
		if err := s.machine.LoadAndStart(req.Path); err != nil {
			return ipcResponse{Status: "err", Message: err.Error()}
		}
		return ipcResponse{Status: "ok"}
	case "reset":
		if err := s.machine.Reset(); err != nil {
			return ipcResponse{Status: "err", Message: err.Error()}
		}
		return ipcResponse{Status: "ok"}
	case "stop":
		if err := s.machine.Stop(); err != nil {
			return ipcResponse{Status: "err", Message: err.Error()}
		}
		return ipcResponse{Status: "ok"}
	case "cont":
		if err := s.machine.Continue(); err != nil {
			return ipcResponse{Status: "err", Message: err.Error()}
		}
		return ipcResponse{Status: "ok"}
	case "ips":
		return ipcResponse{Status: "ok", IPS: s.machine.GetIPS()}
	case "status":
		st := s.machine.Status()
		return ipcResponse{Status: "ok", Machine: &st}
	case "paste":
		s.machine.Paste(req.Text)
		return ipcResponse{Status: "ok"}
	case "irq":
		s.machine.RaiseInterrupt(req.Line, req.Core)
		return ipcResponse{Status: "ok"}
	case "core":
		if err := s.machine.ChangeCore(req.Variant); err != nil {
			return ipcResponse{Status: "err", Message: err.Error()}
		}
		return ipcResponse{Status: "ok"}
	case "state":
		return ipcResponse{Status: "ok", Message: s.machine.PrintOnAbort()}
	case "shutdown":
		s.machine.Shutdown()
		return ipcResponse{Status: "ok"}
	}
	return ipcResponse{Status: "err", Message: "unknown command"}
}

func (s *ControlServer) writeResponse(conn net.Conn, resp ipcResponse) {
	data, _ := json.Marshal(resp)
	conn.Write(data)
}

func validateKernelPath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("absolute path required")
	}
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}

// SendControl sends one request to a running instance at the default socket.
func SendControl(req ipcRequest) (ipcResponse, error) {
	return sendControlAt(resolveControlSocketPath(), req)
}

// sendControlAt sends one request to an instance at the given socket path.
func sendControlAt(sockPath string, req ipcRequest) (ipcResponse, error) {
	var resp ipcResponse
	conn, err := net.DialTimeout("unix", sockPath, 10*time.Second)
	if err != nil {
		return resp, fmt.Errorf("cannot connect to running instance: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	data, _ := json.Marshal(req)
	if _, err := conn.Write(data); err != nil {
		return resp, fmt.Errorf("send failed: %w", err)
	}

	buf := make([]byte, ipcMaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil {
		return resp, fmt.Errorf("read response failed: %w", err)
	}

	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return resp, fmt.Errorf("invalid response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("remote error: %s", resp.Message)
	}
	return resp, nil
}
