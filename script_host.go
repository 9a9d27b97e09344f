// script_host.go - Lua automation binding for the machine control surface

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ScriptHost runs automation scripts against a machine: boot a kernel,
// poke registers, wait, assert on memory. Each run gets a fresh Lua state
// with a `machine` table bound to the control surface.
type ScriptHost struct {
	machine *Machine
}

func NewScriptHost(m *Machine) *ScriptHost {
	return &ScriptHost{machine: m}
}

// RunFile executes a script file to completion.
func (h *ScriptHost) RunFile(path string) error {
	L := lua.NewState()
	defer L.Close()
	h.register(L)
	return L.DoFile(path)
}

// RunString executes script source, for tests and one-liners.
func (h *ScriptHost) RunString(src string) error {
	L := lua.NewState()
	defer L.Close()
	h.register(L)
	return L.DoString(src)
}

func (h *ScriptHost) register(L *lua.LState) {
	exports := map[string]lua.LGFunction{
		"load":        h.luaLoad,
		"reset":       h.luaReset,
		"stop":        h.luaStop,
		"cont":        h.luaCont,
		"change_core": h.luaChangeCore,
		"ips":         h.luaIPS,
		"status":      h.luaStatus,
		"send_key":    h.luaSendKey,
		"paste":       h.luaPaste,
		"raise_irq":   h.luaRaiseIRQ,
		"clear_irq":   h.luaClearIRQ,
		"peek":        h.luaPeek,
		"poke":        h.luaPoke,
		"state":       h.luaState,
		"sleep_ms":    h.luaSleepMS,
	}
	L.SetGlobal("machine", L.SetFuncs(L.NewTable(), exports))
}

// okOrError pushes the Lua convention for fallible calls: true, or
// false plus a message.
func okOrError(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (h *ScriptHost) luaLoad(L *lua.LState) int {
	return okOrError(L, h.machine.LoadAndStart(L.CheckString(1)))
}

func (h *ScriptHost) luaReset(L *lua.LState) int {
	return okOrError(L, h.machine.Reset())
}

func (h *ScriptHost) luaStop(L *lua.LState) int {
	return okOrError(L, h.machine.Stop())
}

func (h *ScriptHost) luaCont(L *lua.LState) int {
	return okOrError(L, h.machine.Continue())
}

func (h *ScriptHost) luaChangeCore(L *lua.LState) int {
	return okOrError(L, h.machine.ChangeCore(L.CheckString(1)))
}

func (h *ScriptHost) luaIPS(L *lua.LState) int {
	L.Push(lua.LNumber(h.machine.GetIPS()))
	return 1
}

func (h *ScriptHost) luaStatus(L *lua.LState) int {
	s := h.machine.Status()
	t := L.NewTable()
	L.SetField(t, "state", lua.LString(s.State))
	L.SetField(t, "arch", lua.LString(s.Architecture))
	L.SetField(t, "variant", lua.LString(s.Variant))
	L.SetField(t, "ncores", lua.LNumber(s.NCores))
	L.SetField(t, "memory_mb", lua.LNumber(s.MemoryMB))
	L.SetField(t, "kernel", lua.LString(s.Kernel))
	L.SetField(t, "ips", lua.LNumber(s.IPS))
	L.SetField(t, "uptime_s", lua.LNumber(s.Uptime.Seconds()))
	L.Push(t)
	return 1
}

func (h *ScriptHost) luaSendKey(L *lua.LState) int {
	h.machine.SendKey(byte(L.CheckInt(1)))
	return 0
}

func (h *ScriptHost) luaPaste(L *lua.LState) int {
	h.machine.Paste(L.CheckString(1))
	return 0
}

func (h *ScriptHost) luaRaiseIRQ(L *lua.LState) int {
	h.machine.RaiseInterrupt(uint32(L.CheckInt64(1)), L.OptInt(2, ALL_CORES))
	return 0
}

func (h *ScriptHost) luaClearIRQ(L *lua.LState) int {
	h.machine.ClearInterrupt(uint32(L.CheckInt64(1)), L.OptInt(2, ALL_CORES))
	return 0
}

func (h *ScriptHost) luaPeek(L *lua.LState) int {
	v, err := h.machine.Peek32(uint32(L.CheckInt64(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (h *ScriptHost) luaPoke(L *lua.LState) int {
	return okOrError(L, h.machine.Poke32(uint32(L.CheckInt64(1)), uint32(L.CheckInt64(2))))
}

func (h *ScriptHost) luaState(L *lua.LState) int {
	L.Push(lua.LString(h.machine.PrintOnAbort()))
	return 1
}

func (h *ScriptHost) luaSleepMS(L *lua.LState) int {
	time.Sleep(time.Duration(L.CheckInt64(1)) * time.Millisecond)
	return 0
}
