//go:build !(amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm)

package main

// Guest RAM uses host-order uint32 loads and stores plus an explicit word
// swap for big-endian cores, which assumes a little-endian host.
var _ = "gor1k requires a little-endian host architecture" + 1
