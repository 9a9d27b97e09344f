//go:build amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm

// endian_check.go - gor1k requires a little-endian host architecture.
//
// Guest memory is kept in host byte order and the word-swap paths in
// memory_map.go assume little-endian layout. This file compiles on known LE
// targets; the sibling file endian_unsupported.go contains a deliberate
// compile error for anything not listed here.

package main
