// kernel_elf.go - ELF boot image extraction

package main

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
)

// isELFImage checks the 4-byte ELF magic.
func isELFImage(data []byte) bool {
	return len(data) >= 4 &&
		data[0] == 0x7F && data[1] == 'E' && data[2] == 'L' && data[3] == 'F'
}

// extractELF copies every loadable part of the image into guest RAM at its
// declared physical address and returns the extent (highest written byte
// plus one). Program headers are authoritative; images stripped down to
// bare section headers fall back to allocatable PROGBITS sections, which is
// what some firmware-style images carry.
func extractELF(image []byte, mem []byte) (uint32, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, &BootError{Operation: "elf parse", Err: err}
	}
	defer f.Close()

	var extent uint32
	loaded := 0
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		end, err := loadELFChunk(p.Open(), p.Paddr, p.Filesz, p.Memsz, mem)
		if err != nil {
			return 0, err
		}
		if end > extent {
			extent = end
		}
		loaded++
	}
	if loaded > 0 {
		return extent, nil
	}

	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		end, err := loadELFChunk(s.Open(), s.Addr, s.Size, s.Size, mem)
		if err != nil {
			return 0, err
		}
		if end > extent {
			extent = end
		}
		loaded++
	}
	if loaded == 0 {
		return 0, &BootError{Operation: "elf extract", Details: "image has no loadable segments or sections"}
	}
	return extent, nil
}

func loadELFChunk(r io.Reader, addr, filesz, memsz uint64, mem []byte) (uint32, error) {
	if memsz < filesz {
		memsz = filesz
	}
	end := addr + memsz
	if end < addr || end > uint64(len(mem)) {
		return 0, &BootError{
			Operation: "elf extract",
			Details:   fmt.Sprintf("segment 0x%08X+0x%X exceeds %dMB RAM", addr, memsz, len(mem)/0x100000),
		}
	}
	if filesz > 0 {
		if _, err := io.ReadFull(r, mem[addr:addr+filesz]); err != nil {
			return 0, &BootError{Operation: "elf extract", Details: "segment read", Err: err}
		}
	}
	// BSS-style tail: Memsz beyond Filesz is zero-filled.
	clear(mem[addr+filesz : end])
	return uint32(end), nil
}
