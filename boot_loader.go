// boot_loader.go - Boot image sniffing, decompression, patching and commit

/*
(c) 2025 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/gor1k
License: GPLv3 or later
*/

package main

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
)

// BootError carries operation context for load failures, which are fatal to
// the load but never to the machine: it simply stays stopped.
type BootError struct {
	Operation string
	Details   string
	Err       error
}

func (e *BootError) Error() string {
	switch {
	case e.Err != nil && e.Details != "":
		return fmt.Sprintf("boot %s failed: %s: %v", e.Operation, e.Details, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("boot %s failed: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("boot %s failed: %s", e.Operation, e.Details)
	}
}

func (e *BootError) Unwrap() error {
	return e.Err
}

// ImageKind is the sniffing outcome. Exactly three: anything that is not a
// recognised executable or compressed signature loads as a raw flat binary,
// never as an error.
type ImageKind int

const (
	ImageRaw ImageKind = iota
	ImageELF
	ImageCompressed
)

func (k ImageKind) String() string {
	switch k {
	case ImageELF:
		return "elf"
	case ImageCompressed:
		return "compressed"
	}
	return "raw"
}

// BootConfig controls the post-load fixup passes.
type BootConfig struct {
	// PatchMemSize rewrites the device-tree memory-size placeholder to the
	// configured RAM size. On by default; the scan is format-driven and
	// independent of guest byte order.
	PatchMemSize bool
}

// BootResult reports what the load pipeline did, for logging and tests.
type BootResult struct {
	Kind        ImageKind
	Length      uint32 // extent of the loaded region in RAM
	EmbeddedELF bool   // compressed payload re-sniffed as ELF
	Patches     int    // device-tree size fields rewritten
	Swapped     bool   // word swap applied for a big-endian core
}

// Device-tree memory-size patch: a flattened-tree node name "memory\0"
// followed at a fixed offset by the big-endian reg-size cell still holding
// the device-tree source placeholder. Only that exact placeholder is
// rewritten, so an image built for an explicit size is left alone.
const (
	dtbMemsizeMarker = "memory\x00"
	dtbMemsizeOffset = 24
)

var dtbMemsizePlaceholder = [4]byte{0x01, 0xF0, 0x00, 0x00}

func sniffImage(data []byte) ImageKind {
	if isELFImage(data) {
		return ImageELF
	}
	if isBzip2Image(data) || isGzipImage(data) {
		return ImageCompressed
	}
	return ImageRaw
}

func isBzip2Image(data []byte) bool {
	return len(data) >= 3 && data[0] == 'B' && data[1] == 'Z' && data[2] == 'h'
}

func isGzipImage(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1F && data[1] == 0x8B
}

// decompressToRAM streams the compressed payload to address 0, tracking the
// decompressed length. Payloads larger than RAM are load errors.
func decompressToRAM(data []byte, mem []byte) (uint32, error) {
	var r io.Reader
	switch {
	case isBzip2Image(data):
		r = bzip2.NewReader(bytes.NewReader(data))
	case isGzipImage(data):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return 0, &BootError{Operation: "decompress", Details: "gzip header", Err: err}
		}
		defer gz.Close()
		r = gz
	default:
		return 0, &BootError{Operation: "decompress", Details: "not a recognised compressed image"}
	}

	total := uint32(0)
	for {
		if total == uint32(len(mem)) {
			// Probe one byte to tell exact fill from overflow.
			var probe [1]byte
			if n, _ := r.Read(probe[:]); n > 0 {
				return 0, &BootError{
					Operation: "decompress",
					Details:   fmt.Sprintf("payload exceeds %dMB RAM", len(mem)/0x100000),
				}
			}
			return total, nil
		}
		n, err := r.Read(mem[total:])
		total += uint32(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, &BootError{Operation: "decompress", Details: "stream", Err: err}
		}
	}
}

// patchMemSize scans [0, length) for device-tree memory nodes still holding
// the placeholder size and rewrites them to sizeMB megabytes, big endian.
// Returns the number of fields rewritten; zero is not an error.
func patchMemSize(mem []byte, length uint32, sizeMB int) int {
	if int(length) > len(mem) {
		length = uint32(len(mem))
	}
	window := int(length) - dtbMemsizeOffset - 4
	size := uint32(sizeMB) * 0x100000
	patched := 0
	for i := 0; i <= window; i++ {
		if mem[i] != 'm' {
			continue
		}
		if string(mem[i:i+len(dtbMemsizeMarker)]) != dtbMemsizeMarker {
			continue
		}
		f := i + dtbMemsizeOffset
		if [4]byte(mem[f:f+4]) != dtbMemsizePlaceholder {
			continue
		}
		mem[f+0] = byte(size >> 24)
		mem[f+1] = byte(size >> 16)
		mem[f+2] = 0x00
		mem[f+3] = 0x00
		patched++
	}
	return patched
}

// loadBootImage runs the full pipeline against guest RAM: sniff, place the
// image (extract / decompress / copy), re-sniff decompressed payloads for an
// embedded ELF, then apply the configured fixups. The caller owns transport
// and the commit sequence (device resets, CPU reset, state change).
func loadBootImage(data []byte, ram *MachineRAM, littleEndian bool, cfg BootConfig) (BootResult, error) {
	if len(data) == 0 {
		return BootResult{}, &BootError{Operation: "load", Details: "empty image"}
	}
	mem := ram.GetMemory()
	res := BootResult{Kind: sniffImage(data)}

	switch res.Kind {
	case ImageELF:
		extent, err := extractELF(data, mem)
		if err != nil {
			return BootResult{}, err
		}
		res.Length = extent

	case ImageCompressed:
		length, err := decompressToRAM(data, mem)
		if err != nil {
			return BootResult{}, err
		}
		res.Length = length
		// The decompressed payload may itself be an ELF. Extraction must
		// not read memory it is concurrently writing, so it runs against a
		// copy of the decompressed bytes.
		if isELFImage(mem[:min(length, 4)]) {
			tmp := make([]byte, length)
			copy(tmp, mem[:length])
			extent, err := extractELF(tmp, mem)
			if err != nil {
				return BootResult{}, err
			}
			res.EmbeddedELF = true
			if extent > res.Length {
				res.Length = extent
			}
		}

	case ImageRaw:
		if len(data) > len(mem) {
			return BootResult{}, &BootError{
				Operation: "load",
				Details:   fmt.Sprintf("raw image of %d bytes exceeds %dMB RAM", len(data), ram.SizeMB()),
			}
		}
		copy(mem, data)
		res.Length = uint32(len(data))
	}

	if cfg.PatchMemSize {
		res.Patches = patchMemSize(mem, res.Length, ram.SizeMB())
	}
	if !littleEndian {
		ram.Little2Big(res.Length)
		res.Swapped = true
	}
	return res, nil
}
