// archive.go - newc cpio packing for initramfs images

package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cavaliergopher/cpio"
)

const dirLinks = 2

// Mount points the kernel expects to find in any initramfs.
var standardDirs = []string{"dev", "proc", "sys", "tmp", "bin"}

// buildArchive writes a newc cpio archive: the init program at /init, the
// standard mount-point directories, and each additional file under /bin by
// its basename. With compress set the whole archive is gzip-wrapped, which
// the boot loader unpacks transparently.
func buildArchive(out io.Writer, initPath string, files []string, compress bool) error {
	w := out
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(out)
		w = gz
	}

	cw := cpio.NewWriter(w)

	for _, dir := range standardDirs {
		hdr := &cpio.Header{
			Name:  dir,
			Mode:  cpio.TypeDir | 0o755,
			Links: dirLinks,
		}
		if err := cw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header for %s: %w", dir, err)
		}
	}

	if err := writeFileAs(cw, initPath, "init", 0o755); err != nil {
		return err
	}
	for _, file := range files {
		name := "bin/" + filepath.Base(file)
		if err := writeFileAs(cw, file, name, 0); err != nil {
			return err
		}
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	return nil
}

// writeFileAs copies one regular file into the archive under name. A zero
// mode keeps the file's own permission bits.
func writeFileAs(cw *cpio.Writer, path, name string, mode cpio.FileMode) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("read info for %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}

	hdr, err := cpio.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("create header for %s: %w", path, err)
	}
	hdr.Name = name
	if mode != 0 {
		hdr.Mode = cpio.TypeReg | mode
	}

	if err := cw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}
	if _, err := io.Copy(cw, f); err != nil {
		return fmt.Errorf("write body for %s: %w", name, err)
	}
	return nil
}
