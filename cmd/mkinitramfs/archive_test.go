// archive_test.go - newc cpio packing tests

package main

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cavaliergopher/cpio"
)

func writeTestFile(t *testing.T, dir, name string, data []byte, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, mode); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

type archiveEntry struct {
	mode os.FileMode
	body []byte
}

func readArchive(t *testing.T, r io.Reader) (names []string, entries map[string]archiveEntry) {
	t.Helper()
	cr := cpio.NewReader(r)
	entries = map[string]archiveEntry{}
	for {
		hdr, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("archive read failed: %v", err)
		}
		mode := hdr.FileInfo().Mode()
		var body []byte
		if mode.IsRegular() {
			if body, err = io.ReadAll(cr); err != nil {
				t.Fatalf("body read for %s failed: %v", hdr.Name, err)
			}
		}
		names = append(names, hdr.Name)
		entries[hdr.Name] = archiveEntry{mode: mode, body: body}
	}
	return names, entries
}

// TestBuildArchiveLayout verifies entry order and content: mount-point
// directories first, the init program at /init marked executable, support
// files under /bin by basename.
func TestBuildArchiveLayout(t *testing.T) {
	dir := t.TempDir()
	initBody := []byte("#!/bin/sh\nexec /bin/task\n")
	initPath := writeTestFile(t, dir, "myinit", initBody, 0o600)
	taskBody := []byte{0x7F, 'E', 'L', 'F', 1, 2, 1, 0}
	taskPath := writeTestFile(t, dir, "task", taskBody, 0o755)

	var buf bytes.Buffer
	if err := buildArchive(&buf, initPath, []string{taskPath}, false); err != nil {
		t.Fatalf("buildArchive failed: %v", err)
	}

	names, entries := readArchive(t, &buf)
	want := []string{"dev", "proc", "sys", "tmp", "bin", "init", "bin/task"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v, expected %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("entry %d = %q, expected %q", i, names[i], n)
		}
	}

	for _, d := range []string{"dev", "proc", "sys", "tmp", "bin"} {
		if !entries[d].mode.IsDir() {
			t.Fatalf("%s packed as mode %v, expected directory", d, entries[d].mode)
		}
	}
	init := entries["init"]
	if !bytes.Equal(init.body, initBody) {
		t.Fatal("init body differs")
	}
	if init.mode&0o111 == 0 {
		t.Fatalf("init mode = %v, expected executable", init.mode)
	}
	task := entries["bin/task"]
	if !bytes.Equal(task.body, taskBody) {
		t.Fatal("bin/task body differs")
	}
	if task.mode.Perm() != 0o755 {
		t.Fatalf("bin/task mode = %v, expected the file's own 0o755", task.mode)
	}
}

// TestBuildArchiveGzip verifies the compressed output is a plain gzip stream
// wrapping the same archive.
func TestBuildArchiveGzip(t *testing.T) {
	dir := t.TempDir()
	initPath := writeTestFile(t, dir, "init", []byte("#!/bin/sh\n"), 0o755)

	var buf bytes.Buffer
	if err := buildArchive(&buf, initPath, nil, true); err != nil {
		t.Fatalf("buildArchive failed: %v", err)
	}
	if b := buf.Bytes(); len(b) < 2 || b[0] != 0x1F || b[1] != 0x8B {
		t.Fatal("compressed output carries no gzip signature")
	}

	gz, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("gzip open failed: %v", err)
	}
	defer gz.Close()
	names, entries := readArchive(t, gz)
	if len(names) != 6 || names[5] != "init" {
		t.Fatalf("entries = %v, expected five directories then init", names)
	}
	if string(entries["init"].body) != "#!/bin/sh\n" {
		t.Fatal("init body differs after compression round trip")
	}
}

// TestBuildArchiveRejectsBadInput verifies missing and irregular init files
// fail before any output is committed.
func TestBuildArchiveRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := buildArchive(&buf, filepath.Join(dir, "absent"), nil, false); err == nil {
		t.Fatal("missing init accepted")
	}
	if err := buildArchive(&buf, dir, nil, false); err == nil {
		t.Fatal("directory as init accepted")
	}
}
