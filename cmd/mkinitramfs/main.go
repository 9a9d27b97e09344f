package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	outFile := flag.String("o", "", "Output file (default: stdout)")
	compress := flag.Bool("gzip", false, "Compress the archive with gzip")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mkinitramfs [options] init-file [file...]\n\nPacks an init program and support files into a newc cpio archive\nsuitable for booting as an initramfs.\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mkinitramfs init > initramfs.cpio\n")
		fmt.Fprintf(os.Stderr, "  mkinitramfs -gzip -o initramfs.cpio.gz init busybox\n")
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	out := os.Stdout
	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := buildArchive(out, flag.Arg(0), flag.Args()[1:], *compress); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
