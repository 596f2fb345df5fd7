// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// crlog-dump decodes and displays telescope log files.
//
// Usage: crlog-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> crlog-dump ./testdata/F0.txt
//	=== F0.txt ===
//	--- run boundary: $GPRMC,092653.00,A,...
//	h1=0x1a2b h2=0x3c4d
//	h1=0x00a1 h2=0xff30
//	[...]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/crtel/crlog/internal/hexrec"
)

func main() {
	log.SetPrefix("crlog-dump: ")
	log.SetFlags(0)

	raw := flag.Bool("raw", false, "display records as raw hex, without decoding")

	flag.Usage = func() {
		fmt.Printf(`crlog-dump decodes and displays telescope log files.

Usage: crlog-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> crlog-dump ./testdata/F0.txt
 === F0.txt ===
 --- run boundary: $GPRMC,092653.00,A,...
 h1=0x1a2b h2=0x3c4d
 h1=0x00a1 h2=0xff30
 [...]

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input log file")
	}

	for _, fname := range flag.Args() {
		err := process(os.Stdout, fname, *raw)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, raw bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	fmt.Fprintf(wbuf, "=== %s ===\n", filepath.Base(fname))

	dec := hexrec.NewDecoder(f)
	n := 0
loop:
	for {
		var e hexrec.Entry
		err := dec.Decode(&e)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode entry: %w", err)
		}
		if e.Boundary() {
			fmt.Fprintf(wbuf, "--- run boundary: %s\n", e.Ref)
		}
		switch {
		case raw:
			fmt.Fprintf(wbuf, "%s\n", hexrec.Record(e.H1, e.H2))
		default:
			fmt.Fprintf(wbuf, "h1=0x%04x h2=0x%04x\n", e.H1, e.H2)
		}
		n++
	}
	fmt.Fprintf(wbuf, "=== %d samples ===\n", n)

	return nil
}
