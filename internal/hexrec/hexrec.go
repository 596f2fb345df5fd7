// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hexrec describes and handles the line grammar of the
// cosmic-ray telescope log files.
//
// A log file is a sequence of lines:
//
//   - a detection record: the two 16-bit counter half-words of one
//     sample, each formatted as exactly 4 lowercase zero-padded
//     hexadecimal characters (8 characters total);
//   - a reference line: one raw satellite reference sentence starting
//     with the "$GPRMC" sentinel, immediately followed, on the same
//     physical line, by the boundary sample's detection record.
//
// The reference sentence is written without a line terminator and the
// record write supplies it, so run boundaries always carry a trailing
// 8-digit record on the sentence line. The offline analysis tools
// depend on exactly this layout.
package hexrec // import "github.com/crtel/crlog/internal/hexrec"

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	// Sentinel marks the start of a reference sentence.
	Sentinel = "$GPRMC"

	// RecordLen is the width of one detection record, in characters,
	// excluding the line terminator.
	RecordLen = 8
)

const hexdigits = "0123456789abcdef"

// AppendRecord appends the detection record for (h1,h2) to dst:
// 4 lowercase zero-padded hex characters per half-word, no terminator.
func AppendRecord(dst []byte, h1, h2 uint16) []byte {
	for _, v := range [2]uint16{h1, h2} {
		dst = append(dst,
			hexdigits[v>>12&0xf],
			hexdigits[v>>8&0xf],
			hexdigits[v>>4&0xf],
			hexdigits[v&0xf],
		)
	}
	return dst
}

// Record formats the detection record for (h1,h2).
func Record(h1, h2 uint16) string {
	return string(AppendRecord(make([]byte, 0, RecordLen), h1, h2))
}

// ParseRecord decodes an 8-character detection record into its two
// half-words.
func ParseRecord(s string) (h1, h2 uint16, err error) {
	if len(s) != RecordLen {
		return 0, 0, fmt.Errorf("hexrec: invalid record length %d (want %d)", len(s), RecordLen)
	}
	var v [2]uint16
	for i := range v {
		for _, c := range []byte(s[4*i : 4*i+4]) {
			n := strings.IndexByte(hexdigits, c)
			if n < 0 {
				return 0, 0, fmt.Errorf("hexrec: invalid hex character %q in record %q", c, s)
			}
			v[i] = v[i]<<4 | uint16(n)
		}
	}
	return v[0], v[1], nil
}

// Entry is one decoded log-file line.
type Entry struct {
	Ref    string // raw reference sentence, empty for plain records
	H1, H2 uint16 // detection record half-words
}

// Boundary reports whether the entry is a run-boundary line (reference
// sentence plus the boundary sample's record).
func (e Entry) Boundary() bool { return e.Ref != "" }

// Decoder decodes log-file entries from an underlying reader.
type Decoder struct {
	scan *bufio.Scanner
	line int
}

// NewDecoder creates a new decoder reading log entries from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{scan: bufio.NewScanner(r)}
}

// Decode reads the next entry. It returns io.EOF once the input is
// exhausted.
func (dec *Decoder) Decode(e *Entry) error {
	if !dec.scan.Scan() {
		if err := dec.scan.Err(); err != nil {
			return fmt.Errorf("hexrec: could not read line %d: %w", dec.line+1, err)
		}
		return io.EOF
	}
	dec.line++

	line := strings.TrimRight(dec.scan.Text(), "\r")
	switch {
	case strings.HasPrefix(line, Sentinel):
		if len(line) < len(Sentinel)+RecordLen {
			return fmt.Errorf("hexrec: truncated boundary line %d: %q", dec.line, line)
		}
		rec := line[len(line)-RecordLen:]
		h1, h2, err := ParseRecord(rec)
		if err != nil {
			return fmt.Errorf("hexrec: invalid boundary record on line %d: %w", dec.line, err)
		}
		e.Ref = line[:len(line)-RecordLen]
		e.H1 = h1
		e.H2 = h2
	default:
		h1, h2, err := ParseRecord(line)
		if err != nil {
			return fmt.Errorf("hexrec: invalid record on line %d: %w", dec.line, err)
		}
		e.Ref = ""
		e.H1 = h1
		e.H2 = h2
	}
	return nil
}
