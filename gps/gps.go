// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gps captures reference time sentences from a satellite
// positioning receiver over a serial feed.
//
// The receiver free-runs at a single fixed baud rate and is only
// listened to around run boundaries: the port is opened for the
// duration of one capture and closed again to save power. The sentence
// is treated as an opaque blob; decoding time and position out of it is
// the offline analysis tools' job.
package gps // import "github.com/crtel/crlog/gps"

import (
	"fmt"
	"io"
	"log"

	"go.bug.st/serial"
)

const (
	// Sentinel is the 6-character sequence opening a reference sentence.
	Sentinel = "$GPRMC"

	// SentenceLen is the fixed number of payload bytes captured per
	// sentence, sentinel included.
	SentenceLen = 62

	// DefaultBaud is the receiver's fixed baud rate.
	DefaultBaud = 4800
)

// Sentence is one captured reference sentence. The backing buffer is
// always NUL-terminated, whatever the feed delivered.
type Sentence struct {
	buf [SentenceLen + 1]byte
}

// Bytes returns the captured payload, up to the NUL terminator.
func (s *Sentence) Bytes() []byte {
	for i, c := range s.buf {
		if c == 0 {
			return s.buf[:i]
		}
	}
	return s.buf[:SentenceLen]
}

func (s *Sentence) String() string { return string(s.Bytes()) }

// Source provides the serial byte stream of the positioning receiver.
// Open is called once per capture and the returned reader is closed
// before Capture returns.
type Source interface {
	Open() (io.ReadCloser, error)
}

// Port is a Source backed by a serial device.
type Port struct {
	Device string // e.g. /dev/ttyAMA0
	Baud   int    // 0 means DefaultBaud
}

// Open opens the serial device at the receiver's fixed baud rate.
func (p *Port) Open() (io.ReadCloser, error) {
	baud := p.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	sp, err := serial.Open(p.Device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("gps: could not open serial port %q: %w", p.Device, err)
	}
	return sp, nil
}

// Sync captures reference sentences on demand.
type Sync struct {
	msg *log.Logger
	src Source
}

// New creates a synchronizer reading from src.
func New(src Source, msg *log.Logger) *Sync {
	if msg == nil {
		msg = log.New(io.Discard, "gps: ", 0)
	}
	return &Sync{msg: msg, src: src}
}

// Capture blocks until one complete reference sentence has been read
// from the source, appends the captured payload to w and closes the
// source again.
//
// There is deliberately no timeout: a sample must never be logged
// without a synchronized time context, so an absent reference signal
// stalls the caller rather than degrade the data.
func (s *Sync) Capture(w io.Writer) (Sentence, error) {
	var sent Sentence

	r, err := s.src.Open()
	if err != nil {
		return sent, fmt.Errorf("gps: could not open reference source: %w", err)
	}
	defer r.Close()

	err = s.scanSentinel(r)
	if err != nil {
		return sent, fmt.Errorf("gps: could not match sentinel: %w", err)
	}

	copy(sent.buf[:], Sentinel)
	err = readFull(r, sent.buf[len(Sentinel):SentenceLen])
	if err != nil {
		return sent, fmt.Errorf("gps: could not read sentence payload: %w", err)
	}
	sent.buf[SentenceLen] = 0

	_, err = w.Write(sent.Bytes())
	if err != nil {
		return sent, fmt.Errorf("gps: could not store sentence: %w", err)
	}

	s.msg.Printf("captured %q", sent.String())
	return sent, nil
}

// scanSentinel consumes bytes until the sentinel has been seen.
// A mismatch at position k resets the match to position 0 without
// re-evaluating the offending byte, so the sentinel is found wherever
// it occurs in the stream.
func (s *Sync) scanSentinel(r io.Reader) error {
	var (
		buf [1]byte
		k   int
	)
	for k < len(Sentinel) {
		n, err := r.Read(buf[:])
		if n > 0 {
			// a byte delivered alongside an error still counts.
			if buf[0] == Sentinel[k] {
				k++
			} else {
				k = 0
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readFull reads len(p) bytes, spinning on short reads: the feed is
// slower than the poll loop and bytes trickle in one at a time.
func readFull(r io.Reader, p []byte) error {
	for len(p) > 0 {
		n, err := r.Read(p)
		p = p[n:]
		if err != nil && len(p) > 0 {
			return err
		}
	}
	return nil
}
