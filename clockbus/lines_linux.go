// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package clockbus

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Lines holds the GPIO lines of the clock-bus interface, requested
// from the Linux GPIO character device.
type Lines struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line

	Data  [8]InputPin
	Sel0  OutputPin
	Sel1  OutputPin
	Clear OutputPin
}

// Pinout names the GPIO line offsets of the clock-bus interface on the
// given chip.
type Pinout struct {
	Chip  string // e.g. /dev/gpiochip0
	Data  [8]int // data lines, index 0 carries bit 7
	Sel0  int
	Sel1  int
	Clear int
}

// OpenLines requests the clock-bus GPIO lines: the eight data lines as
// inputs, both select lines driven low and the clear line driven high
// (its resting level).
func OpenLines(p Pinout) (*Lines, error) {
	chip, err := gpiocdev.NewChip(p.Chip, gpiocdev.WithConsumer("crlog"))
	if err != nil {
		return nil, fmt.Errorf("clockbus: could not open gpio chip %q: %w", p.Chip, err)
	}

	ls := &Lines{chip: chip}
	ok := false
	defer func() {
		if !ok {
			_ = ls.Close()
		}
	}()

	for i, offset := range p.Data {
		line, err := chip.RequestLine(offset, gpiocdev.AsInput)
		if err != nil {
			return nil, fmt.Errorf("clockbus: could not request data line %d (offset=%d): %w", i, offset, err)
		}
		ls.lines = append(ls.lines, line)
		ls.Data[i] = (*inLine)(line)
	}

	for _, out := range []struct {
		name   string
		offset int
		init   int
		pin    *OutputPin
	}{
		{"sel0", p.Sel0, 0, &ls.Sel0},
		{"sel1", p.Sel1, 0, &ls.Sel1},
		{"clear", p.Clear, 1, &ls.Clear},
	} {
		line, err := chip.RequestLine(out.offset, gpiocdev.AsOutput(out.init))
		if err != nil {
			return nil, fmt.Errorf("clockbus: could not request %s line (offset=%d): %w", out.name, out.offset, err)
		}
		ls.lines = append(ls.lines, line)
		*out.pin = (*outLine)(line)
	}

	ok = true
	return ls, nil
}

// Close releases all requested lines and the chip.
func (ls *Lines) Close() error {
	for _, line := range ls.lines {
		_ = line.Close()
	}
	ls.lines = nil
	if ls.chip == nil {
		return nil
	}
	err := ls.chip.Close()
	ls.chip = nil
	return err
}

type inLine gpiocdev.Line

func (l *inLine) Get() (int, error) { return (*gpiocdev.Line)(l).Value() }

type outLine gpiocdev.Line

func (l *outLine) Set(v int) error { return (*gpiocdev.Line)(l).SetValue(v) }
