// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clockbus samples the external timing hardware through its
// multiplexed 8-bit parallel interface.
//
// The clock board exposes two 16-bit counters one byte at a time,
// addressed by a 2-bit select code. Values are trusted as read: any
// electrical noise becomes part of the record and is sorted out by the
// offline analysis tools, not here.
package clockbus // import "github.com/crtel/crlog/clockbus"

import (
	"fmt"
	"io"
	"log"
	"time"
)

// InputPin reads one digital input line.
type InputPin interface {
	Get() (int, error)
}

// OutputPin drives one digital output line.
type OutputPin interface {
	Set(v int) error
}

// DefaultSettle is the bus settle delay applied after each select-code
// change before the data lines are read.
const DefaultSettle = 10 * time.Microsecond

// Option configures a Bus.
type Option func(*config)

type config struct {
	settle time.Duration
	pulse  time.Duration
}

// WithSettle sets the bus settle delay after each select-code change.
func WithSettle(d time.Duration) Option {
	return func(cfg *config) {
		cfg.settle = d
	}
}

// WithAckPulse sets the width of the clear/reset acknowledge pulse.
func WithAckPulse(d time.Duration) Option {
	return func(cfg *config) {
		cfg.pulse = d
	}
}

// Bus drives the clock board's multiplexed parallel interface.
type Bus struct {
	msg *log.Logger
	cfg config

	data  [8]InputPin // data lines, pin index 0 holds bit 7
	sel0  OutputPin
	sel1  OutputPin
	clear OutputPin
}

// New creates a bus over the given lines. The data pin order is fixed:
// pin index 0 maps to bit 7 of each byte read, pin index 7 to bit 0.
func New(data [8]InputPin, sel0, sel1, clear OutputPin, msg *log.Logger, opts ...Option) *Bus {
	if msg == nil {
		msg = log.New(io.Discard, "clockbus: ", 0)
	}
	bus := &Bus{
		msg:   msg,
		data:  data,
		sel0:  sel0,
		sel1:  sel1,
		clear: clear,
	}
	bus.cfg.settle = DefaultSettle
	bus.cfg.pulse = DefaultSettle
	for _, opt := range opts {
		opt(&bus.cfg)
	}
	return bus
}

// ReadByte reads the eight data lines and packs them MSB-first.
func (bus *Bus) ReadByte() (byte, error) {
	var b byte
	for i, pin := range bus.data {
		v, err := pin.Get()
		if err != nil {
			return 0, fmt.Errorf("clockbus: could not read data line %d: %w", i, err)
		}
		if v != 0 {
			b |= 1 << (7 - i)
		}
	}
	return b, nil
}

// Sample assembles the two 16-bit counter half-words, walking the
// select code through (0,0), (1,0), (0,1), (1,1) with one byte read
// per state. The select lines are restored to (0,0) afterwards: the
// clock board latches its outputs off the resting code.
func (bus *Bus) Sample() (half1, half2 uint16, err error) {
	var b [4]uint8
	for i, sel := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		err = bus.selectCode(sel[0], sel[1])
		if err != nil {
			return 0, 0, err
		}
		time.Sleep(bus.cfg.settle)
		b[i], err = bus.ReadByte()
		if err != nil {
			return 0, 0, err
		}
	}

	err = bus.selectCode(0, 0)
	if err != nil {
		return 0, 0, err
	}

	half1 = uint16(b[0])<<8 + uint16(b[1])
	half2 = uint16(b[2])<<8 + uint16(b[3])
	return half1, half2, nil
}

// Ack pulses the clear/reset line low then high, acknowledging the
// sampled event to the clock board.
func (bus *Bus) Ack() error {
	err := bus.clear.Set(0)
	if err != nil {
		return fmt.Errorf("clockbus: could not drive clear line low: %w", err)
	}
	time.Sleep(bus.cfg.pulse)
	err = bus.clear.Set(1)
	if err != nil {
		return fmt.Errorf("clockbus: could not drive clear line high: %w", err)
	}
	return nil
}

func (bus *Bus) selectCode(s0, s1 int) error {
	err := bus.sel0.Set(s0)
	if err != nil {
		return fmt.Errorf("clockbus: could not drive select line 0: %w", err)
	}
	err = bus.sel1.Set(s1)
	if err != nil {
		return fmt.Errorf("clockbus: could not drive select line 1: %w", err)
	}
	return nil
}
