// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package adc reads analog channels through the Linux industrial-I/O
// sysfs interface.
package adc // import "github.com/crtel/crlog/internal/adc"

import (
	"bytes"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// Channel reads one raw ADC channel, e.g.
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type Channel struct {
	name string
	fd   int
	buf  [32]byte
}

// Open opens the sysfs attribute of a raw ADC channel.
func Open(name string) (*Channel, error) {
	fd, err := unix.Open(name, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("adc: could not open %q: %w", name, err)
	}
	return &Channel{name: name, fd: fd}, nil
}

// Read returns the current raw reading of the channel.
//
// The sysfs attribute yields a fresh conversion on every read from
// offset zero, so the file descriptor is kept open across calls.
func (ch *Channel) Read() (int, error) {
	n, err := unix.Pread(ch.fd, ch.buf[:], 0)
	if err != nil {
		return 0, fmt.Errorf("adc: could not read %q: %w", ch.name, err)
	}
	raw := bytes.TrimSpace(ch.buf[:n])
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("adc: could not parse %q reading %q: %w", ch.name, raw, err)
	}
	return v, nil
}

// Close closes the channel.
func (ch *Channel) Close() error {
	err := unix.Close(ch.fd)
	if err != nil {
		return fmt.Errorf("adc: could not close %q: %w", ch.name, err)
	}
	return nil
}
