// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package clockbus

import "fmt"

// Lines is a placeholder on platforms without the Linux GPIO character
// device.
type Lines struct {
	Data  [8]InputPin
	Sel0  OutputPin
	Sel1  OutputPin
	Clear OutputPin
}

// Pinout names the GPIO line offsets of the clock-bus interface.
type Pinout struct {
	Chip  string
	Data  [8]int
	Sel0  int
	Sel1  int
	Clear int
}

// OpenLines is not supported on this platform.
func OpenLines(p Pinout) (*Lines, error) {
	return nil, fmt.Errorf("clockbus: gpio lines not supported on this platform")
}

// Close implements io.Closer.
func (ls *Lines) Close() error { return nil }
