// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clockbus

import (
	"fmt"
	"testing"
)

// fakeBoard emulates the clock board: it serves the data lines from a
// 4-byte register file addressed by the current select code and logs
// every select/clear transition.
type fakeBoard struct {
	regs  [4]uint8 // indexed by sel0 + 2*sel1
	sel   [2]int
	trace []string
}

func (brd *fakeBoard) pins() ([8]InputPin, OutputPin, OutputPin, OutputPin) {
	var data [8]InputPin
	for i := 0; i < 8; i++ {
		data[i] = &fakeIn{brd: brd, bit: 7 - i}
	}
	return data,
		&fakeOut{brd: brd, name: "sel0"},
		&fakeOut{brd: brd, name: "sel1"},
		&fakeOut{brd: brd, name: "clear"}
}

type fakeIn struct {
	brd *fakeBoard
	bit int
}

func (pin *fakeIn) Get() (int, error) {
	v := pin.brd.regs[pin.brd.sel[0]+2*pin.brd.sel[1]]
	return int(v >> pin.bit & 1), nil
}

type fakeOut struct {
	brd  *fakeBoard
	name string
}

func (pin *fakeOut) Set(v int) error {
	switch pin.name {
	case "sel0":
		pin.brd.sel[0] = v
	case "sel1":
		pin.brd.sel[1] = v
	}
	pin.brd.trace = append(pin.brd.trace, fmt.Sprintf("%s=%d", pin.name, v))
	return nil
}

func newBus(brd *fakeBoard) *Bus {
	data, sel0, sel1, clear := brd.pins()
	return New(data, sel0, sel1, clear, nil, WithSettle(0), WithAckPulse(0))
}

func TestReadByte(t *testing.T) {
	for _, tc := range []struct {
		want uint8
	}{
		{0x00},
		{0x01},
		{0x80},
		{0xa5},
		{0xff},
	} {
		t.Run(fmt.Sprintf("0x%02x", tc.want), func(t *testing.T) {
			brd := &fakeBoard{regs: [4]uint8{tc.want, 0, 0, 0}}
			got, err := newBus(brd).ReadByte()
			if err != nil {
				t.Fatalf("could not read byte: %+v", err)
			}
			if got != tc.want {
				t.Fatalf("invalid byte: got=0x%02x, want=0x%02x", got, tc.want)
			}
		})
	}
}

func TestReadByteBitOrder(t *testing.T) {
	// pin index 0 carries bit 7, pin index 7 carries bit 0.
	brd := &fakeBoard{}
	var data [8]InputPin
	for i := 0; i < 8; i++ {
		hi := i == 0
		data[i] = fixedIn(hi)
	}
	_, sel0, sel1, clear := brd.pins()
	bus := New(data, sel0, sel1, clear, nil, WithSettle(0))
	got, err := bus.ReadByte()
	if err != nil {
		t.Fatalf("could not read byte: %+v", err)
	}
	if got != 0x80 {
		t.Fatalf("invalid bit order: got=0x%02x, want=0x80", got)
	}
}

type fixedIn bool

func (pin fixedIn) Get() (int, error) {
	if pin {
		return 1, nil
	}
	return 0, nil
}

func TestSample(t *testing.T) {
	for _, tc := range []struct {
		regs   [4]uint8 // (0,0), (1,0), (0,1), (1,1)
		half1  uint16
		half2  uint16
	}{
		{[4]uint8{0x00, 0x00, 0x00, 0x00}, 0x0000, 0x0000},
		{[4]uint8{0x12, 0x34, 0x56, 0x78}, 0x1234, 0x5678},
		{[4]uint8{0xff, 0xff, 0xff, 0xff}, 0xffff, 0xffff},
		{[4]uint8{0x00, 0xa1, 0xff, 0x30}, 0x00a1, 0xff30},
	} {
		t.Run(fmt.Sprintf("%04x-%04x", tc.half1, tc.half2), func(t *testing.T) {
			brd := &fakeBoard{regs: tc.regs}
			h1, h2, err := newBus(brd).Sample()
			if err != nil {
				t.Fatalf("could not sample clock bus: %+v", err)
			}
			if h1 != tc.half1 || h2 != tc.half2 {
				t.Fatalf("invalid sample: got=(%#04x,%#04x), want=(%#04x,%#04x)",
					h1, h2, tc.half1, tc.half2,
				)
			}
			if brd.sel != [2]int{0, 0} {
				t.Fatalf("select lines left at %v, want (0,0)", brd.sel)
			}
		})
	}
}

func TestSampleSelectOrder(t *testing.T) {
	brd := &fakeBoard{}
	_, _, err := newBus(brd).Sample()
	if err != nil {
		t.Fatalf("could not sample clock bus: %+v", err)
	}
	want := []string{
		"sel0=0", "sel1=0",
		"sel0=1", "sel1=0",
		"sel0=0", "sel1=1",
		"sel0=1", "sel1=1",
		"sel0=0", "sel1=0",
	}
	if len(brd.trace) != len(want) {
		t.Fatalf("invalid select trace: got=%v, want=%v", brd.trace, want)
	}
	for i := range want {
		if brd.trace[i] != want[i] {
			t.Fatalf("invalid select trace: got=%v, want=%v", brd.trace, want)
		}
	}
}

func TestAck(t *testing.T) {
	brd := &fakeBoard{}
	err := newBus(brd).Ack()
	if err != nil {
		t.Fatalf("could not ack sample: %+v", err)
	}
	want := []string{"clear=0", "clear=1"}
	if len(brd.trace) != len(want) || brd.trace[0] != want[0] || brd.trace[1] != want[1] {
		t.Fatalf("invalid clear pulse: got=%v, want=%v", brd.trace, want)
	}
}
