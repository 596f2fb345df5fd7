// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/crtel/crlog/gps"
	"github.com/crtel/crlog/internal/hexrec"
)

// seqPin serves a scripted sequence of analog readings, repeating the
// last one once the script is exhausted.
type seqPin struct {
	vals []int
	i    int
}

func (pin *seqPin) Read() (int, error) {
	i := pin.i
	if i >= len(pin.vals) {
		i = len(pin.vals) - 1
	}
	pin.i++
	return pin.vals[i], nil
}

// notifyPin reads zero and closes ch on its first read.
type notifyPin struct {
	ch   chan struct{}
	once bool
}

func (pin *notifyPin) Read() (int, error) {
	if !pin.once {
		pin.once = true
		close(pin.ch)
	}
	return 0, nil
}

// fakeBus serves scripted clock-bus samples.
type fakeBus struct {
	samples [][2]uint16
	i       int
	acks    int
}

func (bus *fakeBus) Sample() (uint16, uint16, error) {
	s := bus.samples[bus.i%len(bus.samples)]
	bus.i++
	return s[0], s[1], nil
}

func (bus *fakeBus) Ack() error {
	bus.acks++
	return nil
}

// feed serves one scripted byte stream per capture, through the real
// synchronizer.
type feed struct {
	streams []string
	i       int
}

func (f *feed) Open() (io.ReadCloser, error) {
	if f.i >= len(f.streams) {
		return nil, fmt.Errorf("no signal")
	}
	s := f.streams[f.i]
	f.i++
	return io.NopCloser(strings.NewReader(s)), nil
}

// fakeRec is an in-memory Recorder.
type fakeRec struct {
	buf    bytes.Buffer
	n      int
	opened bool
	closes int

	failWrite error
}

func (rec *fakeRec) OpenNew() (string, error) {
	if rec.opened {
		return "", fmt.Errorf("file still open")
	}
	name := fmt.Sprintf("F%d.txt", rec.n)
	rec.n++
	rec.opened = true
	return name, nil
}

func (rec *fakeRec) Write(p []byte) (int, error) {
	if rec.failWrite != nil {
		return 0, rec.failWrite
	}
	return rec.buf.Write(p)
}

func (rec *fakeRec) WriteRecord(h1, h2 uint16) error {
	if rec.failWrite != nil {
		return rec.failWrite
	}
	rec.buf.WriteString(hexrec.Record(h1, h2))
	rec.buf.WriteByte('\n')
	return nil
}

func (rec *fakeRec) Close() error {
	if rec.opened {
		rec.opened = false
		rec.closes++
	}
	return nil
}

// sentence builds a 62-byte reference sentence with a recognizable
// payload tag.
func sentence(tag byte) string {
	s := gps.Sentinel + ",123519.00,A,"
	for len(s) < gps.SentenceLen {
		s += string(tag)
	}
	return s
}

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		st   State
		want string
	}{
		{WaitAlign, "WAIT_ALIGN"},
		{RunOpen, "RUN_OPEN"},
		{SampleLoop, "SAMPLE_LOOP"},
		{Stopped, "STOPPED"},
		{State(42), "State(42)"},
	} {
		if got := tc.st.String(); got != tc.want {
			t.Errorf("invalid state string: got=%q, want=%q", got, tc.want)
		}
	}
}

func TestStepWaitAlign(t *testing.T) {
	align := &seqPin{vals: []int{0, 100, 511, 600}}
	dev := New(align, &seqPin{vals: []int{0}}, &seqPin{vals: []int{0}},
		&fakeBus{samples: [][2]uint16{{0, 0}}},
		gps.New(&feed{}, nil),
		&fakeRec{}, nil,
		WithPollInterval(0),
	)

	err := dev.Step(context.Background())
	if err != nil {
		t.Fatalf("could not step: %+v", err)
	}
	if dev.State() != RunOpen {
		t.Fatalf("invalid state: got=%v, want=%v", dev.State(), RunOpen)
	}
	// 511 does not exceed the default threshold of 512.
	if align.i != 4 {
		t.Fatalf("invalid align poll count: got=%d, want=4", align.i)
	}
}

func TestRunScenarioStop(t *testing.T) {
	// alignment crossed once, 3 detections, then operator stop.
	var (
		align  = &seqPin{vals: []int{600}}
		detect = &seqPin{vals: []int{600, 600, 600, 0}}
		stop   = &seqPin{vals: []int{600}}
		bus    = &fakeBus{samples: [][2]uint16{
			{0x1a2b, 0x3c4d},
			{0x00a1, 0xff30},
			{0x00a2, 0x015c},
			{0x00a3, 0xbeef},
			{0x5e6f, 0x7a8b},
		}}
		src = &feed{streams: []string{
			"garbage" + sentence('o'),
			sentence('s'),
		}}
		rec  = &fakeRec{}
		runs []RunInfo
	)
	dev := New(align, detect, stop, bus, gps.New(src, nil), rec, nil,
		WithPollInterval(0),
		WithMaxSamples(100),
		WithRunHandler(func(ri RunInfo) { runs = append(runs, ri) }),
	)

	ctx := context.Background()
	for _, want := range []State{RunOpen, SampleLoop, Stopped, WaitAlign} {
		err := dev.Step(ctx)
		if err != nil {
			t.Fatalf("could not step to %v: %+v", want, err)
		}
		if dev.State() != want {
			t.Fatalf("invalid state: got=%v, want=%v", dev.State(), want)
		}
	}

	want := sentence('o') + "1a2b3c4d\n" +
		"00a1ff30\n" +
		"00a2015c\n" +
		"00a3beef\n" +
		sentence('s') + "5e6f7a8b\n"
	if got := rec.buf.String(); got != want {
		t.Fatalf("invalid log content:\ngot= %q\nwant=%q", got, want)
	}
	if rec.closes != 1 {
		t.Fatalf("invalid close count: got=%d, want=1", rec.closes)
	}
	// every sample acknowledged: 2 boundary + 3 detections.
	if bus.acks != 5 {
		t.Fatalf("invalid ack count: got=%d, want=5", bus.acks)
	}

	if len(runs) != 1 {
		t.Fatalf("invalid run count: got=%d, want=1", len(runs))
	}
	ri := runs[0]
	if ri.File != "F0.txt" || ri.Samples != 3 || !ri.Stopped {
		t.Fatalf("invalid run info: %+v", ri)
	}
	if ri.OpenRef != sentence('o') || ri.StopRef != sentence('s') {
		t.Fatalf("invalid run references: %+v", ri)
	}

	// the log decodes back through the grammar package.
	dec := hexrec.NewDecoder(bytes.NewReader(rec.buf.Bytes()))
	var ents []hexrec.Entry
	for {
		var e hexrec.Entry
		err := dec.Decode(&e)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("could not decode log: %+v", err)
		}
		ents = append(ents, e)
	}
	if len(ents) != 5 {
		t.Fatalf("invalid entry count: got=%d, want=5", len(ents))
	}
	if !ents[0].Boundary() || !ents[4].Boundary() {
		t.Fatalf("invalid boundary entries: %+v", ents)
	}
	if ents[1].Boundary() || ents[2].Boundary() || ents[3].Boundary() {
		t.Fatalf("unexpected boundary entries: %+v", ents)
	}
}

func TestRunScenarioExhaust(t *testing.T) {
	// sample budget reached with no stop signal: no trailing boundary
	// sentence.
	var (
		rec  = &fakeRec{}
		runs []RunInfo
	)
	dev := New(
		&seqPin{vals: []int{600}},
		&seqPin{vals: []int{600}},
		&seqPin{vals: []int{0}},
		&fakeBus{samples: [][2]uint16{{0xcafe, 0x0001}}},
		gps.New(&feed{streams: []string{sentence('o')}}, nil),
		rec, nil,
		WithPollInterval(0),
		WithMaxSamples(5),
		WithRunHandler(func(ri RunInfo) { runs = append(runs, ri) }),
	)

	ctx := context.Background()
	for dev.State() != Stopped {
		if err := dev.Step(ctx); err != nil {
			t.Fatalf("could not step: %+v", err)
		}
	}
	if err := dev.Step(ctx); err != nil {
		t.Fatalf("could not step out of %v: %+v", Stopped, err)
	}

	want := sentence('o') + "cafe0001\n" + strings.Repeat("cafe0001\n", 5)
	if got := rec.buf.String(); got != want {
		t.Fatalf("invalid log content:\ngot= %q\nwant=%q", got, want)
	}
	if rec.closes != 1 {
		t.Fatalf("invalid close count: got=%d, want=1", rec.closes)
	}
	if len(runs) != 1 {
		t.Fatalf("invalid run count: got=%d, want=1", len(runs))
	}
	if ri := runs[0]; ri.Samples != 5 || ri.Stopped || ri.StopRef != "" {
		t.Fatalf("invalid run info: %+v", ri)
	}
}

func TestConsecutiveRuns(t *testing.T) {
	// two runs, two files, no reuse.
	var (
		rec  = &fakeRec{}
		runs []RunInfo
	)
	dev := New(
		&seqPin{vals: []int{600}},
		&seqPin{vals: []int{600}},
		&seqPin{vals: []int{0}},
		&fakeBus{samples: [][2]uint16{{1, 2}}},
		gps.New(&feed{streams: []string{sentence('a'), sentence('b')}}, nil),
		rec, nil,
		WithPollInterval(0),
		WithMaxSamples(1),
		WithRunHandler(func(ri RunInfo) { runs = append(runs, ri) }),
	)

	ctx := context.Background()
	for len(runs) < 2 {
		if err := dev.Step(ctx); err != nil {
			t.Fatalf("could not step: %+v", err)
		}
	}
	if runs[0].File != "F0.txt" || runs[1].File != "F1.txt" {
		t.Fatalf("invalid run files: %q, %q", runs[0].File, runs[1].File)
	}
	if rec.closes != 2 {
		t.Fatalf("invalid close count: got=%d, want=2", rec.closes)
	}
}

func TestLoopCancel(t *testing.T) {
	// cancellation while waiting for a detection closes the run file.
	started := make(chan struct{})
	rec := &fakeRec{}
	dev := New(
		&seqPin{vals: []int{600}},
		&notifyPin{ch: started},
		&seqPin{vals: []int{0}},
		&fakeBus{samples: [][2]uint16{{1, 2}}},
		gps.New(&feed{streams: []string{sentence('o')}}, nil),
		rec, nil,
		WithPollInterval(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- dev.Loop(ctx) }()

	<-started
	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("invalid loop error: got=%v, want=%v", err, context.Canceled)
	}
	if rec.closes != 1 {
		t.Fatalf("invalid close count: got=%d, want=1", rec.closes)
	}
}

func TestStoreErrorClosesRun(t *testing.T) {
	boom := fmt.Errorf("EIO")
	rec := &fakeRec{failWrite: boom}
	dev := New(
		&seqPin{vals: []int{600}},
		&seqPin{vals: []int{600}},
		&seqPin{vals: []int{0}},
		&fakeBus{samples: [][2]uint16{{1, 2}}},
		gps.New(&feed{streams: []string{sentence('o')}}, nil),
		rec, nil,
		WithPollInterval(0),
	)

	ctx := context.Background()
	if err := dev.Step(ctx); err != nil { // WaitAlign
		t.Fatalf("could not step: %+v", err)
	}
	err := dev.Step(ctx) // RunOpen: sentence write fails
	if !errors.Is(err, boom) {
		t.Fatalf("invalid error: got=%v, want=%v", err, boom)
	}
	if rec.closes != 1 {
		t.Fatalf("invalid close count: got=%d, want=1", rec.closes)
	}
	if dev.State() != WaitAlign {
		t.Fatalf("invalid state after abort: got=%v, want=%v", dev.State(), WaitAlign)
	}
}
