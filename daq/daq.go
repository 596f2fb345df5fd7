// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq implements the acquisition controller of the cosmic-ray
// telescope data logger.
//
// The controller is a four-state machine:
//
//	WaitAlign -> RunOpen -> SampleLoop -> Stopped -> WaitAlign -> ...
//
// One pass through the machine is one run, producing one log file.
// The controller sequences the reference synchronizer, the clock-bus
// sampler and the store; those components never call each other.
package daq // import "github.com/crtel/crlog/daq"

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/crtel/crlog/gps"
)

// State is a state of the acquisition controller.
type State uint8

const (
	// WaitAlign polls the alignment input until the reference pulse
	// is present.
	WaitAlign State = iota
	// RunOpen creates the run file and establishes the run's opening
	// time context (reference sentence + boundary sample).
	RunOpen
	// SampleLoop records detection events until the operator stop
	// fires or the sample budget is exhausted.
	SampleLoop
	// Stopped closes out the run; the controller then re-arms.
	Stopped
)

func (st State) String() string {
	switch st {
	case WaitAlign:
		return "WAIT_ALIGN"
	case RunOpen:
		return "RUN_OPEN"
	case SampleLoop:
		return "SAMPLE_LOOP"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// AnalogPin reads one analog input channel.
type AnalogPin interface {
	Read() (int, error)
}

// Sampler assembles one clock-bus sample and acknowledges it.
type Sampler interface {
	Sample() (half1, half2 uint16, err error)
	Ack() error
}

// Capturer captures one reference sentence, writing it to w.
type Capturer interface {
	Capture(w io.Writer) (gps.Sentence, error)
}

// Recorder is the persistence layer of a run. Close must be
// idempotent: the controller closes on every path out of a run,
// including error paths.
type Recorder interface {
	io.Writer
	OpenNew() (string, error)
	WriteRecord(half1, half2 uint16) error
	Close() error
}

// RunInfo summarizes one completed run.
type RunInfo struct {
	File    string
	Samples int // detection samples, run-boundary samples excluded
	Start   time.Time
	End     time.Time
	OpenRef string
	StopRef string // empty on the exhaustion path
	Stopped bool   // operator stop (true) or sample budget exhausted
}

const (
	// DefaultMaxSamples is the per-run detection sample budget.
	DefaultMaxSamples = 5000

	// DefaultThreshold suits a 10-bit ADC with the reference pulse
	// and trigger levels near full scale.
	DefaultThreshold = 512

	// DefaultPoll is the pause between analog polls.
	DefaultPoll = 1 * time.Millisecond
)

// Option configures a Device.
type Option func(*config)

type config struct {
	maxSamples int
	alignThr   int
	detectThr  int
	stopThr    int
	poll       time.Duration
	onRun      func(RunInfo)
}

// WithMaxSamples sets the per-run detection sample budget.
func WithMaxSamples(n int) Option {
	return func(cfg *config) {
		cfg.maxSamples = n
	}
}

// WithAlignThreshold sets the alignment input threshold.
func WithAlignThreshold(v int) Option {
	return func(cfg *config) {
		cfg.alignThr = v
	}
}

// WithDetectThreshold sets the detection input threshold.
func WithDetectThreshold(v int) Option {
	return func(cfg *config) {
		cfg.detectThr = v
	}
}

// WithStopThreshold sets the operator-stop input threshold.
func WithStopThreshold(v int) Option {
	return func(cfg *config) {
		cfg.stopThr = v
	}
}

// WithPollInterval sets the pause between analog polls. Zero spins.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll = d
	}
}

// WithRunHandler registers f to be called with the summary of each
// completed run, from the controller's goroutine.
func WithRunHandler(f func(RunInfo)) Option {
	return func(cfg *config) {
		cfg.onRun = f
	}
}

// Device is the acquisition controller.
type Device struct {
	msg *log.Logger
	cfg config

	align  AnalogPin
	detect AnalogPin
	stop   AnalogPin

	bus  Sampler
	sync Capturer
	sto  Recorder

	state State
	run   RunInfo
}

// New creates an acquisition controller over the given inputs, sampler,
// synchronizer and store.
func New(align, detect, stop AnalogPin, bus Sampler, sync Capturer, sto Recorder, msg *log.Logger, opts ...Option) *Device {
	if msg == nil {
		msg = log.New(io.Discard, "daq: ", 0)
	}
	dev := &Device{
		msg:    msg,
		align:  align,
		detect: detect,
		stop:   stop,
		bus:    bus,
		sync:   sync,
		sto:    sto,
	}
	dev.cfg = config{
		maxSamples: DefaultMaxSamples,
		alignThr:   DefaultThreshold,
		detectThr:  DefaultThreshold,
		stopThr:    DefaultThreshold,
		poll:       DefaultPoll,
	}
	for _, opt := range opts {
		opt(&dev.cfg)
	}
	return dev
}

// State returns the controller's current state.
func (dev *Device) State() State { return dev.state }

// Loop runs the controller until ctx is cancelled. The run in flight
// at cancellation time is closed before Loop returns.
func (dev *Device) Loop(ctx context.Context) error {
	for {
		err := dev.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// Step executes the controller's current state and advances to the
// next one. The run file is closed exactly once on every path out of
// RunOpen and SampleLoop, error paths included.
func (dev *Device) Step(ctx context.Context) error {
	switch dev.state {
	case WaitAlign:
		return dev.stepWaitAlign(ctx)
	case RunOpen:
		return dev.stepRunOpen(ctx)
	case SampleLoop:
		return dev.stepSampleLoop(ctx)
	case Stopped:
		return dev.stepStopped()
	}
	return fmt.Errorf("daq: invalid state %v", dev.state)
}

func (dev *Device) stepWaitAlign(ctx context.Context) error {
	dev.msg.Printf("waiting for reference alignment...")
	err := dev.waitAbove(ctx, dev.align, dev.cfg.alignThr)
	if err != nil {
		return err
	}
	dev.state = RunOpen
	return nil
}

func (dev *Device) stepRunOpen(ctx context.Context) error {
	name, err := dev.sto.OpenNew()
	if err != nil {
		return fmt.Errorf("daq: could not open run file: %w", err)
	}
	dev.run = RunInfo{File: name, Start: time.Now()}

	if err := ctx.Err(); err != nil {
		return dev.abort(err)
	}

	sent, err := dev.sync.Capture(dev.sto)
	if err != nil {
		return dev.abort(fmt.Errorf("daq: could not capture opening reference: %w", err))
	}
	dev.run.OpenRef = sent.String()

	err = dev.sample()
	if err != nil {
		return dev.abort(err)
	}

	dev.msg.Printf("run %q open", name)
	dev.state = SampleLoop
	return nil
}

func (dev *Device) stepSampleLoop(ctx context.Context) error {
	for dev.run.Samples < dev.cfg.maxSamples {
		ev, err := dev.waitEvent(ctx)
		if err != nil {
			return dev.abort(err)
		}
		if ev == evStop {
			return dev.stopRun()
		}

		err = dev.sample()
		if err != nil {
			return dev.abort(err)
		}
		dev.run.Samples++
	}

	// sample budget exhausted: close without a trailing boundary
	// sentence.
	dev.msg.Printf("run %q: sample budget exhausted (%d)", dev.run.File, dev.run.Samples)
	err := dev.sto.Close()
	if err != nil {
		return fmt.Errorf("daq: could not close run file: %w", err)
	}
	dev.run.End = time.Now()
	dev.state = Stopped
	return nil
}

// stopRun handles the operator stop: one final reference capture and
// boundary sample, then close.
func (dev *Device) stopRun() error {
	sent, err := dev.sync.Capture(dev.sto)
	if err != nil {
		return dev.abort(fmt.Errorf("daq: could not capture closing reference: %w", err))
	}
	dev.run.StopRef = sent.String()

	err = dev.sample()
	if err != nil {
		return dev.abort(err)
	}

	err = dev.sto.Close()
	if err != nil {
		return fmt.Errorf("daq: could not close run file: %w", err)
	}
	dev.run.End = time.Now()
	dev.run.Stopped = true
	dev.state = Stopped
	return nil
}

func (dev *Device) stepStopped() error {
	run := dev.run
	dev.msg.Printf("run %q closed: %d samples in %v",
		run.File, run.Samples, run.End.Sub(run.Start).Round(time.Millisecond),
	)
	if dev.cfg.onRun != nil {
		dev.cfg.onRun(run)
	}
	dev.run = RunInfo{}
	dev.state = WaitAlign
	return nil
}

// sample takes one clock-bus sample, commits the record and
// acknowledges the event to the clock board.
func (dev *Device) sample() error {
	h1, h2, err := dev.bus.Sample()
	if err != nil {
		return fmt.Errorf("daq: could not sample clock bus: %w", err)
	}
	err = dev.sto.WriteRecord(h1, h2)
	if err != nil {
		return fmt.Errorf("daq: could not store record: %w", err)
	}
	err = dev.bus.Ack()
	if err != nil {
		return fmt.Errorf("daq: could not acknowledge sample: %w", err)
	}
	return nil
}

// abort closes the run file on an error path out of RunOpen or
// SampleLoop, preserving the close-exactly-once invariant. The
// Recorder's idempotent Close makes this safe whether or not the
// normal close already ran.
func (dev *Device) abort(err error) error {
	cerr := dev.sto.Close()
	if cerr != nil {
		dev.msg.Printf("could not close run file %q: %+v", dev.run.File, cerr)
	}
	dev.state = WaitAlign
	dev.run = RunInfo{}
	return err
}

// waitAbove polls pin until its reading exceeds thr.
func (dev *Device) waitAbove(ctx context.Context, pin AnalogPin, thr int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := pin.Read()
		if err != nil {
			return fmt.Errorf("daq: could not read analog input: %w", err)
		}
		if v > thr {
			return nil
		}
		if dev.cfg.poll > 0 {
			time.Sleep(dev.cfg.poll)
		}
	}
}

type event uint8

const (
	evDetect event = iota
	evStop
)

// waitEvent polls the detection input, checking the operator stop
// input between polls. A detection seen in the same poll as a stop
// wins: the event is already latched in the clock hardware.
func (dev *Device) waitEvent(ctx context.Context) (event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		v, err := dev.detect.Read()
		if err != nil {
			return 0, fmt.Errorf("daq: could not read detection input: %w", err)
		}
		if v > dev.cfg.detectThr {
			return evDetect, nil
		}
		v, err = dev.stop.Read()
		if err != nil {
			return 0, fmt.Errorf("daq: could not read stop input: %w", err)
		}
		if v > dev.cfg.stopThr {
			return evStop, nil
		}
		if dev.cfg.poll > 0 {
			time.Sleep(dev.cfg.poll)
		}
	}
}
