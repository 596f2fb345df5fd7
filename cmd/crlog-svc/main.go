// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command crlog-svc exposes the telescope acquisition as a TDAQ
// process, so a station can be driven from a run-control deck.
//
// The service is control plane only: detection data never leaves the
// storage device, run control merely sequences acquisition.
//
// Usage: crlog-svc [TDAQ-OPTIONS] [path/to/station.yml]
package main // import "github.com/crtel/crlog/cmd/crlog-svc"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/crtel/crlog/clockbus"
	"github.com/crtel/crlog/config"
	"github.com/crtel/crlog/daq"
	"github.com/crtel/crlog/gps"
	"github.com/crtel/crlog/internal/adc"
	"github.com/crtel/crlog/store"
)

func main() {
	cmd := flags.New()

	cfgname := "/etc/crlog/station.yml"
	if len(cmd.Args) > 0 {
		cfgname = cmd.Args[0]
	}

	svc := newServer(cfgname, log.New(os.Stdout, "crlog-svc: ", 0))

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", svc.OnConfig)
	srv.CmdHandle("/init", svc.OnInit)
	srv.CmdHandle("/reset", svc.OnReset)
	srv.CmdHandle("/start", svc.OnStart)
	srv.CmdHandle("/stop", svc.OnStop)
	srv.CmdHandle("/quit", svc.OnQuit)

	srv.RunHandle(svc.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// stopGrace bounds how long /stop waits for the run in flight to close
// out with its boundary sentence before the loop is torn down. A close
// waits on a reference capture from a 4800 baud feed, so the grace is
// generous.
var stopGrace = 10 * time.Second

type server struct {
	msg     *log.Logger
	cfgname string
	cfg     config.Config

	dev     *daq.Device
	closers []io.Closer

	stop   chan struct{} // soft operator stop, one run at a time
	runEnd chan struct{} // signaled at each run close

	mu   sync.Mutex         // guards halt, shared with the controller goroutine
	halt context.CancelFunc // set while a /stop waits on the run in flight
}

func newServer(cfgname string, msg *log.Logger) *server {
	if msg == nil {
		msg = log.New(io.Discard, "crlog-svc: ", 0)
	}
	return &server{
		msg:     msg,
		cfgname: cfgname,
		stop:    make(chan struct{}, 1),
		runEnd:  make(chan struct{}, 1),
	}
}

func (svc *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg, err := config.Load(svc.cfgname)
	if err != nil {
		ctx.Msg.Errorf("could not load station config: %+v", err)
		return err
	}
	svc.cfg = cfg
	ctx.Msg.Infof("configured station %q (data dir %q)", cfg.Station, cfg.DataDir)
	return nil
}

func (svc *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	err := svc.release()
	if err != nil {
		return err
	}

	cfg := svc.cfg

	var data [8]int
	copy(data[:], cfg.Clock.Data)
	lines, err := clockbus.OpenLines(clockbus.Pinout{
		Chip:  cfg.Clock.Chip,
		Data:  data,
		Sel0:  cfg.Clock.Sel0,
		Sel1:  cfg.Clock.Sel1,
		Clear: cfg.Clock.Clear,
	})
	if err != nil {
		ctx.Msg.Errorf("could not open clock-bus lines: %+v", err)
		return fmt.Errorf("could not open clock-bus lines: %w", err)
	}
	svc.closers = append(svc.closers, lines)

	bus := clockbus.New(
		lines.Data, lines.Sel0, lines.Sel1, lines.Clear,
		log.New(os.Stdout, "clockbus: ", 0),
		clockbus.WithSettle(cfg.Clock.Settle.Std()),
		clockbus.WithAckPulse(cfg.Clock.AckPulse.Std()),
	)

	var pins [3]daq.AnalogPin
	for i, name := range []string{cfg.ADC.Align, cfg.ADC.Detect, cfg.ADC.Stop} {
		ch, err := adc.Open(name)
		if err != nil {
			ctx.Msg.Errorf("could not open analog input: %+v", err)
			return fmt.Errorf("could not open analog input: %w", err)
		}
		svc.closers = append(svc.closers, ch)
		pins[i] = ch
	}

	svc.dev = daq.New(
		pins[0], pins[1], &stopPin{hw: pins[2], soft: svc.stop},
		bus,
		gps.New(&gps.Port{Device: cfg.GPS.Device, Baud: cfg.GPS.Baud}, log.New(os.Stdout, "gps: ", 0)),
		store.New(cfg.DataDir, log.New(os.Stdout, "store: ", 0),
			store.WithMaxRetries(cfg.Run.MaxRetries),
		),
		log.New(os.Stdout, "daq: ", 0),
		daq.WithMaxSamples(cfg.Run.MaxSamples),
		daq.WithAlignThreshold(cfg.ADC.AlignThreshold),
		daq.WithDetectThreshold(cfg.ADC.DetectThreshold),
		daq.WithStopThreshold(cfg.ADC.StopThreshold),
		daq.WithPollInterval(cfg.Run.Poll.Std()),
		daq.WithRunHandler(svc.runClosed),
	)
	return nil
}

func (svc *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	return svc.release()
}

func (svc *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if svc.dev == nil {
		return fmt.Errorf("device not initialized")
	}
	return nil
}

// OnStop has nothing left to do: the run context is cancelled and the
// run handler drained before this handler is invoked, so the whole stop
// sequence lives in acquire.
func (svc *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	return nil
}

func (svc *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return svc.release()
}

// run is the TDAQ run handler. It is launched afresh on every /start
// and its context is cancelled on /stop.
func (svc *server) run(ctx tdaq.Context) error {
	return svc.acquire(ctx.Ctx)
}

// acquire hosts the acquisition loop for one /start -> /stop cycle.
// The loop runs on its own context, deliberately not derived from ctx:
// a /stop must first reach the device as a soft stop so the run in
// flight closes out with its boundary sentence, and only then end the
// loop.
func (svc *server) acquire(ctx context.Context) error {
	if svc.dev == nil {
		return fmt.Errorf("device not initialized")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.dev.Loop(loopCtx) }()

	select {
	case err := <-done:
		return svc.finish(err)
	case <-ctx.Done():
	}

	// /stop: arm the run-close hook to end the loop, drop a stale
	// run-end token, then deliver the soft stop so the run in flight
	// closes out with its boundary sentence.
	svc.mu.Lock()
	svc.halt = cancel
	svc.mu.Unlock()
	select {
	case <-svc.runEnd:
	default:
	}
	select {
	case svc.stop <- struct{}{}:
	default:
	}

	select {
	case <-svc.runEnd:
	case err := <-done:
		return svc.finish(err)
	case <-time.After(stopGrace):
		svc.msg.Printf("no run closed within %v, aborting the loop", stopGrace)
	}

	cancel()
	return svc.finish(<-done)
}

// finish drains an undelivered soft stop, so it cannot leak into the
// next cycle's first run, and maps the loop's cancellation to a clean
// exit.
func (svc *server) finish(err error) error {
	svc.mu.Lock()
	svc.halt = nil
	svc.mu.Unlock()
	select {
	case <-svc.stop:
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runClosed is the device run handler, called from the controller
// goroutine once the run in flight has closed. Ending the loop here,
// before the controller re-arms, keeps a /stop from opening one more
// run file.
func (svc *server) runClosed(run daq.RunInfo) {
	svc.mu.Lock()
	halt := svc.halt
	svc.halt = nil
	svc.mu.Unlock()
	if halt != nil {
		halt()
	}
	select {
	case svc.runEnd <- struct{}{}:
	default:
	}
}

// release closes the hardware acquired by /init.
func (svc *server) release() error {
	var first error
	for _, c := range svc.closers {
		err := c.Close()
		if err != nil && first == nil {
			first = err
		}
	}
	svc.closers = nil
	svc.dev = nil
	return first
}

// stopPin merges the hardware stop input with the /stop soft stop.
type stopPin struct {
	hw   daq.AnalogPin
	soft chan struct{}
}

func (pin *stopPin) Read() (int, error) {
	select {
	case <-pin.soft:
		return softStopLevel, nil
	default:
	}
	return pin.hw.Read()
}

// softStopLevel exceeds any configurable stop threshold.
const softStopLevel = 1 << 16
