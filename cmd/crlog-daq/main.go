// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command crlog-daq drives the telescope data acquisition in
// stand-alone mode.
//
// The acquisition loop runs until interrupted: SIGUSR1 delivers the
// operator stop (the current run closes out with its boundary sentence
// and a new one is armed), SIGINT ends the loop after the run in
// flight has been closed.
package main // import "github.com/crtel/crlog/cmd/crlog-daq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/crtel/crlog/clockbus"
	"github.com/crtel/crlog/config"
	"github.com/crtel/crlog/daq"
	"github.com/crtel/crlog/gps"
	"github.com/crtel/crlog/internal/adc"
	"github.com/crtel/crlog/runcat"
	"github.com/crtel/crlog/store"
)

func main() {
	var (
		cfgname = flag.String("cfg", "/etc/crlog/station.yml", "path to the station configuration file")
		odir    = flag.String("o", "", "output dir (overrides the station configuration)")
		nmax    = flag.Int("n", 0, "per-run sample budget (overrides the station configuration)")
		pidfile = flag.String("pidfile", "/run/crlog-daq.pid", "path to the pid file ('' disables)")
	)

	log.SetPrefix("crlog-daq: ")
	log.SetFlags(0)

	flag.Parse()

	cfg, err := config.Load(*cfgname)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	if *odir != "" {
		cfg.DataDir = *odir
	}
	if *nmax > 0 {
		cfg.Run.MaxSamples = *nmax
	}

	err = run(cfg, *pidfile)
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

func run(cfg config.Config, pidfile string) error {
	if pidfile != "" {
		err := os.WriteFile(pidfile, []byte(strconv.Itoa(os.Getpid())), 0644)
		if err != nil {
			return fmt.Errorf("could not write pid file %q: %w", pidfile, err)
		}
		defer os.Remove(pidfile)
	}

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
		return fmt.Errorf("could not open clock-bus lines: %w", err)
	}
	defer lines.Close()

	bus := clockbus.New(
		lines.Data, lines.Sel0, lines.Sel1, lines.Clear,
		log.New(os.Stdout, "clockbus: ", 0),
		clockbus.WithSettle(cfg.Clock.Settle.Std()),
		clockbus.WithAckPulse(cfg.Clock.AckPulse.Std()),
	)

	var pins [3]*adc.Channel
	for i, name := range []string{cfg.ADC.Align, cfg.ADC.Detect, cfg.ADC.Stop} {
		ch, err := adc.Open(name)
		if err != nil {
			return fmt.Errorf("could not open analog input: %w", err)
		}
		defer ch.Close()
		pins[i] = ch
	}

	sync := gps.New(
		&gps.Port{Device: cfg.GPS.Device, Baud: cfg.GPS.Baud},
		log.New(os.Stdout, "gps: ", 0),
	)

	sto := store.New(cfg.DataDir, log.New(os.Stdout, "store: ", 0),
		store.WithMaxRetries(cfg.Run.MaxRetries),
	)

	onRun := func(ri daq.RunInfo) {}
	if cfg.Catalog.DSN != "" {
		db, err := runcat.Open(cfg.Catalog.DSN)
		if err != nil {
			// best effort: the log files are the source of truth.
			log.Printf("could not open run catalog: %+v", err)
		} else {
			defer db.Close()
			onRun = catalog(db, cfg.Station)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGUSR1)
	defer signal.Stop(stop)

	dev := daq.New(
		pins[0], pins[1], &stopPin{hw: pins[2], sig: stop},
		bus, sync, sto,
		log.New(os.Stdout, "daq: ", 0),
		daq.WithMaxSamples(cfg.Run.MaxSamples),
		daq.WithAlignThreshold(cfg.ADC.AlignThreshold),
		daq.WithDetectThreshold(cfg.ADC.DetectThreshold),
		daq.WithStopThreshold(cfg.ADC.StopThreshold),
		daq.WithPollInterval(cfg.Run.Poll.Std()),
		daq.WithRunHandler(onRun),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var grp errgroup.Group
	grp.Go(func() error {
		err := dev.Loop(ctx)
		if errors.Is(err, context.Canceled) {
			log.Printf("acquisition interrupted")
			return nil
		}
		return err
	})

	log.Printf("station %q acquiring to %q", cfg.Station, cfg.DataDir)
	return grp.Wait()
}

// catalog returns a run handler recording completed runs in the
// catalog database. Failures are logged, never propagated: catalog
// bookkeeping must not stall acquisition.
func catalog(db *runcat.DB, station string) func(daq.RunInfo) {
	return func(ri daq.RunInfo) {
		err := db.InsertRun(context.Background(), runcat.Run{
			Station: station,
			File:    ri.File,
			Samples: ri.Samples,
			Start:   ri.Start,
			End:     ri.End,
			OpenRef: ri.OpenRef,
			StopRef: ri.StopRef,
			Stopped: ri.Stopped,
		})
		if err != nil {
			log.Printf("could not catalog run %q: %+v", ri.File, err)
		}
	}
}

// stopPin merges the hardware stop input with the SIGUSR1 software
// stop. A latched signal is delivered exactly once: it stops the
// current run, not every run after it.
type stopPin struct {
	hw  daq.AnalogPin
	sig chan os.Signal
}

func (pin *stopPin) Read() (int, error) {
	select {
	case <-pin.sig:
		return softStopLevel, nil
	default:
	}
	return pin.hw.Read()
}

// softStopLevel exceeds any configurable stop threshold.
const softStopLevel = 1 << 16
