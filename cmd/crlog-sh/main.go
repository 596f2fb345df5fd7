// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command crlog-sh is an interactive operator console for a telescope
// station.
//
//	$> crlog-sh -cfg /etc/crlog/station.yml
//	crlog> ls
//	F0.txt        1284 bytes
//	F1.txt      402092 bytes
//	crlog> tail F1.txt 3
//	h1=0x00a1 h2=0xff30
//	h1=0x00a2 h2=0x015c
//	h1=0x00a3 h2=0xbeef
//	crlog> stop
//	crlog> quit
package main // import "github.com/crtel/crlog/cmd/crlog-sh"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/crtel/crlog/config"
	"github.com/crtel/crlog/internal/hexrec"
	"github.com/crtel/crlog/runcat"
)

var cmdNames = []string{"help", "ls", "runs", "tail", "stop", "quit"}

func main() {
	var (
		cfgname = flag.String("cfg", "/etc/crlog/station.yml", "path to the station configuration file")
		pidfile = flag.String("pidfile", "/run/crlog-daq.pid", "pid file of the acquisition process")
	)

	log.SetPrefix("crlog-sh: ")
	log.SetFlags(0)

	flag.Parse()

	cfg, err := config.Load(*cfgname)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	sh := &shell{cfg: cfg, pidfile: *pidfile, stdout: os.Stdout}

	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var o []string
		for _, cmd := range cmdNames {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				o = append(o, cmd)
			}
		}
		return o
	})

	history := filepath.Join(os.TempDir(), ".crlog-sh.history")
	if f, err := os.Open(history); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(history)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("crlog> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println()
				return
			}
			log.Fatalf("could not read command: %+v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.exec(strings.Fields(line))
		if err != nil {
			log.Printf("%+v", err)
		}
		if quit {
			return
		}
	}
}

type shell struct {
	cfg     config.Config
	pidfile string
	stdout  io.Writer
}

func (sh *shell) exec(args []string) (quit bool, err error) {
	switch args[0] {
	case "help":
		fmt.Fprintf(sh.stdout, `commands:
  ls              list the station's run files
  runs [N]        show the N most recent catalog entries (default 10)
  tail FILE [N]   display the last N samples of a run file (default 10)
  stop            deliver the operator stop to the acquisition process
  quit            exit
`)
	case "ls":
		err = sh.ls()
	case "runs":
		err = sh.runs(args[1:])
	case "tail":
		err = sh.tail(args[1:])
	case "stop":
		err = sh.stop()
	case "quit", "exit":
		quit = true
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", args[0])
	}
	return quit, err
}

func (sh *shell) ls() error {
	glob := filepath.Join(sh.cfg.DataDir, "F*.txt")
	files, err := filepath.Glob(glob)
	if err != nil {
		return fmt.Errorf("could not glob %q: %w", glob, err)
	}
	sort.Strings(files)
	for _, fname := range files {
		fi, err := os.Stat(fname)
		if err != nil {
			return fmt.Errorf("could not stat %q: %w", fname, err)
		}
		fmt.Fprintf(sh.stdout, "%-10s %10d bytes\n", filepath.Base(fname), fi.Size())
	}
	return nil
}

func (sh *shell) runs(args []string) error {
	if sh.cfg.Catalog.DSN == "" {
		return fmt.Errorf("no run catalog configured for station %q", sh.cfg.Station)
	}
	max := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid run count %q: %w", args[0], err)
		}
		max = v
	}

	db, err := runcat.Open(sh.cfg.Catalog.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Runs(context.Background(), sh.cfg.Station, max)
	if err != nil {
		return err
	}
	for _, run := range runs {
		end := "exhausted"
		if run.Stopped {
			end = "stopped"
		}
		fmt.Fprintf(sh.stdout, "%-10s %6d samples  %s  %s\n",
			run.File, run.Samples,
			run.Start.Format("2006-01-02 15:04:05"), end,
		)
	}
	return nil
}

func (sh *shell) tail(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing run file name")
	}
	n := 10
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid sample count %q: %w", args[1], err)
		}
		n = v
	}

	fname := filepath.Join(sh.cfg.DataDir, filepath.Base(args[0]))
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	var (
		dec  = hexrec.NewDecoder(f)
		ents []hexrec.Entry
	)
	for {
		var e hexrec.Entry
		err := dec.Decode(&e)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("could not decode %q: %w", fname, err)
		}
		ents = append(ents, e)
		if len(ents) > n {
			ents = ents[1:]
		}
	}
	for _, e := range ents {
		if e.Boundary() {
			fmt.Fprintf(sh.stdout, "--- %s\n", e.Ref)
		}
		fmt.Fprintf(sh.stdout, "h1=0x%04x h2=0x%04x\n", e.H1, e.H2)
	}
	return nil
}

// stop delivers SIGUSR1 to the acquisition process: the current run
// closes out with its boundary sentence and a new one is armed.
func (sh *shell) stop() error {
	raw, err := os.ReadFile(sh.pidfile)
	if err != nil {
		return fmt.Errorf("could not read pid file %q: %w", sh.pidfile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("could not parse pid file %q: %w", sh.pidfile, err)
	}
	err = syscall.Kill(pid, syscall.SIGUSR1)
	if err != nil {
		return fmt.Errorf("could not signal pid %d: %w", pid, err)
	}
	fmt.Fprintf(sh.stdout, "stop delivered to pid %d\n", pid)
	return nil
}
