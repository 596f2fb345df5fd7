// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command crlog-watch monitors the telescope run files and raises mail
// alerts when acquisition stalls.
//
// The logger deliberately hangs rather than degrade its data (absent
// reference signal, dead storage card), so the only outward symptom of
// trouble is a run file that stops growing. crlog-watch watches for
// exactly that.
//
// Mail credentials come from the environment: MAIL_USERNAME,
// MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS (comma-separated
// recipients).
package main // import "github.com/crtel/crlog/cmd/crlog-watch"

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		dir  = flag.String("dir", "/data", "directory to monitor")
		freq = flag.Duration("freq", 30*time.Second, "probing interval")
	)

	flag.Parse()

	log.SetPrefix("crlog-watch: ")
	log.SetFlags(0)

	mon := newMonitor(*dir, *freq)
	log.Printf("monitoring %q every %v...", *dir, *freq)
	mon.run()
}

type monitor struct {
	dir    string
	freq   time.Duration
	alerts map[string]int // number of alerts raised per file
}

func newMonitor(dir string, freq time.Duration) *monitor {
	return &monitor{
		dir:    dir,
		freq:   freq,
		alerts: make(map[string]int),
	}
}

func (mon *monitor) run() {
	var (
		tick  = time.NewTicker(mon.freq)
		table = make(map[string]int64)
	)
	defer tick.Stop()

	for range tick.C {
		cur, err := mon.list(mon.dir)
		if err != nil {
			log.Printf("could not list run files: %+v", err)
			continue
		}
		mon.compare(table, cur)
		table = cur
	}
}

func (mon *monitor) list(dir string) (map[string]int64, error) {
	table := make(map[string]int64)
	glob := filepath.Join(dir, "F*.txt")
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("could not glob %q: %w", glob, err)
	}
	for _, fname := range files {
		fi, err := os.Stat(fname)
		if err != nil {
			return nil, fmt.Errorf("could not stat %q: %w", fname, err)
		}
		table[fname] = fi.Size()
	}
	return table, nil
}

// compare alerts on the active run file when it stopped growing.
// Closed files from earlier runs are static by nature: only the run
// file with the highest ordinal is live.
func (mon *monitor) compare(ref, chk map[string]int64) {
	fname := active(chk)
	if fname == "" {
		return
	}
	refsz, ok := ref[fname]
	if !ok {
		// file just appeared. nothing to compare against.
		return
	}
	if refsz == chk[fname] {
		// file didn't grow!
		mon.alert(fname, refsz)
	}
}

// active returns the run file with the highest ordinal.
func active(table map[string]int64) string {
	var (
		fname string
		best  = -1
	)
	for name := range table {
		n, err := ordinalOf(filepath.Base(name))
		if err != nil {
			continue
		}
		if n > best {
			best = n
			fname = name
		}
	}
	return fname
}

func ordinalOf(base string) (int, error) {
	s := strings.TrimSuffix(strings.TrimPrefix(base, "F"), ".txt")
	return strconv.Atoi(s)
}

func (mon *monitor) alert(fname string, size int64) {
	log.Printf("file %q didn't change in the last %v (size=%d bytes)",
		fname, mon.freq, size,
	)
	mon.alerts[fname]++

	const maxAlerts = 5
	if mon.alerts[fname] < maxAlerts {
		mon.alertMail(fname, size)
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func (mon *monitor) alertMail(fname string, size int64) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[crlog-watch] stalled run file: %q", fname))
	msg.SetBody("text/plain", fmt.Sprintf("file: %q\nsize: %d bytes\nfreq: %v",
		fname, size, mon.freq,
	))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
