// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store persists detection records and reference sentences to
// the removable storage device.
//
// The storage layer on the telescope is flaky (under-powered cards,
// vibration) but its failures are overwhelmingly transient, and a
// dropped record is worse than inflated dead time: every operation is
// therefore retried until it succeeds. A retry ceiling can be set to
// turn a persistently failing device into an error instead of a hang.
package store // import "github.com/crtel/crlog/store"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/crtel/crlog/internal/hexrec"
)

const (
	// DefaultPrefix and DefaultExt form the run file names:
	// F0.txt, F1.txt, ... The offline tools glob for F*.txt.
	DefaultPrefix = "F"
	DefaultExt    = ".txt"

	// maxBaseName bounds the file base name to the storage device's
	// 8.3 character budget.
	maxBaseName = 8
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the run file name prefix.
func WithPrefix(p string) Option {
	return func(st *Store) { st.prefix = p }
}

// WithExt sets the run file name extension.
func WithExt(ext string) Option {
	return func(st *Store) { st.ext = ext }
}

// WithMaxRetries caps the number of retries per storage operation.
// Zero keeps the default behavior: retry forever.
func WithMaxRetries(n int) Option {
	return func(st *Store) { st.maxRetries = n }
}

// Store owns the active log file. At most one file is open at a time;
// a new run's file may only be opened once the previous one has been
// closed.
type Store struct {
	msg *log.Logger
	dir string

	prefix     string
	ext        string
	maxRetries int // 0: unbounded

	f    io.WriteCloser
	name string
	buf  []byte

	// injection points for tests.
	create func(name string) (io.WriteCloser, error)
	exists func(name string) bool
}

// New creates a store writing run files under dir.
func New(dir string, msg *log.Logger, opts ...Option) *Store {
	if msg == nil {
		msg = log.New(io.Discard, "store: ", 0)
	}
	st := &Store{
		msg:    msg,
		dir:    dir,
		prefix: DefaultPrefix,
		ext:    DefaultExt,
		buf:    make([]byte, 0, hexrec.RecordLen+1),
		create: func(name string) (io.WriteCloser, error) {
			// O_EXCL: name allocation must never overwrite a file
			// created between the existence probe and the open.
			return os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
		},
		exists: func(name string) bool {
			_, err := os.Stat(name)
			return err == nil
		},
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Name returns the base name of the active log file.
func (st *Store) Name() string { return st.name }

// OpenNew creates the next run file, picking the smallest ordinal whose
// name is not already taken. Names are never reused: an existing file
// is never overwritten.
func (st *Store) OpenNew() (string, error) {
	if st.f != nil {
		return "", fmt.Errorf("store: file %q still open", st.name)
	}

names:
	for n := 0; ; n++ {
		base := fmt.Sprintf("%s%d", st.prefix, n)
		if len(base) > maxBaseName {
			return "", fmt.Errorf("store: run file name space exhausted (prefix=%q)", st.prefix)
		}
		name := base + st.ext
		if st.exists(filepath.Join(st.dir, name)) {
			continue
		}

		// the create loop is spelled out instead of using retry:
		// an exclusive-create collision means the ordinal was taken
		// after the existence probe and must be skipped, not retried.
		var f io.WriteCloser
		for try := 0; ; try++ {
			var err error
			f, err = st.create(filepath.Join(st.dir, name))
			if err == nil {
				break
			}
			if errors.Is(err, os.ErrExist) {
				continue names
			}
			if try == 0 {
				st.msg.Printf("could not create %s (retrying): %+v", name, err)
			}
			if st.maxRetries > 0 && try+1 >= st.maxRetries {
				return "", fmt.Errorf("store: could not create %s after %d attempts: %w", name, try+1, err)
			}
		}

		st.f = f
		st.name = name
		st.msg.Printf("opened run file %q", name)
		return name, nil
	}
}

// Write appends p verbatim to the active file, retrying until the
// whole blob is committed. It implements io.Writer so the reference
// synchronizer can store captured sentences directly.
func (st *Store) Write(p []byte) (int, error) {
	err := st.write(p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteRecord appends one detection record line for (h1,h2). The line
// is only issued once both half-words are fully assembled; no partial
// record is ever written.
func (st *Store) WriteRecord(h1, h2 uint16) error {
	st.buf = hexrec.AppendRecord(st.buf[:0], h1, h2)
	st.buf = append(st.buf, '\n')
	return st.write(st.buf)
}

// Close closes the active file, retrying until the storage layer
// acknowledges. Closing is idempotent so every controller exit path
// may call it, but the underlying file is closed exactly once.
func (st *Store) Close() error {
	if st.f == nil {
		return nil
	}
	f, name := st.f, st.name
	st.f = nil
	st.name = ""

	err := st.retry("close "+name, f.Close)
	if err != nil {
		return err
	}
	st.msg.Printf("closed run file %q", name)
	return nil
}

func (st *Store) write(p []byte) error {
	if st.f == nil {
		return fmt.Errorf("store: no open file")
	}
	return st.retry("write to "+st.name, func() error {
		_, err := st.f.Write(p)
		return err
	})
}

// retry re-issues op until it succeeds. Only the first failure is
// logged to keep a struggling card from flooding the console.
func (st *Store) retry(what string, op func() error) error {
	for n := 0; ; n++ {
		err := op()
		if err == nil {
			return nil
		}
		if n == 0 {
			st.msg.Printf("could not %s (retrying): %+v", what, err)
		}
		if st.maxRetries > 0 && n+1 >= st.maxRetries {
			return fmt.Errorf("store: could not %s after %d attempts: %w", what, n+1, err)
		}
	}
}
