// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runcat records completed acquisition runs in the station's
// run-catalog database.
//
// The catalog is best-effort bookkeeping: the log files on the storage
// device remain the source of truth, and callers are expected to log
// and ignore catalog failures rather than stall acquisition on them.
package runcat // import "github.com/crtel/crlog/runcat"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var drvName = "mysql"

// Run is one catalog row, describing one completed run.
type Run struct {
	ID      int64
	Station string
	File    string
	Samples int
	Start   time.Time
	End     time.Time
	OpenRef string
	StopRef string // empty when the run ended on sample exhaustion
	Stopped bool
}

// DB is a connection to the run-catalog database.
type DB struct {
	db *sql.DB
}

// Open opens a connection to the run catalog at the given DSN, e.g.
// "crtel:s3cr3t@tcp(dbhost)/runcat".
func Open(dsn string) (*DB, error) {
	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("runcat: could not open run catalog: %w", err)
	}

	err = ping(db)
	if err != nil {
		return nil, fmt.Errorf("runcat: could not ping run catalog: %w", err)
	}

	return &DB{db: db}, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}

// InsertRun adds one completed run to the catalog.
func (db *DB) InsertRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`INSERT INTO runs (station, file, samples, start, end, openref, stopref, stopped)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Station, run.File, run.Samples,
		run.Start, run.End,
		run.OpenRef, run.StopRef, run.Stopped,
	)
	if err != nil {
		return fmt.Errorf("runcat: could not insert run %q: %w", run.File, err)
	}

	return nil
}

// LastRun retrieves the most recent run recorded for the station.
func (db *DB) LastRun(ctx context.Context, station string) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run Run
	rows, err := db.db.QueryContext(
		ctx,
		`SELECT id, station, file, samples, start, end, openref, stopref, stopped
FROM runs WHERE station=? ORDER BY id DESC LIMIT 1`,
		station,
	)
	if err != nil {
		return run, fmt.Errorf("runcat: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(
			&run.ID, &run.Station, &run.File, &run.Samples,
			&run.Start, &run.End,
			&run.OpenRef, &run.StopRef, &run.Stopped,
		)
		if err != nil {
			return run, fmt.Errorf("runcat: could not scan last run: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("runcat: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("runcat: context error while retrieving last run: %w", err)
	}

	return run, nil
}

// Runs retrieves the catalog rows of the station, most recent first,
// up to max rows (max <= 0 means no limit).
func (db *DB) Runs(ctx context.Context, station string, max int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT id, station, file, samples, start, end, openref, stopref, stopped
FROM runs WHERE station=? ORDER BY id DESC`
	args := []interface{}{station}
	if max > 0 {
		query += " LIMIT ?"
		args = append(args, max)
	}

	var runs []Run
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("runcat: could not query runs: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var run Run
		err = rows.Scan(
			&run.ID, &run.Station, &run.File, &run.Samples,
			&run.Start, &run.End,
			&run.OpenRef, &run.StopRef, &run.Stopped,
		)
		if err != nil {
			return runs, fmt.Errorf("runcat: could not scan run row %d: %w", i, err)
		}
		i++

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("runcat: could not scan db for runs: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return runs, fmt.Errorf("runcat: context error while retrieving runs: %w", err)
	}

	return runs, nil
}
