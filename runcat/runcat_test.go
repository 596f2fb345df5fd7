// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package runcat

import (
	"context"
	"database/sql/driver"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/crtel/crlog/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open run catalog: %+v", err)
	}
	defer db.Close()
}

func TestInsertRun(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open run catalog: %+v", err)
	}
	defer db.Close()

	var (
		start = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
		end   = start.Add(42 * time.Minute)
	)

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.InsertRun(ctx, Run{
			Station: "crtel-1",
			File:    "F3.txt",
			Samples: 128,
			Start:   start,
			End:     end,
			OpenRef: "$GPRMC,092653.00,A",
			Stopped: true,
		})
		if err != nil {
			t.Fatalf("could not insert run: %+v", err)
		}

		stmts := fakedb.Stmts()
		if len(stmts) != 1 {
			t.Fatalf("invalid statement count: got=%d, want=1", len(stmts))
		}
		if !strings.HasPrefix(stmts[0].Query, "INSERT INTO runs") {
			t.Fatalf("invalid statement: %q", stmts[0].Query)
		}
		want := []driver.Value{
			"crtel-1", "F3.txt", int64(128),
			start, end,
			"$GPRMC,092653.00,A", "", true,
		}
		if got := stmts[0].Args; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid statement args:\ngot= %v\nwant=%v", got, want)
		}
		return nil
	})
}

func TestLastRun(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open run catalog: %+v", err)
	}
	defer db.Close()

	var (
		start = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
		end   = start.Add(10 * time.Minute)
	)

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"id", "station", "file", "samples", "start", "end", "openref", "stopref", "stopped"},
		Values: [][]driver.Value{
			{int64(7), "crtel-1", "F6.txt", int64(5000), start, end, "$GPRMC,a", "", false},
		},
	}, func(ctx context.Context) error {
		run, err := db.LastRun(ctx, "crtel-1")
		if err != nil {
			t.Fatalf("could not retrieve last run: %+v", err)
		}

		want := Run{
			ID:      7,
			Station: "crtel-1",
			File:    "F6.txt",
			Samples: 5000,
			Start:   start,
			End:     end,
			OpenRef: "$GPRMC,a",
		}
		if !reflect.DeepEqual(run, want) {
			t.Fatalf("invalid last run:\ngot= %+v\nwant=%+v", run, want)
		}
		return nil
	})
}

func TestRuns(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open run catalog: %+v", err)
	}
	defer db.Close()

	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"id", "station", "file", "samples", "start", "end", "openref", "stopref", "stopped"},
		Values: [][]driver.Value{
			{int64(2), "crtel-1", "F1.txt", int64(3), start, start, "$GPRMC,b", "$GPRMC,c", true},
			{int64(1), "crtel-1", "F0.txt", int64(9), start, start, "$GPRMC,a", "", false},
		},
	}, func(ctx context.Context) error {
		runs, err := db.Runs(ctx, "crtel-1", 10)
		if err != nil {
			t.Fatalf("could not retrieve runs: %+v", err)
		}

		if len(runs) != 2 {
			t.Fatalf("invalid run count: got=%d, want=2", len(runs))
		}
		if runs[0].File != "F1.txt" || runs[1].File != "F0.txt" {
			t.Fatalf("invalid run files: %q, %q", runs[0].File, runs[1].File)
		}
		if !runs[0].Stopped || runs[0].StopRef != "$GPRMC,c" {
			t.Fatalf("invalid stopped run: %+v", runs[0])
		}
		return nil
	})
}
