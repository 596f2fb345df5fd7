// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestList(t *testing.T) {
	tmp := t.TempDir()
	for fname, data := range map[string]string{
		"F0.txt":    "0123456789",
		"F1.txt":    "01234",
		"other.log": "ignored",
	} {
		err := os.WriteFile(filepath.Join(tmp, fname), []byte(data), 0644)
		if err != nil {
			t.Fatalf("could not create %q: %+v", fname, err)
		}
	}

	mon := newMonitor(tmp, time.Second)
	table, err := mon.list(tmp)
	if err != nil {
		t.Fatalf("could not list run files: %+v", err)
	}

	want := map[string]int64{
		filepath.Join(tmp, "F0.txt"): 10,
		filepath.Join(tmp, "F1.txt"): 5,
	}
	if !reflect.DeepEqual(table, want) {
		t.Fatalf("invalid run file table:\ngot= %v\nwant=%v", table, want)
	}
}

func TestActive(t *testing.T) {
	for _, tc := range []struct {
		table map[string]int64
		want  string
	}{
		{
			table: map[string]int64{},
			want:  "",
		},
		{
			table: map[string]int64{"F0.txt": 1},
			want:  "F0.txt",
		},
		{
			// F10 outranks F9 numerically, not lexically.
			table: map[string]int64{"F9.txt": 1, "F10.txt": 1},
			want:  "F10.txt",
		},
		{
			table: map[string]int64{"junk.txt": 1, "F2.txt": 1},
			want:  "F2.txt",
		},
	} {
		if got := active(tc.table); got != tc.want {
			t.Errorf("invalid active file: got=%q, want=%q (table=%v)", got, tc.want, tc.table)
		}
	}
}

func TestCompare(t *testing.T) {
	mon := newMonitor("/data", time.Second)
	// neutralize mail delivery.
	alertMailUsr = ""

	for _, tc := range []struct {
		name string
		ref  map[string]int64
		chk  map[string]int64
		want map[string]int
	}{
		{
			name: "growing",
			ref:  map[string]int64{"F1.txt": 10},
			chk:  map[string]int64{"F1.txt": 20},
			want: map[string]int{},
		},
		{
			name: "stalled",
			ref:  map[string]int64{"F1.txt": 10},
			chk:  map[string]int64{"F1.txt": 10},
			want: map[string]int{"F1.txt": 1},
		},
		{
			name: "stalled-old-run-ignored",
			ref:  map[string]int64{"F0.txt": 10, "F1.txt": 10},
			chk:  map[string]int64{"F0.txt": 10, "F1.txt": 20},
			want: map[string]int{},
		},
		{
			name: "new-file",
			ref:  map[string]int64{},
			chk:  map[string]int64{"F0.txt": 10},
			want: map[string]int{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mon.alerts = make(map[string]int)
			mon.compare(tc.ref, tc.chk)
			if !reflect.DeepEqual(mon.alerts, tc.want) {
				t.Fatalf("invalid alerts:\ngot= %v\nwant=%v", mon.alerts, tc.want)
			}
		})
	}
}
