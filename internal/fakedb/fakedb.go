// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory database/sql driver for tests.
//
// One query script is active at a time: Run installs the rows the next
// queries will serve and records every statement executed through the
// driver while f runs.
package fakedb // import "github.com/crtel/crlog/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

var state struct {
	mu    sync.Mutex
	rows  Rows
	stmts []Stmt
}

// Run installs rows as the result of the queries issued while f runs,
// serializing access to the driver's shared state.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.rows = rows
	state.stmts = nil

	return f(ctx)
}

// Stmts returns the statements recorded during the last Run.
func Stmts() []Stmt {
	return state.stmts
}

// Stmt is one recorded statement with its bound arguments.
type Stmt struct {
	Query string
	Args  []driver.Value
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &conn{}, nil
}

type conn struct{}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return &stmt{query: query}, nil
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	panic("not implemented")
}

type stmt struct {
	query string
}

func (st *stmt) Close() error { return nil }

// NumInput returns -1: the driver does not know its placeholder count,
// so database/sql skips the argument-count check.
func (st *stmt) NumInput() int { return -1 }

func (st *stmt) Exec(args []driver.Value) (driver.Result, error) {
	state.stmts = append(state.stmts, Stmt{Query: st.query, Args: args})
	return driver.RowsAffected(1), nil
}

func (st *stmt) Query(args []driver.Value) (driver.Rows, error) {
	state.stmts = append(state.stmts, Stmt{Query: st.query, Args: args})
	return &state.rows, nil
}

// Rows is a scripted query result.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string { return rows.Names }

func (rows *Rows) Close() error { return nil }

func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*conn)(nil)
	_ driver.Stmt   = (*stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
