// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package prefixdb splits one database into tables. A key k of table "t" is
// stored as "t/k" so that the underlying database stays readable.
package prefixdb

import (
	"bytes"
	"sync/atomic"

	"github.com/ava-labs/proxyex/database"
)

// Separator ends every table name so that no table is a prefix of another.
const Separator = '/'

var (
	_ database.Database = (*Table)(nil)
	_ database.Batch    = (*tableBatch)(nil)
	_ database.Iterator = (*tableIterator)(nil)
)

// Table is one table of an underlying database. Closing a table does not
// close the underlying database.
type Table struct {
	name   []byte
	base   database.Database
	closed atomic.Bool
}

// New returns the table [name] of [db]. Tables of tables are flattened onto
// the innermost database.
func New(name string, db database.Database) *Table {
	t := &Table{
		name: append([]byte(name), Separator),
		base: db,
	}
	if parent, ok := db.(*Table); ok {
		t.name = parent.qualify(t.name)
		t.base = parent.base
	}
	return t
}

// qualify returns a fresh slice holding the table name followed by [key].
func (t *Table) qualify(key []byte) []byte {
	out := make([]byte, 0, len(t.name)+len(key))
	out = append(out, t.name...)
	return append(out, key...)
}

func (t *Table) open() error {
	if t.closed.Load() {
		return database.ErrClosed
	}
	return nil
}

func (t *Table) Has(key []byte) (bool, error) {
	if err := t.open(); err != nil {
		return false, err
	}
	return t.base.Has(t.qualify(key))
}

func (t *Table) Get(key []byte) ([]byte, error) {
	if err := t.open(); err != nil {
		return nil, err
	}
	return t.base.Get(t.qualify(key))
}

func (t *Table) Put(key, value []byte) error {
	if err := t.open(); err != nil {
		return err
	}
	return t.base.Put(t.qualify(key), value)
}

func (t *Table) NewBatch() database.Batch {
	return &tableBatch{table: t}
}

// NewIterator walks the keys of the table in [r], with the table name
// stripped.
func (t *Table) NewIterator(r database.Range) database.Iterator {
	if err := t.open(); err != nil {
		return &database.IteratorError{Err: err}
	}
	return &tableIterator{
		inner: t.base.NewIterator(database.Range{
			Start:  t.qualify(r.Start),
			Prefix: t.qualify(r.Prefix),
		}),
		table: t,
	}
}

func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return database.ErrClosed
	}
	return nil
}

// tableBatch qualifies its keys when it is written.
type tableBatch struct {
	database.Puts

	table *Table
}

func (b *tableBatch) Write() error {
	if err := b.table.open(); err != nil {
		return err
	}
	inner := b.table.base.NewBatch()
	for _, op := range b.Ops {
		if err := inner.Put(b.table.qualify(op.Key), op.Value); err != nil {
			return err
		}
	}
	return inner.Write()
}

type tableIterator struct {
	inner database.Iterator
	table *Table

	key []byte
	err error
}

func (it *tableIterator) Next() bool {
	it.key = nil
	if err := it.table.open(); err != nil {
		it.err = err
		return false
	}
	if !it.inner.Next() {
		return false
	}
	it.key = bytes.TrimPrefix(it.inner.Key(), it.table.name)
	return true
}

func (it *tableIterator) Key() []byte {
	return it.key
}

func (it *tableIterator) Value() []byte {
	if it.key == nil {
		return nil
	}
	return it.inner.Value()
}

func (it *tableIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Error()
}

func (it *tableIterator) Release() {
	it.inner.Release()
}
