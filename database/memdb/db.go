// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package memdb keeps result records in memory for dry runs and tests.
package memdb

import (
	"slices"
	"sync"

	"github.com/ava-labs/proxyex/database"
)

// Name is the name of this database for database switches
const Name = "memdb"

var (
	_ database.Database = (*Database)(nil)
	_ database.Batch    = (*memBatch)(nil)
	_ database.Iterator = (*snapshot)(nil)
)

// Database is a sorted in-memory table. Records are never removed, so the
// key index only grows.
type Database struct {
	mu     sync.RWMutex
	closed bool
	values map[string][]byte
	// sorted keys of values
	index []string
}

func New() *Database {
	return &Database{values: make(map[string][]byte)}
}

// read runs [f] under the read lock unless the database is closed.
func (db *Database) read(f func()) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return database.ErrClosed
	}
	f()
	return nil
}

// write runs [f] under the write lock unless the database is closed.
func (db *Database) write(f func()) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return database.ErrClosed
	}
	f()
	return nil
}

// set stores an owned copy of [value]. Callers hold the write lock.
func (db *Database) set(key string, value []byte) {
	if _, ok := db.values[key]; !ok {
		i, _ := slices.BinarySearch(db.index, key)
		db.index = slices.Insert(db.index, i, key)
	}
	db.values[key] = value
}

func (db *Database) Has(key []byte) (bool, error) {
	var ok bool
	err := db.read(func() {
		_, ok = db.values[string(key)]
	})
	return ok, err
}

func (db *Database) Get(key []byte) ([]byte, error) {
	var (
		value []byte
		ok    bool
	)
	if err := db.read(func() {
		value, ok = db.values[string(key)]
	}); err != nil {
		return nil, err
	}
	if !ok {
		return nil, database.ErrNotFound
	}
	return slices.Clone(value), nil
}

func (db *Database) Put(key, value []byte) error {
	owned := slices.Clone(value)
	return db.write(func() {
		db.set(string(key), owned)
	})
}

func (db *Database) NewBatch() database.Batch {
	return &memBatch{db: db}
}

// NewIterator copies the matching records so that later writes are not
// observed.
func (db *Database) NewIterator(r database.Range) database.Iterator {
	s := &snapshot{pos: -1}
	err := db.read(func() {
		from, _ := slices.BinarySearch(db.index, string(r.Start))
		for _, key := range db.index[from:] {
			if !r.Contains([]byte(key)) {
				// keys past the prefix never match again
				if len(r.Prefix) > 0 && key > string(r.Prefix) {
					break
				}
				continue
			}
			s.records = append(s.records, record{
				key:   key,
				value: db.values[key],
			})
		}
	})
	if err != nil {
		return &database.IteratorError{Err: err}
	}
	return s
}

func (db *Database) Close() error {
	return db.write(func() {
		db.closed = true
		db.values = nil
		db.index = nil
	})
}

// memBatch applies its queued puts under a single write lock.
type memBatch struct {
	database.Puts

	db *Database
}

func (b *memBatch) Write() error {
	return b.db.write(func() {
		for _, op := range b.Ops {
			b.db.set(string(op.Key), op.Value)
		}
	})
}

type record struct {
	key   string
	value []byte
}

type snapshot struct {
	records []record
	pos     int
}

func (s *snapshot) Next() bool {
	if s.pos < len(s.records) {
		s.pos++
	}
	return s.pos < len(s.records)
}

func (*snapshot) Error() error {
	return nil
}

func (s *snapshot) current() (record, bool) {
	if s.pos < 0 || s.pos >= len(s.records) {
		return record{}, false
	}
	return s.records[s.pos], true
}

func (s *snapshot) Key() []byte {
	r, ok := s.current()
	if !ok {
		return nil
	}
	return []byte(r.key)
}

func (s *snapshot) Value() []byte {
	r, ok := s.current()
	if !ok {
		return nil
	}
	return slices.Clone(r.value)
}

func (s *snapshot) Release() {
	s.records = nil
}
