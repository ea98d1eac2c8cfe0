// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package database is the key-value abstraction the results store is written
// against. Records are only ever inserted, so the interface has no deletes.
package database

import "io"

type KeyValueReader interface {
	// Has retrieves if a key is present in the key-value data store.
	Has(key []byte) (bool, error)

	// Get retrieves the given key if it's present in the key-value data store.
	// Returns ErrNotFound if the key is not present.
	// The returned byte slice is safe to read from and write to.
	Get(key []byte) ([]byte, error)
}

type KeyValueWriter interface {
	// Put inserts the given value into the key-value data store.
	//
	// Note: [key] and [value] are safe to modify and read after calling Put.
	Put(key []byte, value []byte) error
}

type KeyValueReaderWriter interface {
	KeyValueReader
	KeyValueWriter
}

type Database interface {
	KeyValueReaderWriter
	Batcher
	Iteratee
	io.Closer
}
