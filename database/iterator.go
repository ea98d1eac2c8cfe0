// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import "bytes"

var _ Iterator = (*IteratorError)(nil)

// Iterator walks keys in ascending byte order.
type Iterator interface {
	// Next moves the iterator to the next key/value pair. It returns whether
	// the iterator is exhausted.
	Next() bool

	// Error returns any accumulated error. Exhausting all the key/value pairs
	// is not considered to be an error.
	Error() error

	// Key returns the key of the current key/value pair, or nil if done.
	Key() []byte

	// Value returns the value of the current key/value pair, or nil if done.
	Value() []byte

	// Release releases associated resources.
	Release()
}

// Range selects the keys >= Start that begin with Prefix. The zero Range
// selects every key.
type Range struct {
	Start  []byte
	Prefix []byte
}

// Contains reports whether [key] falls in the range.
func (r Range) Contains(key []byte) bool {
	return bytes.Compare(key, r.Start) >= 0 && bytes.HasPrefix(key, r.Prefix)
}

type Iteratee interface {
	NewIterator(r Range) Iterator
}

// IteratorError is an exhausted iterator reporting Err.
type IteratorError struct {
	Err error
}

func (*IteratorError) Next() bool {
	return false
}

func (i *IteratorError) Error() error {
	return i.Err
}

func (*IteratorError) Key() []byte {
	return nil
}

func (*IteratorError) Value() []byte {
	return nil
}

func (*IteratorError) Release() {}
