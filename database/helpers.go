// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const Uint64Size = 8 // bytes

var ErrWrongSize = errors.New("value has unexpected size")

// PackUInt64 encodes [val] big endian so that keys built from it sort
// numerically.
func PackUInt64(val uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, Uint64Size), val)
}

func PutUInt64(db KeyValueWriter, key []byte, val uint64) error {
	return db.Put(key, PackUInt64(val))
}

func GetUInt64(db KeyValueReader, key []byte) (uint64, error) {
	b, err := db.Get(key)
	if err != nil {
		return 0, err
	}
	if len(b) != Uint64Size {
		return 0, fmt.Errorf("%w: %d bytes at %q", ErrWrongSize, len(b), key)
	}
	return binary.BigEndian.Uint64(b), nil
}

// WithDefault returns the value at [key] in [db]. If the key doesn't exist, it
// returns [def].
func WithDefault[V any](
	get func(KeyValueReader, []byte) (V, error),
	db KeyValueReader,
	key []byte,
	def V,
) (V, error) {
	v, err := get(db, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

// Count returns the number of keys in [db].
func Count(db Iteratee) (int, error) {
	it := db.NewIterator(Range{})
	defer it.Release()

	count := 0
	for it.Next() {
		count++
	}
	return count, it.Error()
}
