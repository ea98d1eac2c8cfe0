// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import "slices"

// Batch buffers writes until Write applies them atomically.
type Batch interface {
	KeyValueWriter

	// Size is the number of key and value bytes queued so far.
	Size() int

	// Write flushes any accumulated data to disk.
	Write() error
}

type Batcher interface {
	NewBatch() Batch
}

type Put struct {
	Key   []byte
	Value []byte
}

// Puts records the writes of a batch so that backends only implement Write.
type Puts struct {
	Ops  []Put
	size int
}

func (p *Puts) Put(key, value []byte) error {
	p.Ops = append(p.Ops, Put{
		Key:   slices.Clone(key),
		Value: slices.Clone(value),
	})
	p.size += len(key) + len(value)
	return nil
}

func (p *Puts) Size() int {
	return p.size
}
