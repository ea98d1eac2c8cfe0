// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package leveldb

import (
	"bytes"
	"errors"
	"slices"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/database"
	"github.com/ava-labs/proxyex/utils/logging"

	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
)

const (
	// Name is the name of this database for database switches
	Name = "leveldb"

	// DefaultBlockCacheSize is the number of bytes to use for block caching in
	// leveldb.
	DefaultBlockCacheSize = 12 * opt.MiB

	// DefaultWriteBufferSize is the number of bytes to use for buffers in
	// leveldb.
	DefaultWriteBufferSize = 12 * opt.MiB

	// DefaultHandleCap is the number of files descriptors to cap levelDB to
	// use.
	DefaultHandleCap = 64

	// DefaultBitsPerKey is the number of bits to add to the bloom filter per
	// key.
	DefaultBitsPerKey = 10
)

var (
	_ database.Database = (*Database)(nil)
	_ database.Batch    = (*batch)(nil)
	_ database.Iterator = (*iter)(nil)
)

// Database is a persistent key-value store backed by goleveldb.
type Database struct {
	db  *leveldb.DB
	log logging.Logger

	// lock guards closed against concurrent Close calls.
	lock   sync.RWMutex
	closed bool
}

// New returns a wrapped LevelDB object. Zero sizes fall back to the defaults.
func New(file string, log logging.Logger, blockCacheSize, writeBufferSize, handleCap int) (*Database, error) {
	if blockCacheSize <= 0 {
		blockCacheSize = DefaultBlockCacheSize
	}
	if writeBufferSize <= 0 {
		writeBufferSize = DefaultWriteBufferSize
	}
	if handleCap <= 0 {
		handleCap = DefaultHandleCap
	}

	options := &opt.Options{
		BlockCacheCapacity:     blockCacheSize,
		OpenFilesCacheCapacity: handleCap,
		WriteBuffer:            writeBufferSize / 2,
		Filter:                 filter.NewBloomFilter(DefaultBitsPerKey),
	}
	db, err := leveldb.OpenFile(file, options)
	if lerrors.IsCorrupted(err) {
		log.Warn("recovering corrupted leveldb",
			zap.String("path", file),
			zap.Error(err),
		)
		db, err = leveldb.RecoverFile(file, options)
	}
	if err != nil {
		return nil, err
	}
	return &Database{
		db:  db,
		log: log,
	}, nil
}

func (db *Database) isClosed() bool {
	db.lock.RLock()
	defer db.lock.RUnlock()

	return db.closed
}

func (db *Database) Has(key []byte) (bool, error) {
	if db.isClosed() {
		return false, database.ErrClosed
	}
	has, err := db.db.Has(key, nil)
	return has, updateError(err)
}

func (db *Database) Get(key []byte) ([]byte, error) {
	if db.isClosed() {
		return nil, database.ErrClosed
	}
	value, err := db.db.Get(key, nil)
	return value, updateError(err)
}

func (db *Database) Put(key []byte, value []byte) error {
	if db.isClosed() {
		return database.ErrClosed
	}
	return updateError(db.db.Put(key, value, nil))
}

func (db *Database) NewBatch() database.Batch {
	return &batch{db: db}
}

func (db *Database) NewIterator(r database.Range) database.Iterator {
	if db.isClosed() {
		return &database.IteratorError{
			Err: database.ErrClosed,
		}
	}

	keyRange := util.BytesPrefix(r.Prefix)
	if bytes.Compare(r.Start, keyRange.Start) > 0 {
		keyRange.Start = r.Start
	}
	return &iter{
		db:       db,
		Iterator: db.db.NewIterator(keyRange, nil),
	}
}

func (db *Database) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return database.ErrClosed
	}
	db.closed = true
	return updateError(db.db.Close())
}

type batch struct {
	database.Puts

	db *Database
}

func (b *batch) Write() error {
	if b.db.isClosed() {
		return database.ErrClosed
	}

	var lb leveldb.Batch
	for _, op := range b.Ops {
		lb.Put(op.Key, op.Value)
	}
	return updateError(b.db.db.Write(&lb, nil))
}

type iter struct {
	db *Database
	iterator.Iterator

	key, val []byte
	err      error
}

func (it *iter) Next() bool {
	if it.db.isClosed() {
		it.key = nil
		it.val = nil
		it.err = database.ErrClosed
		return false
	}

	hasNext := it.Iterator.Next()
	if hasNext {
		it.key = slices.Clone(it.Iterator.Key())
		it.val = slices.Clone(it.Iterator.Value())
	} else {
		it.key = nil
		it.val = nil
	}
	return hasNext
}

func (it *iter) Error() error {
	if it.err != nil {
		return it.err
	}
	return updateError(it.Iterator.Error())
}

func (it *iter) Key() []byte {
	return it.key
}

func (it *iter) Value() []byte {
	return it.val
}

func updateError(err error) error {
	switch {
	case errors.Is(err, leveldb.ErrClosed):
		return database.ErrClosed
	case errors.Is(err, leveldb.ErrNotFound):
		return database.ErrNotFound
	default:
		return err
	}
}
