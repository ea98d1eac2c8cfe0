// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dbtest is a conformance suite for database.Database
// implementations.
package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/proxyex/database"
)

// Tests is a list of all database tests
var Tests = map[string]func(t *testing.T, db database.Database){
	"SimpleKeyValue":       TestSimpleKeyValue,
	"KeyEmptyValue":        TestKeyEmptyValue,
	"Overwrite":            TestOverwrite,
	"SimpleKeyValueClosed": TestSimpleKeyValueClosed,
	"BatchPut":             TestBatchPut,
	"BatchClosed":          TestBatchClosed,
	"Iterator":             TestIterator,
	"IteratorStart":        TestIteratorStart,
	"IteratorStartPrefix":  TestIteratorStartPrefix,
	"IteratorSnapshot":     TestIteratorSnapshot,
	"IteratorClosed":       TestIteratorClosed,
	"MemorySafety":         TestMemorySafety,
	"Counter":              TestCounter,
}

func TestSimpleKeyValue(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("collision/0xabc")
	value := []byte(`{"proxy":"0xabc"}`)

	has, err := db.Has(key)
	require.NoError(err)
	require.False(has)

	_, err = db.Get(key)
	require.ErrorIs(err, database.ErrNotFound)

	require.NoError(db.Put(key, value))

	has, err = db.Has(key)
	require.NoError(err)
	require.True(has)

	v, err := db.Get(key)
	require.NoError(err)
	require.Equal(value, v)
}

func TestKeyEmptyValue(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("hello")
	require.NoError(db.Put(key, nil))

	value, err := db.Get(key)
	require.NoError(err)
	require.Empty(value)
}

func TestOverwrite(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("next")
	require.NoError(db.Put(key, []byte("1")))
	require.NoError(db.Put(key, []byte("2")))

	value, err := db.Get(key)
	require.NoError(err)
	require.Equal([]byte("2"), value)
}

func TestSimpleKeyValueClosed(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")

	require.NoError(db.Put(key, value))
	require.NoError(db.Close())

	_, err := db.Has(key)
	require.ErrorIs(err, database.ErrClosed)

	_, err = db.Get(key)
	require.ErrorIs(err, database.ErrClosed)

	err = db.Put(key, value)
	require.ErrorIs(err, database.ErrClosed)

	err = db.Close()
	require.ErrorIs(err, database.ErrClosed)
}

func TestBatchPut(t *testing.T, db database.Database) {
	require := require.New(t)

	batch := db.NewBatch()
	require.NoError(batch.Put([]byte("a"), []byte("1")))
	require.NoError(batch.Put([]byte("b"), []byte("22")))
	require.Equal(5, batch.Size())

	// nothing is visible before Write
	has, err := db.Has([]byte("a"))
	require.NoError(err)
	require.False(has)

	require.NoError(batch.Write())

	v, err := db.Get([]byte("b"))
	require.NoError(err)
	require.Equal([]byte("22"), v)
}

func TestBatchClosed(t *testing.T, db database.Database) {
	require := require.New(t)

	batch := db.NewBatch()
	require.NoError(batch.Put([]byte("a"), []byte("1")))
	require.NoError(db.Close())

	err := batch.Write()
	require.ErrorIs(err, database.ErrClosed)
}

func collect(it database.Iterator) ([]string, []string, error) {
	defer it.Release()

	var keys, values []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
		values = append(values, string(it.Value()))
	}
	return keys, values, it.Error()
}

func putAll(t *testing.T, db database.Database, kvs ...string) {
	for i := 0; i < len(kvs); i += 2 {
		require.NoError(t, db.Put([]byte(kvs[i]), []byte(kvs[i+1])))
	}
}

func TestIterator(t *testing.T, db database.Database) {
	require := require.New(t)

	putAll(t, db, "b", "2", "a", "1", "c", "3")

	keys, values, err := collect(db.NewIterator(database.Range{}))
	require.NoError(err)
	require.Equal([]string{"a", "b", "c"}, keys)
	require.Equal([]string{"1", "2", "3"}, values)
}

// TestIteratorStart resumes after a page boundary the way issue paging does.
func TestIteratorStart(t *testing.T, db database.Database) {
	require := require.New(t)

	putAll(t, db, "0x1/0xa", "1", "0x1/0xb", "2", "0x2/0xa", "3")

	keys, _, err := collect(db.NewIterator(database.Range{Start: []byte("0x1/0xa\x00")}))
	require.NoError(err)
	require.Equal([]string{"0x1/0xb", "0x2/0xa"}, keys)
}

func TestIteratorStartPrefix(t *testing.T, db database.Database) {
	require := require.New(t)

	putAll(t, db, "a/1", "1", "b/1", "2", "b/2", "3", "b/3", "4", "c/1", "5")

	keys, _, err := collect(db.NewIterator(database.Range{
		Start:  []byte("b/2"),
		Prefix: []byte("b/"),
	}))
	require.NoError(err)
	require.Equal([]string{"b/2", "b/3"}, keys)

	keys, _, err = collect(db.NewIterator(database.Range{Prefix: []byte("b/")}))
	require.NoError(err)
	require.Equal([]string{"b/1", "b/2", "b/3"}, keys)
}

func TestIteratorSnapshot(t *testing.T, db database.Database) {
	require := require.New(t)

	putAll(t, db, "a", "1")

	it := db.NewIterator(database.Range{})
	putAll(t, db, "b", "2")

	keys, _, err := collect(it)
	require.NoError(err)
	require.Equal([]string{"a"}, keys)
}

func TestIteratorClosed(t *testing.T, db database.Database) {
	require := require.New(t)

	putAll(t, db, "a", "1")
	require.NoError(db.Close())

	it := db.NewIterator(database.Range{})
	defer it.Release()

	require.False(it.Next())
	require.Nil(it.Key())
	require.Nil(it.Value())
	require.ErrorIs(it.Error(), database.ErrClosed)
}

// TestMemorySafety checks that slices passed to and returned by the database
// are not retained.
func TestMemorySafety(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("key")
	value := []byte("value")
	require.NoError(db.Put(key, value))
	value[0] = 'X'

	got, err := db.Get(key)
	require.NoError(err)
	require.Equal([]byte("value"), got)

	got[0] = 'Y'
	got, err = db.Get(key)
	require.NoError(err)
	require.Equal([]byte("value"), got)
}

func TestCounter(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("next")
	next, err := database.WithDefault(database.GetUInt64, db, key, 0)
	require.NoError(err)
	require.Zero(next)

	require.NoError(database.PutUInt64(db, key, next+1))
	next, err = database.WithDefault(database.GetUInt64, db, key, 0)
	require.NoError(err)
	require.Equal(uint64(1), next)

	require.NoError(db.Put([]byte("bad"), []byte{1}))
	_, err = database.GetUInt64(db, []byte("bad"))
	require.ErrorIs(err, database.ErrWrongSize)
}
