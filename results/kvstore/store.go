// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package kvstore is a results.Store on top of a database.Database. Records
// are stored as the same JSON rows the SQL store writes.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ava-labs/proxyex/conflict"
	"github.com/ava-labs/proxyex/database"
	"github.com/ava-labs/proxyex/database/prefixdb"
	"github.com/ava-labs/proxyex/regression"
	"github.com/ava-labs/proxyex/results"
	"github.com/ava-labs/proxyex/utils/wrappers"
)

var (
	_ results.Store = (*Store)(nil)

	nextFailureKey = []byte("next")
)

// Store persists results under the collision/, error/, regression/,
// regression_filter/ and conflict/ prefixes of a database.
type Store struct {
	// lock makes check-then-insert and sequence allocation atomic.
	lock sync.Mutex

	db         database.Database
	collisions database.Database
	failures   database.Database
	issues     database.Database
	filtered   database.Database
	conflicts  database.Database
}

func New(db database.Database) *Store {
	return &Store{
		db:         db,
		collisions: prefixdb.New("collision", db),
		failures:   prefixdb.New("error", db),
		issues:     prefixdb.New("regression", db),
		filtered:   prefixdb.New("regression_filter", db),
		conflicts:  prefixdb.New("conflict", db),
	}
}

// issueKey is "<proxy>/<tx>/<alt>" in the stored hex forms, which sort like
// the key tuple.
func issueKey(proxy, tx, alt string) []byte {
	return []byte(proxy + "/" + tx + "/" + alt)
}

func putIfAbsent(db database.Database, key []byte, record any) error {
	has, err := db.Has(key)
	if err != nil || has {
		return err
	}
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return db.Put(key, value)
}

func (s *Store) PutCollision(_ context.Context, c results.Collision) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return putIfAbsent(s.collisions, []byte(c.Proxy), c)
}

func (s *Store) Collision(_ context.Context, proxy string) (results.Collision, error) {
	value, err := s.collisions.Get([]byte(proxy))
	if errors.Is(err, database.ErrNotFound) {
		return results.Collision{}, results.ErrNotFound
	}
	if err != nil {
		return results.Collision{}, err
	}
	var c results.Collision
	return c, json.Unmarshal(value, &c)
}

func (s *Store) PutFailure(_ context.Context, f results.Failure) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	next, err := database.WithDefault(database.GetUInt64, s.db, nextFailureKey, 0)
	if err != nil {
		return err
	}
	value, err := json.Marshal(f)
	if err != nil {
		return err
	}

	batch := s.failures.NewBatch()
	if err := batch.Put(database.PackUInt64(next), value); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	return database.PutUInt64(s.db, nextFailureKey, next+1)
}

func (s *Store) Failures(context.Context) ([]results.Failure, error) {
	it := s.failures.NewIterator(database.Range{})
	defer it.Release()

	var failures []results.Failure
	for it.Next() {
		var f results.Failure
		if err := json.Unmarshal(it.Value(), &f); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, it.Error()
}

func (s *Store) PutIssues(_ context.Context, issues []regression.Issue) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, issue := range issues {
		r := results.NewRegression(issue)
		if err := putIfAbsent(s.issues, issueKey(r.Proxy, r.Tx, r.AltImplementation), r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Issues(_ context.Context, after *regression.IssueKey, limit int) ([]regression.Issue, error) {
	var start []byte
	if after != nil {
		start = issueKey(
			results.FormatAddress(after.Proxy),
			after.Tx.Hex(),
			results.FormatAddress(after.AltImplementation),
		)
		// first key strictly greater than [after]
		start = append(start, 0)
	}

	it := s.issues.NewIterator(database.Range{Start: start})
	defer it.Release()

	var issues []regression.Issue
	for len(issues) < limit && it.Next() {
		var r results.Regression
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, err
		}
		issue, err := r.Issue()
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, it.Error()
}

func (s *Store) PutFiltered(_ context.Context, filtered []regression.Filtered) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, f := range filtered {
		r := results.NewFiltered(f)
		if err := putIfAbsent(s.filtered, issueKey(r.Proxy, r.Tx, r.AltImplementation), r); err != nil {
			return err
		}
	}
	return nil
}

// Candidates scans the collision records in proxy order and keeps the
// problematic ones without a conflict record.
func (s *Store) Candidates(_ context.Context, after *common.Address, limit int) ([]conflict.Candidate, error) {
	var start []byte
	if after != nil {
		start = append([]byte(results.FormatAddress(*after)), 0)
	}

	it := s.collisions.NewIterator(database.Range{Start: start})
	defer it.Release()

	var candidates []conflict.Candidate
	for len(candidates) < limit && it.Next() {
		var c results.Collision
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			return nil, err
		}
		if !c.Problematic {
			continue
		}
		done, err := s.conflicts.Has([]byte(c.Proxy))
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		candidate, err := c.Candidate()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}
	return candidates, it.Error()
}

func (s *Store) PutReport(_ context.Context, r *conflict.Report) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	c := results.NewConflict(r)
	return putIfAbsent(s.conflicts, []byte(c.Proxy), c)
}

func (s *Store) Conflict(_ context.Context, proxy string) (results.Conflict, error) {
	value, err := s.conflicts.Get([]byte(proxy))
	if errors.Is(err, database.ErrNotFound) {
		return results.Conflict{}, results.ErrNotFound
	}
	if err != nil {
		return results.Conflict{}, err
	}
	var c results.Conflict
	return c, json.Unmarshal(value, &c)
}

// Close closes the prefixed views and the underlying database.
func (s *Store) Close() error {
	errs := wrappers.Errs{}
	errs.Add(
		s.collisions.Close(),
		s.failures.Close(),
		s.issues.Close(),
		s.filtered.Close(),
		s.conflicts.Close(),
		s.db.Close(),
	)
	return errs.Err
}
