// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sqlstore is a SQLite backed results.Store. It also holds the
// proxy, invocation and version tables the analyses are fed from.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ava-labs/proxyex/conflict"
	"github.com/ava-labs/proxyex/regression"
	"github.com/ava-labs/proxyex/results"
	"github.com/ava-labs/proxyex/results/sqlstore/migrations"

	_ "modernc.org/sqlite"
)

// Name is the name of this store for store switches
const Name = "sqlite"

var (
	_ results.Store = (*Store)(nil)

	errEmptyPath = errors.New("storage path is required")
)

// Store persists results in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at [path] and applies the embedded
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errEmptyPath
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers; every query reads its rows
	// fully before the connection is released.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PutCollision(ctx context.Context, c results.Collision) error {
	columns, err := marshalAll(
		c.ProxySStores,
		c.ProxySLoads,
		c.ImplementationSStores,
		c.ImplementationSLoads,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collision (
		   proxy,
		   problematic,
		   proxy_sstores,
		   proxy_sloads,
		   implementation_sstores,
		   implementation_sloads,
		   total_time,
		   avg_time
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (proxy) DO NOTHING`,
		c.Proxy,
		c.Problematic,
		columns[0],
		columns[1],
		columns[2],
		columns[3],
		c.TotalTime,
		c.AvgTime,
	)
	if err != nil {
		return fmt.Errorf("insert collision %s: %w", c.Proxy, err)
	}
	return nil
}

func (s *Store) Collision(ctx context.Context, proxy string) (results.Collision, error) {
	var (
		c       = results.Collision{Proxy: proxy}
		columns [4]string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   problematic,
		   proxy_sstores,
		   proxy_sloads,
		   implementation_sstores,
		   implementation_sloads,
		   total_time,
		   avg_time
		 FROM collision WHERE proxy = ?`,
		proxy,
	).Scan(
		&c.Problematic,
		&columns[0],
		&columns[1],
		&columns[2],
		&columns[3],
		&c.TotalTime,
		&c.AvgTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return results.Collision{}, results.ErrNotFound
	}
	if err != nil {
		return results.Collision{}, fmt.Errorf("select collision %s: %w", proxy, err)
	}
	err = unmarshalAll(columns[:],
		&c.ProxySStores,
		&c.ProxySLoads,
		&c.ImplementationSStores,
		&c.ImplementationSLoads,
	)
	return c, err
}

func (s *Store) PutFailure(ctx context.Context, f results.Failure) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error (proxy, tx, idx, total, msg) VALUES (?, ?, ?, ?, ?)`,
		f.Proxy,
		f.Tx,
		f.Index,
		f.Total,
		f.Msg,
	)
	if err != nil {
		return fmt.Errorf("insert error %s: %w", f.Proxy, err)
	}
	return nil
}

func (s *Store) Failures(ctx context.Context) ([]results.Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT proxy, tx, idx, total, msg FROM error ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select errors: %w", err)
	}
	defer rows.Close()

	var failures []results.Failure
	for rows.Next() {
		var f results.Failure
		if err := rows.Scan(&f.Proxy, &f.Tx, &f.Index, &f.Total, &f.Msg); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (s *Store) PutIssues(ctx context.Context, issues []regression.Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		if err := insertRegression(ctx, tx, results.NewRegression(issue)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func insertRegression(ctx context.Context, tx *sql.Tx, r results.Regression) error {
	columns, err := marshalAll(r.OriginalSLoads, r.OriginalSStores, r.AltSLoads, r.AltSStores)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO regression (
		   proxy,
		   tx,
		   alt_implementation,
		   implementation,
		   original_sloads,
		   original_sstores,
		   alt_sloads,
		   alt_sstores,
		   different_slots,
		   different_values,
		   proxy_reverted,
		   time
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (proxy, tx, alt_implementation) DO NOTHING`,
		r.Proxy,
		r.Tx,
		r.AltImplementation,
		r.Implementation,
		columns[0],
		columns[1],
		columns[2],
		columns[3],
		r.DifferentSlots,
		r.DifferentValues,
		r.ProxyReverted,
		r.Time,
	)
	if err != nil {
		return fmt.Errorf("insert regression %s/%s: %w", r.Proxy, r.Tx, err)
	}
	return nil
}

func (s *Store) Issues(ctx context.Context, after *regression.IssueKey, limit int) ([]regression.Issue, error) {
	var proxy, tx, alt string
	if after != nil {
		proxy = results.FormatAddress(after.Proxy)
		tx = after.Tx.Hex()
		alt = results.FormatAddress(after.AltImplementation)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT
		   proxy,
		   tx,
		   alt_implementation,
		   implementation,
		   original_sloads,
		   original_sstores,
		   alt_sloads,
		   alt_sstores,
		   different_slots,
		   different_values,
		   proxy_reverted,
		   time
		 FROM regression
		 WHERE (proxy, tx, alt_implementation) > (?, ?, ?)
		 ORDER BY proxy, tx, alt_implementation
		 LIMIT ?`,
		proxy,
		tx,
		alt,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select regressions: %w", err)
	}
	defer rows.Close()

	var issues []regression.Issue
	for rows.Next() {
		var (
			r       results.Regression
			columns [4]string
		)
		if err := rows.Scan(
			&r.Proxy,
			&r.Tx,
			&r.AltImplementation,
			&r.Implementation,
			&columns[0],
			&columns[1],
			&columns[2],
			&columns[3],
			&r.DifferentSlots,
			&r.DifferentValues,
			&r.ProxyReverted,
			&r.Time,
		); err != nil {
			return nil, err
		}
		if err := unmarshalAll(columns[:], &r.OriginalSLoads, &r.OriginalSStores, &r.AltSLoads, &r.AltSStores); err != nil {
			return nil, err
		}
		issue, err := r.Issue()
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *Store) PutFiltered(ctx context.Context, filtered []regression.Filtered) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, f := range filtered {
		if err := insertFiltered(ctx, tx, results.NewFiltered(f)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func insertFiltered(ctx context.Context, tx *sql.Tx, f results.Filtered) error {
	columns, err := marshalAll(
		f.OriginalSLoads,
		f.OriginalSStores,
		f.AltSLoads,
		f.AltSStores,
		f.MissedSlots,
		f.AdditionalSlots,
	)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO regression_filter (
		   proxy,
		   tx,
		   alt_implementation,
		   implementation,
		   original_sloads,
		   original_sstores,
		   alt_sloads,
		   alt_sstores,
		   missed_slots,
		   additional_slots
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (proxy, tx, alt_implementation) DO NOTHING`,
		f.Proxy,
		f.Tx,
		f.AltImplementation,
		f.Implementation,
		columns[0],
		columns[1],
		columns[2],
		columns[3],
		columns[4],
		columns[5],
	)
	if err != nil {
		return fmt.Errorf("insert filtered regression %s/%s: %w", f.Proxy, f.Tx, err)
	}
	return nil
}

// Candidates reads the problematic collisions without a conflict row.
func (s *Store) Candidates(ctx context.Context, after *common.Address, limit int) ([]conflict.Candidate, error) {
	var from string
	if after != nil {
		from = results.FormatAddress(*after)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.proxy, c.proxy_sstores, c.implementation_sstores
		 FROM collision c
		 WHERE c.problematic
		   AND c.proxy > ?
		   AND NOT EXISTS (SELECT 1 FROM conflict f WHERE f.proxy = c.proxy)
		 ORDER BY c.proxy
		 LIMIT ?`,
		from,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select problematic collisions: %w", err)
	}
	defer rows.Close()

	var candidates []conflict.Candidate
	for rows.Next() {
		var (
			c       results.Collision
			columns [2]string
		)
		if err := rows.Scan(&c.Proxy, &columns[0], &columns[1]); err != nil {
			return nil, err
		}
		if err := unmarshalAll(columns[:], &c.ProxySStores, &c.ImplementationSStores); err != nil {
			return nil, err
		}
		candidate, err := c.Candidate()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}
	return candidates, rows.Err()
}

func (s *Store) PutReport(ctx context.Context, r *conflict.Report) error {
	c := results.NewConflict(r)
	columns, err := marshalAll(c.ConflictSlots, c.Points)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conflict (proxy, conflict_slots, conflict_points) VALUES (?, ?, ?)
		 ON CONFLICT (proxy) DO NOTHING`,
		c.Proxy,
		columns[0],
		columns[1],
	)
	if err != nil {
		return fmt.Errorf("insert conflict %s: %w", c.Proxy, err)
	}
	return nil
}

func (s *Store) Conflict(ctx context.Context, proxy string) (results.Conflict, error) {
	var (
		c       = results.Conflict{Proxy: proxy}
		columns [2]string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT conflict_slots, conflict_points FROM conflict WHERE proxy = ?`,
		proxy,
	).Scan(&columns[0], &columns[1])
	if errors.Is(err, sql.ErrNoRows) {
		return results.Conflict{}, results.ErrNotFound
	}
	if err != nil {
		return results.Conflict{}, fmt.Errorf("select conflict %s: %w", proxy, err)
	}
	return c, unmarshalAll(columns[:], &c.ConflictSlots, &c.Points)
}

// FilteredCount returns the number of rows in regression_filter.
func (s *Store) FilteredCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM regression_filter`).Scan(&count)
	return count, err
}

func marshalAll(values ...any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}

func unmarshalAll(columns []string, targets ...any) error {
	for i, target := range targets {
		if err := json.Unmarshal([]byte(columns[i]), target); err != nil {
			return fmt.Errorf("decode column %d: %w", i, err)
		}
	}
	return nil
}
