// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package invocation reads the proxy invocations the analyses run on from
// the proxy, invocation and version tables.
package invocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/conflict"
	"github.com/ava-labs/proxyex/results"
	"github.com/ava-labs/proxyex/utils/logging"
)

// DefaultWindowSize is the number of rows read per query.
const DefaultWindowSize = 10_000

var (
	_ conflict.InvocationReader = (*Source)(nil)

	errInvocationsChanged = errors.New("invocations changed while being fed")
)

// Feeder consumes invocations. replay.Scheduler implements it.
type Feeder interface {
	Feed(ctx context.Context, proxy, implementation common.Address, tx common.Hash, index, total uint64) error
}

type proxyRow struct {
	address string
	count   uint64
}

// Source yields the invocations of every proxy without a collision record,
// proxy by proxy, each proxy's invocations ordered by (block, tx).
// It also lists the invocations of a single proxy for the conflict analysis.
type Source struct {
	db         *sql.DB
	windowSize int
	proxies    []string
	log        logging.Logger
}

// NewSource returns a Source over [db]. A non-empty [proxies] restricts the
// source to those proxies.
func NewSource(db *sql.DB, windowSize int, proxies []common.Address, log logging.Logger) *Source {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}
	filter := make([]string, len(proxies))
	for i, p := range proxies {
		filter[i] = results.FormatAddress(p)
	}
	return &Source{
		db:         db,
		windowSize: windowSize,
		proxies:    filter,
		log:        log,
	}
}

// proxyFilter returns the SQL condition and arguments restricting [column]
// to the configured proxies.
func proxyFilter(column string, proxies []string) (string, []any) {
	if len(proxies) == 0 {
		return "", nil
	}
	args := make([]any, len(proxies))
	for i, p := range proxies {
		args[i] = p
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(proxies)), ", ")
	return fmt.Sprintf(" AND %s IN (%s)", column, placeholders), args
}

const pendingProxies = `
	FROM proxy p
	WHERE p.invocation_count > 0
	  AND NOT EXISTS (SELECT 1 FROM collision c WHERE c.proxy = p.address)`

// Count returns the number of proxies the source will yield.
func (s *Source) Count(ctx context.Context) (uint64, error) {
	cond, args := proxyFilter("p.address", s.proxies)
	var count uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+pendingProxies+cond, args...).Scan(&count)
	return count, err
}

// Run feeds every invocation to [feeder] and returns the number of proxies
// fed.
func (s *Source) Run(ctx context.Context, feeder Feeder) (uint64, error) {
	var (
		after proxyRow
		fed   uint64
	)
	for {
		proxies, err := s.loadProxies(ctx, after)
		if err != nil {
			return fed, err
		}
		for _, p := range proxies {
			ok, err := s.feedProxy(ctx, feeder, p)
			if err != nil {
				return fed, err
			}
			if ok {
				fed++
			}
		}
		if len(proxies) < s.windowSize {
			return fed, nil
		}
		after = proxies[len(proxies)-1]
	}
}

func (s *Source) loadProxies(ctx context.Context, after proxyRow) ([]proxyRow, error) {
	cond, args := proxyFilter("p.address", s.proxies)
	query := `SELECT p.address, p.invocation_count` + pendingProxies + cond + `
	  AND (p.invocation_count, p.address) > (?, ?)
	ORDER BY p.invocation_count, p.address
	LIMIT ?`
	args = append(args, after.count, after.address, s.windowSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select proxies: %w", err)
	}
	defer rows.Close()

	var proxies []proxyRow
	for rows.Next() {
		var p proxyRow
		if err := rows.Scan(&p.address, &p.count); err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	s.log.Debug("loaded proxies", zap.Int("count", len(proxies)))
	return proxies, rows.Err()
}

type invocationRow struct {
	implementation string
	tx             string
	block          uint64
}

// feedProxy feeds the invocations of [p] with the total counted in the
// invocation table, which wins over a stale invocation_count. It reports
// false when the proxy has no invocation rows.
func (s *Source) feedProxy(ctx context.Context, feeder Feeder, p proxyRow) (bool, error) {
	proxy, err := results.ParseAddress(p.address)
	if err != nil {
		return false, err
	}
	total, err := s.countInvocations(ctx, p.address)
	if err != nil {
		return false, err
	}
	if total != p.count {
		s.log.Warn("invocation count mismatch",
			zap.String("proxy", p.address),
			zap.Uint64("recorded", p.count),
			zap.Uint64("found", total),
		)
	}
	if total == 0 {
		return false, nil
	}

	var (
		after = invocationRow{}
		index uint64
	)
	for {
		invocations, err := s.loadInvocations(ctx, p.address, after)
		if err != nil {
			return false, err
		}
		for _, inv := range invocations {
			if index == total {
				return false, fmt.Errorf("%w: %s has more than %d", errInvocationsChanged, p.address, total)
			}
			implementation, err := results.ParseAddress(inv.implementation)
			if err != nil {
				return false, err
			}
			tx, err := results.ParseHash(inv.tx)
			if err != nil {
				return false, err
			}
			if err := feeder.Feed(ctx, proxy, implementation, tx, index, total); err != nil {
				return false, err
			}
			index++
		}
		if len(invocations) < s.windowSize {
			break
		}
		after = invocations[len(invocations)-1]
	}

	if index != total {
		return false, fmt.Errorf("%w: %s has %d of %d", errInvocationsChanged, p.address, index, total)
	}
	return true, nil
}

func (s *Source) countInvocations(ctx context.Context, proxy string) (uint64, error) {
	var count uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocation WHERE proxy = ?`, proxy).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count invocations of %s: %w", proxy, err)
	}
	return count, nil
}

func (s *Source) loadInvocations(ctx context.Context, proxy string, after invocationRow) ([]invocationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT implementation, tx, block
		FROM invocation
		WHERE proxy = ? AND (block, tx) > (?, ?)
		ORDER BY block, tx
		LIMIT ?`,
		proxy,
		after.block,
		after.tx,
		s.windowSize,
	)
	if err != nil {
		return nil, fmt.Errorf("select invocations of %s: %w", proxy, err)
	}
	defer rows.Close()

	var invocations []invocationRow
	for rows.Next() {
		var inv invocationRow
		if err := rows.Scan(&inv.implementation, &inv.tx, &inv.block); err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

// Invocations returns every invocation of [proxy] ordered by (block, tx).
func (s *Source) Invocations(ctx context.Context, proxy common.Address) ([]conflict.Invocation, error) {
	var (
		address     = results.FormatAddress(proxy)
		after       = invocationRow{}
		invocations []conflict.Invocation
	)
	for {
		rows, err := s.loadInvocations(ctx, address, after)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			implementation, err := results.ParseAddress(row.implementation)
			if err != nil {
				return nil, err
			}
			tx, err := results.ParseHash(row.tx)
			if err != nil {
				return nil, err
			}
			invocations = append(invocations, conflict.Invocation{
				Implementation: implementation,
				Tx:             tx,
			})
		}
		if len(rows) < s.windowSize {
			return invocations, nil
		}
		after = rows[len(rows)-1]
	}
}
