// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package invocation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/regression"
	"github.com/ava-labs/proxyex/results"
)

type jobRow struct {
	proxy          string
	implementation string
	tx             string
	block          uint64
}

// Jobs sends a regression job to [jobs] for every invocation of a proxy with
// more than one invocation, no regression record for its transaction, and at
// least one implementation first seen after its block. [jobs] is closed on
// return.
func (s *Source) Jobs(ctx context.Context, jobs chan<- regression.Job) (uint64, error) {
	defer close(jobs)

	var (
		after jobRow
		sent  uint64
	)
	for {
		rows, err := s.loadJobs(ctx, after)
		if err != nil {
			return sent, err
		}
		for _, row := range rows {
			job, err := s.job(ctx, row)
			if err != nil {
				return sent, err
			}
			select {
			case jobs <- job:
				sent++
			case <-ctx.Done():
				return sent, ctx.Err()
			}
		}
		if len(rows) < s.windowSize {
			s.log.Info("regression jobs queued", zap.Uint64("count", sent))
			return sent, nil
		}
		after = rows[len(rows)-1]
	}
}

func (s *Source) loadJobs(ctx context.Context, after jobRow) ([]jobRow, error) {
	cond, args := proxyFilter("i.proxy", s.proxies)
	query := `
		SELECT i.proxy, i.implementation, i.tx, i.block
		FROM invocation i
		JOIN proxy p ON p.address = i.proxy
		WHERE p.invocation_count > 1
		  AND NOT EXISTS (SELECT 1 FROM regression r WHERE r.tx = i.tx)
		  AND EXISTS (
		    SELECT 1 FROM version v
		    WHERE v.proxy = i.proxy AND v.min_block > i.block
		  )` + cond + `
		  AND (i.proxy, i.block, i.tx) > (?, ?, ?)
		ORDER BY i.proxy, i.block, i.tx
		LIMIT ?`
	args = append(args, after.proxy, after.block, after.tx, s.windowSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select regression candidates: %w", err)
	}
	defer rows.Close()

	var candidates []jobRow
	for rows.Next() {
		var row jobRow
		if err := rows.Scan(&row.proxy, &row.implementation, &row.tx, &row.block); err != nil {
			return nil, err
		}
		candidates = append(candidates, row)
	}
	return candidates, rows.Err()
}

func (s *Source) job(ctx context.Context, row jobRow) (regression.Job, error) {
	proxy, err := results.ParseAddress(row.proxy)
	if err != nil {
		return regression.Job{}, err
	}
	implementation, err := results.ParseAddress(row.implementation)
	if err != nil {
		return regression.Job{}, err
	}
	tx, err := results.ParseHash(row.tx)
	if err != nil {
		return regression.Job{}, err
	}
	versions, err := s.laterVersions(ctx, row.proxy, row.block)
	if err != nil {
		return regression.Job{}, err
	}
	return regression.Job{
		Proxy:          proxy,
		Implementation: implementation,
		Tx:             tx,
		Block:          row.block,
		Versions:       versions,
	}, nil
}

func (s *Source) laterVersions(ctx context.Context, proxy string, block uint64) ([]regression.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT implementation, min_block
		FROM version
		WHERE proxy = ? AND min_block > ?
		ORDER BY min_block, implementation`,
		proxy,
		block,
	)
	if err != nil {
		return nil, fmt.Errorf("select versions of %s: %w", proxy, err)
	}
	defer rows.Close()

	var versions []regression.Version
	for rows.Next() {
		var (
			implementation string
			v              regression.Version
		)
		if err := rows.Scan(&implementation, &v.MinBlock); err != nil {
			return nil, err
		}
		v.Implementation, err = results.ParseAddress(implementation)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
