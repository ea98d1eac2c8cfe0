// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package invocation

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/proxyex/results"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/set"
)

const (
	importBatchSize = 256
	maxLineSize     = 64 * 1024 * 1024
)

var errEmptyProxy = errors.New("proxy has no invocations")

// Record is one line of an import file.
type Record struct {
	Proxy string `json:"proxy"`
	Impls []Call `json:"impls"`
}

// Call is one invocation of a proxy in an import file.
type Call struct {
	Tx    string `json:"tx"`
	Impl  string `json:"impl"`
	Block uint64 `json:"block"`
}

type call struct {
	implementation common.Address
	tx             common.Hash
	block          uint64
}

type proxyRecord struct {
	line  int
	proxy common.Address
	calls []call
}

// ImportStats counts the lines of an import. Imported counts only proxies
// that were not present before.
type ImportStats struct {
	Imported int
	Existing int
	Skipped  int
}

func (r Record) parse(line int) (proxyRecord, error) {
	proxy, err := results.ParseAddress(r.Proxy)
	if err != nil {
		return proxyRecord{}, err
	}
	if len(r.Impls) == 0 {
		return proxyRecord{}, errEmptyProxy
	}
	var (
		calls = make([]call, 0, len(r.Impls))
		seen  = set.NewSet[common.Hash](len(r.Impls))
	)
	for _, c := range r.Impls {
		implementation, err := results.ParseAddress(c.Impl)
		if err != nil {
			return proxyRecord{}, err
		}
		tx, err := results.ParseHash(c.Tx)
		if err != nil {
			return proxyRecord{}, err
		}
		// a transaction invokes the proxy at most once as far as the
		// aggregator is concerned
		if seen.Contains(tx) {
			continue
		}
		seen.Add(tx)
		calls = append(calls, call{
			implementation: implementation,
			tx:             tx,
			block:          c.Block,
		})
	}
	return proxyRecord{
		line:  line,
		proxy: proxy,
		calls: calls,
	}, nil
}

// versions returns the first block each implementation was invoked in.
func (p proxyRecord) versions() map[common.Address]uint64 {
	versions := make(map[common.Address]uint64)
	for _, c := range p.calls {
		if first, ok := versions[c.implementation]; !ok || c.block < first {
			versions[c.implementation] = c.block
		}
	}
	return versions
}

// Import reads newline delimited proxy records from [r] into the proxy,
// invocation and version tables of [db]. Malformed lines are logged and
// skipped. Proxies already present are left untouched.
func Import(ctx context.Context, db *sql.DB, r io.Reader, log logging.Logger) (ImportStats, error) {
	var (
		stats   ImportStats
		records = make(chan proxyRecord, importBatchSize)
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(records)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		line := 0
		for scanner.Scan() {
			line++
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var record Record
			if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
				log.Warn("skipping malformed line", zap.Int("line", line), zap.Error(err))
				stats.Skipped++
				continue
			}
			parsed, err := record.parse(line)
			if err != nil {
				log.Warn("skipping invalid record", zap.Int("line", line), zap.Error(err))
				stats.Skipped++
				continue
			}
			select {
			case records <- parsed:
			case <-egCtx.Done():
				return egCtx.Err()
			}
		}
		return scanner.Err()
	})
	eg.Go(func() error {
		batch := make([]proxyRecord, 0, importBatchSize)
		for record := range records {
			batch = append(batch, record)
			if len(batch) < importBatchSize {
				continue
			}
			added, err := writeBatch(egCtx, db, batch)
			if err != nil {
				return err
			}
			stats.Imported += added
			stats.Existing += len(batch) - added
			log.Debug("imported batch", zap.Int("line", record.line))
			batch = batch[:0]
		}
		added, err := writeBatch(egCtx, db, batch)
		if err != nil {
			return err
		}
		stats.Imported += added
		stats.Existing += len(batch) - added
		return nil
	})
	if err := eg.Wait(); err != nil {
		return stats, err
	}
	log.Info("import finished",
		zap.Int("imported", stats.Imported),
		zap.Int("existing", stats.Existing),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// writeBatch returns the number of proxies of [batch] that were inserted.
func writeBatch(ctx context.Context, db *sql.DB, batch []proxyRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, record := range batch {
		inserted, err := writeRecord(ctx, tx, record)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("line %d: %w", record.line, err)
		}
		if inserted {
			added++
		}
	}
	return added, tx.Commit()
}

// writeRecord reports false without writing anything when the proxy is
// already present.
func writeRecord(ctx context.Context, tx *sql.Tx, record proxyRecord) (bool, error) {
	proxy := results.FormatAddress(record.proxy)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO proxy (address, invocation_count) VALUES (?, ?)
		 ON CONFLICT (address) DO NOTHING`,
		proxy,
		len(record.calls),
	)
	if err != nil {
		return false, fmt.Errorf("insert proxy: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	for _, c := range record.calls {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO invocation (proxy, implementation, tx, block) VALUES (?, ?, ?, ?)
			 ON CONFLICT (proxy, tx) DO NOTHING`,
			proxy,
			results.FormatAddress(c.implementation),
			c.tx.Hex(),
			c.block,
		)
		if err != nil {
			return false, fmt.Errorf("insert invocation %s: %w", c.tx, err)
		}
	}
	for implementation, minBlock := range record.versions() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO version (proxy, implementation, min_block) VALUES (?, ?, ?)
			 ON CONFLICT (proxy, implementation) DO NOTHING`,
			proxy,
			results.FormatAddress(implementation),
			minBlock,
		)
		if err != nil {
			return false, fmt.Errorf("insert version %s: %w", implementation, err)
		}
	}
	return true, nil
}
