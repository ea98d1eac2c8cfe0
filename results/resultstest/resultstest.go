// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package resultstest is a conformance suite for results.Store
// implementations.
package resultstest

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/conflict"
	"github.com/ava-labs/proxyex/regression"
	"github.com/ava-labs/proxyex/replay"
	"github.com/ava-labs/proxyex/results"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/set"
)

var (
	Proxy          = common.HexToAddress("0xAbC0000000000000000000000000000000000001")
	Implementation = common.HexToAddress("0x2000")
	Alternate      = common.HexToAddress("0x3000")
)

// Tests is a list of all store tests
var Tests = map[string]func(t *testing.T, s results.Store){
	"Collision":   TestCollision,
	"Failures":    TestFailures,
	"IssuePaging": TestIssuePaging,
	"Conflicts":   TestConflicts,
}

func pair(slot, value uint64) classifier.Pair {
	return classifier.Pair{
		Slot:  *uint256.NewInt(slot),
		Value: *uint256.NewInt(value),
	}
}

// Issues returns three issues of [Proxy] ordered by key. The last one
// reverted in the proxy.
func Issues() []regression.Issue {
	issues := make([]regression.Issue, 3)
	for i := range issues {
		issues[i] = regression.Issue{
			Proxy:             Proxy,
			Implementation:    Implementation,
			AltImplementation: Alternate,
			Tx:                common.BigToHash(uint256.NewInt(uint64(i + 1)).ToBig()),
			OriginalSLoads:    []classifier.Pair{pair(5, 0)},
			OriginalSStores:   []classifier.Pair{pair(1, 1), pair(2, 2)},
			AltSLoads:         []classifier.Pair{pair(5, 0)},
			AltSStores:        []classifier.Pair{pair(1, 1), pair(3, 3)},
			DifferentSlots:    true,
			DifferentValues:   true,
			ProxyReverted:     i == 2,
			Elapsed:           1500 * time.Microsecond,
		}
	}
	return issues
}

type store interface {
	regression.IssueReader
	regression.FilteredWriter
}

// FilterAll runs regression.FilterAll over [s].
func FilterAll(ctx context.Context, s store, pageSize int) (int, error) {
	return regression.FilterAll(ctx, s, s, pageSize, logging.NoLog{})
}

func TestCollision(t *testing.T, s results.Store) {
	require := require.New(t)

	ctx := context.Background()
	v := &replay.Verdict{
		Proxy:         Proxy,
		ConflictSlots: []uint256.Int{*uint256.NewInt(1)},
		ProxySStores: []replay.TxAccesses{{
			Tx:    common.HexToHash("0x01"),
			Pairs: []classifier.Pair{pair(1, 7)},
		}},
		ImplementationSLoads: []replay.TxAccesses{{
			Tx:    common.HexToHash("0x02"),
			Pairs: []classifier.Pair{pair(1, 7)},
		}},
		ImplementationSStores: []replay.TxAccesses{{
			Tx:    common.HexToHash("0x02"),
			Pairs: []classifier.Pair{pair(1, 8)},
		}},
		Problematic: true,
		TotalTime:   3 * time.Second,
		AvgTime:     1500 * time.Millisecond,
	}
	want := results.NewCollision(v)
	require.Equal("0xabc0000000000000000000000000000000000001", want.Proxy)
	require.Equal(int64(1500), want.AvgTime)
	require.NoError(s.PutCollision(ctx, want))

	// an existing record is never replaced
	require.NoError(s.PutCollision(ctx, results.Collision{Proxy: want.Proxy}))

	got, err := s.Collision(ctx, want.Proxy)
	require.NoError(err)
	require.Equal(want, got)

	_, err = s.Collision(ctx, "0x0000000000000000000000000000000000000002")
	require.ErrorIs(err, results.ErrNotFound)
}

func TestFailures(t *testing.T, s results.Store) {
	require := require.New(t)

	ctx := context.Background()
	failures, err := s.Failures(ctx)
	require.NoError(err)
	require.Empty(failures)

	first := results.NewFailure(&replay.Error{
		Proxy: Proxy,
		Tx:    common.HexToHash("0x01"),
		Index: 1,
		Total: 3,
		Msg:   "transaction not found",
	})
	second := results.Failure{Proxy: first.Proxy, Tx: first.Tx, Msg: "state unavailable"}
	require.NoError(s.PutFailure(ctx, first))
	require.NoError(s.PutFailure(ctx, second))

	failures, err = s.Failures(ctx)
	require.NoError(err)
	require.Equal([]results.Failure{first, second}, failures)
}

func TestIssuePaging(t *testing.T, s results.Store) {
	require := require.New(t)

	ctx := context.Background()
	issues := Issues()
	require.NoError(s.PutIssues(ctx, issues))
	// duplicates are ignored
	require.NoError(s.PutIssues(ctx, issues[:1]))

	page, err := s.Issues(ctx, nil, 2)
	require.NoError(err)
	require.Equal(issues[:2], page)

	key := page[1].Key()
	page, err = s.Issues(ctx, &key, 2)
	require.NoError(err)
	require.Equal(issues[2:], page)

	key = page[0].Key()
	page, err = s.Issues(ctx, &key, 2)
	require.NoError(err)
	require.Empty(page)
}

// collision returns a record of [proxy] whose proxy wrote slots 1 and 2 and
// whose implementation wrote slots 2 and 3.
func collision(proxy common.Address, problematic bool) results.Collision {
	return results.Collision{
		Proxy:       results.FormatAddress(proxy),
		Problematic: problematic,
		ProxySStores: []replay.TxAccesses{{
			Tx:    common.HexToHash("0x01"),
			Pairs: []classifier.Pair{pair(1, 1), pair(2, 2)},
		}},
		ImplementationSStores: []replay.TxAccesses{{
			Tx:    common.HexToHash("0x02"),
			Pairs: []classifier.Pair{pair(2, 4), pair(3, 3)},
		}},
	}
}

func TestConflicts(t *testing.T, s results.Store) {
	require := require.New(t)

	ctx := context.Background()
	var (
		first  = common.HexToAddress("0x01")
		second = common.HexToAddress("0x02")
		benign = common.HexToAddress("0x03")
		third  = common.HexToAddress("0x04")
	)
	require.NoError(s.PutCollision(ctx, collision(third, true)))
	require.NoError(s.PutCollision(ctx, collision(first, true)))
	require.NoError(s.PutCollision(ctx, collision(benign, false)))
	require.NoError(s.PutCollision(ctx, collision(second, true)))

	page, err := s.Candidates(ctx, nil, 2)
	require.NoError(err)
	require.Equal([]conflict.Candidate{
		{Proxy: first, Slots: set.Of(*uint256.NewInt(2))},
		{Proxy: second, Slots: set.Of(*uint256.NewInt(2))},
	}, page)

	page, err = s.Candidates(ctx, &second, 2)
	require.NoError(err)
	require.Len(page, 1)
	require.Equal(third, page[0].Proxy)

	report := &conflict.Report{
		Proxy:         first,
		ConflictSlots: []uint256.Int{*uint256.NewInt(2)},
		Points: []conflict.TxPoints{{
			Tx:             common.HexToHash("0x01"),
			Implementation: Implementation,
			Points: []conflict.Point{
				{Slot: *uint256.NewInt(2), Value: *uint256.NewInt(2), Writer: first},
				{Slot: *uint256.NewInt(2), Value: *uint256.NewInt(4), Writer: Implementation},
			},
		}},
	}
	require.NoError(s.PutReport(ctx, report))
	// an existing report is never replaced
	require.NoError(s.PutReport(ctx, &conflict.Report{Proxy: first}))

	got, err := s.Conflict(ctx, results.FormatAddress(first))
	require.NoError(err)
	require.Equal(results.NewConflict(report), got)

	// analyzed proxies are no longer candidates
	page, err = s.Candidates(ctx, nil, 10)
	require.NoError(err)
	require.Len(page, 2)
	require.Equal(second, page[0].Proxy)
	require.Equal(third, page[1].Proxy)

	_, err = s.Conflict(ctx, results.FormatAddress(second))
	require.ErrorIs(err, results.ErrNotFound)
}
