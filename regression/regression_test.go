// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package regression

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/engine/enginetest"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/set"
)

var (
	proxy          = common.HexToAddress("0x1000")
	implementation = common.HexToAddress("0x2000")
	alternate      = common.HexToAddress("0x3000")

	tx1 = common.HexToHash("0x01")
	tx2 = common.HexToHash("0x02")

	implementationCode = []byte{0x60, 0x01}
	alternateCode      = []byte{0x60, 0x02}
)

func pairs(slotValues ...uint64) []classifier.Pair {
	var ps []classifier.Pair
	for i := 0; i < len(slotValues); i += 2 {
		ps = append(ps, classifier.Pair{
			Slot:  *uint256.NewInt(slotValues[i]),
			Value: *uint256.NewInt(slotValues[i+1]),
		})
	}
	return ps
}

func slots(ss ...uint64) []uint256.Int {
	var out []uint256.Int
	for _, s := range ss {
		out = append(out, *uint256.NewInt(s))
	}
	return out
}

// newTestEngine registers [tx1] in block 1. The original implementation
// writes slots 1 and 2 of the proxy, the alternate writes slots 1 and 3.
func newTestEngine() *enginetest.Engine {
	e := enginetest.New()
	e.Base().SetCode(implementation, implementationCode)
	e.AddTx(tx1, enginetest.Trace(
		enginetest.Call(proxy, proxy, true,
			enginetest.Call(implementation, proxy, true,
				enginetest.ByCode(implementation, implementationCode,
					enginetest.Seq(
						enginetest.SStore(proxy, 1, 1),
						enginetest.SStore(proxy, 2, 2),
					),
					enginetest.Seq(
						enginetest.SStore(proxy, 1, 1),
						enginetest.SStore(proxy, 3, 3),
					),
				),
			),
		),
	))
	e.SetBlockCode(5, alternate, alternateCode)
	return e
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name                  string
		originalWrites        []classifier.Access
		altWrites             []classifier.Access
		altReverted           bool
		expectDifferentSlots  bool
		expectDifferentValues bool
	}{
		{
			name:                  "different slots",
			originalWrites:        []classifier.Access{access(1, 1), access(2, 2)},
			altWrites:             []classifier.Access{access(1, 1), access(3, 3)},
			expectDifferentSlots:  true,
			expectDifferentValues: true,
		},
		{
			name:                  "same slots different values",
			originalWrites:        []classifier.Access{access(1, 1)},
			altWrites:             []classifier.Access{access(1, 2)},
			expectDifferentValues: true,
		},
		{
			name:           "identical",
			originalWrites: []classifier.Access{access(1, 1)},
			altWrites:      []classifier.Access{access(1, 1)},
			altReverted:    true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			original := classifier.NewLenient(proxy, implementation)
			original.ImplementationSStores = set.Of(test.originalWrites...)
			alt := classifier.NewAlternate(proxy, implementation, alternate)
			alt.ImplementationSStores = set.Of(test.altWrites...)
			alt.ProxyReverted = test.altReverted

			issue := Diff(original, alt, tx1)
			require.Equal(proxy, issue.Proxy)
			require.Equal(implementation, issue.Implementation)
			require.Equal(alternate, issue.AltImplementation)
			require.Equal(tx1, issue.Tx)
			require.Equal(test.expectDifferentSlots, issue.DifferentSlots)
			require.Equal(test.expectDifferentValues, issue.DifferentValues)
			require.Equal(test.altReverted, issue.ProxyReverted)
		})
	}
}

func TestDiffMergesPerspectives(t *testing.T) {
	require := require.New(t)

	// the proxy read of slot 4 moved into the implementation
	original := classifier.NewLenient(proxy, implementation)
	original.ProxySLoads = set.Of(access(4, 0))
	alt := classifier.NewAlternate(proxy, implementation, alternate)
	alt.ImplementationSLoads = set.Of(access(4, 0))

	issue := Diff(original, alt, tx1)
	require.False(issue.DifferentSlots)
	require.False(issue.DifferentValues)
	require.Equal(pairs(4, 0), issue.OriginalSLoads)
	require.Equal(pairs(4, 0), issue.AltSLoads)
}

func access(slot, value uint64) classifier.Access {
	return classifier.Access{
		Address: proxy,
		Slot:    *uint256.NewInt(slot),
		Value:   *uint256.NewInt(value),
	}
}

func TestCompare(t *testing.T) {
	require := require.New(t)

	e := newTestEngine()
	c := NewComparer(e)
	original, alts, err := c.Compare(
		context.Background(),
		proxy,
		implementation,
		[]Alternate{{Address: alternate, Code: alternateCode}},
		tx1,
	)
	require.NoError(err)
	require.True(original.Lenient)
	require.Nil(original.AltImplementation)
	require.Equal(set.Of(access(1, 1), access(2, 2)), original.ImplementationSStores)
	require.Positive(original.Elapsed)

	require.Len(alts, 1)
	require.False(alts[0].Lenient)
	require.Equal(&alternate, alts[0].AltImplementation)
	require.Equal(set.Of(access(1, 1), access(3, 3)), alts[0].ImplementationSStores)

	// the base state is never modified
	require.Equal(implementationCode, e.Base().Code(implementation))

	issue := Diff(original, alts[0], tx1)
	require.True(issue.DifferentSlots)
	require.Equal(pairs(1, 1, 2, 2), issue.OriginalSStores)
	require.Equal(pairs(1, 1, 3, 3), issue.AltSStores)
}

func TestCompareMissingTransaction(t *testing.T) {
	c := NewComparer(newTestEngine())
	_, _, err := c.Compare(context.Background(), proxy, implementation, nil, tx2)
	require.ErrorIs(t, err, engine.ErrTransactionNotFound)
}

func TestFilter(t *testing.T) {
	require := require.New(t)

	issue := Issue{
		OriginalSLoads:  pairs(5, 0),
		OriginalSStores: pairs(1, 1, 2, 2),
		AltSStores:      pairs(1, 1, 3, 3),
		DifferentSlots:  true,
	}
	f, ok := Filter(issue)
	require.True(ok)
	require.Equal(slots(2, 5), f.MissedSlots)
	require.Equal(slots(3), f.AdditionalSlots)

	issue.ProxyReverted = true
	_, ok = Filter(issue)
	require.False(ok)

	issue.ProxyReverted = false
	issue.DifferentSlots = false
	_, ok = Filter(issue)
	require.False(ok)
}

func TestCodeSource(t *testing.T) {
	require := require.New(t)

	e := newTestEngine()
	codes, err := NewCodeSource(e, 1<<10, prometheus.NewRegistry())
	require.NoError(err)

	ctx := context.Background()
	alt, err := codes.Alternate(ctx, Version{Implementation: alternate, MinBlock: 5})
	require.NoError(err)
	require.Equal(Alternate{Address: alternate, Code: alternateCode}, alt)

	// cached per (address, block)
	e.SetBlockCode(5, alternate, []byte{0xff})
	alt, err = codes.Alternate(ctx, Version{Implementation: alternate, MinBlock: 5})
	require.NoError(err)
	require.Equal(alternateCode, alt.Code)

	_, err = codes.Alternate(ctx, Version{Implementation: alternate, MinBlock: 6})
	require.ErrorIs(err, errNoCode)

	e.StateErr[7] = enginetest.ErrScripted
	_, err = codes.Alternate(ctx, Version{Implementation: alternate, MinBlock: 7})
	require.ErrorIs(err, engine.ErrStateUnavailable)
}

type issueSink struct {
	lock   sync.Mutex
	issues []Issue
}

func (s *issueSink) PutIssues(_ context.Context, issues []Issue) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.issues = append(s.issues, issues...)
	return nil
}

func TestRunnerSkipsFailures(t *testing.T) {
	require := require.New(t)

	e := newTestEngine()
	codes, err := NewCodeSource(e, 1<<10, prometheus.NewRegistry())
	require.NoError(err)
	sink := &issueSink{}
	r, err := NewRunner(2, e, codes, sink, logging.NoLog{}, prometheus.NewRegistry())
	require.NoError(err)

	versions := []Version{
		{Implementation: implementation, MinBlock: 1},
		{Implementation: alternate, MinBlock: 5},
	}
	jobs := make(chan Job, 3)
	jobs <- Job{
		Proxy:          proxy,
		Implementation: implementation,
		Tx:             tx1,
		Block:          1,
		Versions:       versions,
	}
	jobs <- Job{
		Proxy:          proxy,
		Implementation: implementation,
		Tx:             tx2,
		Block:          1,
		Versions:       versions,
	}
	// nothing newer than the invocation
	jobs <- Job{
		Proxy:          proxy,
		Implementation: implementation,
		Tx:             tx1,
		Block:          5,
		Versions:       versions,
	}
	close(jobs)

	require.NoError(r.Run(context.Background(), jobs))

	require.Len(sink.issues, 1)
	issue := sink.issues[0]
	require.Equal(alternate, issue.AltImplementation)
	require.True(issue.DifferentSlots)
	require.InDelta(1, testutil.ToFloat64(r.metrics.checked), 0)
	require.InDelta(1, testutil.ToFloat64(r.metrics.failed), 0)
	require.InDelta(1, testutil.ToFloat64(r.metrics.differentSlots), 0)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	require := require.New(t)

	e := newTestEngine()
	codes, err := NewCodeSource(e, 1<<10, prometheus.NewRegistry())
	require.NoError(err)
	r, err := NewRunner(1, e, codes, &issueSink{}, logging.NoLog{}, prometheus.NewRegistry())
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.Run(ctx, make(chan Job))
	require.ErrorIs(err, context.Canceled)
}

type memIssues struct {
	issues   []Issue
	filtered []Filtered
	calls    int
}

func (m *memIssues) Issues(_ context.Context, after *IssueKey, limit int) ([]Issue, error) {
	m.calls++
	start := 0
	if after != nil {
		for i, issue := range m.issues {
			if issue.Key() == *after {
				start = i + 1
			}
		}
	}
	end := min(start+limit, len(m.issues))
	return m.issues[start:end], nil
}

func (m *memIssues) PutFiltered(_ context.Context, filtered []Filtered) error {
	m.filtered = append(m.filtered, filtered...)
	return nil
}

func TestFilterAll(t *testing.T) {
	require := require.New(t)

	store := &memIssues{}
	for i := range 5 {
		store.issues = append(store.issues, Issue{
			Proxy:           proxy,
			Tx:              common.BigToHash(uint256.NewInt(uint64(i)).ToBig()),
			OriginalSStores: pairs(1, 1),
			AltSStores:      pairs(2, 2),
			DifferentSlots:  true,
			ProxyReverted:   i%2 == 1,
		})
	}

	count, err := FilterAll(context.Background(), store, store, 2, logging.NoLog{})
	require.NoError(err)
	require.Equal(3, count)
	require.Len(store.filtered, 3)
	require.Equal(3, store.calls)
	for _, f := range store.filtered {
		require.Equal(slots(1), f.MissedSlots)
		require.Equal(slots(2), f.AdditionalSlots)
	}
}
