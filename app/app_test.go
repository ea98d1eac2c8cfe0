// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/proxyex/config"
	"github.com/ava-labs/proxyex/conflict"
	"github.com/ava-labs/proxyex/database/memdb"
	"github.com/ava-labs/proxyex/engine/enginetest"
	"github.com/ava-labs/proxyex/engine/gethengine"
	"github.com/ava-labs/proxyex/results"
	"github.com/ava-labs/proxyex/results/sqlstore"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/set"
)

var (
	proxy   = common.HexToAddress("0xa1")
	implV1  = common.HexToAddress("0x10")
	implV2  = common.HexToAddress("0x11")
	tx1     = common.HexToHash("0x01")
	tx2     = common.HexToHash("0x02")
	altCode = []byte{0x60, 0x01}
)

type testEngine struct {
	*enginetest.Engine
}

func (testEngine) Close() error {
	return nil
}

func newTestApp(t *testing.T, dbType string) (*App, *enginetest.Engine) {
	t.Helper()
	require := require.New(t)

	loggingConfig := logging.DefaultConfig()
	loggingConfig.DisplayLevel = logging.Off

	dbConfig := config.DatabaseConfig{
		Type:            dbType,
		InvocationsPath: filepath.Join(t.TempDir(), "invocations.db"),
	}
	if dbType == sqlstore.Name {
		dbConfig.Path = dbConfig.InvocationsPath
	}
	a, err := New(context.Background(), config.Config{
		Logging:       loggingConfig,
		Jobs:          2,
		WindowSize:    10,
		CodeCacheSize: 1 << 20,
		Database:      dbConfig,
	})
	require.NoError(err)
	t.Cleanup(func() {
		require.NoError(a.Close())
	})

	e := enginetest.New()
	e.AddTx(tx1, enginetest.Trace(
		enginetest.Call(proxy, proxy, true,
			enginetest.ByCode(implV1, altCode,
				enginetest.Call(implV1, proxy, true, enginetest.SStore(proxy, 1, 1)),
				enginetest.SStore(proxy, 0, 1),
			),
		),
	))
	e.AddTx(tx2, enginetest.Trace(
		enginetest.Call(proxy, proxy, true,
			enginetest.Call(implV2, proxy, true,
				enginetest.SLoad(proxy, 0),
				enginetest.SStore(proxy, 0, 2),
			),
		),
	))
	e.SetBlockCode(2, implV2, altCode)
	a.openEngine = func(gethengine.Config, logging.Logger) (Engine, error) {
		return testEngine{Engine: e}, nil
	}

	input := fmt.Sprintf(
		`{"proxy":%q,"impls":[{"tx":%q,"impl":%q,"block":1},{"tx":%q,"impl":%q,"block":2}]}`,
		proxy.Hex(), tx1.Hex(), implV1.Hex(), tx2.Hex(), implV2.Hex(),
	)
	stats, err := a.Import(context.Background(), strings.NewReader(input))
	require.NoError(err)
	require.Equal(1, stats.Imported)
	return a, e
}

func TestReplay(t *testing.T) {
	for _, dbType := range []string{memdb.Name, sqlstore.Name} {
		t.Run(dbType, func(t *testing.T) {
			require := require.New(t)

			ctx := context.Background()
			a, e := newTestApp(t, dbType)
			require.NoError(a.Replay(ctx))
			require.Equal(2, e.Replays())

			c, err := a.store.Collision(ctx, results.FormatAddress(proxy))
			require.NoError(err)
			require.True(c.Problematic)

			failures, err := a.store.Failures(ctx)
			require.NoError(err)
			require.Empty(failures)
		})
	}
}

func TestReplaySkipsAnalyzedProxies(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	a, e := newTestApp(t, sqlstore.Name)
	require.NoError(a.Replay(ctx))
	require.NoError(a.Replay(ctx))
	require.Equal(2, e.Replays())
}

func TestAnalyze(t *testing.T) {
	for _, dbType := range []string{memdb.Name, sqlstore.Name} {
		t.Run(dbType, func(t *testing.T) {
			require := require.New(t)

			ctx := context.Background()
			a, e := newTestApp(t, dbType)
			require.NoError(a.Replay(ctx))

			reports, err := a.Analyze(ctx)
			require.NoError(err)
			require.Equal(1, reports)
			require.Equal(4, e.Replays())

			c, err := a.store.Conflict(ctx, results.FormatAddress(proxy))
			require.NoError(err)
			require.Equal(results.Slots{slot(0)}, c.ConflictSlots)
			require.Equal([]conflict.TxPoints{
				{
					Tx:             tx1,
					Implementation: implV1,
					Points: []conflict.Point{
						{Slot: slot(0), Value: slot(1), Writer: proxy},
					},
				},
				{
					Tx:             tx2,
					Implementation: implV2,
					Points: []conflict.Point{
						{Slot: slot(0), Value: slot(2), Writer: implV2},
					},
				},
			}, c.Points)

			// analyzed proxies are skipped
			reports, err = a.Analyze(ctx)
			require.NoError(err)
			require.Zero(reports)
			require.Equal(4, e.Replays())
		})
	}
}

func TestRunsRegisterDistinctMetrics(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	a, _ := newTestApp(t, memdb.Name)
	require.NoError(a.Replay(ctx))
	require.NoError(a.Replay(ctx))
	require.NoError(a.Regression(ctx))
	require.NoError(a.Regression(ctx))

	families, err := a.registry.Gather()
	require.NoError(err)

	runs := map[string]set.Set[string]{}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() != "run" {
					continue
				}
				if runs[family.GetName()] == nil {
					runs[family.GetName()] = set.Set[string]{}
				}
				s := runs[family.GetName()]
				s.Add(label.GetValue())
			}
		}
	}
	require.Equal(set.Of("1", "2"), runs["replay_proxies_finished"])
	require.Equal(set.Of("3", "4"), runs["regression_checked"])
}

func TestRegressionAndFilter(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	a, _ := newTestApp(t, memdb.Name)
	require.NoError(a.Regression(ctx))

	issues, err := a.store.Issues(ctx, nil, 10)
	require.NoError(err)
	require.Len(issues, 1)
	issue := issues[0]
	require.Equal(tx1, issue.Tx)
	require.Equal(implV1, issue.Implementation)
	require.Equal(implV2, issue.AltImplementation)
	require.True(issue.DifferentSlots)
	require.False(issue.ProxyReverted)

	kept, err := a.FilterRegressions(ctx)
	require.NoError(err)
	require.Equal(1, kept)
}

func TestRegressionCanceled(t *testing.T) {
	a, _ := newTestApp(t, memdb.Name)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, a.Regression(ctx), context.Canceled)
}

func TestRun(t *testing.T) {
	require := require.New(t)

	var called bool
	require.NoError(Run(context.Background(), func(ctx context.Context) error {
		called = true
		require.NoError(ctx.Err())
		return nil
	}))
	require.True(called)
}

func slot(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

func TestFilteredSlots(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	a, _ := newTestApp(t, memdb.Name)
	require.NoError(a.Regression(ctx))

	issues, err := a.store.Issues(ctx, nil, 10)
	require.NoError(err)
	require.Len(issues, 1)
	require.Equal(slot(0), issues[0].OriginalSStores[0].Slot)
	require.Equal(slot(1), issues[0].AltSStores[0].Slot)
}
