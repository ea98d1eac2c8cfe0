// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gethengine

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/set"
)

var (
	proxy          = common.HexToAddress("0x1000")
	implementation = common.HexToAddress("0x2000")
)

// proxyCode reads slot 1 and delegates to [implementation] without calldata.
func proxyCode() []byte {
	code := []byte{
		byte(vm.PUSH1), 0x01, byte(vm.SLOAD), byte(vm.POP),
		byte(vm.PUSH1), 0x00, // retSize
		byte(vm.PUSH1), 0x00, // retOffset
		byte(vm.PUSH1), 0x00, // argsSize
		byte(vm.PUSH1), 0x00, // argsOffset
		byte(vm.PUSH20),
	}
	code = append(code, implementation.Bytes()...)
	return append(code,
		byte(vm.GAS),
		byte(vm.DELEGATECALL),
		byte(vm.POP),
		byte(vm.STOP),
	)
}

// implementationCode writes 0x2a to slot 2.
func implementationCode() []byte {
	return []byte{
		byte(vm.PUSH1), 0x2a,
		byte(vm.PUSH1), 0x02,
		byte(vm.SSTORE),
		byte(vm.STOP),
	}
}

type testChain struct {
	engine *Engine
	tx     *types.Transaction
	block  *types.Block
}

func newTestChain(t *testing.T) *testChain {
	return newTestChainWith(t, params.TestChainConfig, nil, nil)
}

// newTestChainWith builds a two block chain on [config] whose genesis state
// holds [genesisCode] and whose second block carries [beaconRoot].
func newTestChainWith(
	t *testing.T,
	config *params.ChainConfig,
	genesisCode map[common.Address][]byte,
	beaconRoot *common.Hash,
) *testChain {
	t.Helper()
	require := require.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(err)

	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   config.ChainID,
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2 * params.InitialBaseFee),
		Gas:       1_000_000,
		To:        &proxy,
	}), types.LatestSigner(config), key)
	require.NoError(err)

	states := state.NewDatabaseForTesting()
	genesisRoot := types.EmptyRootHash
	if len(genesisCode) > 0 {
		statedb, err := state.New(types.EmptyRootHash, states)
		require.NoError(err)
		for addr, code := range genesisCode {
			statedb.SetNonce(addr, 1, tracing.NonceChangeGenesis)
			statedb.SetCode(addr, code)
		}
		genesisRoot, err = statedb.Commit(0, true, false)
		require.NoError(err)
	}

	// a zero difficulty marks the blocks as post-merge
	difficulty := big.NewInt(1)
	if ttd := config.TerminalTotalDifficulty; ttd != nil && ttd.Sign() == 0 {
		difficulty = new(big.Int)
	}
	genesis := types.NewBlockWithHeader(&types.Header{
		Number:     big.NewInt(0),
		Root:       genesisRoot,
		Difficulty: difficulty,
		GasLimit:   30_000_000,
	})
	block := types.NewBlock(&types.Header{
		ParentHash:       genesis.Hash(),
		Number:           big.NewInt(1),
		Root:             types.EmptyRootHash,
		Difficulty:       difficulty,
		GasLimit:         30_000_000,
		BaseFee:          big.NewInt(params.InitialBaseFee),
		Time:             10,
		ParentBeaconRoot: beaconRoot,
	}, &types.Body{Transactions: []*types.Transaction{tx}}, nil, trie.NewStackTrie(nil))

	db := rawdb.NewMemoryDatabase()
	for _, b := range []*types.Block{genesis, block} {
		rawdb.WriteBlock(db, b)
		rawdb.WriteCanonicalHash(db, b.Hash(), b.NumberU64())
	}
	rawdb.WriteTxLookupEntriesByBlock(db, block)

	return &testChain{
		engine: New(db, states, config, logging.NoLog{}),
		tx:     tx,
		block:  block,
	}
}

// forkWithContracts returns the state before the test transaction with the
// proxy and implementation deployed.
func (c *testChain) forkWithContracts(t *testing.T) (*engine.Transaction, engine.MutableState) {
	t.Helper()
	require := require.New(t)

	ctx := context.Background()
	tx, err := c.engine.LookupTransaction(ctx, c.tx.Hash())
	require.NoError(err)
	base, err := c.engine.StateAt(ctx, tx.Position)
	require.NoError(err)

	fork := base.Fork()
	fork.SetCode(proxy, proxyCode())
	fork.SetCode(implementation, implementationCode())
	return tx, fork
}

type recorder struct {
	events []string
}

func (r *recorder) OnTransactionStart() bool {
	r.events = append(r.events, "start")
	return true
}

func (r *recorder) OnCallEnter(code, storage common.Address) {
	r.events = append(r.events, fmt.Sprintf("call %s %s", code, storage))
}

func (r *recorder) OnStep(step engine.Step, _ engine.StorageReader) {
	switch step.Op {
	case vm.SLOAD:
		r.events = append(r.events, fmt.Sprintf("SLOAD %s %d", step.Contract, step.Stack[0].Uint64()))
	case vm.SSTORE:
		r.events = append(r.events, fmt.Sprintf("SSTORE %s %d %d", step.Contract, step.Stack[0].Uint64(), step.Stack[1].Uint64()))
	}
}

func (r *recorder) OnCallExit(success bool) {
	r.events = append(r.events, fmt.Sprintf("exit %t", success))
}

func (r *recorder) OnCreateEnter() {
	r.events = append(r.events, "create")
}

func (r *recorder) OnCreateExit(created *common.Address) {
	r.events = append(r.events, fmt.Sprintf("created %v", created))
}

func (r *recorder) OnTransactionEnd() error {
	r.events = append(r.events, "end")
	return nil
}

func TestLookupTransaction(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	tx, err := c.engine.LookupTransaction(context.Background(), c.tx.Hash())
	require.NoError(err)
	require.Equal(engine.Position{
		Block:     1,
		BlockHash: c.block.Hash(),
		Index:     0,
	}, tx.Position)
	require.Equal(c.tx.Hash(), tx.Tx.Hash())

	_, err = c.engine.LookupTransaction(context.Background(), common.HexToHash("0xdead"))
	require.ErrorIs(err, engine.ErrTransactionNotFound)
}

func TestStateUnavailable(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	_, err := c.engine.StateAt(context.Background(), engine.Position{})
	require.ErrorIs(err, engine.ErrStateUnavailable)

	_, err = c.engine.BlockState(context.Background(), 7)
	require.ErrorIs(err, engine.ErrStateUnavailable)

	s, err := c.engine.BlockState(context.Background(), 1)
	require.NoError(err)
	require.Empty(s.Code(proxy))
}

func TestStateAtAppliesSystemCalls(t *testing.T) {
	require := require.New(t)

	beaconRoot := common.HexToHash("0xbeac")
	c := newTestChainWith(t, params.MergedTestChainConfig, map[common.Address][]byte{
		params.BeaconRootsAddress:    params.BeaconRootsCode,
		params.HistoryStorageAddress: params.HistoryStorageCode,
	}, &beaconRoot)

	ctx := context.Background()
	tx, err := c.engine.LookupTransaction(ctx, c.tx.Hash())
	require.NoError(err)
	s, err := c.engine.StateAt(ctx, tx.Position)
	require.NoError(err)

	// the beacon roots ring buffer keys the timestamp and the root by
	// time % 8191
	require.Equal(*uint256.NewInt(10), s.Storage(params.BeaconRootsAddress, *uint256.NewInt(10), false))
	var root uint256.Int
	root.SetBytes(beaconRoot.Bytes())
	require.Equal(root, s.Storage(params.BeaconRootsAddress, *uint256.NewInt(10+8191), false))

	// the history contract stores the parent hash at (number-1) % 8191
	var parent uint256.Int
	parent.SetBytes(c.block.ParentHash().Bytes())
	require.Equal(parent, s.Storage(params.HistoryStorageAddress, *uint256.NewInt(0), false))
}

func TestStateAtWithoutSystemContracts(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	ctx := context.Background()
	tx, err := c.engine.LookupTransaction(ctx, c.tx.Hash())
	require.NoError(err)
	s, err := c.engine.StateAt(ctx, tx.Position)
	require.NoError(err)
	require.Empty(s.Code(params.HistoryStorageAddress))
	require.Equal(uint256.Int{}, s.Storage(params.HistoryStorageAddress, *uint256.NewInt(0), false))
}

func TestReplayDelegateCall(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	tx, fork := c.forkWithContracts(t)

	r := &recorder{}
	outcome, err := c.engine.Replay(context.Background(), fork, tx, engine.ReplayOptions{BypassChecks: true}, r)
	require.NoError(err)
	require.False(outcome.Reverted)
	require.NoError(outcome.VMError)
	require.Positive(outcome.GasUsed)

	require.Equal([]string{
		"start",
		fmt.Sprintf("call %s %s", proxy, proxy),
		fmt.Sprintf("SLOAD %s 1", proxy),
		fmt.Sprintf("call %s %s", implementation, proxy),
		fmt.Sprintf("SSTORE %s 2 42", proxy),
		"exit true",
		"exit true",
		"end",
	}, r.events)

	require.Equal(*uint256.NewInt(0x2a), fork.Storage(proxy, *uint256.NewInt(2), false))
}

func TestReplayClassifiesDelegatedWrites(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	tx, fork := c.forkWithContracts(t)

	cl := classifier.NewLenient(proxy, implementation)
	_, err := c.engine.Replay(context.Background(), fork, tx, engine.ReplayOptions{BypassChecks: true}, cl)
	require.NoError(err)
	require.NoError(cl.Err())

	require.Equal(set.Of(*uint256.NewInt(1)), classifier.Slots(cl.ProxySLoads))
	require.Equal(set.Of(*uint256.NewInt(2)), classifier.Slots(cl.ImplementationSStores))
	require.Empty(cl.ProxySStores)
	require.False(cl.ProxyReverted)
}

func TestReplayForkIsolation(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	tx, fork := c.forkWithContracts(t)
	sibling := fork.Fork()

	_, err := c.engine.Replay(context.Background(), fork, tx, engine.ReplayOptions{BypassChecks: true}, &recorder{})
	require.NoError(err)
	require.Equal(uint256.Int{}, sibling.Storage(proxy, *uint256.NewInt(2), false))
}

func TestReplayRequiresFunds(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	tx, fork := c.forkWithContracts(t)

	_, err := c.engine.Replay(context.Background(), fork, tx, engine.ReplayOptions{}, &recorder{})
	require.ErrorIs(err, engine.ErrExecution)
}

func TestReplayCanceled(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	tx, fork := c.forkWithContracts(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.engine.Replay(ctx, fork, tx, engine.ReplayOptions{BypassChecks: true}, &recorder{})
	require.ErrorIs(err, engine.ErrExecution)
	require.ErrorIs(err, context.Canceled)
}

func TestReplayRejectsForeignState(t *testing.T) {
	require := require.New(t)

	c := newTestChain(t)
	tx, _ := c.forkWithContracts(t)

	_, err := c.engine.Replay(context.Background(), nil, tx, engine.ReplayOptions{}, &recorder{})
	require.ErrorIs(err, errForeignState)
}
