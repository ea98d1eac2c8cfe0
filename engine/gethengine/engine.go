// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gethengine implements engine.Engine on top of a go-ethereum chain
// database.
package gethengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc"
	"github.com/ethereum/go-ethereum/consensus/misc/eip4844"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/ethereum/go-ethereum/triedb/pathdb"
	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/utils/logging"
)

const (
	PebbleType  = "pebble"
	LevelDBType = "leveldb"

	HashScheme = rawdb.HashScheme
	PathScheme = rawdb.PathScheme

	defaultCache   = 512
	defaultHandles = 512

	metricsNamespace = "proxyex/chaindata/"
)

var (
	_ engine.Engine = (*Engine)(nil)

	errUnknownType   = errors.New("unknown chain database type")
	errUnknownScheme = errors.New("unknown state scheme")
	errNoChainConfig = errors.New("chain config not found")
)

// Config locates the chain database.
type Config struct {
	// ChainData is the directory of the key-value store.
	ChainData string
	// Type is [PebbleType] or [LevelDBType].
	Type string
	// Ancient is the freezer directory. Defaults to ChainData/ancient.
	Ancient string
	// StateScheme is [HashScheme] or [PathScheme]. Empty reads the scheme
	// from the database.
	StateScheme string
	Cache       int
	Handles     int
}

// Engine replays historical transactions from a go-ethereum chain database.
type Engine struct {
	db     ethdb.Database
	states state.Database
	config *params.ChainConfig
	log    logging.Logger

	close func() error
}

// New returns an engine reading blocks from [db] and state from [states].
func New(db ethdb.Database, states state.Database, config *params.ChainConfig, log logging.Logger) *Engine {
	return &Engine{
		db:     db,
		states: states,
		config: config,
		log:    log,
		close:  func() error { return nil },
	}
}

// Open opens the chain database described by [config] read-only.
func Open(config Config, log logging.Logger) (*Engine, error) {
	if config.Cache <= 0 {
		config.Cache = defaultCache
	}
	if config.Handles <= 0 {
		config.Handles = defaultHandles
	}
	if config.Ancient == "" {
		config.Ancient = filepath.Join(config.ChainData, "ancient")
	}

	var (
		kv  ethdb.KeyValueStore
		err error
	)
	switch config.Type {
	case PebbleType, "":
		kv, err = pebble.New(config.ChainData, config.Cache, config.Handles, metricsNamespace, true)
	case LevelDBType:
		kv, err = leveldb.New(config.ChainData, config.Cache, config.Handles, metricsNamespace, true)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, config.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open chain data %s: %w", config.ChainData, err)
	}

	db, err := rawdb.Open(kv, rawdb.OpenOptions{
		Ancient:          config.Ancient,
		MetricsNamespace: metricsNamespace,
		ReadOnly:         true,
	})
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("open freezer %s: %w", config.Ancient, err)
	}

	genesis := rawdb.ReadCanonicalHash(db, 0)
	chainConfig := rawdb.ReadChainConfig(db, genesis)
	if chainConfig == nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: genesis %s", errNoChainConfig, genesis)
	}

	scheme := config.StateScheme
	if scheme == "" {
		scheme = rawdb.ReadStateScheme(db)
	}
	var trieConfig *triedb.Config
	switch scheme {
	case HashScheme:
		trieConfig = triedb.HashDefaults
	case PathScheme:
		trieConfig = &triedb.Config{PathDB: pathdb.ReadOnly}
	default:
		_ = db.Close()
		return nil, fmt.Errorf("%w: %q", errUnknownScheme, scheme)
	}
	tdb := triedb.NewDatabase(db, trieConfig)

	log.Info("opened chain data",
		zap.String("path", config.ChainData),
		zap.String("type", config.Type),
		zap.String("scheme", scheme),
		zap.Stringer("chainID", chainConfig.ChainID),
	)

	e := New(db, state.NewDatabase(tdb, nil), chainConfig, log)
	e.close = func() error {
		return errors.Join(tdb.Close(), db.Close())
	}
	return e, nil
}

func (e *Engine) Close() error {
	return e.close()
}

func (e *Engine) LookupTransaction(_ context.Context, txHash common.Hash) (*engine.Transaction, error) {
	number := rawdb.ReadTxLookupEntry(e.db, txHash)
	if number == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrTransactionNotFound, txHash)
	}
	block, err := e.block(*number)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", engine.ErrTransactionNotFound, txHash, err)
	}
	for i, tx := range block.Transactions() {
		if tx.Hash() != txHash {
			continue
		}
		return &engine.Transaction{
			Hash: txHash,
			Tx:   tx,
			Position: engine.Position{
				Block:     *number,
				BlockHash: block.Hash(),
				Index:     i,
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: %s not in block %d", engine.ErrTransactionNotFound, txHash, *number)
}

func (e *Engine) block(number uint64) (*types.Block, error) {
	hash := rawdb.ReadCanonicalHash(e.db, number)
	if hash == (common.Hash{}) {
		return nil, fmt.Errorf("no canonical block %d", number)
	}
	block := rawdb.ReadBlock(e.db, hash, number)
	if block == nil {
		return nil, fmt.Errorf("block %d (%s) not found", number, hash)
	}
	return block, nil
}

// StateAt opens the state of the parent block, applies the block's
// pre-execution system calls and then the transactions that precede [pos] in
// its block.
func (e *Engine) StateAt(ctx context.Context, pos engine.Position) (engine.State, error) {
	if pos.Block == 0 {
		return nil, fmt.Errorf("%w: genesis has no transactions", engine.ErrStateUnavailable)
	}
	block, err := e.block(pos.Block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrStateUnavailable, err)
	}
	parent := rawdb.ReadHeader(e.db, block.ParentHash(), pos.Block-1)
	if parent == nil {
		return nil, fmt.Errorf("%w: parent of block %d not found", engine.ErrStateUnavailable, pos.Block)
	}
	statedb, err := state.New(parent.Root, e.states)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", engine.ErrStateUnavailable, pos.Block-1, err)
	}

	header := block.Header()
	var (
		evm     = vm.NewEVM(e.blockContext(header), statedb, e.config, vm.Config{})
		signer  = types.MakeSigner(e.config, header.Number, header.Time)
		gasPool = new(core.GasPool).AddGas(header.GasLimit)
	)
	if e.config.DAOForkSupport && e.config.DAOForkBlock != nil && e.config.DAOForkBlock.Cmp(header.Number) == 0 {
		misc.ApplyDAOHardFork(statedb)
	}
	// pre-execution system calls run before the first transaction
	if header.ParentBeaconRoot != nil {
		core.ProcessBeaconBlockRoot(*header.ParentBeaconRoot, evm)
	}
	if e.config.IsPrague(header.Number, header.Time) || e.config.IsVerkle(header.Number, header.Time) {
		core.ProcessParentBlockHash(header.ParentHash, evm)
	}
	for i, tx := range block.Transactions()[:pos.Index] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := core.TransactionToMessage(tx, signer, header.BaseFee)
		if err != nil {
			return nil, fmt.Errorf("%w: tx %d of block %d: %w", engine.ErrStateUnavailable, i, pos.Block, err)
		}
		statedb.SetTxContext(tx.Hash(), i)
		if _, err := core.ApplyMessage(evm, msg, gasPool); err != nil {
			return nil, fmt.Errorf("%w: tx %d of block %d: %w", engine.ErrStateUnavailable, i, pos.Block, err)
		}
		statedb.Finalise(true)
	}
	return &State{
		statedb: statedb,
		header:  header,
	}, nil
}

func (e *Engine) BlockState(_ context.Context, number uint64) (engine.State, error) {
	block, err := e.block(number)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrStateUnavailable, err)
	}
	header := block.Header()
	statedb, err := state.New(header.Root, e.states)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", engine.ErrStateUnavailable, number, err)
	}
	return &State{
		statedb: statedb,
		header:  header,
	}, nil
}

func (e *Engine) blockContext(header *types.Header) vm.BlockContext {
	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash: func(n uint64) common.Hash {
			return rawdb.ReadCanonicalHash(e.db, n)
		},
		Coinbase:    header.Coinbase,
		GasLimit:    header.GasLimit,
		BlockNumber: new(big.Int).Set(header.Number),
		Time:        header.Time,
		Difficulty:  new(big.Int),
	}
	if header.Difficulty != nil {
		blockCtx.Difficulty.Set(header.Difficulty)
	}
	if header.BaseFee != nil {
		blockCtx.BaseFee = new(big.Int).Set(header.BaseFee)
	}
	if header.ExcessBlobGas != nil {
		blockCtx.BlobBaseFee = eip4844.CalcBlobFee(e.config, header)
	}
	if blockCtx.Difficulty.Sign() == 0 {
		random := header.MixDigest
		blockCtx.Random = &random
	}
	return blockCtx
}
