// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package enginetest provides an in-memory engine.Engine whose transactions
// are scripts that drive the hooks directly.
package enginetest

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ava-labs/proxyex/engine"
)

var (
	_ engine.Engine       = (*Engine)(nil)
	_ engine.MutableState = (*State)(nil)
)

// Script plays the role of the EVM for one transaction. It is called between
// OnTransactionStart and OnTransactionEnd.
type Script func(ctx context.Context, state engine.MutableState, hooks engine.Hooks) error

// Engine is a scripted engine.Engine. The zero value is not usable, use New.
type Engine struct {
	lock sync.Mutex

	base    *State
	txs     map[common.Hash]*engine.Transaction
	scripts map[common.Hash]Script

	blockCode map[uint64]map[common.Address][]byte

	// StateErr, when set, is returned by StateAt for the given block.
	StateErr map[uint64]error
	// Delay is slept at the start of every replay of the given transaction.
	Delay map[common.Hash]time.Duration

	replays int
}

func New() *Engine {
	return &Engine{
		base:      NewState(),
		txs:       make(map[common.Hash]*engine.Transaction),
		scripts:   make(map[common.Hash]Script),
		blockCode: make(map[uint64]map[common.Address][]byte),
		StateErr:  make(map[uint64]error),
		Delay:     make(map[common.Hash]time.Duration),
	}
}

// Base returns the state every StateAt call forks from.
func (e *Engine) Base() *State {
	return e.base
}

// AddTx registers [script] under [hash] in its own block.
func (e *Engine) AddTx(hash common.Hash, script Script) {
	e.lock.Lock()
	defer e.lock.Unlock()

	block := uint64(len(e.txs) + 1)
	e.txs[hash] = &engine.Transaction{
		Hash: hash,
		Position: engine.Position{
			Block:     block,
			BlockHash: common.BigToHash(uint256.NewInt(block).ToBig()),
		},
	}
	e.scripts[hash] = script
}

// Replays returns the number of Replay calls.
func (e *Engine) Replays() int {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.replays
}

func (e *Engine) LookupTransaction(_ context.Context, txHash common.Hash) (*engine.Transaction, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	tx, ok := e.txs[txHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrTransactionNotFound, txHash)
	}
	return tx, nil
}

func (e *Engine) StateAt(_ context.Context, pos engine.Position) (engine.State, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if err, ok := e.StateErr[pos.Block]; ok {
		return nil, fmt.Errorf("%w: %w", engine.ErrStateUnavailable, err)
	}
	return e.base.Fork(), nil
}

// BlockState returns the code registered with SetBlockCode on top of the base
// state. Storage is shared with the base state.
func (e *Engine) BlockState(_ context.Context, number uint64) (engine.State, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if err, ok := e.StateErr[number]; ok {
		return nil, fmt.Errorf("%w: %w", engine.ErrStateUnavailable, err)
	}
	state := e.base.Fork()
	for addr, code := range e.blockCode[number] {
		state.SetCode(addr, code)
	}
	return state, nil
}

// SetBlockCode makes [addr] hold [code] in the state returned by BlockState
// for [number].
func (e *Engine) SetBlockCode(number uint64, addr common.Address, code []byte) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.blockCode[number] == nil {
		e.blockCode[number] = make(map[common.Address][]byte)
	}
	e.blockCode[number][addr] = code
}

func (e *Engine) Replay(
	ctx context.Context,
	state engine.MutableState,
	tx *engine.Transaction,
	_ engine.ReplayOptions,
	hooks engine.Hooks,
) (*engine.Outcome, error) {
	e.lock.Lock()
	e.replays++
	script, ok := e.scripts[tx.Hash]
	delay := e.Delay[tx.Hash]
	e.lock.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no script for %s", engine.ErrExecution, tx.Hash)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", engine.ErrExecution, ctx.Err())
		}
	}

	start := time.Now()
	if !hooks.OnTransactionStart() {
		return &engine.Outcome{}, nil
	}
	if err := script(ctx, state, hooks); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrExecution, err)
	}
	if err := hooks.OnTransactionEnd(); err != nil {
		return nil, err
	}
	return &engine.Outcome{Elapsed: time.Since(start)}, nil
}

// State is an in-memory engine.MutableState.
type State struct {
	storage map[common.Address]map[uint256.Int]uint256.Int
	code    map[common.Address][]byte
}

func NewState() *State {
	return &State{
		storage: make(map[common.Address]map[uint256.Int]uint256.Int),
		code:    make(map[common.Address][]byte),
	}
}

// SetStorage writes a slot. Transient storage is not modelled and always
// reads as zero.
func (s *State) SetStorage(addr common.Address, slot, value uint256.Int) {
	if s.storage[addr] == nil {
		s.storage[addr] = make(map[uint256.Int]uint256.Int)
	}
	s.storage[addr][slot] = value
}

func (s *State) Storage(addr common.Address, slot uint256.Int, transient bool) uint256.Int {
	if transient {
		return uint256.Int{}
	}
	return s.storage[addr][slot]
}

func (s *State) Code(addr common.Address) []byte {
	return s.code[addr]
}

func (s *State) SetCode(addr common.Address, code []byte) {
	s.code[addr] = code
}

func (s *State) Fork() engine.MutableState {
	fork := NewState()
	for addr, slots := range s.storage {
		fork.storage[addr] = maps.Clone(slots)
	}
	maps.Copy(fork.code, s.code)
	return fork
}
