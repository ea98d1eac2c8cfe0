// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine defines the boundary between the analysis packages and the
// component that stores chain history and executes transactions.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

var (
	// ErrTransactionNotFound is returned when the transaction lookup index has
	// no entry for the requested hash.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrStateUnavailable is returned when the historical state needed for a
	// replay cannot be opened.
	ErrStateUnavailable = errors.New("state unavailable")
	// ErrExecution is returned when the engine refuses to execute a
	// transaction. Reverts inside the EVM are not errors and are reported
	// through [Outcome].
	ErrExecution = errors.New("execution failed")
)

// Position locates a transaction in the canonical chain.
type Position struct {
	Block     uint64
	BlockHash common.Hash
	Index     int
}

// Transaction is a historical transaction together with its position.
type Transaction struct {
	Hash     common.Hash
	Tx       *types.Transaction
	Position Position
}

// ReplayOptions tunes a single replay.
type ReplayOptions struct {
	// BypassChecks skips the nonce, balance and fee checks that would reject a
	// transaction replayed against modified state.
	BypassChecks bool
}

// Outcome summarizes a replay.
type Outcome struct {
	GasUsed  uint64
	Reverted bool
	// VMError is the error the EVM stopped with, if any.
	VMError error
	Elapsed time.Duration
}

// StorageReader reads the current value of a storage slot.
type StorageReader interface {
	Storage(addr common.Address, slot uint256.Int, transient bool) uint256.Int
}

// State is a read-only view of the world state at some point in history.
type State interface {
	StorageReader

	Code(addr common.Address) []byte

	// Fork returns a private copy that can be modified and replayed against
	// without affecting this state.
	Fork() MutableState
}

// MutableState is a private fork of a [State].
type MutableState interface {
	State

	SetCode(addr common.Address, code []byte)
}

// Engine looks up transactions, opens historical state and replays
// transactions against it. Implementations must be safe for concurrent use.
type Engine interface {
	LookupTransaction(ctx context.Context, txHash common.Hash) (*Transaction, error)

	// StateAt returns the state immediately before the transaction at [pos]
	// executed.
	StateAt(ctx context.Context, pos Position) (State, error)

	// Replay executes [tx] against [state], invoking [hooks] for every
	// execution event.
	Replay(ctx context.Context, state MutableState, tx *Transaction, opts ReplayOptions, hooks Hooks) (*Outcome, error)

	// BlockState returns the state after every transaction of block [number]
	// executed.
	BlockState(ctx context.Context, number uint64) (State, error)
}
