// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// Step describes an opcode about to execute.
type Step struct {
	Op vm.OpCode
	// Contract is the account whose storage the executing frame operates on.
	Contract common.Address
	// Stack holds the top of the operand stack, top first. Entries beyond the
	// stack height are zero.
	Stack [2]uint256.Int
}

// Hooks receives execution events while a transaction is replayed.
//
// Every OnCallEnter is matched by one OnCallExit and every OnCreateEnter by
// one OnCreateExit, nested inside a single OnTransactionStart /
// OnTransactionEnd pair.
type Hooks interface {
	// OnTransactionStart is called before the first execution event. Returning
	// false aborts the replay.
	OnTransactionStart() bool
	OnCallEnter(code, storage common.Address)
	OnStep(step Step, reader StorageReader)
	OnCallExit(success bool)
	OnCreateEnter()
	// OnCreateExit receives the created address, or nil when the creation
	// failed.
	OnCreateExit(created *common.Address)
	OnTransactionEnd() error
}
