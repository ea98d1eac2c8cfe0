// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gethengine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/ava-labs/proxyex/engine"
)

var _ engine.MutableState = (*State)(nil)

// State wraps a go-ethereum StateDB together with the header of the block it
// belongs to. It is not safe for concurrent use.
type State struct {
	statedb *state.StateDB
	header  *types.Header
}

// NewState returns a State over [statedb] for the block of [header].
func NewState(statedb *state.StateDB, header *types.Header) *State {
	return &State{
		statedb: statedb,
		header:  header,
	}
}

func (s *State) Storage(addr common.Address, slot uint256.Int, transient bool) uint256.Int {
	key := common.Hash(slot.Bytes32())
	var value common.Hash
	if transient {
		value = s.statedb.GetTransientState(addr, key)
	} else {
		value = s.statedb.GetState(addr, key)
	}
	var v uint256.Int
	v.SetBytes32(value[:])
	return v
}

func (s *State) Code(addr common.Address) []byte {
	return s.statedb.GetCode(addr)
}

func (s *State) SetCode(addr common.Address, code []byte) {
	s.statedb.SetCode(addr, code)
}

func (s *State) Fork() engine.MutableState {
	return &State{
		statedb: s.statedb.Copy(),
		header:  s.header,
	}
}
