// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package enginetest

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/ava-labs/proxyex/engine"
)

var ErrScripted = errors.New("scripted failure")

// Event is one step of a scripted trace.
type Event func(state engine.MutableState, hooks engine.Hooks)

// Trace returns a script that plays [events] in order.
func Trace(events ...Event) Script {
	return func(_ context.Context, state engine.MutableState, hooks engine.Hooks) error {
		for _, ev := range events {
			ev(state, hooks)
		}
		return nil
	}
}

// Fail returns a script that fails without driving any hook.
func Fail() Script {
	return func(context.Context, engine.MutableState, engine.Hooks) error {
		return ErrScripted
	}
}

// Call enters a frame running [code] against [storage], plays [inner] and
// exits with [success].
func Call(code, storage common.Address, success bool, inner ...Event) Event {
	return func(state engine.MutableState, hooks engine.Hooks) {
		hooks.OnCallEnter(code, storage)
		for _, ev := range inner {
			ev(state, hooks)
		}
		hooks.OnCallExit(success)
	}
}

// Create enters a creation frame, plays [inner] and exits with [created].
func Create(created *common.Address, inner ...Event) Event {
	return func(state engine.MutableState, hooks engine.Hooks) {
		hooks.OnCreateEnter()
		for _, ev := range inner {
			ev(state, hooks)
		}
		hooks.OnCreateExit(created)
	}
}

// SStore writes [value] to [slot] of [contract] and reports the step.
func SStore(contract common.Address, slot, value uint64) Event {
	return func(state engine.MutableState, hooks engine.Hooks) {
		s, v := *uint256.NewInt(slot), *uint256.NewInt(value)
		hooks.OnStep(engine.Step{
			Op:       vm.SSTORE,
			Contract: contract,
			Stack:    [2]uint256.Int{s, v},
		}, state)
		if st, ok := state.(*State); ok {
			st.SetStorage(contract, s, v)
		}
	}
}

// SLoad reports a read of [slot] of [contract].
func SLoad(contract common.Address, slot uint64) Event {
	return func(state engine.MutableState, hooks engine.Hooks) {
		hooks.OnStep(engine.Step{
			Op:       vm.SLOAD,
			Contract: contract,
			Stack:    [2]uint256.Int{*uint256.NewInt(slot)},
		}, state)
	}
}

// ByCode plays [ifMatch] when [addr] holds [code] in the replayed state, and
// [otherwise] if not. It lets a script follow an implementation swap.
func ByCode(addr common.Address, code []byte, ifMatch, otherwise Event) Event {
	return func(state engine.MutableState, hooks engine.Hooks) {
		if string(state.Code(addr)) == string(code) {
			ifMatch(state, hooks)
			return
		}
		otherwise(state, hooks)
	}
}

// Seq groups events.
func Seq(events ...Event) Event {
	return func(state engine.MutableState, hooks engine.Hooks) {
		for _, ev := range events {
			ev(state, hooks)
		}
	}
}
