// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package classifier

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/utils/set"
)

var (
	proxy          = common.HexToAddress("0x1000")
	implementation = common.HexToAddress("0x2000")
	other          = common.HexToAddress("0x3000")
)

type storage map[common.Address]map[uint64]uint64

func (s storage) Storage(addr common.Address, slot uint256.Int, _ bool) uint256.Int {
	return *uint256.NewInt(s[addr][slot.Uint64()])
}

func step(op vm.OpCode, contract common.Address, slot, value uint64) engine.Step {
	return engine.Step{
		Op:       op,
		Contract: contract,
		Stack:    [2]uint256.Int{*uint256.NewInt(slot), *uint256.NewInt(value)},
	}
}

func access(slot, value uint64) Access {
	return Access{
		Address: proxy,
		Slot:    *uint256.NewInt(slot),
		Value:   *uint256.NewInt(value),
	}
}

func TestFrameBalance(t *testing.T) {
	tests := []struct {
		name    string
		trace   func(c *Classifier)
		wantErr error
	}{
		{
			name: "nested calls",
			trace: func(c *Classifier) {
				c.OnCallEnter(proxy, proxy)
				c.OnCallEnter(implementation, proxy)
				c.OnCallEnter(other, other)
				c.OnCallExit(true)
				c.OnCallExit(true)
				c.OnCallExit(true)
			},
		},
		{
			name: "create inside call",
			trace: func(c *Classifier) {
				c.OnCallEnter(other, other)
				c.OnCreateEnter()
				c.OnCreateExit(nil)
				c.OnCallExit(false)
			},
		},
		{
			name: "empty transaction",
			trace: func(*Classifier) {},
		},
		{
			name: "missing exit",
			trace: func(c *Classifier) {
				c.OnCallEnter(proxy, proxy)
			},
			wantErr: ErrStackImbalance,
		},
		{
			name: "extra exit",
			trace: func(c *Classifier) {
				c.OnCallEnter(proxy, proxy)
				c.OnCallExit(true)
				c.OnCallExit(true)
			},
			wantErr: ErrStackImbalance,
		},
		{
			name: "extra create exit",
			trace: func(c *Classifier) {
				c.OnCreateExit(&proxy)
			},
			wantErr: ErrStackImbalance,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			c := New(proxy, implementation, 0, 1)
			require.True(c.OnTransactionStart())
			test.trace(c)
			err := c.OnTransactionEnd()
			require.ErrorIs(err, test.wantErr)
			require.ErrorIs(c.Err(), test.wantErr)
			if test.wantErr == nil {
				require.Zero(c.Depth())
			}
		})
	}
}

func TestHooksOutsideTransaction(t *testing.T) {
	tests := []struct {
		name  string
		trace func(c *Classifier)
	}{
		{
			name: "call enter",
			trace: func(c *Classifier) {
				c.OnCallEnter(proxy, proxy)
			},
		},
		{
			name: "create enter",
			trace: func(c *Classifier) {
				c.OnCreateEnter()
			},
		},
		{
			name: "step",
			trace: func(c *Classifier) {
				c.OnStep(step(vm.SSTORE, proxy, 1, 1), storage{})
			},
		},
		{
			name: "end",
			trace: func(c *Classifier) {
				_ = c.OnTransactionEnd()
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := New(proxy, implementation, 0, 1)
			test.trace(c)
			require.ErrorIs(t, c.Err(), ErrStackImbalance)
		})
	}
}

func TestDefectIsSticky(t *testing.T) {
	require := require.New(t)

	c := New(proxy, implementation, 0, 1)
	c.OnCallExit(true)
	require.ErrorIs(c.Err(), ErrStackImbalance)

	// Once broken, a well-formed trace cannot repair the classifier.
	require.True(c.OnTransactionStart())
	c.OnCallEnter(proxy, proxy)
	c.OnStep(step(vm.SSTORE, proxy, 1, 1), storage{})
	c.OnCallExit(true)
	require.ErrorIs(c.OnTransactionEnd(), ErrStackImbalance)
	require.Empty(c.ProxySStores)
}

func TestDelegatecallAttribution(t *testing.T) {
	require := require.New(t)

	state := storage{
		proxy: {0: 7, 3: 9},
	}

	c := New(proxy, implementation, 0, 1)
	require.True(c.OnTransactionStart())

	// proxy code on proxy storage
	c.OnCallEnter(proxy, proxy)
	c.OnStep(step(vm.SLOAD, proxy, 0, 0), state)
	c.OnStep(step(vm.SSTORE, proxy, 0, 1), state)

	// implementation code on proxy storage
	c.OnCallEnter(implementation, proxy)
	c.OnStep(step(vm.SSTORE, proxy, 0, 2), state)
	c.OnStep(step(vm.TLOAD, proxy, 3, 0), state)
	c.OnStep(step(vm.ADD, proxy, 0, 0), state)

	// implementation called directly works on its own storage
	c.OnCallEnter(implementation, implementation)
	c.OnStep(step(vm.SSTORE, implementation, 0, 3), state)
	c.OnCallExit(true)

	// unrelated code writing to proxy storage
	c.OnCallEnter(other, proxy)
	c.OnStep(step(vm.SSTORE, proxy, 4, 4), state)
	c.OnCallExit(true)

	c.OnCallExit(true)
	c.OnCallExit(true)
	require.NoError(c.OnTransactionEnd())

	require.Equal(set.Of(access(0, 1)), c.ProxySStores)
	require.Equal(set.Of(access(0, 7)), c.ProxySLoads)
	require.Equal(set.Of(access(0, 2)), c.ImplementationSStores)
	require.Equal(set.Of(access(3, 9)), c.ImplementationSLoads)

	proxyWrites := Slots(c.ProxySStores)
	require.True(proxyWrites.Overlaps(Slots(c.ImplementationSStores)))
	require.False(c.ProxyReverted)
	require.False(c.ProxyCreated)
}

func TestRevertTracking(t *testing.T) {
	require := require.New(t)

	c := New(proxy, implementation, 0, 1)
	require.True(c.OnTransactionStart())
	c.OnCallEnter(proxy, proxy)
	c.OnCallEnter(implementation, proxy)
	c.OnStep(step(vm.SSTORE, proxy, 5, 1), storage{})
	c.OnCallExit(true)
	c.OnCallExit(false)
	require.NoError(c.OnTransactionEnd())

	require.True(c.ProxyReverted)
	require.Equal(set.Of(access(5, 1)), c.ImplementationSStores)
}

func TestNestedRevertIgnoresOtherCode(t *testing.T) {
	require := require.New(t)

	c := New(proxy, implementation, 0, 1)
	require.True(c.OnTransactionStart())
	c.OnCallEnter(other, other)
	c.OnCallEnter(implementation, proxy)
	c.OnCallExit(false)
	c.OnCallExit(false)
	require.NoError(c.OnTransactionEnd())

	require.False(c.ProxyReverted)
}

func TestProxyCreation(t *testing.T) {
	require := require.New(t)

	c := New(proxy, implementation, 0, 1)
	require.True(c.OnTransactionStart())
	c.OnCreateEnter()
	// The frame address is unknown, so the executing contract is used.
	c.OnStep(step(vm.SSTORE, proxy, 1, 1), storage{})
	c.OnCreateExit(&proxy)
	require.NoError(c.OnTransactionEnd())

	require.True(c.ProxyCreated)
	require.Equal(set.Of(access(1, 1)), c.ProxySStores)
}

func TestFailedCreationDoesNotMarkProxy(t *testing.T) {
	require := require.New(t)

	c := New(proxy, implementation, 0, 1)
	require.True(c.OnTransactionStart())
	c.OnCreateEnter()
	c.OnCreateExit(nil)
	c.OnCreateEnter()
	c.OnCreateExit(&other)
	require.NoError(c.OnTransactionEnd())

	require.False(c.ProxyCreated)
}

func TestLenientUnwinding(t *testing.T) {
	require := require.New(t)

	c := NewLenient(proxy, implementation)
	require.True(c.OnTransactionStart())
	c.OnCallEnter(proxy, proxy)
	c.OnCallEnter(implementation, proxy)
	c.OnStep(step(vm.SSTORE, proxy, 2, 2), storage{})
	require.NoError(c.OnTransactionEnd())

	require.True(c.ProxyReverted)
	require.Equal(set.Of(access(2, 2)), c.ImplementationSStores)
	require.Nil(c.AltImplementation)
}

func TestAlternateIsStrict(t *testing.T) {
	require := require.New(t)

	alt := common.HexToAddress("0x4000")
	c := NewAlternate(proxy, implementation, alt)
	require.True(c.OnTransactionStart())
	c.OnCallEnter(proxy, proxy)
	err := c.OnTransactionEnd()
	require.ErrorIs(err, ErrStackImbalance)
	require.Equal(&alt, c.AltImplementation)
}
