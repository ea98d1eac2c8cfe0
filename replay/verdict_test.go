// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/utils/set"
)

var (
	proxy          = common.HexToAddress("0x1000")
	implementation = common.HexToAddress("0x2000")
	tx1            = common.HexToHash("0x01")
	tx2            = common.HexToHash("0x02")
	tx3            = common.HexToHash("0x03")
)

func accesses(slots ...uint64) classifier.AccessSet {
	s := set.Set[classifier.Access]{}
	for _, slot := range slots {
		s.Add(classifier.Access{
			Address: proxy,
			Slot:    *uint256.NewInt(slot),
			Value:   *uint256.NewInt(slot * 10),
		})
	}
	return s
}

func pair(slot uint64) classifier.Pair {
	return classifier.Pair{
		Slot:  *uint256.NewInt(slot),
		Value: *uint256.NewInt(slot * 10),
	}
}

func result(tx common.Hash, index uint64, c *classifier.Classifier) Result {
	return Result{
		Invocation: Invocation{
			Proxy:          proxy,
			Implementation: implementation,
			Tx:             tx,
			Index:          index,
		},
		Classifier: c,
	}
}

func TestVerdictAlgebra(t *testing.T) {
	require := require.New(t)

	results := []Result{
		result(tx1, 0, &classifier.Classifier{
			ProxySStores:          accesses(5, 6),
			ProxySLoads:           accesses(5),
			ImplementationSStores: accesses(),
			ImplementationSLoads:  accesses(),
			Elapsed:               2 * time.Millisecond,
		}),
		result(tx2, 1, &classifier.Classifier{
			ProxySStores:          accesses(),
			ProxySLoads:           accesses(),
			ImplementationSStores: accesses(5, 7),
			ImplementationSLoads:  accesses(),
			Elapsed:               4 * time.Millisecond,
		}),
	}

	v := NewVerdict(proxy, results)
	require.Equal(proxy, v.Proxy)
	require.Equal([]uint256.Int{*uint256.NewInt(5)}, v.ConflictSlots)
	require.True(v.Problematic)
	require.Equal(6*time.Millisecond, v.TotalTime)
	require.Equal(3*time.Millisecond, v.AvgTime)

	require.Equal([]TxAccesses{{Tx: tx1, Pairs: []classifier.Pair{pair(5)}}}, v.ProxySStores)
	require.Equal([]TxAccesses{{Tx: tx1, Pairs: []classifier.Pair{pair(5)}}}, v.ProxySLoads)
	require.Equal([]TxAccesses{{Tx: tx2, Pairs: []classifier.Pair{pair(5)}}}, v.ImplementationSStores)
	require.Empty(v.ImplementationSLoads)
}

func TestVerdictWriteWriteWithoutRead(t *testing.T) {
	require := require.New(t)

	v := NewVerdict(proxy, []Result{
		result(tx1, 0, &classifier.Classifier{
			ProxySStores:          accesses(1),
			ImplementationSStores: accesses(1),
			ImplementationSLoads:  accesses(2),
		}),
	})
	require.Empty(v.ConflictSlots)
	require.False(v.Problematic)
	require.Empty(v.ProxySStores)
	require.Empty(v.ImplementationSStores)
	require.Empty(v.ImplementationSLoads)
}

func TestVerdictExcludesProxyCreation(t *testing.T) {
	require := require.New(t)

	results := []Result{
		// Constructor writes slot 5 as proxy code and as implementation code.
		result(tx1, 0, &classifier.Classifier{
			ProxySStores:          accesses(5),
			ProxySLoads:           accesses(5),
			ImplementationSStores: accesses(5),
			ProxyCreated:          true,
			Elapsed:               time.Millisecond,
		}),
		result(tx2, 1, &classifier.Classifier{
			ImplementationSStores: accesses(5),
			ImplementationSLoads:  accesses(5),
			Elapsed:               3 * time.Millisecond,
		}),
	}

	v := NewVerdict(proxy, results)
	require.False(v.Problematic)
	require.Empty(v.ConflictSlots)
	require.Empty(v.ProxySStores)
	require.Empty(v.ProxySLoads)
	require.Equal(4*time.Millisecond, v.TotalTime)
	require.Equal(2*time.Millisecond, v.AvgTime)
}

func TestVerdictAcrossTransactions(t *testing.T) {
	require := require.New(t)

	v := NewVerdict(proxy, []Result{
		result(tx1, 0, &classifier.Classifier{ProxySStores: accesses(1, 2)}),
		result(tx2, 1, &classifier.Classifier{ImplementationSLoads: accesses(2)}),
		result(tx3, 2, &classifier.Classifier{ImplementationSStores: accesses(2, 3)}),
	})
	require.True(v.Problematic)
	require.Equal([]uint256.Int{*uint256.NewInt(2)}, v.ConflictSlots)
	require.Equal([]TxAccesses{{Tx: tx1, Pairs: []classifier.Pair{pair(2)}}}, v.ProxySStores)
	require.Equal([]TxAccesses{{Tx: tx2, Pairs: []classifier.Pair{pair(2)}}}, v.ImplementationSLoads)
	require.Equal([]TxAccesses{{Tx: tx3, Pairs: []classifier.Pair{pair(2)}}}, v.ImplementationSStores)
}

func TestTxAccessesJSON(t *testing.T) {
	require := require.New(t)

	records := []TxAccesses{{Tx: tx1, Pairs: []classifier.Pair{pair(1), pair(16)}}}
	b, err := json.Marshal(records)
	require.NoError(err)
	require.JSONEq(`[["`+tx1.Hex()+`",[["0x1","0xa"],["0x10","0xa0"]]]]`, string(b))

	var decoded []TxAccesses
	require.NoError(json.Unmarshal(b, &decoded))
	require.Equal(records, decoded)

	err = json.Unmarshal([]byte(`[["`+tx1.Hex()+`"]]`), &decoded)
	require.ErrorIs(err, errMalformedTxAccesses)
}
