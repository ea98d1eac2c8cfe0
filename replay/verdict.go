// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replay

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/utils/set"
)

var errMalformedTxAccesses = errors.New("malformed transaction accesses")

// TxAccesses lists the (slot, value) pairs one transaction contributed.
type TxAccesses struct {
	Tx    common.Hash
	Pairs []classifier.Pair
}

// MarshalJSON writes the record as [txHash, [[slot, value], ...]].
func (t TxAccesses) MarshalJSON() ([]byte, error) {
	pairs := t.Pairs
	if pairs == nil {
		pairs = []classifier.Pair{}
	}
	return json.Marshal([]any{t.Tx, pairs})
}

func (t *TxAccesses) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return errMalformedTxAccesses
	}
	if err := json.Unmarshal(raw[0], &t.Tx); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &t.Pairs)
}

// Verdict is the collision analysis of every replayed invocation of a proxy.
type Verdict struct {
	Proxy         common.Address
	ConflictSlots []uint256.Int

	ProxySStores          []TxAccesses
	ProxySLoads           []TxAccesses
	ImplementationSStores []TxAccesses
	ImplementationSLoads  []TxAccesses

	Problematic bool
	TotalTime   time.Duration
	AvgTime     time.Duration
}

// NewVerdict folds the classifications of a proxy's invocations into a
// verdict. A slot is in conflict when both the proxy and the implementation
// wrote it and at least one of them read it. Transactions that created the
// proxy contribute only their elapsed time.
func NewVerdict(proxy common.Address, results []Result) *Verdict {
	var (
		proxyWrites = set.Set[uint256.Int]{}
		proxyReads  = set.Set[uint256.Int]{}
		implWrites  = set.Set[uint256.Int]{}
		implReads   = set.Set[uint256.Int]{}
		total       time.Duration
	)
	for _, r := range results {
		c := r.Classifier
		total += c.Elapsed
		if c.ProxyCreated {
			continue
		}
		proxyWrites.Union(classifier.Slots(c.ProxySStores))
		proxyReads.Union(classifier.Slots(c.ProxySLoads))
		implWrites.Union(classifier.Slots(c.ImplementationSStores))
		implReads.Union(classifier.Slots(c.ImplementationSLoads))
	}

	writeWrite := set.Intersection(proxyWrites, implWrites)
	reads := set.Union(proxyReads, implReads)
	conflict := set.Intersection(writeWrite, reads)

	v := &Verdict{
		Proxy:         proxy,
		ConflictSlots: classifier.SortedSlots(conflict),
		Problematic:   conflict.Len() > 0,
		TotalTime:     total,
	}
	if len(results) > 0 {
		v.AvgTime = total / time.Duration(len(results))
	}

	for _, r := range results {
		c := r.Classifier
		if c.ProxyCreated {
			continue
		}
		v.ProxySStores = appendFiltered(v.ProxySStores, r.Tx, c.ProxySStores, conflict)
		v.ProxySLoads = appendFiltered(v.ProxySLoads, r.Tx, c.ProxySLoads, conflict)
		v.ImplementationSStores = appendFiltered(v.ImplementationSStores, r.Tx, c.ImplementationSStores, conflict)
		v.ImplementationSLoads = appendFiltered(v.ImplementationSLoads, r.Tx, c.ImplementationSLoads, conflict)
	}
	return v
}

func appendFiltered(
	records []TxAccesses,
	tx common.Hash,
	accesses classifier.AccessSet,
	slots set.Set[uint256.Int],
) []TxAccesses {
	pairs := set.Set[classifier.Pair]{}
	for a := range accesses {
		if slots.Contains(a.Slot) {
			pairs.Add(classifier.Pair{Slot: a.Slot, Value: a.Value})
		}
	}
	if pairs.Len() == 0 {
		return records
	}
	return append(records, TxAccesses{
		Tx:    tx,
		Pairs: classifier.SortedPairs(pairs),
	})
}
