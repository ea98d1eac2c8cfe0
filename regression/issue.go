// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package regression

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/utils/set"
)

// Issue compares the proxy storage accesses of one transaction replayed with
// its original implementation and with an alternate one.
type Issue struct {
	Proxy             common.Address
	Implementation    common.Address
	AltImplementation common.Address
	Tx                common.Hash

	OriginalSLoads  []classifier.Pair
	OriginalSStores []classifier.Pair
	AltSLoads       []classifier.Pair
	AltSStores      []classifier.Pair

	// DifferentSlots is set when the two replays touched different slots.
	DifferentSlots bool
	// DifferentValues is set when the two replays observed different
	// (slot, value) pairs.
	DifferentValues bool

	// ProxyReverted and Elapsed describe the alternate replay.
	ProxyReverted bool
	Elapsed       time.Duration
}

// Diff compares [original] against [alt]. Accesses made by the proxy code and
// by the implementation code are merged on both sides.
func Diff(original, alt *classifier.Classifier, tx common.Hash) Issue {
	originalLoads := set.Union(original.ProxySLoads, original.ImplementationSLoads)
	originalStores := set.Union(original.ProxySStores, original.ImplementationSStores)
	altLoads := set.Union(alt.ProxySLoads, alt.ImplementationSLoads)
	altStores := set.Union(alt.ProxySStores, alt.ImplementationSStores)

	originalAccesses := set.Union(originalLoads, originalStores)
	altAccesses := set.Union(altLoads, altStores)

	issue := Issue{
		Proxy:           original.Proxy,
		Implementation:  original.Implementation,
		Tx:              tx,
		OriginalSLoads:  classifier.SortedPairs(classifier.Pairs(originalLoads)),
		OriginalSStores: classifier.SortedPairs(classifier.Pairs(originalStores)),
		AltSLoads:       classifier.SortedPairs(classifier.Pairs(altLoads)),
		AltSStores:      classifier.SortedPairs(classifier.Pairs(altStores)),
		DifferentSlots: !classifier.Slots(originalAccesses).Equals(
			classifier.Slots(altAccesses),
		),
		DifferentValues: !classifier.Pairs(originalAccesses).Equals(
			classifier.Pairs(altAccesses),
		),
		ProxyReverted: alt.ProxyReverted,
		Elapsed:       alt.Elapsed,
	}
	if alt.AltImplementation != nil {
		issue.AltImplementation = *alt.AltImplementation
	}
	return issue
}
