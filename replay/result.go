// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replay

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ava-labs/proxyex/classifier"
)

// Invocation identifies one transaction that called a proxy, and its position
// in the proxy's sequence of invocations.
type Invocation struct {
	Proxy          common.Address
	Implementation common.Address
	Tx             common.Hash
	Index          uint64
	Total          uint64
}

// Result is the outcome of replaying one invocation. Exactly one of
// Classifier and Err is set.
type Result struct {
	Invocation
	Classifier *classifier.Classifier
	Err        *Error
}

// Output is emitted once per proxy. Exactly one of Verdict and Err is set.
type Output struct {
	Verdict *Verdict
	Err     *Error
}
