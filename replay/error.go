// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Error reports a replay that could not produce a classification.
type Error struct {
	Proxy common.Address
	Tx    common.Hash
	Index uint64
	Total uint64
	Msg   string

	Err error
}

func newError(inv Invocation, err error) *Error {
	return &Error{
		Proxy: inv.Proxy,
		Tx:    inv.Tx,
		Index: inv.Index,
		Total: inv.Total,
		Msg:   err.Error(),
		Err:   err,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("replay of %s for proxy %s (%d/%d) failed: %s", e.Tx, e.Proxy, e.Index+1, e.Total, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}
