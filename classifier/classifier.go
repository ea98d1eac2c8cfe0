// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package classifier attributes the storage operations of a replayed
// transaction to a proxy or to its implementation.
package classifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/utils/set"
)

var (
	_ engine.Hooks = (*Classifier)(nil)

	// ErrStackImbalance reports that the engine broke the enter/exit pairing.
	// It is a defect, never an expected runtime condition.
	ErrStackImbalance = errors.New("call frame stack imbalance")
)

type frame struct {
	// nil while inside a creation whose address is not known yet
	code    *common.Address
	storage *common.Address

	proxySStores          AccessSet
	proxySLoads           AccessSet
	implementationSStores AccessSet
	implementationSLoads  AccessSet
}

func (f *frame) merge(child *frame) {
	f.proxySStores.Union(child.proxySStores)
	f.proxySLoads.Union(child.proxySLoads)
	f.implementationSStores.Union(child.implementationSStores)
	f.implementationSLoads.Union(child.implementationSLoads)
}

// Classifier records the storage accesses made to the proxy's storage during
// one transaction. A Classifier must not be reused across transactions.
type Classifier struct {
	Proxy          common.Address
	Implementation common.Address
	// AltImplementation is set when the implementation bytecode was replaced
	// for a regression replay.
	AltImplementation *common.Address

	Index, Total uint64
	Elapsed      time.Duration

	// Lenient unwinds frames left open at the end of the transaction as
	// failed calls instead of reporting a stack imbalance.
	Lenient bool

	ProxySStores          AccessSet
	ProxySLoads           AccessSet
	ImplementationSStores AccessSet
	ImplementationSLoads  AccessSet

	ProxyReverted bool
	ProxyCreated  bool

	stack []*frame
	err   error
}

// New returns a classifier tracking [proxy] and [implementation].
func New(proxy, implementation common.Address, index, total uint64) *Classifier {
	return &Classifier{
		Proxy:          proxy,
		Implementation: implementation,
		Index:          index,
		Total:          total,
	}
}

// NewLenient returns a classifier for the regression replay of the original
// implementation.
func NewLenient(proxy, implementation common.Address) *Classifier {
	return &Classifier{
		Proxy:          proxy,
		Implementation: implementation,
		Lenient:        true,
	}
}

// NewAlternate returns a classifier for a replay where the code of
// [implementation] was replaced by the code of [alt].
func NewAlternate(proxy, implementation, alt common.Address) *Classifier {
	return &Classifier{
		Proxy:             proxy,
		Implementation:    implementation,
		AltImplementation: &alt,
	}
}

// Err returns the defect recorded during the replay, if any.
func (c *Classifier) Err() error {
	return c.err
}

// Depth returns the number of open frames.
func (c *Classifier) Depth() int {
	return len(c.stack)
}

func (c *Classifier) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: "+format, append([]any{ErrStackImbalance}, args...)...)
	}
}

func (c *Classifier) push(code, storage *common.Address) {
	c.stack = append(c.stack, &frame{
		code:    code,
		storage: storage,
	})
}

func (c *Classifier) pop() (*frame, bool) {
	n := len(c.stack)
	if n == 0 {
		return nil, false
	}
	f := c.stack[n-1]
	c.stack[n-1] = nil
	c.stack = c.stack[:n-1]
	return f, true
}

// popInto pops the innermost frame and merges it into its parent. The root
// frame is never popped here.
func (c *Classifier) popInto() (*frame, bool) {
	if len(c.stack) < 2 {
		return nil, false
	}
	child, _ := c.pop()
	c.stack[len(c.stack)-1].merge(child)
	return child, true
}

func (c *Classifier) OnTransactionStart() bool {
	if c.err != nil {
		return true
	}
	if len(c.stack) != 0 {
		c.fail("transaction started with %d open frames", len(c.stack))
		return true
	}
	c.push(nil, nil)
	return true
}

func (c *Classifier) OnCallEnter(code, storage common.Address) {
	if c.err != nil {
		return
	}
	if len(c.stack) == 0 {
		c.fail("call entered outside of a transaction")
		return
	}
	c.push(&code, &storage)
}

func (c *Classifier) OnCallExit(success bool) {
	if c.err != nil {
		return
	}
	child, ok := c.popInto()
	if !ok {
		c.fail("call exited with %d open frames", len(c.stack))
		return
	}
	if !success && child.code != nil && *child.code == c.Proxy {
		c.ProxyReverted = true
	}
}

func (c *Classifier) OnCreateEnter() {
	if c.err != nil {
		return
	}
	if len(c.stack) == 0 {
		c.fail("creation entered outside of a transaction")
		return
	}
	c.push(nil, nil)
}

func (c *Classifier) OnCreateExit(created *common.Address) {
	if c.err != nil {
		return
	}
	if _, ok := c.popInto(); !ok {
		c.fail("creation exited with %d open frames", len(c.stack))
		return
	}
	if created != nil && *created == c.Proxy {
		c.ProxyCreated = true
	}
}

func (c *Classifier) OnStep(step engine.Step, reader engine.StorageReader) {
	if c.err != nil {
		return
	}

	var kind Kind
	switch step.Op {
	case vm.SSTORE, vm.TSTORE:
		kind = Write
	case vm.SLOAD, vm.TLOAD:
		kind = Read
	default:
		return
	}

	n := len(c.stack)
	if n == 0 {
		c.fail("step outside of a transaction")
		return
	}
	f := c.stack[n-1]

	code, storage := step.Contract, step.Contract
	if f.code != nil {
		code = *f.code
	}
	if f.storage != nil {
		storage = *f.storage
	}
	if storage != c.Proxy {
		return
	}

	access := Access{
		Address: storage,
		Slot:    step.Stack[0],
	}
	if kind == Write {
		access.Value = step.Stack[1]
	} else {
		transient := step.Op == vm.TLOAD
		access.Value = reader.Storage(storage, access.Slot, transient)
	}

	switch {
	case code == c.Proxy && kind == Write:
		f.proxySStores.Add(access)
	case code == c.Proxy:
		f.proxySLoads.Add(access)
	case code == c.Implementation && kind == Write:
		f.implementationSStores.Add(access)
	case code == c.Implementation:
		f.implementationSLoads.Add(access)
	}
}

func (c *Classifier) OnTransactionEnd() error {
	if c.err != nil {
		return c.err
	}
	if c.Lenient {
		for len(c.stack) > 1 {
			c.OnCallExit(false)
		}
	}
	if len(c.stack) != 1 {
		c.fail("transaction ended with %d open frames", len(c.stack))
		return c.err
	}

	root, _ := c.pop()
	c.ProxySStores = nonNil(root.proxySStores)
	c.ProxySLoads = nonNil(root.proxySLoads)
	c.ImplementationSStores = nonNil(root.implementationSStores)
	c.ImplementationSLoads = nonNil(root.implementationSLoads)
	return nil
}

func nonNil(s AccessSet) AccessSet {
	if s == nil {
		return set.Set[Access]{}
	}
	return s
}
