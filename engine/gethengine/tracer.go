// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gethengine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/ava-labs/proxyex/engine"
)

type frameKind uint8

const (
	callFrame frameKind = iota
	createFrame
)

type tracerFrame struct {
	kind frameKind
	// created is the address of a creation frame
	created common.Address
}

// tracer translates go-ethereum tracing events into engine.Hooks calls.
type tracer struct {
	hooks  engine.Hooks
	reader engine.StorageReader
	frames []tracerFrame
}

func newTracer(hooks engine.Hooks, reader engine.StorageReader) *tracer {
	return &tracer{
		hooks:  hooks,
		reader: reader,
	}
}

func (t *tracer) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  t.onEnter,
		OnExit:   t.onExit,
		OnOpcode: t.onOpcode,
	}
}

func (t *tracer) onEnter(_ int, typ byte, from common.Address, to common.Address, _ []byte, _ uint64, _ *big.Int) {
	switch vm.OpCode(typ) {
	case vm.CREATE, vm.CREATE2:
		t.frames = append(t.frames, tracerFrame{kind: createFrame, created: to})
		t.hooks.OnCreateEnter()
	case vm.DELEGATECALL, vm.CALLCODE:
		t.frames = append(t.frames, tracerFrame{kind: callFrame})
		t.hooks.OnCallEnter(to, from)
	default:
		t.frames = append(t.frames, tracerFrame{kind: callFrame})
		t.hooks.OnCallEnter(to, to)
	}
}

func (t *tracer) onExit(_ int, _ []byte, _ uint64, err error, _ bool) {
	n := len(t.frames)
	if n == 0 {
		return
	}
	f := t.frames[n-1]
	t.frames = t.frames[:n-1]

	success := err == nil
	if f.kind == callFrame {
		t.hooks.OnCallExit(success)
		return
	}
	if !success {
		t.hooks.OnCreateExit(nil)
		return
	}
	created := f.created
	t.hooks.OnCreateExit(&created)
}

func (t *tracer) onOpcode(_ uint64, op byte, _, _ uint64, scope tracing.OpContext, _ []byte, _ int, _ error) {
	step := engine.Step{
		Op:       vm.OpCode(op),
		Contract: scope.Address(),
	}
	stack := scope.StackData()
	for i := 0; i < len(step.Stack) && i < len(stack); i++ {
		step.Stack[i] = stack[len(stack)-1-i]
	}
	t.hooks.OnStep(step, t.reader)
}

// open returns the number of frames entered but not exited.
func (t *tracer) open() int {
	return len(t.frames)
}
