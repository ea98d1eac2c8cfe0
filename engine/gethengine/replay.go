// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gethengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/engine"
)

var (
	errForeignState = errors.New("state was not opened by this engine")
	errOpenFrames   = errors.New("replay finished with open frames")
)

func (e *Engine) Replay(
	ctx context.Context,
	mutable engine.MutableState,
	tx *engine.Transaction,
	opts engine.ReplayOptions,
	hooks engine.Hooks,
) (*engine.Outcome, error) {
	s, ok := mutable.(*State)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errForeignState, mutable)
	}
	return e.replay(ctx, s, tx, opts, hooks)
}

func (e *Engine) replay(
	ctx context.Context,
	s *State,
	tx *engine.Transaction,
	opts engine.ReplayOptions,
	hooks engine.Hooks,
) (*engine.Outcome, error) {
	header := s.header
	signer := types.MakeSigner(e.config, header.Number, header.Time)
	msg, err := core.TransactionToMessage(tx.Tx, signer, header.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrExecution, err)
	}

	var (
		blockCtx = e.blockContext(header)
		vmConfig = vm.Config{}
	)
	if opts.BypassChecks {
		bypassChecks(s, msg, blockCtx.BlobBaseFee)
		vmConfig.NoBaseFee = true
	}

	if !hooks.OnTransactionStart() {
		return &engine.Outcome{}, nil
	}

	t := newTracer(hooks, s)
	vmConfig.Tracer = t.Hooks()
	evm := vm.NewEVM(blockCtx, s.statedb, e.config, vmConfig)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			evm.Cancel()
		case <-done:
		}
	}()

	s.statedb.SetTxContext(tx.Hash, tx.Position.Index)
	start := time.Now()
	result, err := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(header.GasLimit))
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrExecution, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrExecution, err)
	}
	if n := t.open(); n != 0 {
		e.log.Warn("replay finished with open frames",
			zap.Stringer("tx", tx.Hash),
			zap.Int("frames", n),
		)
		return nil, fmt.Errorf("%w: %d", errOpenFrames, n)
	}
	if err := hooks.OnTransactionEnd(); err != nil {
		return nil, err
	}

	return &engine.Outcome{
		GasUsed:  result.UsedGas,
		Reverted: result.Failed(),
		VMError:  result.Err,
		Elapsed:  elapsed,
	}, nil
}

// bypassChecks lets [msg] execute against state it was not signed for: the
// nonce is not checked, gas is free and the sender can afford the value and
// the blob fee.
func bypassChecks(s *State, msg *core.Message, blobBaseFee *big.Int) {
	msg.SkipNonceChecks = true
	msg.GasPrice = new(big.Int)
	msg.GasFeeCap = new(big.Int)
	msg.GasTipCap = new(big.Int)
	if msg.BlobGasFeeCap != nil {
		msg.BlobGasFeeCap = new(big.Int)
	}

	cost := new(big.Int)
	if msg.Value != nil {
		cost.Add(cost, msg.Value)
	}
	if blobBaseFee != nil && len(msg.BlobHashes) > 0 {
		blobGas := new(big.Int).SetUint64(uint64(len(msg.BlobHashes)) * params.BlobTxBlobGasPerBlob)
		cost.Add(cost, blobGas.Mul(blobGas, blobBaseFee))
	}
	if cost.Sign() <= 0 {
		return
	}
	topUp, overflow := uint256.FromBig(cost)
	if !overflow {
		s.statedb.AddBalance(msg.From, topUp, tracing.BalanceChangeUnspecified)
	}
}
