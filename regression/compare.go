// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package regression replays historical proxy invocations against other
// versions of the implementation and reports how the accesses to the proxy's
// storage change.
package regression

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/engine"
)

// Alternate is an implementation version whose code replaces the original
// implementation's code during a replay.
type Alternate struct {
	Address common.Address
	Code    []byte
}

// Comparer replays a transaction once with its original implementation and
// once per alternate.
type Comparer struct {
	engine engine.Engine
}

func NewComparer(engine engine.Engine) *Comparer {
	return &Comparer{engine: engine}
}

// Compare replays [tx]. Every replay starts from its own fork of the state
// before [tx], so the alternates never observe each other's writes.
func (c *Comparer) Compare(
	ctx context.Context,
	proxy common.Address,
	implementation common.Address,
	alternates []Alternate,
	tx common.Hash,
) (*classifier.Classifier, []*classifier.Classifier, error) {
	t, err := c.engine.LookupTransaction(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	base, err := c.engine.StateAt(ctx, t.Position)
	if err != nil {
		return nil, nil, err
	}

	original := classifier.NewLenient(proxy, implementation)
	if err := c.replay(ctx, base.Fork(), t, engine.ReplayOptions{}, original); err != nil {
		return nil, nil, fmt.Errorf("original replay: %w", err)
	}

	alts := make([]*classifier.Classifier, 0, len(alternates))
	for _, alt := range alternates {
		state := base.Fork()
		state.SetCode(implementation, alt.Code)

		cl := classifier.NewAlternate(proxy, implementation, alt.Address)
		opts := engine.ReplayOptions{BypassChecks: true}
		if err := c.replay(ctx, state, t, opts, cl); err != nil {
			return nil, nil, fmt.Errorf("replay with %s: %w", alt.Address, err)
		}
		alts = append(alts, cl)
	}
	return original, alts, nil
}

func (c *Comparer) replay(
	ctx context.Context,
	state engine.MutableState,
	tx *engine.Transaction,
	opts engine.ReplayOptions,
	cl *classifier.Classifier,
) error {
	start := time.Now()
	if _, err := c.engine.Replay(ctx, state, tx, opts, cl); err != nil {
		return err
	}
	if err := cl.Err(); err != nil {
		return err
	}
	cl.Elapsed = time.Since(start)
	return nil
}
