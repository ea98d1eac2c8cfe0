// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package regression

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/proxyex/cache"
	"github.com/ava-labs/proxyex/cache/lru"
	"github.com/ava-labs/proxyex/cache/metercacher"
	"github.com/ava-labs/proxyex/engine"
)

var errNoCode = errors.New("account has no code")

// Version is an implementation observed behind a proxy from MinBlock onwards.
type Version struct {
	Implementation common.Address
	MinBlock       uint64
}

type codeKey struct {
	addr  common.Address
	block uint64
}

// CodeSource reads the bytecode of implementation versions from the chain.
type CodeSource struct {
	engine engine.Engine
	cache  cache.Cacher[codeKey, []byte]
}

// NewCodeSource returns a CodeSource caching up to [size] bytes of bytecode.
func NewCodeSource(engine engine.Engine, size int, reg prometheus.Registerer) (*CodeSource, error) {
	c, err := metercacher.New[codeKey, []byte](
		"regression_code_cache",
		reg,
		lru.NewSizedCache(size, codeSize),
	)
	if err != nil {
		return nil, err
	}
	return &CodeSource{
		engine: engine,
		cache:  c,
	}, nil
}

func codeSize(_ codeKey, code []byte) int {
	return len(code)
}

// Alternate returns [v] with the code its implementation held at the block it
// was first observed in.
func (s *CodeSource) Alternate(ctx context.Context, v Version) (Alternate, error) {
	key := codeKey{addr: v.Implementation, block: v.MinBlock}
	if code, ok := s.cache.Get(key); ok {
		return Alternate{Address: v.Implementation, Code: code}, nil
	}

	state, err := s.engine.BlockState(ctx, v.MinBlock)
	if err != nil {
		return Alternate{}, err
	}
	code := state.Code(v.Implementation)
	if len(code) == 0 {
		return Alternate{}, fmt.Errorf("%w: %s at block %d", errNoCode, v.Implementation, v.MinBlock)
	}
	s.cache.Put(key, code)
	return Alternate{Address: v.Implementation, Code: code}, nil
}
