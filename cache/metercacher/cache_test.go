// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metercacher

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/proxyex/cache/lru"
)

func codeSize(_ string, code []byte) int {
	return len(code)
}

func TestMeteredCache(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	c, err := New[string, []byte]("code_cache", reg, lru.NewSizedCache[string, []byte](4, codeSize))
	require.NoError(err)

	_, ok := c.Get("a")
	require.False(ok)
	c.Put("a", []byte{0x60, 0x00})
	code, ok := c.Get("a")
	require.True(ok)
	require.Equal([]byte{0x60, 0x00}, code)

	require.InDelta(1, testutil.ToFloat64(c.metrics.hit), 0)
	require.InDelta(1, testutil.ToFloat64(c.metrics.miss), 0)
	require.InDelta(1, testutil.ToFloat64(c.metrics.len), 0)
	require.InDelta(0.5, testutil.ToFloat64(c.metrics.portionFilled), 0.0001)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New[string, []byte]("dup", reg, lru.NewSizedCache[string, []byte](1, codeSize))
	require.NoError(t, err)

	_, err = New[string, []byte]("dup", reg, lru.NewSizedCache[string, []byte](1, codeSize))
	var alreadyRegistered prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &alreadyRegistered)
}
