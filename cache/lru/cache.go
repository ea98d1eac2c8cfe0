// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lru

import (
	"sync"

	"github.com/ava-labs/proxyex/cache"
	"github.com/ava-labs/proxyex/utils"
	"github.com/ava-labs/proxyex/utils/linked"
)

var _ cache.Cacher[struct{}, struct{}] = (*SizedCache[struct{}, struct{}])(nil)

// SizedCache holds entries whose summed size stays within maxSize. The least
// recently used entries are evicted to make room for new ones.
type SizedCache[K comparable, V any] struct {
	lock        sync.Mutex
	elements    *linked.Hashmap[K, V]
	maxSize     int
	currentSize int
	size        func(K, V) int
}

func NewSizedCache[K comparable, V any](maxSize int, size func(K, V) int) *SizedCache[K, V] {
	return &SizedCache[K, V]{
		elements: linked.NewHashmap[K, V](),
		maxSize:  maxSize,
		size:     size,
	}
}

// Put stores [value] unless it alone exceeds the capacity.
func (c *SizedCache[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if old, ok := c.elements.Delete(key); ok {
		c.currentSize -= c.size(key, old)
	}

	valueSize := c.size(key, value)
	if valueSize > c.maxSize {
		return
	}
	for c.currentSize+valueSize > c.maxSize {
		oldestKey, oldest, _ := c.elements.Oldest()
		c.elements.Delete(oldestKey)
		c.currentSize -= c.size(oldestKey, oldest)
	}
	c.elements.Put(key, value)
	c.currentSize += valueSize
}

func (c *SizedCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	value, ok := c.elements.Get(key)
	if !ok {
		return utils.Zero[V](), false
	}
	c.elements.Put(key, value) // Mark [key] as MRU.
	return value, true
}

func (c *SizedCache[_, _]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.elements.Len()
}

func (c *SizedCache[_, _]) PortionFilled() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.maxSize == 0 {
		return 0
	}
	return float64(c.currentSize) / float64(c.maxSize)
}
