// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linked

import (
	"container/list"

	"github.com/ava-labs/proxyex/utils"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Hashmap maps keys to values and remembers the order in which keys were last
// written. Writing an existing key moves it to the newest position.
type Hashmap[K comparable, V any] struct {
	index map[K]*list.Element
	order *list.List
}

func NewHashmap[K comparable, V any]() *Hashmap[K, V] {
	return &Hashmap[K, V]{
		index: make(map[K]*list.Element),
		order: list.New(),
	}
}

func (h *Hashmap[K, V]) Put(key K, value V) {
	if e, ok := h.index[key]; ok {
		e.Value = entry[K, V]{key: key, value: value}
		h.order.MoveToBack(e)
		return
	}
	h.index[key] = h.order.PushBack(entry[K, V]{key: key, value: value})
}

func (h *Hashmap[K, V]) Get(key K) (V, bool) {
	e, ok := h.index[key]
	if !ok {
		return utils.Zero[V](), false
	}
	return e.Value.(entry[K, V]).value, true
}

// Delete removes [key] and returns the value it held.
func (h *Hashmap[K, V]) Delete(key K) (V, bool) {
	e, ok := h.index[key]
	if !ok {
		return utils.Zero[V](), false
	}
	h.order.Remove(e)
	delete(h.index, key)
	return e.Value.(entry[K, V]).value, true
}

func (h *Hashmap[K, V]) Len() int {
	return len(h.index)
}

// Oldest returns the least recently written entry.
func (h *Hashmap[K, V]) Oldest() (K, V, bool) {
	e := h.order.Front()
	if e == nil {
		return utils.Zero[K](), utils.Zero[V](), false
	}
	kv := e.Value.(entry[K, V])
	return kv.key, kv.value, true
}
