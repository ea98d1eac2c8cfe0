// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package classifier

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ava-labs/proxyex/utils/set"
)

// Kind distinguishes storage reads from storage writes.
type Kind uint8

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Access is a storage slot observed with a value, keyed by the account whose
// storage holds the slot.
type Access struct {
	Address common.Address
	Slot    uint256.Int
	Value   uint256.Int
}

// AccessSet is a set of storage accesses.
type AccessSet = set.Set[Access]

// Pair is the (slot, value) projection of an [Access].
type Pair struct {
	Slot  uint256.Int
	Value uint256.Int
}

// Slots projects [accesses] onto their slots.
func Slots(accesses AccessSet) set.Set[uint256.Int] {
	slots := set.NewSet[uint256.Int](accesses.Len())
	for a := range accesses {
		slots.Add(a.Slot)
	}
	return slots
}

// Pairs projects [accesses] onto their (slot, value) pairs.
func Pairs(accesses AccessSet) set.Set[Pair] {
	pairs := set.NewSet[Pair](accesses.Len())
	for a := range accesses {
		pairs.Add(Pair{Slot: a.Slot, Value: a.Value})
	}
	return pairs
}

// MarshalJSON writes the pair as ["0x<slot>", "0x<value>"] using minimal hex.
func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Slot.Hex(), p.Value.Hex()})
}

func (p *Pair) UnmarshalJSON(b []byte) error {
	var raw [2]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if err := p.Slot.SetFromHex(raw[0]); err != nil {
		return fmt.Errorf("invalid slot %q: %w", raw[0], err)
	}
	if err := p.Value.SetFromHex(raw[1]); err != nil {
		return fmt.Errorf("invalid value %q: %w", raw[1], err)
	}
	return nil
}

// Compare orders pairs by slot, then by value.
func (p Pair) Compare(o Pair) int {
	if c := p.Slot.Cmp(&o.Slot); c != 0 {
		return c
	}
	return p.Value.Cmp(&o.Value)
}

// SortedPairs returns the elements of [pairs] ordered by [Pair.Compare].
func SortedPairs(pairs set.Set[Pair]) []Pair {
	list := pairs.List()
	slices.SortFunc(list, Pair.Compare)
	return list
}

// SortedSlots returns the elements of [slots] in ascending order.
func SortedSlots(slots set.Set[uint256.Int]) []uint256.Int {
	list := slots.List()
	slices.SortFunc(list, func(a, b uint256.Int) int {
		return a.Cmp(&b)
	})
	return list
}
