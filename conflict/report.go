// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package conflict localizes the storage collisions of problematic proxies:
// for every conflicting slot it records which transaction wrote it and which
// code executed the write.
package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/utils/set"
)

var errMalformedPoint = errors.New("malformed conflict point")

// Point is one write to a conflicting slot. Writer is the address of the code
// that executed the SSTORE: the proxy itself or the implementation it
// delegated to.
type Point struct {
	Slot   uint256.Int
	Value  uint256.Int
	Writer common.Address
}

// MarshalJSON writes the point as ["0x<slot>", "0x<value>", "0x<writer>"].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{p.Slot.Hex(), p.Value.Hex(), p.Writer.Hex()})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var raw [3]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if err := p.Slot.SetFromHex(raw[0]); err != nil {
		return fmt.Errorf("invalid slot %q: %w", raw[0], err)
	}
	if err := p.Value.SetFromHex(raw[1]); err != nil {
		return fmt.Errorf("invalid value %q: %w", raw[1], err)
	}
	if !common.IsHexAddress(raw[2]) {
		return fmt.Errorf("%w: writer %q", errMalformedPoint, raw[2])
	}
	p.Writer = common.HexToAddress(raw[2])
	return nil
}

func (p Point) compare(o Point) int {
	if c := p.Slot.Cmp(&o.Slot); c != 0 {
		return c
	}
	if c := p.Writer.Cmp(o.Writer); c != 0 {
		return c
	}
	return p.Value.Cmp(&o.Value)
}

// TxPoints lists the conflicting writes of one transaction.
type TxPoints struct {
	Tx             common.Hash    `json:"tx"`
	Implementation common.Address `json:"implementation"`
	Points         []Point        `json:"points"`
}

// Report is the localization of the conflicts of one proxy.
type Report struct {
	Proxy common.Address
	// ConflictSlots were written by both the proxy and an implementation in
	// the replayed transactions.
	ConflictSlots []uint256.Int
	Points        []TxPoints
}

// Replayed is the classification of one invocation.
type Replayed struct {
	Tx             common.Hash
	Implementation common.Address
	Classifier     *classifier.Classifier
}

// NewReport keeps the writes of [replayed] to the [candidates] slots.
// Transactions that created the proxy are ignored. The conflict slots are
// recomputed from the kept writes, so a candidate that only one side wrote
// during this replay is dropped along with its points.
func NewReport(proxy common.Address, candidates set.Set[uint256.Int], replayed []Replayed) *Report {
	var (
		proxyWrites = set.Set[uint256.Int]{}
		implWrites  = set.Set[uint256.Int]{}
		points      = make([]TxPoints, 0, len(replayed))
	)
	for _, r := range replayed {
		c := r.Classifier
		if c.ProxyCreated {
			continue
		}
		tx := TxPoints{
			Tx:             r.Tx,
			Implementation: r.Implementation,
		}
		for a := range c.ProxySStores {
			if candidates.Contains(a.Slot) {
				proxyWrites.Add(a.Slot)
				tx.Points = append(tx.Points, Point{Slot: a.Slot, Value: a.Value, Writer: proxy})
			}
		}
		for a := range c.ImplementationSStores {
			if candidates.Contains(a.Slot) {
				implWrites.Add(a.Slot)
				tx.Points = append(tx.Points, Point{Slot: a.Slot, Value: a.Value, Writer: r.Implementation})
			}
		}
		points = append(points, tx)
	}

	conflicts := set.Intersection(proxyWrites, implWrites)
	report := &Report{
		Proxy:         proxy,
		ConflictSlots: classifier.SortedSlots(conflicts),
	}
	for _, tx := range points {
		tx.Points = slices.DeleteFunc(tx.Points, func(p Point) bool {
			return !conflicts.Contains(p.Slot)
		})
		if len(tx.Points) == 0 {
			continue
		}
		slices.SortFunc(tx.Points, Point.compare)
		report.Points = append(report.Points, tx)
	}
	return report
}

// NumPoints returns the number of conflicting writes in the report.
func (r *Report) NumPoints() int {
	n := 0
	for _, tx := range r.Points {
		n += len(tx.Points)
	}
	return n
}
