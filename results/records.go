// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package results

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/conflict"
	"github.com/ava-labs/proxyex/regression"
	"github.com/ava-labs/proxyex/replay"
	"github.com/ava-labs/proxyex/utils/set"
)

// Collision is the persisted form of a [replay.Verdict]. Times are in
// milliseconds.
type Collision struct {
	Proxy                 string              `json:"proxy"`
	Problematic           bool                `json:"problematic"`
	ProxySStores          []replay.TxAccesses `json:"proxy_sstores"`
	ProxySLoads           []replay.TxAccesses `json:"proxy_sloads"`
	ImplementationSStores []replay.TxAccesses `json:"implementation_sstores"`
	ImplementationSLoads  []replay.TxAccesses `json:"implementation_sloads"`
	TotalTime             int64               `json:"total_time"`
	AvgTime               int64               `json:"avg_time"`
}

func NewCollision(v *replay.Verdict) Collision {
	return Collision{
		Proxy:                 FormatAddress(v.Proxy),
		Problematic:           v.Problematic,
		ProxySStores:          nonNil(v.ProxySStores),
		ProxySLoads:           nonNil(v.ProxySLoads),
		ImplementationSStores: nonNil(v.ImplementationSStores),
		ImplementationSLoads:  nonNil(v.ImplementationSLoads),
		TotalTime:             v.TotalTime.Milliseconds(),
		AvgTime:               v.AvgTime.Milliseconds(),
	}
}

// Candidate returns the slots both the proxy and the implementation wrote in
// the recorded transactions.
func (c Collision) Candidate() (conflict.Candidate, error) {
	proxy, err := ParseAddress(c.Proxy)
	if err != nil {
		return conflict.Candidate{}, err
	}
	return conflict.Candidate{
		Proxy: proxy,
		Slots: set.Intersection(
			writtenSlots(c.ProxySStores),
			writtenSlots(c.ImplementationSStores),
		),
	}, nil
}

func writtenSlots(records []replay.TxAccesses) set.Set[uint256.Int] {
	slots := set.Set[uint256.Int]{}
	for _, r := range records {
		for _, p := range r.Pairs {
			slots.Add(p.Slot)
		}
	}
	return slots
}

// Conflict is the persisted form of a [conflict.Report].
type Conflict struct {
	Proxy         string              `json:"proxy"`
	ConflictSlots Slots               `json:"conflict_slots"`
	Points        []conflict.TxPoints `json:"conflict_points"`
}

func NewConflict(r *conflict.Report) Conflict {
	return Conflict{
		Proxy:         FormatAddress(r.Proxy),
		ConflictSlots: nonNil(r.ConflictSlots),
		Points:        nonNil(r.Points),
	}
}

// Failure is the persisted form of a [replay.Error].
type Failure struct {
	Proxy string `json:"proxy"`
	Tx    string `json:"tx"`
	Index uint64 `json:"index"`
	Total uint64 `json:"total"`
	Msg   string `json:"msg"`
}

func NewFailure(e *replay.Error) Failure {
	return Failure{
		Proxy: FormatAddress(e.Proxy),
		Tx:    e.Tx.Hex(),
		Index: e.Index,
		Total: e.Total,
		Msg:   e.Msg,
	}
}

// Regression is the persisted form of a [regression.Issue]. Time is in
// microseconds.
type Regression struct {
	Proxy             string            `json:"proxy"`
	Tx                string            `json:"tx"`
	AltImplementation string            `json:"alt_implementation"`
	Implementation    string            `json:"implementation"`
	OriginalSLoads    []classifier.Pair `json:"original_sloads"`
	OriginalSStores   []classifier.Pair `json:"original_sstores"`
	AltSLoads         []classifier.Pair `json:"alt_sloads"`
	AltSStores        []classifier.Pair `json:"alt_sstores"`
	DifferentSlots    bool              `json:"different_slots"`
	DifferentValues   bool              `json:"different_values"`
	ProxyReverted     bool              `json:"proxy_reverted"`
	Time              int64             `json:"time"`
}

func NewRegression(i regression.Issue) Regression {
	return Regression{
		Proxy:             FormatAddress(i.Proxy),
		Tx:                i.Tx.Hex(),
		AltImplementation: FormatAddress(i.AltImplementation),
		Implementation:    FormatAddress(i.Implementation),
		OriginalSLoads:    nonNil(i.OriginalSLoads),
		OriginalSStores:   nonNil(i.OriginalSStores),
		AltSLoads:         nonNil(i.AltSLoads),
		AltSStores:        nonNil(i.AltSStores),
		DifferentSlots:    i.DifferentSlots,
		DifferentValues:   i.DifferentValues,
		ProxyReverted:     i.ProxyReverted,
		Time:              i.Elapsed.Microseconds(),
	}
}

// Issue parses the record back into a [regression.Issue].
func (r Regression) Issue() (regression.Issue, error) {
	issue := regression.Issue{
		OriginalSLoads:  r.OriginalSLoads,
		OriginalSStores: r.OriginalSStores,
		AltSLoads:       r.AltSLoads,
		AltSStores:      r.AltSStores,
		DifferentSlots:  r.DifferentSlots,
		DifferentValues: r.DifferentValues,
		ProxyReverted:   r.ProxyReverted,
		Elapsed:         time.Duration(r.Time) * time.Microsecond,
	}
	var err error
	if issue.Proxy, err = ParseAddress(r.Proxy); err != nil {
		return regression.Issue{}, err
	}
	if issue.Implementation, err = ParseAddress(r.Implementation); err != nil {
		return regression.Issue{}, err
	}
	if issue.AltImplementation, err = ParseAddress(r.AltImplementation); err != nil {
		return regression.Issue{}, err
	}
	if issue.Tx, err = ParseHash(r.Tx); err != nil {
		return regression.Issue{}, err
	}
	return issue, nil
}

// Filtered is the persisted form of a [regression.Filtered].
type Filtered struct {
	Regression

	MissedSlots     Slots `json:"missed_slots"`
	AdditionalSlots Slots `json:"additional_slots"`
}

func NewFiltered(f regression.Filtered) Filtered {
	return Filtered{
		Regression:      NewRegression(f.Issue),
		MissedSlots:     nonNil(f.MissedSlots),
		AdditionalSlots: nonNil(f.AdditionalSlots),
	}
}

// Slots marshals as a JSON array of minimal 0x hex strings.
type Slots []uint256.Int

func (s Slots) MarshalJSON() ([]byte, error) {
	hexes := make([]string, len(s))
	for i := range s {
		hexes[i] = s[i].Hex()
	}
	return json.Marshal(hexes)
}

func (s *Slots) UnmarshalJSON(b []byte) error {
	var hexes []string
	if err := json.Unmarshal(b, &hexes); err != nil {
		return err
	}
	*s = make(Slots, len(hexes))
	for i, h := range hexes {
		if err := (*s)[i].SetFromHex(h); err != nil {
			return fmt.Errorf("invalid slot %q: %w", h, err)
		}
	}
	return nil
}

// FormatAddress returns the lower-case hex form addresses are stored under.
func FormatAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", errInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func ParseHash(s string) (common.Hash, error) {
	var h common.Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

func nonNil[S ~[]E, E any](s S) S {
	if s == nil {
		return S{}
	}
	return s
}
