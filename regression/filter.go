// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package regression

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/set"
)

const defaultPageSize = 1000

// IssueKey identifies a persisted issue.
type IssueKey struct {
	Proxy             common.Address
	Tx                common.Hash
	AltImplementation common.Address
}

func (i Issue) Key() IssueKey {
	return IssueKey{
		Proxy:             i.Proxy,
		Tx:                i.Tx,
		AltImplementation: i.AltImplementation,
	}
}

// IssueReader pages through persisted issues in key order. A nil [after]
// starts from the first issue.
type IssueReader interface {
	Issues(ctx context.Context, after *IssueKey, limit int) ([]Issue, error)
}

// FilteredWriter persists filtered issues.
type FilteredWriter interface {
	PutFiltered(ctx context.Context, filtered []Filtered) error
}

// Filtered is an [Issue] reduced to the slots only one side touched.
type Filtered struct {
	Issue

	MissedSlots     []uint256.Int
	AdditionalSlots []uint256.Int
}

// Filter keeps issues where the alternate touched different slots without
// reverting in the proxy. MissedSlots were touched only by the original
// replay and AdditionalSlots only by the alternate one.
func Filter(issue Issue) (Filtered, bool) {
	if !issue.DifferentSlots || issue.ProxyReverted {
		return Filtered{}, false
	}

	original := pairSlots(issue.OriginalSLoads, issue.OriginalSStores)
	alt := pairSlots(issue.AltSLoads, issue.AltSStores)

	missed := set.Difference(original, alt)
	additional := set.Difference(alt, original)
	return Filtered{
		Issue:           issue,
		MissedSlots:     classifier.SortedSlots(missed),
		AdditionalSlots: classifier.SortedSlots(additional),
	}, true
}

func pairSlots(lists ...[]classifier.Pair) set.Set[uint256.Int] {
	slots := set.Set[uint256.Int]{}
	for _, pairs := range lists {
		for _, p := range pairs {
			slots.Add(p.Slot)
		}
	}
	return slots
}

// FilterAll runs Filter over every issue of [reader] and writes the kept
// ones to [writer]. It returns the number of issues kept.
func FilterAll(
	ctx context.Context,
	reader IssueReader,
	writer FilteredWriter,
	pageSize int,
	log logging.Logger,
) (int, error) {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	var (
		after *IssueKey
		count int
	)
	for {
		issues, err := reader.Issues(ctx, after, pageSize)
		if err != nil {
			return count, err
		}
		if len(issues) == 0 {
			return count, nil
		}

		var kept []Filtered
		for _, issue := range issues {
			if f, ok := Filter(issue); ok {
				kept = append(kept, f)
			}
		}
		if len(kept) > 0 {
			if err := writer.PutFiltered(ctx, kept); err != nil {
				return count, err
			}
		}
		count += len(kept)
		log.Info("filtered regressions",
			zap.Int("fetched", len(issues)),
			zap.Int("kept", count),
		)

		key := issues[len(issues)-1].Key()
		after = &key
		if len(issues) < pageSize {
			return count, nil
		}
	}
}
