// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package results

import (
	"context"

	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/replay"
	"github.com/ava-labs/proxyex/utils/logging"
)

// Collector writes the outputs of a replay.Scheduler to a [Store].
type Collector struct {
	store Store
	log   logging.Logger

	collisions int
	failures   int
}

func NewCollector(store Store, log logging.Logger) *Collector {
	return &Collector{
		store: store,
		log:   log,
	}
}

// Run persists [outputs] until it is closed. Write failures are logged and
// the output dropped. Once [ctx] is done the remaining outputs are drained
// without being written, so the producer never blocks.
func (c *Collector) Run(ctx context.Context, outputs <-chan replay.Output) error {
	dropped := 0
	for out := range outputs {
		if ctx.Err() != nil {
			dropped++
			continue
		}
		c.collect(ctx, out)
	}
	c.log.Info("collector finished",
		zap.Int("collisions", c.collisions),
		zap.Int("failures", c.failures),
		zap.Int("dropped", dropped),
	)
	return ctx.Err()
}

func (c *Collector) collect(ctx context.Context, out replay.Output) {
	if out.Err != nil {
		if err := c.store.PutFailure(ctx, NewFailure(out.Err)); err != nil {
			c.log.Error("failed to persist replay error",
				zap.Stringer("proxy", out.Err.Proxy),
				zap.Error(err),
			)
			return
		}
		c.failures++
		return
	}

	if err := c.store.PutCollision(ctx, NewCollision(out.Verdict)); err != nil {
		c.log.Error("failed to persist verdict",
			zap.Stringer("proxy", out.Verdict.Proxy),
			zap.Error(err),
		)
		return
	}
	c.collisions++
	if out.Verdict.Problematic {
		c.log.Info("storage collision",
			zap.Stringer("proxy", out.Verdict.Proxy),
			zap.Int("slots", len(out.Verdict.ConflictSlots)),
		)
	}
}

// Counts returns the number of collisions and failures written so far. It
// must not be called concurrently with Run.
func (c *Collector) Counts() (int, int) {
	return c.collisions, c.failures
}
