// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replay

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/timer"
	"github.com/ava-labs/proxyex/utils/timer/mockable"
)

const (
	progressSamples  = 10
	progressSlowdown = 1.2
)

// progress logs each proxy the aggregator starts, with an estimate of the
// remaining time when the number of proxies is known.
type progress struct {
	log     logging.Logger
	clock   *mockable.Clock
	eta     *timer.EtaTracker
	target  uint64
	started uint64
}

func newProgress(log logging.Logger, target uint64, clock *mockable.Clock) *progress {
	p := &progress{
		log:    log,
		clock:  clock,
		eta:    timer.NewEtaTracker(progressSamples, progressSlowdown),
		target: target,
	}
	if target > 0 {
		p.eta.AddSample(0, target, clock.Time())
	}
	return p
}

func (p *progress) startProxy(proxy common.Address, invocations uint64) {
	fields := []zap.Field{
		zap.Stringer("proxy", proxy),
		zap.Uint64("invocations", invocations),
		zap.Uint64("completedProxies", p.started),
	}
	if p.target > 0 {
		eta, percent := p.eta.AddSample(p.started, p.target, p.clock.Time())
		fields = append(fields, zap.Float64("percent", percent))
		if eta != nil {
			fields = append(fields, zap.Duration("eta", *eta))
		}
	}
	p.started++
	p.log.Info("replaying proxy", fields...)
}
