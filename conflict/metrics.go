// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package conflict

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/proxyex/utils/wrappers"
)

const namespace = "conflict"

type metrics struct {
	proxiesAnalyzed prometheus.Counter
	proxiesFailed   prometheus.Counter
	points          prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		proxiesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxies_analyzed",
			Help:      "Number of problematic proxies with a conflict report",
		}),
		proxiesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxies_failed",
			Help:      "Number of problematic proxies skipped because a replay failed",
		}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points",
			Help:      "Number of writes to conflicting slots",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.proxiesAnalyzed),
		reg.Register(m.proxiesFailed),
		reg.Register(m.points),
	)
	return m, errs.Err
}
