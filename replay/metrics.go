// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/proxyex/utils/wrappers"
)

const namespace = "replay"

type metrics struct {
	proxiesFinished    prometheus.Counter
	proxiesFailed      prometheus.Counter
	proxiesProblematic prometheus.Counter
	replayDuration     prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		proxiesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxies_finished",
			Help:      "Number of proxies that produced a verdict",
		}),
		proxiesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxies_failed",
			Help:      "Number of proxies discarded because a replay failed",
		}),
		proxiesProblematic: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxies_problematic",
			Help:      "Number of proxies with at least one conflicting slot",
		}),
		replayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_duration_seconds",
			Help:      "Time spent replaying and classifying one transaction",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.proxiesFinished),
		reg.Register(m.proxiesFailed),
		reg.Register(m.proxiesProblematic),
		reg.Register(m.replayDuration),
	)
	return m, errs.Err
}
