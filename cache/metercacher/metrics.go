// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metercacher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/proxyex/utils/wrappers"
)

type metrics struct {
	hit           prometheus.Counter
	miss          prometheus.Counter
	len           prometheus.Gauge
	portionFilled prometheus.Gauge
}

func newMetrics(namespace string, reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		hit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hit",
			Help:      "# of times a cache lookup found an entry",
		}),
		miss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "miss",
			Help:      "# of times a cache lookup found nothing",
		}),
		len: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "len",
			Help:      "number of entries held by the cache",
		}),
		portionFilled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portion_filled",
			Help:      "fraction of the cache capacity in use",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.hit),
		reg.Register(m.miss),
		reg.Register(m.len),
		reg.Register(m.portionFilled),
	)
	return m, errs.Err
}
