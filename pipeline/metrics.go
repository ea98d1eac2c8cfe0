// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/proxyex/utils/wrappers"
)

const namespace = "pipeline"

type metrics struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	inFlight  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted",
			Help:      "Number of tasks submitted",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed",
			Help:      "Number of task results delivered in order",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of submitted tasks whose result has not been delivered",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.submitted),
		reg.Register(m.completed),
		reg.Register(m.inFlight),
	)
	return m, errs.Err
}
