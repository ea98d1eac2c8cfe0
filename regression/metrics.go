// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package regression

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/proxyex/utils/wrappers"
)

const namespace = "regression"

type metrics struct {
	checked        prometheus.Counter
	failed         prometheus.Counter
	differentSlots prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		checked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checked",
			Help:      "Number of invocations compared against later implementations",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed",
			Help:      "Number of invocations whose comparison was skipped",
		}),
		differentSlots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "different_slots",
			Help:      "Number of issues where the alternate touched different slots",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.checked),
		reg.Register(m.failed),
		reg.Register(m.differentSlots),
	)
	return m, errs.Err
}
