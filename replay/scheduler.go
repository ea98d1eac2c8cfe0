// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/pipeline"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/timer/mockable"
)

var errZeroTotal = errors.New("invocation total must be positive")

type Config struct {
	// Jobs is the number of transactions replayed concurrently.
	Jobs int
	// TaskTimeout bounds a single replay. Zero disables the bound.
	TaskTimeout time.Duration
	// Proxies is the number of proxies that will be fed, used for progress
	// estimates. Zero disables estimates.
	Proxies uint64
}

// Scheduler replays invocations in parallel and folds the results of each
// proxy into an [Output].
//
// Invocations must be fed in proxy order: indices 0 through total-1 of one
// proxy, in increasing order, before any invocation of the next proxy.
type Scheduler struct {
	config Config
	engine engine.Engine
	log    logging.Logger

	pipeline *pipeline.Pipeline[Result]
	ordered  chan Result
	results  chan<- Output

	aggregatorDone chan struct{}
	closeOnce      sync.Once

	metrics  *metrics
	progress *progress
}

// NewScheduler starts the replay workers and the aggregator. Outputs are sent
// on [results], which is closed by Close once every output was sent.
func NewScheduler(
	config Config,
	engine engine.Engine,
	log logging.Logger,
	reg prometheus.Registerer,
	results chan<- Output,
) (*Scheduler, error) {
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	ordered := make(chan Result)
	p, err := pipeline.New[Result](ordered, config.Jobs, reg)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		config:         config,
		engine:         engine,
		log:            log,
		pipeline:       p,
		ordered:        ordered,
		results:        results,
		aggregatorDone: make(chan struct{}),
		metrics:        m,
		progress:       newProgress(log, config.Proxies, &mockable.Clock{}),
	}
	go s.aggregate()
	return s, nil
}

// Feed schedules the replay of [tx]. It blocks while the number of
// undelivered replays is at capacity.
func (s *Scheduler) Feed(ctx context.Context, proxy, implementation common.Address, tx common.Hash, index, total uint64) error {
	if total == 0 {
		return errZeroTotal
	}
	inv := Invocation{
		Proxy:          proxy,
		Implementation: implementation,
		Tx:             tx,
		Index:          index,
		Total:          total,
	}
	return s.pipeline.Submit(func() Result {
		return s.replay(ctx, inv)
	})
}

// Close waits for every fed invocation to be aggregated and closes the
// results channel.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.pipeline.Close()
		close(s.ordered)
		<-s.aggregatorDone
		close(s.results)
	})
}

func (s *Scheduler) replay(ctx context.Context, inv Invocation) Result {
	if s.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	c, err := s.classify(ctx, inv)
	if errors.Is(err, classifier.ErrStackImbalance) {
		s.log.Fatal("classifier defect",
			zap.Stringer("proxy", inv.Proxy),
			zap.Stringer("tx", inv.Tx),
			zap.Error(err),
		)
		panic(err)
	}
	if err != nil {
		s.log.Debug("replay failed",
			zap.Stringer("proxy", inv.Proxy),
			zap.Stringer("tx", inv.Tx),
			zap.Error(err),
		)
		return Result{
			Invocation: inv,
			Err:        newError(inv, err),
		}
	}

	c.Elapsed = time.Since(start)
	s.metrics.replayDuration.Observe(c.Elapsed.Seconds())
	return Result{
		Invocation: inv,
		Classifier: c,
	}
}

func (s *Scheduler) classify(ctx context.Context, inv Invocation) (*classifier.Classifier, error) {
	return Classify(ctx, s.engine, inv)
}

// Classify replays the transaction of [inv] against the state it originally
// ran on and returns the classification of its proxy storage accesses.
func Classify(ctx context.Context, eng engine.Engine, inv Invocation) (*classifier.Classifier, error) {
	tx, err := eng.LookupTransaction(ctx, inv.Tx)
	if err != nil {
		return nil, err
	}
	state, err := eng.StateAt(ctx, tx.Position)
	if err != nil {
		return nil, err
	}

	c := classifier.New(inv.Proxy, inv.Implementation, inv.Index, inv.Total)
	if _, err := eng.Replay(ctx, state.Fork(), tx, engine.ReplayOptions{}, c); err != nil {
		return nil, err
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Scheduler) aggregate() {
	defer close(s.aggregatorDone)

	var buffer []Result
	for r := range s.ordered {
		if len(buffer) == 0 {
			s.progress.startProxy(r.Proxy, r.Total)
		} else if buffer[0].Proxy != r.Proxy {
			s.log.Warn("invocations of different proxies interleaved",
				zap.Stringer("buffered", buffer[0].Proxy),
				zap.Stringer("received", r.Proxy),
				zap.Uint64("index", r.Index),
			)
		}

		buffer = append(buffer, r)
		if r.Index+1 != r.Total {
			continue
		}

		out := s.fold(r.Proxy, buffer)
		s.results <- out
		buffer = nil
	}

	if len(buffer) != 0 {
		s.log.Warn("dropping incomplete proxy",
			zap.Stringer("proxy", buffer[0].Proxy),
			zap.Int("received", len(buffer)),
			zap.Uint64("total", buffer[0].Total),
		)
	}
}

// fold reduces a complete buffer. The first failed replay fails the whole
// proxy.
func (s *Scheduler) fold(proxy common.Address, buffer []Result) Output {
	for _, r := range buffer {
		if r.Err != nil {
			s.metrics.proxiesFailed.Inc()
			s.log.Info("proxy failed",
				zap.Stringer("proxy", proxy),
				zap.Error(r.Err),
			)
			return Output{Err: r.Err}
		}
	}

	v := NewVerdict(proxy, buffer)
	s.metrics.proxiesFinished.Inc()
	if v.Problematic {
		s.metrics.proxiesProblematic.Inc()
	}
	s.log.Debug("proxy finished",
		zap.Stringer("proxy", proxy),
		zap.Bool("problematic", v.Problematic),
		zap.Int("conflicts", len(v.ConflictSlots)),
		zap.Duration("avgTime", v.AvgTime),
	)
	return Output{Verdict: v}
}

func (o Output) String() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return fmt.Sprintf("proxy %s problematic=%t", o.Verdict.Proxy, o.Verdict.Problematic)
}
