// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package conflict

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/replay"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/set"
)

const (
	defaultJobs     = 4
	defaultPageSize = 500
)

// Candidate is a proxy whose collision verdict was problematic, with the
// slots both the proxy and an implementation wrote in the recorded
// transactions.
type Candidate struct {
	Proxy common.Address
	Slots set.Set[uint256.Int]
}

// CandidateReader pages through problematic proxies that have no report yet,
// in address order. A nil [after] starts from the first proxy.
type CandidateReader interface {
	Candidates(ctx context.Context, after *common.Address, limit int) ([]Candidate, error)
}

// ReportWriter persists reports.
type ReportWriter interface {
	PutReport(ctx context.Context, r *Report) error
}

// Invocation is one transaction that called a proxy.
type Invocation struct {
	Implementation common.Address
	Tx             common.Hash
}

// InvocationReader lists the invocations of a proxy ordered by (block, tx).
type InvocationReader interface {
	Invocations(ctx context.Context, proxy common.Address) ([]Invocation, error)
}

type Config struct {
	// Jobs is the number of transactions of one proxy replayed concurrently.
	Jobs int
	// PageSize is the number of candidates read per query.
	PageSize int
	// TaskTimeout bounds a single replay. Zero disables the bound.
	TaskTimeout time.Duration
	// Proxies restricts the analysis to these proxies when non-empty.
	Proxies []common.Address
}

// Analyzer replays the invocations of problematic proxies and writes a
// [Report] for each. A proxy with a failed replay is logged and skipped so a
// later run retries it.
type Analyzer struct {
	config      Config
	engine      engine.Engine
	invocations InvocationReader
	writer      ReportWriter
	log         logging.Logger
	metrics     *metrics
	only        set.Set[common.Address]
}

func NewAnalyzer(
	config Config,
	engine engine.Engine,
	invocations InvocationReader,
	writer ReportWriter,
	log logging.Logger,
	reg prometheus.Registerer,
) (*Analyzer, error) {
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	if config.Jobs < 1 {
		config.Jobs = defaultJobs
	}
	if config.PageSize < 1 {
		config.PageSize = defaultPageSize
	}
	return &Analyzer{
		config:      config,
		engine:      engine,
		invocations: invocations,
		writer:      writer,
		log:         log,
		metrics:     m,
		only:        set.Of(config.Proxies...),
	}, nil
}

// Run analyzes every candidate of [reader] and returns the number of reports
// written.
func (a *Analyzer) Run(ctx context.Context, reader CandidateReader) (int, error) {
	var (
		after   *common.Address
		written int
	)
	for {
		candidates, err := reader.Candidates(ctx, after, a.config.PageSize)
		if err != nil {
			return written, err
		}
		for _, c := range candidates {
			if a.only.Len() > 0 && !a.only.Contains(c.Proxy) {
				continue
			}
			ok, err := a.analyze(ctx, c)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
		if len(candidates) < a.config.PageSize {
			a.log.Info("conflict analysis finished", zap.Int("reports", written))
			return written, nil
		}
		last := candidates[len(candidates)-1].Proxy
		after = &last
	}
}

// analyze reports whether a report was written for [c]. Only defects and
// store failures are returned as errors.
func (a *Analyzer) analyze(ctx context.Context, c Candidate) (bool, error) {
	invocations, err := a.invocations.Invocations(ctx, c.Proxy)
	if err != nil {
		return false, err
	}
	a.log.Debug("analyzing proxy",
		zap.Stringer("proxy", c.Proxy),
		zap.Int("invocations", len(invocations)),
		zap.Int("candidates", c.Slots.Len()),
	)

	replayed, err := a.replayAll(ctx, c.Proxy, invocations)
	switch {
	case errors.Is(err, classifier.ErrStackImbalance):
		return false, err
	case err != nil && ctx.Err() != nil:
		return false, ctx.Err()
	case err != nil:
		a.metrics.proxiesFailed.Inc()
		a.log.Info("conflict analysis failed",
			zap.Stringer("proxy", c.Proxy),
			zap.Error(err),
		)
		return false, nil
	}

	report := NewReport(c.Proxy, c.Slots, replayed)
	if err := a.writer.PutReport(ctx, report); err != nil {
		return false, err
	}
	a.metrics.proxiesAnalyzed.Inc()
	a.metrics.points.Add(float64(report.NumPoints()))
	a.log.Debug("proxy analyzed",
		zap.Stringer("proxy", c.Proxy),
		zap.Int("conflicts", len(report.ConflictSlots)),
		zap.Int("points", report.NumPoints()),
	)
	return true, nil
}

func (a *Analyzer) replayAll(ctx context.Context, proxy common.Address, invocations []Invocation) ([]Replayed, error) {
	var (
		total    = uint64(len(invocations))
		replayed = make([]Replayed, len(invocations))
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.config.Jobs)
	for i, inv := range invocations {
		eg.Go(func() error {
			c, err := a.replay(egCtx, replay.Invocation{
				Proxy:          proxy,
				Implementation: inv.Implementation,
				Tx:             inv.Tx,
				Index:          uint64(i),
				Total:          total,
			})
			if err != nil {
				return err
			}
			replayed[i] = Replayed{
				Tx:             inv.Tx,
				Implementation: inv.Implementation,
				Classifier:     c,
			}
			return nil
		})
	}
	return replayed, eg.Wait()
}

func (a *Analyzer) replay(ctx context.Context, inv replay.Invocation) (*classifier.Classifier, error) {
	if a.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.TaskTimeout)
		defer cancel()
	}
	return replay.Classify(ctx, a.engine, inv)
}
