// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package regression

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/proxyex/classifier"
	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/utils/logging"
)

const defaultNumWorkers = 4

// Job is one proxy invocation to compare against the implementation versions
// observed after it.
type Job struct {
	Proxy          common.Address
	Implementation common.Address
	Tx             common.Hash
	Block          uint64
	Versions       []Version
}

// IssueWriter persists the issues of one comparison.
type IssueWriter interface {
	PutIssues(ctx context.Context, issues []Issue) error
}

// Runner compares jobs on a fixed number of workers. Failed comparisons are
// logged and skipped.
type Runner struct {
	numWorkers int
	comparer   *Comparer
	codes      *CodeSource
	writer     IssueWriter
	log        logging.Logger
	metrics    *metrics
}

func NewRunner(
	numWorkers int,
	engine engine.Engine,
	codes *CodeSource,
	writer IssueWriter,
	log logging.Logger,
	reg prometheus.Registerer,
) (*Runner, error) {
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	if numWorkers < 1 {
		numWorkers = defaultNumWorkers
	}
	return &Runner{
		numWorkers: numWorkers,
		comparer:   NewComparer(engine),
		codes:      codes,
		writer:     writer,
		log:        log,
		metrics:    m,
	}, nil
}

// Run consumes [jobs] until it is closed or [ctx] is done.
func (r *Runner) Run(ctx context.Context, jobs <-chan Job) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for range r.numWorkers {
		eg.Go(func() error { return r.work(egCtx, jobs) })
	}
	return eg.Wait()
}

func (r *Runner) work(ctx context.Context, jobs <-chan Job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			r.run(ctx, job)
		}
	}
}

func (r *Runner) run(ctx context.Context, job Job) {
	log := r.log.With(
		zap.Stringer("proxy", job.Proxy),
		zap.Stringer("tx", job.Tx),
	)

	issues, err := r.Check(ctx, job)
	if errors.Is(err, classifier.ErrStackImbalance) {
		log.Fatal("classifier defect", zap.Error(err))
		panic(err)
	}
	if err != nil {
		r.metrics.failed.Inc()
		log.Error("regression check failed", zap.Error(err))
		return
	}
	if len(issues) == 0 {
		return
	}
	if err := r.writer.PutIssues(ctx, issues); err != nil {
		r.metrics.failed.Inc()
		log.Error("failed to persist issues", zap.Error(err))
		return
	}

	r.metrics.checked.Inc()
	for _, issue := range issues {
		if issue.DifferentSlots {
			r.metrics.differentSlots.Inc()
		}
	}
	log.Debug("regression checked", zap.Int("alternates", len(issues)))
}

// Check compares [job] against every version observed after its block.
func (r *Runner) Check(ctx context.Context, job Job) ([]Issue, error) {
	var alternates []Alternate
	for _, v := range job.Versions {
		if v.MinBlock <= job.Block {
			continue
		}
		alt, err := r.codes.Alternate(ctx, v)
		if err != nil {
			return nil, err
		}
		alternates = append(alternates, alt)
	}
	if len(alternates) == 0 {
		return nil, nil
	}

	original, alts, err := r.comparer.Compare(ctx, job.Proxy, job.Implementation, alternates, job.Tx)
	if err != nil {
		return nil, err
	}
	issues := make([]Issue, len(alts))
	for i, alt := range alts {
		issues[i] = Diff(original, alt, job.Tx)
	}
	return issues, nil
}
