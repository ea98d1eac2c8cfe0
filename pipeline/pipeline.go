// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pipeline runs tasks on a fixed pool of workers and delivers their
// results in submission order.
package pipeline

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrClosed    = errors.New("pipeline closed")
	ErrNoWorkers = errors.New("pipeline needs at least one worker")
)

// Task is a unit of work. A Task must always return; a panicking task is a
// defect that takes the process down.
type Task[R any] func() R

type job[R any] struct {
	task Task[R]
	slot chan<- R
}

// Pipeline executes submitted tasks in parallel. Results are forwarded to the
// output channel in the order the tasks were submitted.
type Pipeline[R any] struct {
	out chan<- R

	// Protects submission order and the closed flag
	lock   sync.Mutex
	closed bool

	jobs  chan job[R]
	slots chan (<-chan R)

	workers   sync.WaitGroup
	drainDone chan struct{}
	closeOnce sync.Once

	metrics *metrics
}

// New starts [workers] workers and the drain goroutine. Results are sent on
// [out], which the caller must keep reading until Close returns.
func New[R any](out chan<- R, workers int, reg prometheus.Registerer) (*Pipeline[R], error) {
	if workers < 1 {
		return nil, ErrNoWorkers
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline[R]{
		out:       out,
		jobs:      make(chan job[R], workers),
		slots:     make(chan (<-chan R), 2*workers),
		drainDone: make(chan struct{}),
		metrics:   m,
	}
	p.workers.Add(workers)
	for range workers {
		go p.work()
	}
	go p.drain()
	return p, nil
}

// Submit schedules [task]. It blocks while the number of undelivered results
// is at capacity.
func (p *Pipeline[R]) Submit(task Task[R]) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return ErrClosed
	}

	slot := make(chan R, 1)
	p.slots <- slot
	p.jobs <- job[R]{
		task: task,
		slot: slot,
	}
	p.metrics.submitted.Inc()
	p.metrics.inFlight.Inc()
	return nil
}

// Close stops accepting tasks and blocks until every submitted task has run
// and its result has been forwarded. Calling Close more than once is a no-op.
func (p *Pipeline[R]) Close() {
	p.closeOnce.Do(func() {
		p.lock.Lock()
		p.closed = true
		close(p.jobs)
		close(p.slots)
		p.lock.Unlock()

		p.workers.Wait()
		<-p.drainDone
	})
}

func (p *Pipeline[R]) work() {
	defer p.workers.Done()

	for j := range p.jobs {
		j.slot <- j.task()
	}
}

func (p *Pipeline[R]) drain() {
	defer close(p.drainDone)

	for slot := range p.slots {
		result := <-slot
		p.out <- result
		p.metrics.completed.Inc()
		p.metrics.inFlight.Dec()
	}
}
