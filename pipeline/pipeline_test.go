// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func sleepThen(d time.Duration, v int) Task[int] {
	return func() int {
		time.Sleep(d)
		return v
	}
}

// collect reads [out] until it is closed.
func collect(out <-chan int) (*[]int, *sync.WaitGroup) {
	var (
		results []int
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := range out {
			results = append(results, v)
		}
	}()
	return &results, &wg
}

func TestOrdering(t *testing.T) {
	require := require.New(t)

	out := make(chan int)
	p, err := New[int](out, 3, prometheus.NewRegistry())
	require.NoError(err)
	results, wg := collect(out)

	require.NoError(p.Submit(sleepThen(200*time.Millisecond, 1)))
	require.NoError(p.Submit(sleepThen(100*time.Millisecond, 2)))
	require.NoError(p.Submit(sleepThen(50*time.Millisecond, 3)))
	p.Close()
	close(out)
	wg.Wait()

	require.Equal([]int{1, 2, 3}, *results)
}

func TestOrderingRandomLatency(t *testing.T) {
	require := require.New(t)

	const n = 64
	out := make(chan int)
	p, err := New[int](out, 8, prometheus.NewRegistry())
	require.NoError(err)
	results, wg := collect(out)

	r := rand.New(rand.NewSource(1)) //#nosec G404
	expected := make([]int, n)
	for i := range n {
		expected[i] = i
		require.NoError(p.Submit(sleepThen(time.Duration(r.Intn(10))*time.Millisecond, i)))
	}
	p.Close()
	close(out)
	wg.Wait()

	require.Equal(expected, *results)
}

func TestParallelism(t *testing.T) {
	require := require.New(t)

	out := make(chan int, 3)
	p, err := New[int](out, 3, prometheus.NewRegistry())
	require.NoError(err)

	start := time.Now()
	for i := range 3 {
		require.NoError(p.Submit(sleepThen(100*time.Millisecond, i)))
	}
	for range 3 {
		<-out
	}
	require.Less(time.Since(start), 200*time.Millisecond)
	p.Close()
}

func TestCloseWaitsForRunningTasks(t *testing.T) {
	require := require.New(t)

	out := make(chan int, 1)
	p, err := New[int](out, 2, prometheus.NewRegistry())
	require.NoError(err)

	start := time.Now()
	require.NoError(p.Submit(sleepThen(200*time.Millisecond, 7)))
	p.Close()
	require.GreaterOrEqual(time.Since(start), 200*time.Millisecond)
	require.Equal(7, <-out)
}

func TestCloseIsIdempotent(t *testing.T) {
	require := require.New(t)

	out := make(chan int, 1)
	p, err := New[int](out, 1, prometheus.NewRegistry())
	require.NoError(err)

	require.NoError(p.Submit(sleepThen(0, 1)))
	p.Close()
	p.Close()
	require.Equal(1, <-out)
	require.ErrorIs(p.Submit(sleepThen(0, 2)), ErrClosed)
}

func TestMetrics(t *testing.T) {
	require := require.New(t)

	out := make(chan int, 4)
	p, err := New[int](out, 2, prometheus.NewRegistry())
	require.NoError(err)

	for i := range 4 {
		require.NoError(p.Submit(sleepThen(0, i)))
	}
	p.Close()

	require.InDelta(4, testutil.ToFloat64(p.metrics.submitted), 0)
	require.InDelta(4, testutil.ToFloat64(p.metrics.completed), 0)
	require.InDelta(0, testutil.ToFloat64(p.metrics.inFlight), 0)
}

func TestNoWorkers(t *testing.T) {
	_, err := New[int](make(chan int), 0, prometheus.NewRegistry())
	require.ErrorIs(t, err, ErrNoWorkers)
}
