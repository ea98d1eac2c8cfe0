// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package timer

import (
	"math"
	"time"
)

// A sample represents a completed amount and the timestamp of the sample
type sample struct {
	completed uint64
	timestamp time.Time
}

// EtaTracker estimates the remaining time of a job from a sliding window of
// progress samples.
type EtaTracker struct {
	samples        []sample
	next           int
	totalSamples   uint64
	slowdownFactor float64
}

// NewEtaTracker creates a new EtaTracker keeping [maxSamples] samples. The
// raw estimate is scaled by [slowdownFactor] at 0% progress, with the scaling
// falling linearly to 1 at 100% progress.
//
// If maxSamples is less than 1, it will default to 5
func NewEtaTracker(maxSamples uint8, slowdownFactor float64) *EtaTracker {
	if maxSamples < 1 {
		maxSamples = 5
	}
	return &EtaTracker{
		samples:        make([]sample, maxSamples),
		slowdownFactor: slowdownFactor,
	}
}

// AddSample records that [completed] out of [target] units were done at
// [timestamp]. It returns the remaining time, rounded to the second, and the
// percent complete, rounded to 2 decimal places.
//
// A nil duration means there are not yet enough samples for an estimate.
func (t *EtaTracker) AddSample(completed uint64, target uint64, timestamp time.Time) (*time.Duration, float64) {
	current := sample{
		completed: completed,
		timestamp: timestamp,
	}
	t.samples[t.next] = current
	t.next = (t.next + 1) % len(t.samples)
	t.totalSamples++

	if t.totalSamples < uint64(len(t.samples)) {
		return nil, 0
	}

	if target == 0 || completed >= target {
		var done time.Duration
		return &done, 100
	}

	oldest := t.samples[t.next]
	elapsed := current.timestamp.Sub(oldest.timestamp)
	if elapsed <= 0 || current.completed <= oldest.completed {
		return nil, 0
	}
	rate := float64(current.completed-oldest.completed) / float64(elapsed)

	fraction := float64(completed) / float64(target)
	percent := math.Round(fraction*10000) / 100

	raw := float64(target-completed) / rate
	adjustment := t.slowdownFactor - (t.slowdownFactor-1)*fraction
	eta := time.Duration(raw * adjustment).Round(time.Second)
	return &eta, percent
}
