// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package results persists the outputs of the collision and regression
// analyses.
package results

import (
	"context"
	"errors"

	"github.com/ava-labs/proxyex/conflict"
	"github.com/ava-labs/proxyex/regression"
)

var errInvalidAddress = errors.New("invalid address")

// Store persists analysis outputs. Inserting a record whose key already
// exists is a no-op. Implementations must be safe for concurrent use.
type Store interface {
	regression.IssueWriter
	regression.IssueReader
	regression.FilteredWriter
	conflict.CandidateReader
	conflict.ReportWriter

	PutCollision(ctx context.Context, c Collision) error
	// Collision returns the record of [proxy], or ErrNotFound.
	Collision(ctx context.Context, proxy string) (Collision, error)
	PutFailure(ctx context.Context, f Failure) error
	Failures(ctx context.Context) ([]Failure, error)
	// Conflict returns the conflict report of [proxy], or ErrNotFound.
	Conflict(ctx context.Context, proxy string) (Conflict, error)

	Close() error
}

var ErrNotFound = errors.New("not found")
