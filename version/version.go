// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package version

import (
	"fmt"
	"runtime"
)

const Client = "proxyex"

var (
	Current = &Semantic{
		Major: 0,
		Minor: 1,
		Patch: 0,
	}

	// GitCommit is set at link time with -ldflags "-X".
	GitCommit string
)

type Semantic struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (s *Semantic) String() string {
	return fmt.Sprintf("v%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// String describes the running binary.
func String() string {
	format := "%s/%s [go=%s"
	args := []any{
		Client,
		Current,
		runtime.Version(),
	}
	if GitCommit != "" {
		format += ", commit=%s"
		args = append(args, GitCommit)
	}
	format += "]"
	return fmt.Sprintf(format, args...)
}
