// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import "time"

// Clock reads wall time unless a test has pinned it with Set or Advance.
type Clock struct {
	faked bool
	now   time.Time
}

// Set pins the clock to [now].
func (c *Clock) Set(now time.Time) {
	c.faked = true
	c.now = now
}

// Advance moves the clock forward by [d], pinning it if it wasn't already.
func (c *Clock) Advance(d time.Duration) {
	c.Set(c.Time().Add(d))
}

func (c *Clock) Time() time.Time {
	if c.faked {
		return c.now
	}
	return time.Now()
}
