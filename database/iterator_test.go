// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeContains(t *testing.T) {
	tests := []struct {
		name     string
		r        Range
		key      string
		expected bool
	}{
		{
			name:     "zero range",
			key:      "anything",
			expected: true,
		},
		{
			name:     "before start",
			r:        Range{Start: []byte("b")},
			key:      "a",
			expected: false,
		},
		{
			name:     "at start",
			r:        Range{Start: []byte("b")},
			key:      "b",
			expected: true,
		},
		{
			name:     "outside prefix",
			r:        Range{Prefix: []byte("error/")},
			key:      "collision/0xa1",
			expected: false,
		},
		{
			name:     "start and prefix",
			r:        Range{Start: []byte("error/2"), Prefix: []byte("error/")},
			key:      "error/3",
			expected: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, test.r.Contains([]byte(test.key)))
		})
	}
}
