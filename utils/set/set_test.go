// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package set

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	require := require.New(t)
	id1 := 1

	s := Set[int]{id1: struct{}{}}

	s.Add(id1)
	require.True(s.Contains(id1))

	s.Remove(id1)
	require.False(s.Contains(id1))

	s.Add(id1)
	require.True(s.Contains(id1))
	require.Len(s.List(), 1)
	require.Equal(id1, s.List()[0])

	s.Clear()
	require.False(s.Contains(id1))

	s.Add(id1)

	s2 := Set[int]{}

	require.False(s.Overlaps(s2))

	s2.Union(s)
	require.True(s2.Contains(id1))
	require.True(s.Overlaps(s2))

	s2.Difference(s)
	require.False(s2.Contains(id1))
	require.False(s.Overlaps(s2))
}

func TestSetNil(t *testing.T) {
	require := require.New(t)

	var s Set[int]
	require.Zero(s.Len())
	require.False(s.Contains(1))

	s.Add(1)
	require.Equal(1, s.Len())
}

func TestSetAlgebra(t *testing.T) {
	tests := []struct {
		name             string
		a, b             Set[int]
		wantIntersection Set[int]
		wantUnion        Set[int]
		wantDifference   Set[int]
	}{
		{
			name:             "disjoint",
			a:                Of(1, 2),
			b:                Of(3),
			wantIntersection: Of[int](),
			wantUnion:        Of(1, 2, 3),
			wantDifference:   Of(1, 2),
		},
		{
			name:             "overlapping",
			a:                Of(1, 2, 3),
			b:                Of(2, 3, 4),
			wantIntersection: Of(2, 3),
			wantUnion:        Of(1, 2, 3, 4),
			wantDifference:   Of(1),
		},
		{
			name:             "empty left",
			a:                nil,
			b:                Of(5),
			wantIntersection: Of[int](),
			wantUnion:        Of(5),
			wantDifference:   Of[int](),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			require.True(test.wantIntersection.Equals(Intersection(test.a, test.b)))
			require.True(test.wantUnion.Equals(Union(test.a, test.b)))
			require.True(test.wantDifference.Equals(Difference(test.a, test.b)))
		})
	}
}

func TestSetJSON(t *testing.T) {
	require := require.New(t)

	b, err := json.Marshal(Of(7))
	require.NoError(err)
	require.JSONEq("[7]", string(b))

	var s Set[int]
	require.NoError(json.Unmarshal([]byte("[1,2,2]"), &s))
	require.True(Of(1, 2).Equals(s))
}
