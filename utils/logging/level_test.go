// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logging

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlignedString(t *testing.T) {
	require := require.New(t)

	levels := []Level{Off, Fatal, Error, Warn, Info, Trace, Debug, Verbo}
	for _, l := range levels {
		as := l.AlignedString()
		require.Len(as, alignedStringLen)
		s := l.String()
		if len(s) >= alignedStringLen {
			require.Equal(s[:alignedStringLen], as)
			continue
		}
		require.Equal(s, as[:len(s)])
		require.Equal(strings.Repeat(" ", alignedStringLen-len(s)), as[len(s):])
	}
}

func TestLevelRoundTrip(t *testing.T) {
	levels := []Level{Off, Fatal, Error, Warn, Info, Trace, Debug, Verbo}
	for _, l := range levels {
		t.Run(l.String(), func(t *testing.T) {
			require := require.New(t)

			parsed, err := ToLevel(strings.ToLower(l.String()))
			require.NoError(err)
			require.Equal(l, parsed)

			b, err := json.Marshal(l)
			require.NoError(err)

			var decoded Level
			require.NoError(json.Unmarshal(b, &decoded))
			require.Equal(l, decoded)
		})
	}
}

func TestLevelColor(t *testing.T) {
	require := require.New(t)

	require.Equal(Red, Fatal.Color())
	require.Equal(Reset, Info.Color())
	require.Equal(Reset, Level(42).Color())
	require.Equal(unknownStr, Level(42).String())
}

func TestToLevelUnknown(t *testing.T) {
	_, err := ToLevel("loud")
	require.ErrorContains(t, err, "unknown log level")
}
