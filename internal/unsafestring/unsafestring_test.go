// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package unsafestring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToBytes(t *testing.T) {
	for _, s := range []string{
		"",
		"a",
		"hello, world",
		"\x01\xff",
	} {
		require.Equal(t, []byte(s), ToBytes(s))
	}
}

func TestToBytesDoesNotAllocate(t *testing.T) {
	s := "a string long enough to not be an interned constant somewhere"
	allocs := testing.AllocsPerRun(8, func() {
		b := ToBytes(s)
		if len(b) != len(s) {
			t.Fatal("bad length")
		}
	})
	require.Zero(t, allocs)
}
