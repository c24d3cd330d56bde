// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStringMatchesHashBytes(t *testing.T) {
	for _, s := range []string{"", "a", "key0", "key4999999", "some longer input with spaces"} {
		require.Equal(t, hashBytes([]byte(s)), hashString(s))
	}
}

func TestHashNeverZero(t *testing.T) {
	// 0 is the empty-bucket sentinel, so no key may hash to it
	for i := 0; i < 100000; i++ {
		require.NotZero(t, hashString(fmt.Sprintf("key%d", i)))
	}
	require.NotZero(t, hashString(""))
}

func TestHashSpreads(t *testing.T) {
	seen := make(map[uint64]string)
	for i := 0; i < 100000; i++ {
		k := fmt.Sprintf("key%d", i)
		h := hashString(k)
		if prev, ok := seen[h]; ok {
			t.Fatalf("hash collision between %q and %q", prev, k)
		}
		seen[h] = k
	}
}

func TestHashIncludesTerminator(t *testing.T) {
	// the terminator round multiplies by the FNV prime once more, so the
	// hash differs from plain FNV-1a over the bytes alone
	h := uint64(fnvOffsetBasis)
	for _, b := range []byte("key0") {
		h ^= uint64(b)
		h *= fnvPrime
	}
	require.Equal(t, h*fnvPrime, hashString("key0"))
	require.NotEqual(t, h, hashString("key0"))
}
