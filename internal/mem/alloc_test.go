// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstAllocOffset(t *testing.T) {
	a, _ := newArena(t, 0)

	off, err := a.Alloc(8)
	require.NoError(t, err)
	// the second sentinel becomes the first allocation
	require.Equal(t, uint64(headerSize+2*blockRecordSize), off)
}

func TestAllocAligned(t *testing.T) {
	a, _ := newArena(t, 0)

	for _, size := range []uint64{1, 3, 7, 13, 64, 100} {
		off, err := a.Alloc(size)
		require.NoError(t, err)
		require.Zero(t, off%alignment, "allocation of %d bytes at unaligned offset %d", size, off)
	}
	require.NoError(t, a.checkBlocks())
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	a, _ := newArena(t, 0)

	type span struct{ off, size uint64 }
	var spans []span
	for _, size := range []uint64{24, 1, 100, 7, 512, 40} {
		off, err := a.Alloc(size)
		require.NoError(t, err)
		spans = append(spans, span{off, size})
	}
	for i, s := range spans {
		for j, o := range spans {
			if i == j {
				continue
			}
			disjoint := s.off+s.size <= o.off || o.off+o.size <= s.off
			require.True(t, disjoint, "allocations %d and %d overlap", i, j)
		}
	}
	require.NoError(t, a.checkBlocks())
}

func TestFreeReusesBlock(t *testing.T) {
	a, _ := newArena(t, 0)

	// a trailing allocation keeps the freed block away from the tail
	first, err := a.Alloc(128)
	require.NoError(t, err)
	_, err = a.Alloc(64)
	require.NoError(t, err)

	a.Free(first)
	reused, err := a.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, first, reused)
	require.NoError(t, a.checkBlocks())
}

func TestFreeUnlinksFromOrderedList(t *testing.T) {
	a, _ := newArena(t, 0)

	_, err := a.Alloc(32)
	require.NoError(t, err)
	mid, err := a.Alloc(32)
	require.NoError(t, err)
	_, err = a.Alloc(32)
	require.NoError(t, err)

	a.Free(mid)
	require.NoError(t, a.checkBlocks())

	// the freed block no longer appears on the ordered list
	for pos := uint64(headerSize); pos != 0; pos = a.blockNext(pos) {
		require.NotEqual(t, mid-blockRecordSize, pos)
	}

	// and is handed out again for the next fitting request
	reused, err := a.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, mid, reused)
}

func TestInternString(t *testing.T) {
	a, _ := newArena(t, 0)

	off, err := a.InternString("hello")
	require.NoError(t, err)
	require.Equal(t, "hello", string(a.CString(off)))
	require.Equal(t, byte(0), a.Bytes()[off+5])

	empty, err := a.InternString("")
	require.NoError(t, err)
	require.Empty(t, a.CString(empty))
}

func TestInternManyStrings(t *testing.T) {
	a, _ := newArena(t, 0)

	offs := make(map[string]uint64)
	for i := 0; i < 1000; i++ {
		s := "string-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i%10))
		off, err := a.InternString(s)
		require.NoError(t, err)
		offs[s] = off
	}
	for s, off := range offs {
		require.Equal(t, s, string(a.CString(off)))
	}
}
