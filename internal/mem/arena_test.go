// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package mem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newArena(t *testing.T, initialBytes uint64) (*Arena, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena.db")
	a, err := Open(path, initialBytes, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
	})
	return a, path
}

func TestFreshArenaLayout(t *testing.T) {
	a, _ := newArena(t, 0)

	require.Equal(t, uint64(minInitialSize), a.MappedSize())
	require.Equal(t, uint64(0), a.Root())

	first := uint64(headerSize)
	second := first + blockRecordSize
	require.Equal(t, second, a.nextFree())
	require.Equal(t, uint64(0), a.blockPrev(first))
	require.Equal(t, second, a.blockNext(first))
	require.Equal(t, first, a.blockPrev(second))
	require.Equal(t, uint64(0), a.blockNext(second))

	require.NoError(t, a.checkBlocks())
}

func TestMappedSizeMultipleOf256AfterGrow(t *testing.T) {
	a, _ := newArena(t, 0)

	_, err := a.Alloc(4 * 1024)
	require.NoError(t, err)
	require.Greater(t, a.Grows(), 0)
	require.Zero(t, a.MappedSize()%256)
	require.Equal(t, int(a.MappedSize()), len(a.Bytes()))
}

func TestOffsetsSurviveGrow(t *testing.T) {
	a, _ := newArena(t, 0)

	off, err := a.Alloc(32)
	require.NoError(t, err)
	pattern := []byte("stable across relocation........")
	copy(a.Bytes()[off:off+32], pattern)

	// force at least one extension of the mapping
	for i := 0; i < 8; i++ {
		_, err := a.Alloc(8 * 1024)
		require.NoError(t, err)
	}
	require.Greater(t, a.Grows(), 0)

	require.Equal(t, pattern, a.Bytes()[off:off+32])
}

func TestRootPersists(t *testing.T) {
	a, path := newArena(t, 0)

	off, err := a.InternString("the root structure")
	require.NoError(t, err)
	a.SetRoot(off)
	require.NoError(t, a.Close())

	b, err := Open(path, 0, nil)
	require.NoError(t, err)
	defer func() {
		_ = b.Close()
	}()
	require.Equal(t, off, b.Root())
	require.Equal(t, "the root structure", string(b.CString(off)))
}

func TestReopenKeepsMappedSize(t *testing.T) {
	a, path := newArena(t, 0)

	_, err := a.Alloc(16 * 1024)
	require.NoError(t, err)
	size := a.MappedSize()
	require.NoError(t, a.Close())

	// the initial size hint only applies to fresh files
	b, err := Open(path, minInitialSize, nil)
	require.NoError(t, err)
	defer func() {
		_ = b.Close()
	}()
	require.Equal(t, size, b.MappedSize())
	require.NoError(t, b.checkBlocks())
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.db")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o600))

	_, err := Open(path, 0, nil)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenRejectsCorruptedHeader(t *testing.T) {
	a, path := newArena(t, 0)
	_, err := a.InternString("some payload")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	// flip a bit inside the checksummed region
	_, err = f.WriteAt([]byte{0xff}, offNextFree)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path, 0, nil)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.db")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	_, err := Open(path, 0, nil)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestAbandonThenReopen(t *testing.T) {
	a, path := newArena(t, 0)

	off, err := a.InternString("written, never synced")
	require.NoError(t, err)
	a.SetRoot(off)
	require.NoError(t, a.Abandon())

	// MAP_SHARED pages reach the page cache even without msync, so the
	// reopened file is coherent within this boot
	b, err := Open(path, 0, nil)
	require.NoError(t, err)
	defer func() {
		_ = b.Close()
	}()
	require.Equal(t, "written, never synced", string(b.CString(b.Root())))
}

func TestCloseIsIdempotent(t *testing.T) {
	a, _ := newArena(t, 0)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.NoError(t, a.Abandon())
}
