// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package mem

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Each allocation is preceded by a 16-byte block record holding the offsets
// of the previous and next records.  The records form a doubly-linked list
// in ascending offset order; prev == 0 marks the head sentinel, next == 0
// marks the tail.  Freed records are additionally threaded onto a free list
// through their next field.
const (
	blockRecordSize = 16

	// growth policy for the backing file
	alignment       = 4
	roundingModulus = 256
)

func (a *Arena) blockPrev(block uint64) uint64 {
	return binary.LittleEndian.Uint64(a.data[block:])
}

func (a *Arena) blockNext(block uint64) uint64 {
	return binary.LittleEndian.Uint64(a.data[block+8:])
}

func (a *Arena) setBlockPrev(block, prev uint64) {
	binary.LittleEndian.PutUint64(a.data[block:], prev)
}

func (a *Arena) setBlockNext(block, next uint64) {
	binary.LittleEndian.PutUint64(a.data[block+8:], next)
}

// initBlocks lays down the head sentinel and the tail record of a fresh
// arena.  The two records are adjacent: the first allocation turns the tail
// record into its block and carves a new tail after it.
func (a *Arena) initBlocks() {
	first := uint64(headerSize)
	second := first + blockRecordSize
	a.setBlockPrev(first, 0)
	a.setBlockNext(first, second)
	a.setBlockPrev(second, first)
	a.setBlockNext(second, 0)
	binary.LittleEndian.PutUint64(a.data[offNextFree:], second)
}

// Alloc reserves size bytes and returns the offset of the payload.  The
// scan is first-fit from the free anchor; reaching the tail extends the
// file as needed, which may relocate the mapping.
func (a *Arena) Alloc(size uint64) (uint64, error) {
	needed := blockRecordSize + size

	free := a.nextFree()
	for {
		next := a.blockNext(free)
		if next == 0 || next-free > needed {
			break
		}
		free = next
	}

	prev := a.blockPrev(free)
	next := a.blockNext(prev)

	if a.blockNext(free) == 0 {
		// tail: carve a new tail record after this allocation
		next = free + needed
		next = (next/alignment + 1) * alignment
		if next+blockRecordSize >= a.MappedSize() {
			newSize := next + blockRecordSize
			newSize += newSize / 2
			newSize = (newSize/roundingModulus + 1) * roundingModulus
			if err := a.grow(newSize); err != nil {
				return 0, err
			}
		}
		a.setBlockNext(free, next)
		a.setBlockNext(next, 0)
	}
	a.setNextFree(a.blockNext(free))

	a.setBlockNext(free, next)
	a.setBlockPrev(free, prev)
	a.setBlockNext(prev, free)
	if next != 0 {
		a.setBlockPrev(next, free)
	}

	return free + blockRecordSize, nil
}

// Free gives the allocation at off back to the arena.  The block is
// unlinked from the ordered list and pushed onto the free front; adjacent
// free blocks are not coalesced.
func (a *Arena) Free(off uint64) {
	block := off - blockRecordSize
	prev := a.blockPrev(block)
	next := a.blockNext(block)
	a.setBlockNext(prev, next)
	if next != 0 {
		a.setBlockPrev(next, prev)
	}
	a.setBlockNext(block, a.nextFree())
	a.setNextFree(block)
}

// InternString copies s plus a terminating NUL into the arena and returns
// the offset of the first byte.
func (a *Arena) InternString(s string) (uint64, error) {
	n := uint64(len(s)) + 1
	off, err := a.Alloc(n)
	if err != nil {
		return 0, err
	}
	copy(a.data[off:off+n-1], s)
	a.data[off+n-1] = 0
	return off, nil
}

// CString returns the NUL-terminated byte sequence at off, without the
// terminator.  The slice aliases the mapping and is invalidated by any
// call that may allocate.
func (a *Arena) CString(off uint64) []byte {
	data := a.data
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		panic(fmt.Sprintf("invariant broken: unterminated string at offset %d", off))
	}
	return data[off : off+uint64(end)]
}

// checkBlocks walks the ordered list from the head sentinel and verifies
// it is acyclic, in strictly ascending offset order, and in bounds.
func (a *Arena) checkBlocks() error {
	size := a.MappedSize()
	pos := uint64(headerSize)
	seen := 0
	for {
		if pos+blockRecordSize > size {
			return fmt.Errorf("block %d beyond mapping (%d)", pos, size)
		}
		next := a.blockNext(pos)
		if next == 0 {
			return nil
		}
		if next <= pos {
			return fmt.Errorf("block order violated: %d -> %d", pos, next)
		}
		if seen++; uint64(seen) > size/blockRecordSize {
			return fmt.Errorf("block list does not terminate")
		}
		pos = next
	}
}
