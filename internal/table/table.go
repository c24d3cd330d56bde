// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package table implements a Robin-Hood hash table whose header, bucket
// array and keys all live inside a mem.Arena.
//
// A Table value is only a handle: the arena plus the offset of the on-disk
// header.  The header is the single source of truth for bucket count, fill
// level and probe distance; the handle can be dropped and reconstructed
// from the offset at any time, including after a process restart.
//
// Buckets hold a 64-bit hash (0 means empty), the offset of the interned
// key, and a fixed number of opaque value bytes chosen at Create time.
// Keys can be inserted but not removed.
package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/thomasrebele/diskmap/internal/mem"
	"github.com/thomasrebele/diskmap/internal/unsafestring"
	"github.com/thomasrebele/diskmap/internal/zero"
)

const (
	// on-disk table header: bucket_count, bucket_size, filled, max_dist,
	// buckets_off, all uint64
	offBucketCount = 0
	offBucketSize  = 8
	offFilled      = 16
	offMaxDist     = 24
	offBucketsOff  = 32

	headerSize = 40

	// per-bucket prefix ahead of the value bytes: hash + key offset
	slotHeaderSize = 16

	initialBucketCount = 2
)

var (
	ErrInvalidKey = errors.New("key must not contain a NUL byte")
)

// Table is the in-process handle for one hash table inside an arena.
type Table struct {
	arena     *mem.Arena
	headerOff uint64
}

// Create allocates a fresh table with valueWidth opaque bytes per bucket
// and returns its handle.  The header offset is durable; hold on to it to
// reopen the table later.
func Create(a *mem.Arena, valueWidth uint64) (*Table, error) {
	headerOff, err := a.Alloc(headerSize)
	if err != nil {
		return nil, fmt.Errorf("alloc table header: %w", err)
	}
	t := &Table{arena: a, headerOff: headerOff}
	t.setBucketCount(initialBucketCount)
	t.setBucketSize(slotHeaderSize + valueWidth)
	t.setFilled(0)
	t.setMaxDist(0)

	size := uint64(initialBucketCount) * (slotHeaderSize + valueWidth)
	bucketsOff, err := a.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("alloc bucket array: %w", err)
	}
	t.setBucketsOff(bucketsOff)
	zero.Bytes(a.Bytes()[bucketsOff : bucketsOff+size])
	return t, nil
}

// OpenAt reconstructs the handle for a table whose header lives at
// headerOff.
func OpenAt(a *mem.Arena, headerOff uint64) *Table {
	return &Table{arena: a, headerOff: headerOff}
}

// HeaderOff returns the durable offset of the table header.
func (t *Table) HeaderOff() uint64 {
	return t.headerOff
}

// Lookup returns the bucket index holding key.  The index is invalidated
// by the next insert into this table.
func (t *Table) Lookup(key string) (int64, bool) {
	h := hashString(key)
	count := t.bucketCount()
	maxDist := t.maxDist()
	kb := unsafestring.ToBytes(key)

	pos := h % count
	dist := uint64(0)
	for {
		slotOff := t.slotOff(pos)
		data := t.arena.Bytes()
		sh := binary.LittleEndian.Uint64(data[slotOff:])
		if sh == 0 || dist > maxDist {
			return 0, false
		}
		if sh == h {
			keyOff := binary.LittleEndian.Uint64(data[slotOff+8:])
			if stored := t.arena.CString(keyOff); bytes.Equal(stored, kb) {
				return int64(pos), true
			}
		}
		if pos++; pos == count {
			pos = 0
		}
		dist++
	}
}

// InsertString inserts key and returns the index of its bucket.  Inserting
// a key that is already present returns the existing bucket and allocates
// nothing.  The returned index is invalidated by the next insert.
func (t *Table) InsertString(key string) (int64, error) {
	if strings.IndexByte(key, 0) >= 0 {
		return 0, ErrInvalidKey
	}
	if pos, ok := t.Lookup(key); ok {
		return pos, nil
	}
	keyOff, err := t.arena.InternString(key)
	if err != nil {
		return 0, err
	}
	return t.insert(keyOff)
}

// insert is the Robin-Hood body.  keyOff must point at an interned key.
// The returned index is the first bucket whose previous occupant was
// displaced, which is where the new key ends up.
func (t *Table) insert(keyOff uint64) (int64, error) {
	count := t.bucketCount()
	maxFilled := count * 9 / 10
	if count-1 < maxFilled {
		maxFilled = count - 1
	}
	if t.filled() >= maxFilled {
		if err := t.resize(); err != nil {
			return 0, err
		}
		count = t.bucketCount()
	}
	t.setFilled(t.filled() + 1)

	size := t.bucketSize()
	incoming := make([]byte, size)
	displaced := make([]byte, size)
	h := hashBytes(t.arena.CString(keyOff))
	binary.LittleEndian.PutUint64(incoming[0:], h)
	binary.LittleEndian.PutUint64(incoming[8:], keyOff)

	result := int64(-1)
	pos := h % count
	dist := uint64(0)
	for {
		slotOff := t.slotOff(pos)
		data := t.arena.Bytes()
		slot := data[slotOff : slotOff+size]
		sh := binary.LittleEndian.Uint64(slot)
		if sh == 0 {
			copy(slot, incoming)
			if result < 0 {
				result = int64(pos)
			}
			if dist > t.maxDist() {
				t.setMaxDist(dist)
			}
			return result, nil
		}
		// steal from the rich: if the occupant is closer to its home
		// than we are to ours, it moves on and we take the bucket
		existDist := (pos - sh) % count
		if dist > existDist {
			copy(displaced, slot)
			copy(slot, incoming)
			incoming, displaced = displaced, incoming
			if dist > t.maxDist() {
				t.setMaxDist(dist)
			}
			dist = existDist
			if result < 0 {
				result = int64(pos)
			}
		}
		dist++
		if pos++; pos == count {
			pos = 0
		}
	}
}

// resize doubles the bucket array and reinserts every occupied bucket.
// Indices handed out before a resize are stale afterwards.
func (t *Table) resize() error {
	oldCount := t.bucketCount()
	oldOff := t.bucketsOff()
	size := t.bucketSize()

	t.setBucketCount(oldCount * 2)
	t.setFilled(0)
	t.setMaxDist(0)

	newBytes := oldCount * 2 * size
	newOff, err := t.arena.Alloc(newBytes)
	if err != nil {
		return fmt.Errorf("alloc bucket array: %w", err)
	}
	t.setBucketsOff(newOff)
	zero.Bytes(t.arena.Bytes()[newOff : newOff+newBytes])

	valueWidth := size - slotHeaderSize
	for i := uint64(0); i < oldCount; i++ {
		slotOff := oldOff + i*size
		data := t.arena.Bytes()
		if binary.LittleEndian.Uint64(data[slotOff:]) == 0 {
			continue
		}
		keyOff := binary.LittleEndian.Uint64(data[slotOff+8:])
		idx, err := t.insert(keyOff)
		if err != nil {
			return err
		}
		if valueWidth > 0 {
			// reinsertion cannot allocate, so data is still live
			dst := t.slotOff(uint64(idx)) + slotHeaderSize
			copy(data[dst:dst+valueWidth], data[slotOff+slotHeaderSize:slotOff+size])
		}
	}
	t.arena.Free(oldOff)
	return nil
}

// ValueAt returns the value bytes of the bucket at idx.  The slice aliases
// the mapping and is invalidated by any call that may allocate.
func (t *Table) ValueAt(idx int64) []byte {
	off := t.slotOff(uint64(idx)) + slotHeaderSize
	return t.arena.Bytes()[off : off+t.valueWidth()]
}

// KeyAt returns a copy of the key stored in the bucket at idx.
func (t *Table) KeyAt(idx int64) string {
	data := t.arena.Bytes()
	keyOff := binary.LittleEndian.Uint64(data[t.slotOff(uint64(idx))+8:])
	return string(t.arena.CString(keyOff))
}

// Stats is a snapshot of the on-disk header counters.
type Stats struct {
	BucketCount uint64
	BucketSize  uint64
	Filled      uint64
	MaxDist     uint64
}

func (t *Table) Stats() Stats {
	return Stats{
		BucketCount: t.bucketCount(),
		BucketSize:  t.bucketSize(),
		Filled:      t.filled(),
		MaxDist:     t.maxDist(),
	}
}

func (t *Table) slotOff(pos uint64) uint64 {
	return t.bucketsOff() + pos*t.bucketSize()
}

func (t *Table) hashAt(pos uint64) uint64 {
	return binary.LittleEndian.Uint64(t.arena.Bytes()[t.slotOff(pos):])
}

func (t *Table) valueWidth() uint64 {
	return t.bucketSize() - slotHeaderSize
}

func (t *Table) header(off uint64) uint64 {
	return binary.LittleEndian.Uint64(t.arena.Bytes()[t.headerOff+off:])
}

func (t *Table) setHeader(off, v uint64) {
	binary.LittleEndian.PutUint64(t.arena.Bytes()[t.headerOff+off:], v)
}

func (t *Table) bucketCount() uint64     { return t.header(offBucketCount) }
func (t *Table) bucketSize() uint64      { return t.header(offBucketSize) }
func (t *Table) filled() uint64          { return t.header(offFilled) }
func (t *Table) maxDist() uint64         { return t.header(offMaxDist) }
func (t *Table) bucketsOff() uint64      { return t.header(offBucketsOff) }
func (t *Table) setBucketCount(v uint64) { t.setHeader(offBucketCount, v) }
func (t *Table) setBucketSize(v uint64)  { t.setHeader(offBucketSize, v) }
func (t *Table) setFilled(v uint64)      { t.setHeader(offFilled, v) }
func (t *Table) setMaxDist(v uint64)     { t.setHeader(offMaxDist, v) }
func (t *Table) setBucketsOff(v uint64)  { t.setHeader(offBucketsOff, v) }
