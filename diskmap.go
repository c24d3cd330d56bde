// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package diskmap

import (
	"encoding/binary"
	"strings"

	"go.uber.org/zap"

	"github.com/thomasrebele/diskmap/internal/mem"
	"github.com/thomasrebele/diskmap/internal/table"
)

const (
	defaultInitialSize = 4096

	// each outer bucket stores the offset of its nested table
	offsetWidth = 8
)

var (
	// ErrCorrupt is returned by Open when the file exists but is not a
	// diskmap file or fails validation.
	ErrCorrupt = mem.ErrCorrupt

	// ErrInvalidKey is returned by Insert for keys or values containing a
	// NUL byte, which the on-disk string encoding cannot represent.
	ErrInvalidKey = table.ErrInvalidKey
)

type options struct {
	initialSize uint64
	logger      *zap.Logger
}

type Option func(*options)

// WithInitialSize sets the size in bytes of the initial mapping for a
// freshly created file.  It has no effect when reopening an existing file.
func WithInitialSize(bytes uint64) Option {
	return func(o *options) { o.initialSize = bytes }
}

// WithLogger routes the engine's diagnostics (mapping relocations) to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Map is a persistent multi-map from strings to sets of strings.
//
// A Map is not safe for concurrent use.
type Map struct {
	arena *mem.Arena
	outer *table.Table
}

// Open opens the diskmap file at path, creating it if necessary.
func Open(path string, opts ...Option) (*Map, error) {
	o := options{initialSize: defaultInitialSize}
	for _, opt := range opts {
		opt(&o)
	}

	arena, err := mem.Open(path, o.initialSize, o.logger)
	if err != nil {
		return nil, err
	}

	var outer *table.Table
	if root := arena.Root(); root != 0 {
		outer = table.OpenAt(arena, root)
	} else {
		outer, err = table.Create(arena, offsetWidth)
		if err != nil {
			_ = arena.Abandon()
			return nil, err
		}
		arena.SetRoot(outer.HeaderOff())
	}
	return &Map{arena: arena, outer: outer}, nil
}

// Insert adds value to the set stored under key.  Both are interned into
// the file; inserting a pair that is already present changes nothing.
func (m *Map) Insert(key, value string) error {
	if strings.IndexByte(key, 0) >= 0 || strings.IndexByte(value, 0) >= 0 {
		return ErrInvalidKey
	}

	var nested *table.Table
	pos, ok := m.outer.Lookup(key)
	if !ok {
		var err error
		pos, err = m.outer.InsertString(key)
		if err != nil {
			return err
		}
		// the index from InsertString stays valid while the nested
		// table is created: creation allocates, but only an insert into
		// the outer table itself can move its buckets
		nested, err = table.Create(m.arena, 0)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(m.outer.ValueAt(pos), nested.HeaderOff())
	} else {
		nested = m.nestedAt(pos)
	}
	_, err := nested.InsertString(value)
	return err
}

// Values returns the set of values stored under key, in bucket order.  The
// second result is false if the key has never been inserted.
func (m *Map) Values(key string) ([]string, bool) {
	pos, ok := m.outer.Lookup(key)
	if !ok {
		return nil, false
	}
	nested := m.nestedAt(pos)
	vals := make([]string, 0, nested.Stats().Filled)
	it := nested.Iter()
	for it.Next() {
		vals = append(vals, it.Key())
	}
	return vals, true
}

// Len reports the number of distinct keys.
func (m *Map) Len() int {
	return int(m.outer.Stats().Filled)
}

// Iter returns an iterator over the keys of the map.  Any Insert
// invalidates it.
func (m *Map) Iter() *Iter {
	return &Iter{m: m, it: m.outer.Iter()}
}

// Stats is a point-in-time snapshot of the map and its backing file.
type Stats struct {
	Keys        uint64 // distinct keys in the outer table
	BucketCount uint64 // outer table bucket array size
	MaxDist     uint64 // outer table's largest live probe distance
	MappedSize  uint64 // bytes currently mapped
	Grows       int    // mapping extensions performed by this handle
}

func (m *Map) Stats() Stats {
	ts := m.outer.Stats()
	return Stats{
		Keys:        ts.Filled,
		BucketCount: ts.BucketCount,
		MaxDist:     ts.MaxDist,
		MappedSize:  m.arena.MappedSize(),
		Grows:       m.arena.Grows(),
	}
}

// Sync flushes all changes to the backing file.
func (m *Map) Sync() error {
	return m.arena.Sync()
}

// Close flushes and releases the mapping and the file descriptor.  The Map
// must not be used afterwards.
func (m *Map) Close() error {
	return m.arena.Close()
}

// Abandon releases the mapping and the file descriptor without flushing.
func (m *Map) Abandon() error {
	return m.arena.Abandon()
}

func (m *Map) nestedAt(pos int64) *table.Table {
	off := binary.LittleEndian.Uint64(m.outer.ValueAt(pos))
	return table.OpenAt(m.arena, off)
}

// Iter walks the keys of a Map.
type Iter struct {
	m  *Map
	it *table.Iter
}

// Next advances to the next key, returning false when done.
func (it *Iter) Next() bool {
	return it.it.Next()
}

// Key returns the current key.
func (it *Iter) Key() string {
	return it.it.Key()
}

// Values returns the value set of the current key.
func (it *Iter) Values() []string {
	nested := it.m.nestedAt(it.it.Index())
	vals := make([]string, 0, nested.Stats().Filled)
	n := nested.Iter()
	for n.Next() {
		vals = append(vals, n.Key())
	}
	return vals
}
