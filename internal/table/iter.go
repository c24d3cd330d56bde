// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

// Iter walks the occupied buckets of a table in ascending index order.
// Iteration is not restartable across mutations; any insert into the table
// invalidates it.
type Iter struct {
	t   *Table
	pos int64
}

func (t *Table) Iter() *Iter {
	return &Iter{t: t, pos: -1}
}

// Next advances to the next occupied bucket, returning false when the end
// of the bucket array is reached.
func (it *Iter) Next() bool {
	count := int64(it.t.bucketCount())
	for pos := it.pos + 1; pos < count; pos++ {
		if it.t.hashAt(uint64(pos)) != 0 {
			it.pos = pos
			return true
		}
	}
	it.pos = count
	return false
}

// Index returns the bucket index the iterator is positioned on.
func (it *Iter) Index() int64 {
	return it.pos
}

// Key returns a copy of the key in the current bucket.
func (it *Iter) Key() string {
	return it.t.KeyAt(it.pos)
}
