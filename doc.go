// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package diskmap implements a persistent multi-map backed by a single
// memory-mapped file: each string key maps to a set of string values, and
// everything — allocator metadata, bucket arrays, key bytes — lives inside
// the file and survives process restart.
//
// A diskmap file generally looks like:
//
//	┌─────────────────────┐
//	│ arena header        │  magic, version, free anchor, mapped size,
//	├─────────────────────┤  root table offset, checksum
//	│ [block record]      │  16-byte prev/next pair preceding each
//	│   payload           │  allocation: table headers, bucket arrays
//	│ [block record]      │  and interned key bytes, in the order the
//	│   payload           │  allocator handed them out
//	│        …            │
//	└─────────────────────┘
//
// Cross-references inside the file are byte offsets from the start of the
// mapping, never addresses: any insert may extend the file and relocate
// the mapping, which invalidates raw pointers but not offsets.
//
// The multi-map is two layers of the same Robin-Hood hash table: an outer
// table whose per-bucket value is the offset of a nested table, and one
// nested, value-less table per key acting as the set of its values.  Keys
// and values can be inserted but not removed.
//
// The file format is little-endian and tied to one machine; it is not
// specified as portable across architectures.  A single process at a time
// may have a file open; there is no locking and no defense against
// concurrent writers.
package diskmap
