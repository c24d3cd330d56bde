// Copyright 2025 The diskmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mem manages a single memory-mapped file and carves it into
// variable-sized allocations.
//
// Every reference into the file is a byte offset measured from the start
// of the mapping.  The mapping itself relocates whenever the file grows,
// so raw slices obtained from an Arena are only valid until the next call
// that may allocate; offsets stay valid forever.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dgryski/go-farm"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	arenaMagic   = 0xD15CAB0D
	arenaVersion = 1

	// header layout: all fields little-endian, checksum covers [0, offChecksum).
	offMagic      = 0
	offVersion    = 4
	offNextFree   = 8
	offMappedSize = 16
	offRoot       = 24
	offChecksum   = 32

	headerSize = 40

	// smallest mapping that holds the header and the two sentinel blocks
	// with room left over for a first allocation
	minInitialSize = 128
)

var (
	ErrCorrupt = errors.New("not a diskmap file, or corrupted")
)

// Arena owns the file descriptor and the mapping for one diskmap file.
//
// The allocator header lives in the first bytes of the mapping; everything
// the Arena knows about the file it re-reads from there, so a file survives
// process restart with no sidecar state.
type Arena struct {
	f     *os.File
	data  []byte
	log   *zap.Logger
	grows int
}

// Open opens or creates the diskmap file at path.  A fresh file is sized to
// initialBytes and gets its allocator header and sentinel blocks written; an
// existing file is validated and mapped at its recorded size, ignoring
// initialBytes.
func Open(path string, initialBytes uint64, log *zap.Logger) (*Arena, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if initialBytes < minInitialSize {
		initialBytes = minInitialSize
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("f.Stat: %w", err)
	}

	a := &Arena{f: f, log: log}
	if st.Size() == 0 {
		if err := a.create(initialBytes); err != nil {
			_ = f.Close()
			return nil, err
		}
		return a, nil
	}
	if err := a.openExisting(st.Size()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return a, nil
}

func (a *Arena) create(size uint64) error {
	// the file is kept one byte longer than the mapping, like the tail
	// byte the original lseek+write dance left behind
	if err := unix.Ftruncate(int(a.f.Fd()), int64(size)+1); err != nil {
		return fmt.Errorf("unix.Ftruncate: %w", err)
	}
	if err := a.mapFile(size); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(a.data[offMagic:], arenaMagic)
	binary.LittleEndian.PutUint32(a.data[offVersion:], arenaVersion)
	binary.LittleEndian.PutUint64(a.data[offMappedSize:], size)
	binary.LittleEndian.PutUint64(a.data[offRoot:], 0)
	a.initBlocks()
	a.reseal()
	return nil
}

func (a *Arena) openExisting(fileSize int64) error {
	var hdr [headerSize]byte
	if _, err := a.f.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("short header (%d bytes): %w", fileSize, ErrCorrupt)
	}
	if m := binary.LittleEndian.Uint32(hdr[offMagic:]); m != arenaMagic {
		return fmt.Errorf("bad magic %#x: %w", m, ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(hdr[offVersion:]); v != arenaVersion {
		return fmt.Errorf("unsupported version %d: %w", v, ErrCorrupt)
	}
	if sum := farm.Hash64(hdr[:offChecksum]); sum != binary.LittleEndian.Uint64(hdr[offChecksum:]) {
		return fmt.Errorf("header checksum mismatch: %w", ErrCorrupt)
	}
	size := binary.LittleEndian.Uint64(hdr[offMappedSize:])
	if size < headerSize || int64(size) > fileSize {
		return fmt.Errorf("mapped size %d out of range for %d-byte file: %w", size, fileSize, ErrCorrupt)
	}
	return a.mapFile(size)
}

func (a *Arena) mapFile(size uint64) error {
	data, err := unix.Mmap(int(a.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("unix.Mmap: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return fmt.Errorf("unix.Madvise: %w", err)
	}
	a.data = data
	return nil
}

// grow extends the file to newSize bytes and re-maps it.  The base address
// of the mapping may change; offsets handed out earlier stay valid.
func (a *Arena) grow(newSize uint64) error {
	old := a.MappedSize()
	a.log.Debug("growing mapping",
		zap.Uint64("from", old),
		zap.Uint64("to", newSize))

	if err := a.Sync(); err != nil {
		return err
	}
	if err := unix.Munmap(a.data); err != nil {
		a.data = nil
		return fmt.Errorf("unix.Munmap: %w", err)
	}
	a.data = nil
	if err := unix.Ftruncate(int(a.f.Fd()), int64(newSize)+1); err != nil {
		return fmt.Errorf("unix.Ftruncate: %w", err)
	}
	if err := a.mapFile(newSize); err != nil {
		return err
	}
	a.setMappedSize(newSize)
	a.grows++
	return nil
}

// Bytes returns the live mapping.  The slice is invalidated by any call
// that may allocate; re-fetch it after every such call.
func (a *Arena) Bytes() []byte {
	return a.data
}

// MappedSize reports the number of bytes currently mapped, as recorded in
// the on-disk header.
func (a *Arena) MappedSize() uint64 {
	return binary.LittleEndian.Uint64(a.data[offMappedSize:])
}

// Root returns the offset of the application's top-level structure, or 0 if
// none has been recorded yet.
func (a *Arena) Root() uint64 {
	return binary.LittleEndian.Uint64(a.data[offRoot:])
}

// SetRoot records the offset of the application's top-level structure.
func (a *Arena) SetRoot(off uint64) {
	binary.LittleEndian.PutUint64(a.data[offRoot:], off)
	a.reseal()
}

// Grows reports how many times this handle has extended the mapping.
func (a *Arena) Grows() int {
	return a.grows
}

// Sync flushes dirty pages to the file.
func (a *Arena) Sync() error {
	if err := unix.Msync(a.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("unix.Msync: %w", err)
	}
	return nil
}

// Close flushes, unmaps and closes the file.  It is a no-op on a handle
// that is already closed.
func (a *Arena) Close() error {
	if a.data == nil {
		return nil
	}
	if err := a.Sync(); err != nil {
		return err
	}
	return a.Abandon()
}

// Abandon unmaps and closes the file without flushing.
func (a *Arena) Abandon() error {
	if a.data == nil {
		return nil
	}
	err := unix.Munmap(a.data)
	a.data = nil
	if cerr := a.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (a *Arena) nextFree() uint64 {
	return binary.LittleEndian.Uint64(a.data[offNextFree:])
}

func (a *Arena) setNextFree(off uint64) {
	binary.LittleEndian.PutUint64(a.data[offNextFree:], off)
	a.reseal()
}

func (a *Arena) setMappedSize(size uint64) {
	binary.LittleEndian.PutUint64(a.data[offMappedSize:], size)
	a.reseal()
}

// reseal recomputes the header checksum.  Called after every header field
// mutation so the on-disk header is consistent at all times.
func (a *Arena) reseal() {
	sum := farm.Hash64(a.data[:offChecksum])
	binary.LittleEndian.PutUint64(a.data[offChecksum:], sum)
}
