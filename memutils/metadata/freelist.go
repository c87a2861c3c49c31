package metadata

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/header"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// Insert adds the free block at addr to the list in address order. The block must already be
// marked free and must not be in the list.
func (l *FreeList) Insert(addr int) {
	b := l.arena.bytes(addr)
	if header.IsAllocated(b) {
		panic(fmt.Sprintf("block at address %d is allocated and cannot be inserted into the free list", addr))
	}

	var index int
	switch {
	case len(l.free) == 0, addr < l.free[0]:
		index = 0
	case addr > l.free[len(l.free)-1]:
		index = len(l.free)
	default:
		var found bool
		index, found = slices.BinarySearch(l.free, addr)
		if found {
			panic(fmt.Sprintf("block at address %d is already in the free list", addr))
		}
	}

	l.insertAt(index, addr)
}

func (l *FreeList) insertAt(index int, addr int) {
	l.free = slices.Insert(l.free, index, addr)
	l.freeBytes += l.BlockSize(addr)

	prev := header.Nil
	if index > 0 {
		prev = l.free[index-1]
		header.SetNext(l.arena.bytes(prev), addr)
	}

	next := header.Nil
	if index+1 < len(l.free) {
		next = l.free[index+1]
		header.SetPrev(l.arena.bytes(next), addr)
	}

	b := l.arena.bytes(addr)
	header.SetPrev(b, prev)
	header.SetNext(b, next)
}

// removeAt drops the block at index from the list and patches its neighbors' links. Accounting
// of free bytes is left to the caller.
func (l *FreeList) removeAt(index int) {
	addr := l.free[index]
	l.free = slices.Delete(l.free, index, index+1)

	prev := header.Nil
	if index > 0 {
		prev = l.free[index-1]
	}

	next := header.Nil
	if index < len(l.free) {
		next = l.free[index]
	}

	if prev != header.Nil {
		header.SetNext(l.arena.bytes(prev), next)
	}
	if next != header.Nil {
		header.SetPrev(l.arena.bytes(next), prev)
	}

	header.ClearLinks(l.arena.bytes(addr))
}

func (l *FreeList) indexOf(addr int) int {
	index, found := slices.BinarySearch(l.free, addr)
	if !found {
		panic(fmt.Sprintf("block at address %d is not in the free list", addr))
	}
	return index
}

// Unlink removes the block at addr from the list, leaving its header detached from any neighbors
func (l *FreeList) Unlink(addr int) {
	l.removeAt(l.indexOf(addr))
	l.freeBytes -= l.BlockSize(addr)
}

// fits reports whether a free block of blockSize bytes can serve a request of size bytes. The block
// must either match exactly or leave a remainder larger than a header once the request is carved
// out of it.
func fits(blockSize int, size int) bool {
	return blockSize == size || blockSize-size > header.Size
}

// Find returns the lowest-addressed free block that can serve an allocation of size bytes,
// header included. If no such block exists, the heap is extended.
func (l *FreeList) Find(size int) (int, error) {
	for _, addr := range l.free {
		if fits(l.BlockSize(addr), size) {
			return addr, nil
		}
	}

	return l.Extend(size)
}

// Extend grows the heap by at least size bytes and returns the resulting free block at the tail of
// the list. If the new region begins where the current tail ends, the two are merged and the
// merged block is returned. The returned block can always serve a request of size bytes.
func (l *FreeList) Extend(size int) (int, error) {
	halfPage := l.granularity / 2
	if size > math.MaxInt-halfPage {
		return header.Nil, errors.Wrapf(memutils.ErrOutOfMemory, "cannot grow the heap by %d bytes", size)
	}

	request := size
	if request < halfPage {
		request = halfPage
	}
	request += halfPage

	region, err := l.requestRegion(request)
	if err != nil {
		return header.Nil, err
	}

	header.Initialize(l.arena.bytes(region.Addr), region.Size(), false)
	l.insertAt(len(l.free), region.Addr)
	addr := l.coalesceAt(len(l.free) - 1)

	l.logger.Debug("FreeList::Extend",
		slog.Int("Requested", request),
		slog.Int("RegionAddress", region.Addr),
		slog.Int("RegionSize", region.Size()),
		slog.Int("BlockAddress", addr),
		slog.Int("HeapSize", l.HeapSize()),
	)

	return addr, nil
}

// Split carves an allocated block of size bytes off the end of the free block at addr and returns
// its address. The remaining prefix stays free and keeps its place in the list.
func (l *FreeList) Split(addr int, size int) int {
	b := l.arena.bytes(addr)
	if header.IsAllocated(b) {
		panic(fmt.Sprintf("block at address %d is allocated and cannot be split", addr))
	}

	blockSize := header.BlockSize(b)
	remainder := blockSize - size
	if remainder <= header.Size {
		panic(fmt.Sprintf("splitting %d bytes from the block at address %d would leave a %d byte sliver", size, addr, remainder))
	}

	header.SetSize(b, remainder)

	carved := addr + remainder
	header.Initialize(l.arena.bytes(carved), size, true)
	l.freeBytes -= size

	return carved
}

// Coalesce merges the free block at addr with its free neighbors when they are adjacent in memory
// and returns the address of the surviving block, which is always the lowest address of the merge.
func (l *FreeList) Coalesce(addr int) int {
	return l.coalesceAt(l.indexOf(addr))
}

func (l *FreeList) coalesceAt(index int) int {
	addr := l.free[index]

	if index > 0 {
		prev := l.free[index-1]
		if prev+l.BlockSize(prev) == addr {
			l.mergeWithNext(index - 1)
			index--
			addr = prev
		}
	}

	if index+1 < len(l.free) {
		next := l.free[index+1]
		if addr+l.BlockSize(addr) == next {
			l.mergeWithNext(index)
		}
	}

	return addr
}

// mergeWithNext absorbs the block following index in the list into the block at index
func (l *FreeList) mergeWithNext(index int) {
	lower := l.free[index]
	upper := l.free[index+1]

	lowerBytes := l.arena.bytes(lower)
	header.SetSize(lowerBytes, header.BlockSize(lowerBytes)+l.BlockSize(upper))
	l.removeAt(index + 1)
}
