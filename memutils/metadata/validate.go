package metadata

import (
	"fmt"

	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/header"
)

// Violation identifies which heap invariant a CorruptionError reports
type Violation uint32

const (
	// ViolationNotFree indicates that a block reachable from the free list is marked allocated
	ViolationNotFree Violation = iota
	// ViolationMisaligned indicates that a block's size is not a multiple of memutils.Alignment
	ViolationMisaligned
	// ViolationNotAscending indicates that the free list is not in strictly ascending address order
	ViolationNotAscending
	// ViolationUncoalesced indicates that two free blocks are adjacent in memory but were not merged
	ViolationUncoalesced
	// ViolationBrokenLink indicates that the links stored in free block headers disagree with the
	// free list's index
	ViolationBrokenLink
	// ViolationGap indicates that the blocks of the heap do not exactly tile the memory obtained
	// from the page provider
	ViolationGap
	// ViolationAccounting indicates that a running total disagrees with the blocks in the heap
	ViolationAccounting
)

var violationMapping = map[Violation]string{
	ViolationNotFree:      "NotFree",
	ViolationMisaligned:   "Misaligned",
	ViolationNotAscending: "NotAscending",
	ViolationUncoalesced:  "Uncoalesced",
	ViolationBrokenLink:   "BrokenLink",
	ViolationGap:          "Gap",
	ViolationAccounting:   "Accounting",
}

func (v Violation) String() string {
	return violationMapping[v]
}

// CorruptionError is returned from heap validation. It matches memutils.ErrCorruptionDetected.
type CorruptionError struct {
	Violation Violation
	// Address is the address of the offending block, or header.Nil when no single block is at fault
	Address int
	Detail  string
}

func (e *CorruptionError) Error() string {
	if e.Address == header.Nil {
		return fmt.Sprintf("%s: %s: %s", memutils.ErrCorruptionDetected, e.Violation, e.Detail)
	}
	return fmt.Sprintf("%s: %s at address %d: %s", memutils.ErrCorruptionDetected, e.Violation, e.Address, e.Detail)
}

func (e *CorruptionError) Unwrap() error {
	return memutils.ErrCorruptionDetected
}

// NewCorruptionError creates a CorruptionError with a formatted detail message
func NewCorruptionError(violation Violation, addr int, format string, args ...any) *CorruptionError {
	return &CorruptionError{
		Violation: violation,
		Address:   addr,
		Detail:    fmt.Sprintf(format, args...),
	}
}

// walkChain follows the next links stored in free block headers, starting from the head of the
// list, and calls visit for every block. It stops with an error if a link leaves the heap, or if
// the chain is longer than the list (which would indicate a cycle).
func (l *FreeList) walkChain(visit func(addr int, b []byte) error) error {
	steps := 0
	for addr := l.Head(); addr != header.Nil; {
		if steps >= len(l.free) {
			return NewCorruptionError(ViolationBrokenLink, addr, "free chain is longer than the %d blocks in the free list", len(l.free))
		}
		if !memutils.IsAligned(addr, memutils.Alignment) || !l.arena.contains(addr, header.Size) {
			return NewCorruptionError(ViolationBrokenLink, addr, "free chain points outside the heap")
		}

		b := l.arena.bytes(addr)
		err := visit(addr, b)
		if err != nil {
			return err
		}

		addr = header.Next(b)
		steps++
	}

	return nil
}

// CheckFree verifies that every block in the free chain is marked free
func (l *FreeList) CheckFree() error {
	return l.walkChain(func(addr int, b []byte) error {
		if header.IsAllocated(b) {
			return NewCorruptionError(ViolationNotFree, addr, "block is in the free list but is marked allocated")
		}
		return nil
	})
}

// CheckAlignment verifies that every block in the free chain has a size that is a multiple of
// memutils.Alignment and can hold its own header
func (l *FreeList) CheckAlignment() error {
	return l.walkChain(func(addr int, b []byte) error {
		size := header.BlockSize(b)
		if !memutils.IsAligned(size, memutils.Alignment) {
			return NewCorruptionError(ViolationMisaligned, addr, "block size %d is not a multiple of %d", size, memutils.Alignment)
		}
		if size < header.Size {
			return NewCorruptionError(ViolationMisaligned, addr, "block size %d cannot hold a header", size)
		}
		return nil
	})
}

// CheckAscending verifies that the free chain is in strictly ascending address order
func (l *FreeList) CheckAscending() error {
	prev := header.Nil
	return l.walkChain(func(addr int, b []byte) error {
		if prev != header.Nil && addr <= prev {
			return NewCorruptionError(ViolationNotAscending, addr, "block follows the block at address %d in the free list", prev)
		}
		prev = addr
		return nil
	})
}

// CheckCoalesced verifies that no block in the free chain ends where its successor begins
func (l *FreeList) CheckCoalesced() error {
	return l.walkChain(func(addr int, b []byte) error {
		next := header.Next(b)
		if next != header.Nil && addr+header.BlockSize(b) == next {
			return NewCorruptionError(ViolationUncoalesced, addr, "block is adjacent to the free block at address %d", next)
		}
		return nil
	})
}

// CheckLinks verifies that the links stored in free block headers describe exactly the blocks in
// the free list's index, in the same order, and that the free byte total matches them
func (l *FreeList) CheckLinks() error {
	index := 0
	prev := header.Nil
	freeBytes := 0

	err := l.walkChain(func(addr int, b []byte) error {
		if index >= len(l.free) || l.free[index] != addr {
			return NewCorruptionError(ViolationBrokenLink, addr, "free chain position %d does not match the free list index", index)
		}
		if header.Prev(b) != prev {
			return NewCorruptionError(ViolationBrokenLink, addr, "block lists %d as its previous block, but the previous block is %d", header.Prev(b), prev)
		}

		freeBytes += header.BlockSize(b)
		prev = addr
		index++
		return nil
	})
	if err != nil {
		return err
	}

	if index != len(l.free) {
		return NewCorruptionError(ViolationBrokenLink, l.Tail(), "free chain ended after %d blocks, but the free list holds %d", index, len(l.free))
	}
	if freeBytes != l.freeBytes {
		return NewCorruptionError(ViolationAccounting, header.Nil, "free list reports %d free bytes, but its blocks add up to %d", l.freeBytes, freeBytes)
	}

	return nil
}

// CheckTiling walks every block in the heap by size and verifies that the blocks exactly cover
// the memory obtained from the page provider, and that the blocks marked free are exactly the
// blocks in the free list
func (l *FreeList) CheckTiling() error {
	index := 0
	err := l.VisitAllBlocks(func(addr int, size int, free bool) error {
		inList := index < len(l.free) && l.free[index] == addr
		if free != inList {
			if free {
				return NewCorruptionError(ViolationBrokenLink, addr, "block is marked free but is not in the free list")
			}
			return NewCorruptionError(ViolationNotFree, addr, "block is in the free list but is marked allocated")
		}
		if inList {
			index++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if index != len(l.free) {
		return NewCorruptionError(ViolationGap, l.free[index], "free list holds a block that does not begin at a block boundary")
	}

	return nil
}

// Validate runs every consistency check against the heap and returns the first violation found
func (l *FreeList) Validate() error {
	checks := []func() error{
		l.CheckFree,
		l.CheckAlignment,
		l.CheckAscending,
		l.CheckCoalesced,
		l.CheckLinks,
		l.CheckTiling,
	}

	for _, check := range checks {
		err := check()
		if err != nil {
			return err
		}
	}

	return nil
}
