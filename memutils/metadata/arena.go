package metadata

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/header"
	"github.com/umalloc-go/umalloc/memutils/provider"
	"golang.org/x/exp/slices"
)

// arena maps heap addresses onto the memory handed out by a page provider. Regions that are
// adjacent both in address and in memory are joined into a single run, so any block, including
// one that was coalesced across a region boundary, is a single contiguous byte span.
type arena struct {
	runs        []provider.Region
	runStarts   []int
	regionCount int
	totalBytes  int
}

func (a *arena) add(region provider.Region) error {
	if region.Addr < 0 || !memutils.IsAligned(region.Addr, memutils.Alignment) {
		return errors.Wrapf(memutils.ErrProviderContract, "region address %d is not aligned to %d", region.Addr, memutils.Alignment)
	}
	if region.Size() < header.Size || !memutils.IsAligned(region.Size(), memutils.Alignment) {
		return errors.Wrapf(memutils.ErrProviderContract, "region size %d at address %d is not a usable multiple of %d", region.Size(), region.Addr, memutils.Alignment)
	}

	if len(a.runs) > 0 {
		last := &a.runs[len(a.runs)-1]

		if region.Addr < last.End() {
			return errors.Wrapf(memutils.ErrProviderContract, "region at address %d overlaps memory ending at %d", region.Addr, last.End())
		}

		if region.Addr == last.End() {
			if cap(last.Data)-len(last.Data) < region.Size() {
				return errors.Wrapf(memutils.ErrProviderContract, "region at address %d is adjacent to the previous region but not contiguous in memory", region.Addr)
			}

			joined := last.Data[:len(last.Data)+region.Size()]
			if &joined[len(last.Data)] != &region.Data[0] {
				return errors.Wrapf(memutils.ErrProviderContract, "region at address %d is adjacent to the previous region but not contiguous in memory", region.Addr)
			}

			last.Data = joined
			a.regionCount++
			a.totalBytes += region.Size()
			return nil
		}
	}

	a.runs = append(a.runs, region)
	a.runStarts = append(a.runStarts, region.Addr)
	a.regionCount++
	a.totalBytes += region.Size()
	return nil
}

func (a *arena) runIndex(addr int) int {
	index, found := slices.BinarySearch(a.runStarts, addr)
	if found {
		return index
	}

	index--
	if index < 0 || addr >= a.runs[index].End() {
		return -1
	}

	return index
}

// contains returns true if the size bytes beginning at addr lie within a single run
func (a *arena) contains(addr int, size int) bool {
	index := a.runIndex(addr)
	if index < 0 || size < 0 {
		return false
	}

	return size <= a.runs[index].End()-addr
}

// bytes returns the memory from addr to the end of the run holding it
func (a *arena) bytes(addr int) []byte {
	index := a.runIndex(addr)
	if index < 0 {
		panic(fmt.Sprintf("address %d is not part of the heap", addr))
	}

	run := a.runs[index]
	return run.Data[addr-run.Addr:]
}

// span returns the size bytes beginning at addr
func (a *arena) span(addr int, size int) []byte {
	return a.bytes(addr)[:size]
}
