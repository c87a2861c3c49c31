// Package heap provides a general-purpose allocator over memory obtained from a
// provider.PageProvider.
//
// Allocations are carved from an address-ordered list of free blocks with a first-fit policy and
// merged back into their neighbors as soon as they are released. When no free block is large
// enough, the heap grows by requesting more memory from the page provider. An Allocator is not
// safe for concurrent use.
package heap

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/header"
	"github.com/umalloc-go/umalloc/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Pointer is the address of an allocation's payload within the heap
type Pointer int

// Null is never returned by a successful allocation. Passing it to Deallocate has no effect.
const Null Pointer = 0

// maxAllocationSize is the largest size Allocate will attempt to satisfy before the size
// computation itself would overflow
const maxAllocationSize = math.MaxInt - header.Size - int(memutils.Alignment)

// Allocator hands out variable-sized allocations from a heap that grows on demand
type Allocator struct {
	logger   *slog.Logger
	flags    CreateFlags
	freeList *metadata.FreeList

	allocationCount int
	allocationBytes int

	// live maps the payload of every allocation to its block size. Only present when
	// AllocatorCreateTrackAllocations is set.
	live *swiss.Map[Pointer, int]
}

// Allocate returns a pointer to a payload of at least size bytes, aligned to memutils.Alignment.
// An error matching memutils.ErrInvalidArgument is returned if size is not positive, and one
// matching memutils.ErrOutOfMemory is returned if the page provider cannot supply the memory
// needed. The heap is left unchanged when an error is returned.
func (a *Allocator) Allocate(size int) (Pointer, error) {
	if size <= 0 {
		return Null, errors.Wrapf(memutils.ErrInvalidArgument, "allocation size must be positive, but was %d", size)
	}
	if size > maxAllocationSize {
		return Null, errors.Wrapf(memutils.ErrOutOfMemory, "allocation size %d is too large", size)
	}

	requested := memutils.AlignUp(size+header.Size, memutils.Alignment)

	addr, err := a.freeList.Find(requested)
	if err != nil {
		a.logger.Warn("failed to allocate", slog.Int("Size", size), slog.Int("HeapSize", a.freeList.HeapSize()), slog.Any("error", err))
		return Null, err
	}

	if a.freeList.BlockSize(addr) > requested {
		addr = a.freeList.Split(addr, requested)
	} else {
		a.freeList.Unlink(addr)
		a.freeList.MarkAllocated(addr)
	}

	blockSize := a.freeList.BlockSize(addr)
	a.allocationCount++
	a.allocationBytes += blockSize

	p := Pointer(header.PayloadOf(addr))
	if a.live != nil {
		a.live.Put(p, blockSize)
	}

	if a.flags&AllocatorCreateZeroMemory != 0 {
		payload := a.freeList.Payload(addr)
		for i := range payload {
			payload[i] = 0
		}
	}

	memutils.DebugValidate(a.freeList)
	return p, nil
}

// Deallocate returns the allocation at p to the heap. Deallocating Null has no effect.
//
// Unless the allocator was created with AllocatorCreateTrackAllocations, p must have been returned
// by Allocate and not yet deallocated; anything else corrupts the heap. With tracking enabled, an
// error matching memutils.ErrInvalidPointer is returned instead and the heap is left unchanged.
func (a *Allocator) Deallocate(p Pointer) error {
	if p == Null {
		return nil
	}

	if a.live != nil {
		_, ok := a.live.Get(p)
		if !ok {
			return errors.Wrapf(memutils.ErrInvalidPointer, "attempted to deallocate %d", p)
		}
		a.live.Delete(p)
	}

	addr := header.HeaderOf(int(p))
	blockSize := a.freeList.BlockSize(addr)

	memutils.PoisonFreed(a.freeList.Payload(addr))
	a.freeList.MarkFree(addr)
	a.freeList.Insert(addr)
	a.freeList.Coalesce(addr)

	a.allocationCount--
	a.allocationBytes -= blockSize

	memutils.DebugValidate(a.freeList)
	return nil
}

// Bytes returns the payload of the allocation at p. The slice is valid until p is deallocated and
// may be longer than the size originally requested from Allocate.
func (a *Allocator) Bytes(p Pointer) ([]byte, error) {
	if p == Null {
		return nil, errors.Wrap(memutils.ErrInvalidPointer, "attempted to access the null pointer")
	}

	if a.live != nil {
		_, ok := a.live.Get(p)
		if !ok {
			return nil, errors.Wrapf(memutils.ErrInvalidPointer, "attempted to access %d", p)
		}
	}

	return a.freeList.Payload(header.HeaderOf(int(p))), nil
}

// Check verifies the consistency of the heap. It returns nil if the heap is sound, or a
// *metadata.CorruptionError describing the first violation found. Check does not modify the heap
// and should generally be used for diagnostics only, since it visits every block.
func (a *Allocator) Check() error {
	err := a.freeList.Validate()
	if err != nil {
		return err
	}

	count := 0
	bytes := 0
	err = a.freeList.VisitAllBlocks(func(addr int, size int, free bool) error {
		if free {
			return nil
		}

		count++
		bytes += size

		if a.live != nil {
			tracked, ok := a.live.Get(Pointer(header.PayloadOf(addr)))
			if !ok {
				return metadata.NewCorruptionError(metadata.ViolationAccounting, addr, "allocated block is not a tracked allocation")
			}
			if tracked != size {
				return metadata.NewCorruptionError(metadata.ViolationAccounting, addr, "allocated block has size %d but was tracked with size %d", size, tracked)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	if count != a.allocationCount {
		return metadata.NewCorruptionError(metadata.ViolationAccounting, header.Nil, "heap holds %d allocated blocks but %d allocations are live", count, a.allocationCount)
	}
	if bytes != a.allocationBytes {
		return metadata.NewCorruptionError(metadata.ViolationAccounting, header.Nil, "allocated blocks hold %d bytes but live allocations account for %d", bytes, a.allocationBytes)
	}
	if a.live != nil && a.live.Count() != count {
		return metadata.NewCorruptionError(metadata.ViolationAccounting, header.Nil, "%d allocations are tracked but the heap holds %d", a.live.Count(), count)
	}

	return nil
}

// Statistics retrieves summary information about the heap by visiting every block in it
func (a *Allocator) Statistics() (memutils.DetailedStatistics, error) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	err := a.freeList.AddDetailedStatistics(&stats)
	return stats, err
}

// BuildStatsString produces a JSON report of the heap. If detailedMap is true, every block in the
// heap is listed in address order.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	stats, err := a.Statistics()
	if err != nil {
		obj.Name("Error").String(err.Error())
	}

	totalObj := obj.Name("Total").Object()
	totalObj.Name("RegionCount").Int(stats.RegionCount)
	totalObj.Name("AllocationCount").Int(stats.AllocationCount)
	totalObj.Name("FreeBlockCount").Int(stats.FreeBlockCount)
	totalObj.Name("HeapBytes").Int(stats.HeapBytes)
	totalObj.Name("AllocationBytes").Int(stats.AllocationBytes)
	if stats.AllocationCount > 0 {
		totalObj.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		totalObj.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.FreeBlockCount > 0 {
		totalObj.Name("FreeBlockSizeMin").Int(stats.FreeBlockSizeMin)
		totalObj.Name("FreeBlockSizeMax").Int(stats.FreeBlockSizeMax)
	}
	totalObj.End()

	if detailedMap {
		heapObj := obj.Name("Heap").Object()
		a.freeList.BlockJsonData(&heapObj)
		err = a.freeList.PrintDetailedMap(&heapObj)
		if err != nil {
			heapObj.Name("Error").String(err.Error())
		}
		heapObj.End()
	}

	obj.End()
	return string(writer.Bytes())
}

// DebugLogAllAllocations logs every live allocation at the debug level
func (a *Allocator) DebugLogAllAllocations() {
	a.freeList.DebugLogAllAllocations(a.logger, func(log *slog.Logger, addr int, size int) {
		log.Debug("live allocation",
			slog.Int("Pointer", header.PayloadOf(addr)),
			slog.Int("BlockSize", size),
			slog.Int("PayloadSize", size-header.Size),
		)
	})
}
