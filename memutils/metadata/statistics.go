package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/header"
	"github.com/umalloc-go/umalloc/memutils/provider"
	"golang.org/x/exp/slog"
)

// VisitAllBlocks walks every block in the heap, free and allocated, in ascending address order and
// calls handleBlock for each. It returns a CorruptionError if the block sizes do not exactly tile
// the memory obtained from the page provider. This visits every block in the heap and should
// generally be used for diagnostics only.
func (l *FreeList) VisitAllBlocks(handleBlock func(addr int, size int, free bool) error) error {
	for _, run := range l.arena.runs {
		err := visitRun(run, handleBlock)
		if err != nil {
			return err
		}
	}

	return nil
}

func visitRun(run provider.Region, handleBlock func(addr int, size int, free bool) error) error {
	addr := run.Addr
	for addr < run.End() {
		if run.End()-addr < header.Size {
			return NewCorruptionError(ViolationGap, addr, "%d bytes remain before the end of the region, too few for a header", run.End()-addr)
		}

		b := run.Data[addr-run.Addr:]
		size := header.BlockSize(b)
		if size < header.Size || !memutils.IsAligned(size, memutils.Alignment) {
			return NewCorruptionError(ViolationMisaligned, addr, "block size %d is not a valid block size", size)
		}
		if size > run.End()-addr {
			return NewCorruptionError(ViolationGap, addr, "block of %d bytes runs past the end of the region at %d", size, run.End())
		}

		err := handleBlock(addr, size, !header.IsAllocated(b))
		if err != nil {
			return err
		}

		addr += size
	}

	return nil
}

// AddDetailedStatistics sums this heap's block statistics into the statistics currently present
// in the provided memutils.DetailedStatistics object. Each contiguous run of memory is measured on
// its own and then folded in.
func (l *FreeList) AddDetailedStatistics(stats *memutils.DetailedStatistics) error {
	var runStats memutils.DetailedStatistics

	for _, run := range l.arena.runs {
		runStats.Clear()
		runStats.HeapBytes = run.Size()

		err := visitRun(run, func(addr int, size int, free bool) error {
			if free {
				runStats.AddFreeBlock(size)
			} else {
				runStats.AddAllocation(size)
			}
			return nil
		})
		if err != nil {
			return err
		}

		stats.AddDetailedStatistics(&runStats)
	}

	stats.RegionCount += l.RegionCount()
	return nil
}

// PrintDetailedMap writes every block in the heap to a "Blocks" array on the provided json object
func (l *FreeList) PrintDetailedMap(json *jwriter.ObjectState) error {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	return l.VisitAllBlocks(func(addr int, size int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Address").Int(addr)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("ALLOCATED")
			obj.Name("Payload").Int(header.PayloadOf(addr))
		}

		return nil
	})
}

// DebugLogAllAllocations calls logFunc once for every allocated block in the heap
func (l *FreeList) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, addr int, size int)) {
	_ = l.VisitAllBlocks(func(addr int, size int, free bool) error {
		if !free {
			logFunc(logger, addr, size)
		}
		return nil
	})
}
