// Package metadata manages the blocks of a heap built on top of a provider.PageProvider.
//
// Every byte obtained from the provider belongs to exactly one block, and every block begins with
// a header (see the header package). Free blocks are tracked by a FreeList, which keeps them in
// ascending address order, carves allocations out of them, merges them back together when they
// are released, and grows the heap when no free block is large enough.
//
// A FreeList is not safe for concurrent use.
package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/header"
	"github.com/umalloc-go/umalloc/memutils/provider"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const (
	// MinGranularity is the smallest page provider granularity a FreeList accepts. Growth always
	// requests at least half a page more than needed, and half a page must exceed a header so that
	// a freshly extended block never leaves a sliver when it is split.
	MinGranularity = 4 * header.Size
)

// FreeList tracks the free blocks of a heap in ascending address order.
//
// The list is indexed by a sorted slice of block addresses, which is the source of truth for list
// order. The prev and next words of every free block's header mirror that order so that the chain
// can be walked in memory, and Validate cross-checks the two.
type FreeList struct {
	logger      *slog.Logger
	provider    provider.PageProvider
	granularity int

	arena     arena
	free      []int
	freeBytes int
}

var _ memutils.Validatable = &FreeList{}

// NewFreeList creates a FreeList that obtains memory from pageProvider. The provider's granularity
// must be a power of two no smaller than MinGranularity. Init must be called before the list is used.
func NewFreeList(logger *slog.Logger, pageProvider provider.PageProvider) (*FreeList, error) {
	if pageProvider == nil {
		return nil, errors.New("attempted to create a free list with a nil page provider")
	}
	if logger == nil {
		logger = slog.Default()
	}

	granularity := pageProvider.Granularity()
	err := memutils.CheckPow2(granularity, "page provider granularity")
	if err != nil {
		return nil, err
	}
	if granularity < MinGranularity {
		return nil, errors.Newf("page provider granularity %d is smaller than the minimum of %d", granularity, MinGranularity)
	}

	return &FreeList{
		logger:      logger,
		provider:    pageProvider,
		granularity: granularity,
	}, nil
}

// Init obtains the heap's first region, of at least size bytes, and makes it a single free block
func (l *FreeList) Init(size int) error {
	if l.arena.regionCount > 0 {
		return errors.New("free list has already been initialized")
	}
	if size <= 0 {
		return errors.Newf("initial heap size must be positive, but was %d", size)
	}

	region, err := l.requestRegion(size)
	if err != nil {
		return err
	}

	header.Initialize(l.arena.bytes(region.Addr), region.Size(), false)
	l.insertAt(0, region.Addr)

	l.logger.Debug("FreeList::Init", slog.Int("Address", region.Addr), slog.Int("Size", region.Size()))
	return nil
}

func (l *FreeList) requestRegion(size int) (provider.Region, error) {
	region, err := l.provider.Request(size)
	if err != nil {
		return provider.Region{}, errors.Mark(errors.Wrapf(err, "page provider could not supply %d bytes", size), memutils.ErrOutOfMemory)
	}
	if region.Size() < size {
		return provider.Region{}, errors.Wrapf(memutils.ErrProviderContract, "requested %d bytes but received %d", size, region.Size())
	}

	err = l.arena.add(region)
	if err != nil {
		return provider.Region{}, err
	}

	return region, nil
}

// Granularity returns the page size of the underlying page provider
func (l *FreeList) Granularity() int { return l.granularity }

// HeapSize returns the total number of bytes obtained from the page provider
func (l *FreeList) HeapSize() int { return l.arena.totalBytes }

// RegionCount returns the number of regions obtained from the page provider
func (l *FreeList) RegionCount() int { return l.arena.regionCount }

// SumFreeSize returns the number of bytes held by free blocks, headers included
func (l *FreeList) SumFreeSize() int { return l.freeBytes }

// Len returns the number of free blocks
func (l *FreeList) Len() int { return len(l.free) }

// Head returns the address of the lowest free block, or header.Nil if there are none
func (l *FreeList) Head() int {
	if len(l.free) == 0 {
		return header.Nil
	}
	return l.free[0]
}

// Tail returns the address of the highest free block, or header.Nil if there are none
func (l *FreeList) Tail() int {
	if len(l.free) == 0 {
		return header.Nil
	}
	return l.free[len(l.free)-1]
}

// FreeBlocks returns the addresses of all free blocks in ascending order
func (l *FreeList) FreeBlocks() []int {
	return slices.Clone(l.free)
}

// BlockSize returns the size of the block at addr, header included
func (l *FreeList) BlockSize(addr int) int {
	return header.BlockSize(l.arena.bytes(addr))
}

func (l *FreeList) IsAllocated(addr int) bool {
	return header.IsAllocated(l.arena.bytes(addr))
}

func (l *FreeList) MarkAllocated(addr int) {
	header.MarkAllocated(l.arena.bytes(addr))
}

func (l *FreeList) MarkFree(addr int) {
	header.MarkFree(l.arena.bytes(addr))
}

// Payload returns the caller-owned bytes of the block at addr
func (l *FreeList) Payload(addr int) []byte {
	size := l.BlockSize(addr)
	return l.arena.span(header.PayloadOf(addr), size-header.Size)
}

// BlockJsonData populates a json object with summary information about the heap
func (l *FreeList) BlockJsonData(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(l.HeapSize())
	json.Name("UnusedBytes").Int(l.SumFreeSize())
	json.Name("Regions").Int(l.RegionCount())
	json.Name("FreeBlocks").Int(l.Len())
	json.Name("Granularity").Int(l.Granularity())
}
