package heap

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/umalloc-go/umalloc/memutils/metadata"
	"github.com/umalloc-go/umalloc/memutils/provider"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateTrackAllocations records every live allocation so that Deallocate and Bytes can
	// reject pointers that were never allocated or have already been freed. Without this flag, passing
	// such a pointer is undefined behavior and will corrupt the heap.
	AllocatorCreateTrackAllocations CreateFlags = 1 << iota
	// AllocatorCreateZeroMemory zeroes the payload of every allocation before it is returned
	AllocatorCreateZeroMemory
)

var allocatorCreateFlagsMapping = map[CreateFlags]string{
	AllocatorCreateTrackAllocations: "AllocatorCreateTrackAllocations",
	AllocatorCreateZeroMemory:       "AllocatorCreateZeroMemory",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := allocatorCreateFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// InitialHeapSize is the number of bytes requested from the page provider when the allocator is
	// created. If left at 0, sixteen pages are requested.
	InitialHeapSize int
}

const (
	// defaultInitialPages is the number of pages requested from the page provider when
	// CreateOptions.InitialHeapSize is not provided
	defaultInitialPages int = 16
)

// New creates a new Allocator and obtains its initial region from pageProvider, which must have a
// power-of-two granularity of at least metadata.MinGranularity bytes. An error is returned if the
// page provider cannot supply the initial region.
//
// logger - The logger used for diagnostic output. If nil, slog.Default() is used.
//
// pageProvider - The source of all memory managed by the allocator
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, pageProvider provider.PageProvider, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if options.InitialHeapSize < 0 {
		return nil, errors.Newf("initial heap size must not be negative, but was %d", options.InitialHeapSize)
	}

	freeList, err := metadata.NewFreeList(logger, pageProvider)
	if err != nil {
		return nil, err
	}

	initialHeapSize := options.InitialHeapSize
	if initialHeapSize == 0 {
		initialHeapSize = defaultInitialPages * freeList.Granularity()
	}

	err = freeList.Init(initialHeapSize)
	if err != nil {
		logger.Error("failed to obtain the initial heap region", slog.Int("Size", initialHeapSize), slog.Any("error", err))
		return nil, err
	}

	allocator := &Allocator{
		logger:   logger,
		flags:    options.Flags,
		freeList: freeList,
	}

	if options.Flags&AllocatorCreateTrackAllocations != 0 {
		allocator.live = swiss.NewMap[Pointer, int](42)
	}

	logger.Debug("Allocator::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("Granularity", freeList.Granularity()),
		slog.Int("HeapSize", freeList.HeapSize()),
	)

	return allocator, nil
}
