package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// ErrInvalidArgument is returned when an allocation is requested with a non-positive size
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfMemory is returned when the page provider cannot supply the memory needed to satisfy
	// an allocation. The heap remains consistent and the caller may retry after freeing memory.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrCorruptionDetected is matched by every error returned from heap validation. Once it has been
	// returned, the heap should no longer be trusted.
	ErrCorruptionDetected = errors.New("heap corruption detected")
	// ErrInvalidPointer is returned when allocation tracking is enabled and a pointer that is not a live
	// allocation is passed to the allocator
	ErrInvalidPointer = errors.New("pointer is not a live allocation")
	// ErrProviderContract is returned when a page provider hands back a region that overlaps earlier
	// memory, is misaligned, or cannot be joined to an address-adjacent region
	ErrProviderContract = errors.New("page provider returned an invalid region")
)
