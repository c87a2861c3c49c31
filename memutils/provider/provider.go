// Package provider supplies raw memory to a heap.
//
// A PageProvider behaves like a program break: every Request hands back a fresh Region whose
// address is strictly higher than any region returned before it. Addresses are offsets into the
// provider's own address space rather than machine pointers, so a heap can be built over any
// byte-addressable backing store.
package provider

import (
	"github.com/pkg/errors"
)

// ErrExhausted is returned from Request when the provider cannot supply any more memory
var ErrExhausted = errors.New("page provider is exhausted")

// Region is a span of memory returned from a PageProvider
type Region struct {
	// Addr is the address of the first byte of the region
	Addr int
	// Data is the memory backing the region. Its length is the size of the region.
	Data []byte
}

// Size returns the number of bytes in the region
func (r Region) Size() int { return len(r.Data) }

// End returns the address one past the last byte of the region
func (r Region) End() int { return r.Addr + len(r.Data) }

// PageProvider hands out ever-growing, non-overlapping regions of raw memory.
//
// Implementations must satisfy the following:
//   - Regions are returned at strictly increasing addresses and never overlap.
//   - Every region's address and size are multiples of Granularity.
//   - The region is at least as large as the requested minimum.
//   - If a region begins exactly where the previous region ended, its Data must begin exactly where
//     the previous region's Data ended in memory, so that the two can be addressed as one span.
//
// When no more memory is available, Request returns an error matching ErrExhausted and the
// provider's state is left unchanged.
type PageProvider interface {
	// Granularity is the size in bytes of the provider's pages. It is always a power of two.
	Granularity() int
	// Request returns a new region of at least minBytes bytes
	Request(minBytes int) (Region, error)
}
