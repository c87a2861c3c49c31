package provider

import (
	"github.com/cockroachdb/errors"
	"github.com/umalloc-go/umalloc/memutils"
)

// SliceProvider serves regions from a single byte slice reserved up front. Regions are carved from
// the front of the reservation in order, so consecutive regions are always contiguous.
type SliceProvider struct {
	granularity int
	backing     []byte
	brk         int
}

var _ PageProvider = &SliceProvider{}

// NewSliceProvider reserves limit bytes (rounded down to a whole number of pages) and serves them
// in multiples of granularity, which must be a power of two.
func NewSliceProvider(granularity int, limit int) (*SliceProvider, error) {
	err := memutils.CheckPow2(granularity, "granularity")
	if err != nil {
		return nil, err
	}

	limit = memutils.AlignDown(limit, uint(granularity))
	if limit <= 0 {
		return nil, errors.Newf("limit must hold at least one %d byte page", granularity)
	}

	return &SliceProvider{
		granularity: granularity,
		backing:     make([]byte, limit),
	}, nil
}

func (p *SliceProvider) Granularity() int { return p.granularity }

// Limit returns the total number of bytes the provider can serve
func (p *SliceProvider) Limit() int { return len(p.backing) }

// Total returns the number of bytes served so far
func (p *SliceProvider) Total() int { return p.brk }

func (p *SliceProvider) Request(minBytes int) (Region, error) {
	if minBytes <= 0 {
		return Region{}, errors.Newf("requested region size must be positive, but was %d", minBytes)
	}

	size := memutils.AlignUp(minBytes, uint(p.granularity))
	if size < minBytes || size > len(p.backing)-p.brk {
		return Region{}, errors.Wrapf(ErrExhausted, "requested %d bytes with %d of %d remaining", size, len(p.backing)-p.brk, len(p.backing))
	}

	region := Region{
		Addr: p.brk,
		Data: p.backing[p.brk : p.brk+size],
	}
	p.brk += size

	return region, nil
}
