//go:build unix

package provider

import (
	"github.com/cockroachdb/errors"
	"github.com/umalloc-go/umalloc/memutils"
	"golang.org/x/sys/unix"
)

// MmapProvider serves regions from an anonymous private mapping reserved up front. The operating
// system only commits pages once they are touched, so a generous limit costs address space rather
// than memory. Close must be called to release the mapping, after which no region returned from
// the provider may be used.
type MmapProvider struct {
	granularity int
	mapping     []byte
	brk         int
}

var _ PageProvider = &MmapProvider{}

// NewMmapProvider maps limit bytes, rounded up to a whole number of system pages. Regions are served
// in multiples of the system page size.
func NewMmapProvider(limit int) (*MmapProvider, error) {
	granularity := unix.Getpagesize()
	memutils.DebugCheckPow2(granularity, "page size")

	limit = memutils.AlignUp(limit, uint(granularity))
	if limit <= 0 {
		return nil, errors.Newf("limit must hold at least one %d byte page", granularity)
	}

	mapping, err := unix.Mmap(-1, 0, limit, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes", limit)
	}

	return &MmapProvider{
		granularity: granularity,
		mapping:     mapping,
	}, nil
}

func (p *MmapProvider) Granularity() int { return p.granularity }

// Total returns the number of bytes served so far
func (p *MmapProvider) Total() int { return p.brk }

func (p *MmapProvider) Request(minBytes int) (Region, error) {
	if p.mapping == nil {
		return Region{}, errors.New("provider has been closed")
	}
	if minBytes <= 0 {
		return Region{}, errors.Newf("requested region size must be positive, but was %d", minBytes)
	}

	size := memutils.AlignUp(minBytes, uint(p.granularity))
	if size < minBytes || size > len(p.mapping)-p.brk {
		return Region{}, errors.Wrapf(ErrExhausted, "requested %d bytes with %d of %d remaining", size, len(p.mapping)-p.brk, len(p.mapping))
	}

	region := Region{
		Addr: p.brk,
		Data: p.mapping[p.brk : p.brk+size],
	}
	p.brk += size

	return region, nil
}

// Close unmaps the reservation
func (p *MmapProvider) Close() error {
	if p.mapping == nil {
		return nil
	}

	err := unix.Munmap(p.mapping)
	p.mapping = nil
	p.brk = 0
	if err != nil {
		return errors.Wrap(err, "failed to unmap page provider memory")
	}

	return nil
}
