// Package header encodes the fixed-shape record that precedes every block in the heap.
//
// A header occupies the first Size bytes of its block and is laid out as four little-endian
// 64-bit words:
//
//	word 0: block size | allocated bit
//	word 1: padding (keeps the header a multiple of memutils.Alignment)
//	word 2: address of the previous free block, or Nil
//	word 3: address of the next free block, or Nil
//
// Sizes are always multiples of memutils.Alignment, which leaves the low bits of word 0 free for
// flags. The link words are only meaningful while the block is free. The packed word never leaves
// this package: callers work with a size and a flag.
package header

import (
	"encoding/binary"
	"fmt"

	"github.com/umalloc-go/umalloc/memutils"
)

const (
	// Size is the number of bytes occupied by a block header. The payload begins immediately after it.
	Size = 32
	// Nil is the link value used for a missing neighbor
	Nil = -1

	sizeOffset    = 0
	paddingOffset = 8
	prevOffset    = 16
	nextOffset    = 24

	allocatedBit uint64 = 0x1
)

// Header is the unpacked form of a block header
type Header struct {
	Size      int
	Allocated bool
	Prev      int
	Next      int
}

// Pack combines a size and an allocation flag into a single header word
func Pack(size int, allocated bool) uint64 {
	word := uint64(size)
	if allocated {
		word |= allocatedBit
	}
	return word
}

// Unpack splits a header word into its size and allocation flag. Only the allocated bit is masked
// off, so a corrupted size with other low bits set stays visible to validation.
func Unpack(word uint64) (int, bool) {
	return int(word &^ allocatedBit), word&allocatedBit != 0
}

func word(b []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(b[offset : offset+8])
}

func putWord(b []byte, offset int, value uint64) {
	binary.LittleEndian.PutUint64(b[offset:offset+8], value)
}

func link(b []byte, offset int) int {
	return int(int64(word(b, offset)))
}

func putLink(b []byte, offset int, addr int) {
	putWord(b, offset, uint64(int64(addr)))
}

// Read decodes the header at the start of b
func Read(b []byte) Header {
	size, allocated := Unpack(word(b, sizeOffset))
	return Header{
		Size:      size,
		Allocated: allocated,
		Prev:      link(b, prevOffset),
		Next:      link(b, nextOffset),
	}
}

// Write encodes h at the start of b
func Write(b []byte, h Header) {
	putWord(b, sizeOffset, Pack(h.Size, h.Allocated))
	putWord(b, paddingOffset, 0)
	putLink(b, prevOffset, h.Prev)
	putLink(b, nextOffset, h.Next)
}

// Initialize writes a fresh header with no neighbors at the start of b. size must be a multiple
// of memutils.Alignment and large enough to hold the header itself.
func Initialize(b []byte, size int, allocated bool) {
	if !memutils.IsAligned(size, memutils.Alignment) {
		panic(fmt.Sprintf("block size %d is not a multiple of %d", size, memutils.Alignment))
	}
	if size < Size {
		panic(fmt.Sprintf("block size %d cannot hold a %d byte header", size, Size))
	}

	Write(b, Header{Size: size, Allocated: allocated, Prev: Nil, Next: Nil})
}

func IsAllocated(b []byte) bool {
	_, allocated := Unpack(word(b, sizeOffset))
	return allocated
}

func MarkAllocated(b []byte) {
	putWord(b, sizeOffset, word(b, sizeOffset)|allocatedBit)
}

func MarkFree(b []byte) {
	putWord(b, sizeOffset, word(b, sizeOffset)&^allocatedBit)
}

// BlockSize returns the size of the block in bytes, header included
func BlockSize(b []byte) int {
	size, _ := Unpack(word(b, sizeOffset))
	return size
}

// SetSize changes the size of the block without touching its flag or links
func SetSize(b []byte, size int) {
	if !memutils.IsAligned(size, memutils.Alignment) {
		panic(fmt.Sprintf("block size %d is not a multiple of %d", size, memutils.Alignment))
	}

	_, allocated := Unpack(word(b, sizeOffset))
	putWord(b, sizeOffset, Pack(size, allocated))
}

func Prev(b []byte) int { return link(b, prevOffset) }
func Next(b []byte) int { return link(b, nextOffset) }

func SetPrev(b []byte, addr int) { putLink(b, prevOffset, addr) }
func SetNext(b []byte, addr int) { putLink(b, nextOffset, addr) }

// ClearLinks detaches the block from its neighbors
func ClearLinks(b []byte) {
	putLink(b, prevOffset, Nil)
	putLink(b, nextOffset, Nil)
}

// PayloadOf translates a block address into the address of its payload
func PayloadOf(blockAddr int) int {
	return blockAddr + Size
}

// HeaderOf translates a payload address back into the address of its block
func HeaderOf(payloadAddr int) int {
	return payloadAddr - Size
}
