package header_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/umalloc-go/umalloc/memutils/header"
)

func TestPackUnpack(t *testing.T) {
	size, allocated := header.Unpack(header.Pack(4096, true))
	require.Equal(t, 4096, size)
	require.True(t, allocated)

	size, allocated = header.Unpack(header.Pack(48, false))
	require.Equal(t, 48, size)
	require.False(t, allocated)
}

func TestInitialize(t *testing.T) {
	b := make([]byte, 64)
	for i := range b {
		b[i] = 0xff
	}

	header.Initialize(b, 64, false)

	require.Equal(t, header.Header{
		Size:      64,
		Allocated: false,
		Prev:      header.Nil,
		Next:      header.Nil,
	}, header.Read(b))
}

func TestInitializeRejectsMisalignedSize(t *testing.T) {
	b := make([]byte, 64)
	require.Panics(t, func() {
		header.Initialize(b, 40, false)
	})
	require.Panics(t, func() {
		header.Initialize(b, 16, false)
	})
}

func TestMarkAllocatedPreservesSize(t *testing.T) {
	b := make([]byte, header.Size)
	header.Initialize(b, 160, false)
	require.False(t, header.IsAllocated(b))

	header.MarkAllocated(b)
	require.True(t, header.IsAllocated(b))
	require.Equal(t, 160, header.BlockSize(b))

	header.MarkFree(b)
	require.False(t, header.IsAllocated(b))
	require.Equal(t, 160, header.BlockSize(b))
}

func TestSetSizePreservesFlagAndLinks(t *testing.T) {
	b := make([]byte, header.Size)
	header.Initialize(b, 256, true)
	header.SetPrev(b, 32)
	header.SetNext(b, 4096)

	header.SetSize(b, 128)

	require.Equal(t, header.Header{
		Size:      128,
		Allocated: true,
		Prev:      32,
		Next:      4096,
	}, header.Read(b))

	header.ClearLinks(b)
	require.Equal(t, header.Nil, header.Prev(b))
	require.Equal(t, header.Nil, header.Next(b))
}

func TestPayloadTranslation(t *testing.T) {
	for _, addr := range []int{0, 16, 4096, 1 << 20} {
		payload := header.PayloadOf(addr)
		require.Equal(t, addr+header.Size, payload)
		require.Equal(t, addr, header.HeaderOf(payload))
	}
}
