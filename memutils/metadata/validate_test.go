package metadata

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/header"
	"github.com/umalloc-go/umalloc/memutils/provider"
)

// fragmentedList returns a 1024 byte heap laid out as free 0-128, allocated 128-192, free 192-256,
// allocated 256-1024
func fragmentedList(t *testing.T) *FreeList {
	t.Helper()

	pageProvider, err := provider.NewSliceProvider(256, 4096)
	require.NoError(t, err)

	list, err := NewFreeList(nil, pageProvider)
	require.NoError(t, err)
	require.NoError(t, list.Init(1024))

	require.Equal(t, 256, list.Split(0, 768))
	require.Equal(t, 192, list.Split(0, 64))
	require.Equal(t, 128, list.Split(0, 64))

	list.MarkFree(192)
	list.Insert(192)
	require.Equal(t, 192, list.Coalesce(192))

	require.Equal(t, []int{0, 192}, list.FreeBlocks())
	require.NoError(t, list.Validate())
	return list
}

func requireViolation(t *testing.T, err error, violation Violation, addr int) {
	t.Helper()

	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrCorruptionDetected))

	var corruption *CorruptionError
	require.True(t, errors.As(err, &corruption))
	require.Equal(t, violation, corruption.Violation, corruption.Error())
	require.Equal(t, addr, corruption.Address, corruption.Error())
}

func TestCheckFreeDetectsAllocatedBlock(t *testing.T) {
	list := fragmentedList(t)
	header.MarkAllocated(list.arena.bytes(192))

	requireViolation(t, list.CheckFree(), ViolationNotFree, 192)
	requireViolation(t, list.Validate(), ViolationNotFree, 192)
}

func TestCheckAlignmentDetectsMisalignedSize(t *testing.T) {
	list := fragmentedList(t)
	binary.LittleEndian.PutUint64(list.arena.bytes(0), 128|0x8)

	requireViolation(t, list.CheckAlignment(), ViolationMisaligned, 0)
	require.NoError(t, list.CheckFree())
}

func TestCheckAscendingDetectsOutOfOrderChain(t *testing.T) {
	list := fragmentedList(t)
	header.SetNext(list.arena.bytes(0), 0)

	requireViolation(t, list.CheckAscending(), ViolationNotAscending, 0)
}

func TestCheckCoalescedDetectsAdjacentFreeBlocks(t *testing.T) {
	list := fragmentedList(t)

	// Free the block between the two free blocks without merging it
	list.MarkFree(128)
	list.Insert(128)

	requireViolation(t, list.CheckCoalesced(), ViolationUncoalesced, 0)
	require.NoError(t, list.CheckLinks())
	require.NoError(t, list.CheckTiling())

	require.Equal(t, 0, list.Coalesce(128))
	require.NoError(t, list.Validate())
	require.Equal(t, 256, list.BlockSize(0))
}

func TestCheckLinksDetectsBrokenBackLink(t *testing.T) {
	list := fragmentedList(t)
	header.SetPrev(list.arena.bytes(192), header.Nil)

	requireViolation(t, list.CheckLinks(), ViolationBrokenLink, 192)
}

func TestCheckLinksDetectsChainOutsideHeap(t *testing.T) {
	list := fragmentedList(t)
	header.SetNext(list.arena.bytes(192), 1<<20)

	requireViolation(t, list.CheckFree(), ViolationBrokenLink, 1<<20)
}

func TestCheckLinksDetectsCycle(t *testing.T) {
	list := fragmentedList(t)
	header.SetNext(list.arena.bytes(192), 0)

	requireViolation(t, list.CheckFree(), ViolationBrokenLink, 0)
}

func TestCheckLinksDetectsAccountingDrift(t *testing.T) {
	list := fragmentedList(t)
	list.freeBytes += 16

	requireViolation(t, list.CheckLinks(), ViolationAccounting, header.Nil)
}

func TestCheckTilingDetectsOverrun(t *testing.T) {
	list := fragmentedList(t)
	header.SetSize(list.arena.bytes(256), 1024)

	requireViolation(t, list.CheckTiling(), ViolationGap, 256)
	require.NoError(t, list.CheckLinks())
}

func TestCheckTilingDetectsUnlistedFreeBlock(t *testing.T) {
	list := fragmentedList(t)
	header.MarkFree(list.arena.bytes(256))

	requireViolation(t, list.CheckTiling(), ViolationBrokenLink, 256)
}

func TestCorruptionErrorMessage(t *testing.T) {
	err := NewCorruptionError(ViolationUncoalesced, 64, "block is adjacent to the free block at address %d", 128)
	require.Equal(t, "heap corruption detected: Uncoalesced at address 64: block is adjacent to the free block at address 128", err.Error())

	err = NewCorruptionError(ViolationAccounting, header.Nil, "drift")
	require.Equal(t, "heap corruption detected: Accounting: drift", err.Error())
}
