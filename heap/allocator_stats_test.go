package heap

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/header"
	"golang.org/x/exp/slices"
)

func TestStatistics(t *testing.T) {
	_, allocator := readyAllocator(t, 256, 1<<16, CreateOptions{InitialHeapSize: 1024})

	_, err := allocator.Allocate(16)
	require.NoError(t, err)
	_, err = allocator.Allocate(100)
	require.NoError(t, err)

	stats, err := allocator.Statistics()
	require.NoError(t, err)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RegionCount:     1,
			AllocationCount: 2,
			HeapBytes:       1024,
			AllocationBytes: 48 + 144,
		},
		FreeBlockCount:    1,
		AllocationSizeMin: 48,
		AllocationSizeMax: 144,
		FreeBlockSizeMin:  1024 - 48 - 144,
		FreeBlockSizeMax:  1024 - 48 - 144,
	}, stats)
	require.Equal(t, 1024-48-144, stats.FreeBytes())
}

type statsReport struct {
	Total struct {
		RegionCount     int
		AllocationCount int
		FreeBlockCount  int
		HeapBytes       int
		AllocationBytes int
	}
	Heap *struct {
		TotalBytes  int
		UnusedBytes int
		Regions     int
		FreeBlocks  int
		Granularity int
		Blocks      []struct {
			Address int
			Size    int
			Type    string
			Payload int
		}
	}
}

func TestBuildStatsString(t *testing.T) {
	_, allocator := readyAllocator(t, 256, 1<<16, CreateOptions{InitialHeapSize: 1024})

	p, err := allocator.Allocate(16)
	require.NoError(t, err)

	summaryReport := allocator.BuildStatsString(false)
	require.True(t, json.Valid([]byte(summaryReport)), summaryReport)

	var summary statsReport
	require.NoError(t, json.Unmarshal([]byte(summaryReport), &summary))
	require.Nil(t, summary.Heap)
	require.Equal(t, 1, summary.Total.RegionCount)
	require.Equal(t, 1, summary.Total.AllocationCount)
	require.Equal(t, 1, summary.Total.FreeBlockCount)
	require.Equal(t, 1024, summary.Total.HeapBytes)
	require.Equal(t, 48, summary.Total.AllocationBytes)

	report := allocator.BuildStatsString(true)
	require.True(t, json.Valid([]byte(report)), report)

	var detailed statsReport
	require.NoError(t, json.Unmarshal([]byte(report), &detailed))
	require.NotNil(t, detailed.Heap)
	require.Equal(t, 1024, detailed.Heap.TotalBytes)
	require.Equal(t, 976, detailed.Heap.UnusedBytes)
	require.Equal(t, 1, detailed.Heap.FreeBlocks)
	require.Equal(t, 256, detailed.Heap.Granularity)
	require.Len(t, detailed.Heap.Blocks, 2)

	require.Equal(t, 0, detailed.Heap.Blocks[0].Address)
	require.Equal(t, 976, detailed.Heap.Blocks[0].Size)
	require.Equal(t, "FREE", detailed.Heap.Blocks[0].Type)

	require.Equal(t, 976, detailed.Heap.Blocks[1].Address)
	require.Equal(t, 48, detailed.Heap.Blocks[1].Size)
	require.Equal(t, "ALLOCATED", detailed.Heap.Blocks[1].Type)
	require.Equal(t, int(p), detailed.Heap.Blocks[1].Payload)
}

type liveAllocation struct {
	p    Pointer
	size int
	fill byte
}

func requireDisjoint(t *testing.T, allocator *Allocator, live []liveAllocation) {
	t.Helper()

	sorted := slices.Clone(live)
	slices.SortFunc(sorted, func(a, b liveAllocation) bool { return a.p < b.p })

	for i, alloc := range sorted {
		payload, err := allocator.Bytes(alloc.p)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(payload), alloc.size)

		for _, b := range payload[:alloc.size] {
			require.Equal(t, alloc.fill, b)
		}

		if i+1 < len(sorted) {
			require.LessOrEqual(t, int(alloc.p)+len(payload), int(sorted[i+1].p)-header.Size)
		}
	}
}

func TestAllocator_RandomizedOperations(t *testing.T) {
	pageProvider, allocator := readyAllocator(t, 4096, 1<<23, CreateOptions{
		Flags: AllocatorCreateTrackAllocations,
	})

	rng := rand.New(rand.NewSource(1337))
	var live []liveAllocation

	for step := 0; step < 3000; step++ {
		if len(live) == 0 || rng.Intn(5) < 3 {
			size := 1 + rng.Intn(768)
			p, err := allocator.Allocate(size)
			require.NoError(t, err)
			require.True(t, memutils.IsAligned(int(p), memutils.Alignment))

			fill := byte(step)
			payload, err := allocator.Bytes(p)
			require.NoError(t, err)
			for i := 0; i < size; i++ {
				payload[i] = fill
			}

			live = append(live, liveAllocation{p: p, size: size, fill: fill})
		} else {
			index := rng.Intn(len(live))
			require.NoError(t, allocator.Deallocate(live[index].p))
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		require.NoError(t, allocator.Check())

		if step%100 == 0 {
			requireDisjoint(t, allocator, live)

			stats, err := allocator.Statistics()
			require.NoError(t, err)
			require.Equal(t, pageProvider.Total(), stats.HeapBytes)
			require.Equal(t, stats.HeapBytes, stats.AllocationBytes+allocator.freeList.SumFreeSize())
			require.Equal(t, len(live), stats.AllocationCount)
		}
	}

	requireDisjoint(t, allocator, live)

	for _, alloc := range live {
		require.NoError(t, allocator.Deallocate(alloc.p))
	}
	require.NoError(t, allocator.Check())

	// The slice provider hands out contiguous memory, so everything merges back into one block
	require.Equal(t, []int{0}, allocator.freeList.FreeBlocks())
	require.Equal(t, pageProvider.Total(), allocator.freeList.SumFreeSize())
}
