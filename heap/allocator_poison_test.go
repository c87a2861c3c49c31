package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/umalloc-go/umalloc/memutils"
	"github.com/umalloc-go/umalloc/memutils/provider"
	mock_provider "github.com/umalloc-go/umalloc/memutils/provider/mocks"
	"go.uber.org/mock/gomock"
)

// freedPayload allocates 40 bytes, fills them with 0xAB, deallocates them, and returns the
// former payload as seen through the memory handed to the allocator
func freedPayload(t *testing.T) []byte {
	t.Helper()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := make([]byte, 1024)
	pageProvider := mock_provider.NewMockPageProvider(ctrl)
	pageProvider.EXPECT().Granularity().Return(256)
	pageProvider.EXPECT().Request(1024).Return(provider.Region{Addr: 0, Data: backing}, nil)

	allocator, err := New(nil, pageProvider, CreateOptions{InitialHeapSize: 1024})
	require.NoError(t, err)

	p, err := allocator.Allocate(40)
	require.NoError(t, err)

	payload, err := allocator.Bytes(p)
	require.NoError(t, err)
	require.Len(t, payload, 48)
	for i := range payload {
		payload[i] = 0xAB
	}

	require.NoError(t, allocator.Deallocate(p))
	require.NoError(t, allocator.Check())

	return backing[int(p) : int(p)+len(payload)]
}

func TestDeallocate_ReleaseBuildLeavesPayload(t *testing.T) {
	if memutils.DebugEnabled {
		t.Skip("freed payloads are poisoned when debug_mem_utils is set")
	}

	for _, b := range freedPayload(t) {
		require.Equal(t, byte(0xAB), b)
	}
}
