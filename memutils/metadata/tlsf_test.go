package metadata_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/rtas/memutils"
	"github.com/vkngwrapper/rtas/memutils/metadata"
)

func allocate(t *testing.T, tlsf *metadata.TLSFBlockMetadata, size int, alignment uint, strategy metadata.AllocationStrategy) metadata.BlockAllocationHandle {
	success, req, err := tlsf.CreateAllocationRequest(size, alignment, strategy)
	require.NoError(t, err)
	require.True(t, success)

	err = tlsf.Alloc(req, size)
	require.NoError(t, err)
	require.NoError(t, tlsf.Validate())

	return req.BlockAllocationHandle
}

func detailedStats(tlsf *metadata.TLSFBlockMetadata) memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)
	return stats
}

func TestTLSFBasicAlloc(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: 1000,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, detailedStats(tlsf))
	require.True(t, tlsf.IsEmpty())

	alloc1 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 1,
			AllocationBytes: 100,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 900,
		UnusedRangeSizeMax: 900,
	}, detailedStats(tlsf))
	require.False(t, tlsf.IsEmpty())
	require.Equal(t, 1, tlsf.AllocationCount())
	require.Equal(t, 900, tlsf.SumFreeSize())

	offset, err := tlsf.AllocationOffset(alloc1)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	err = tlsf.Free(alloc1)
	require.NoError(t, err)
	require.NoError(t, tlsf.Validate())

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: 1000,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, detailedStats(tlsf))
	require.True(t, tlsf.IsEmpty())
}

func TestTLSFAlignment(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	first := allocate(t, tlsf, 10, 1, 0)
	aligned := allocate(t, tlsf, 100, 64, 0)

	offset, err := tlsf.AllocationOffset(aligned)
	require.NoError(t, err)
	require.Equal(t, 64, offset)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 2,
			AllocationBytes: 110,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  10,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 54,
		UnusedRangeSizeMax: 836,
	}, detailedStats(tlsf))
	require.Equal(t, 2, tlsf.FreeRegionsCount())
	require.Equal(t, 890, tlsf.SumFreeSize())

	err = tlsf.Free(first)
	require.NoError(t, err)
	require.NoError(t, tlsf.Validate())

	stats := detailedStats(tlsf)
	require.Equal(t, 2, stats.UnusedRangeCount)
	require.Equal(t, 64, stats.UnusedRangeSizeMin)
	require.Equal(t, 836, stats.UnusedRangeSizeMax)

	err = tlsf.Free(aligned)
	require.NoError(t, err)
	require.NoError(t, tlsf.Validate())
	require.True(t, tlsf.IsEmpty())
	require.Equal(t, 1, tlsf.FreeRegionsCount())
}

func TestTLSFExhaustion(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(100)

	allocate(t, tlsf, 60, 1, 0)

	success, _, err := tlsf.CreateAllocationRequest(60, 1, 0)
	require.NoError(t, err)
	require.False(t, success)

	allocate(t, tlsf, 40, 1, 0)
	require.Equal(t, 0, tlsf.SumFreeSize())
	require.Equal(t, 0, tlsf.FreeRegionsCount())
	require.False(t, tlsf.MayHaveFreeBlock(1))

	var regions []int
	err = tlsf.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		require.False(t, free)
		require.Equal(t, size, userData)
		regions = append(regions, offset)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 60}, regions)
}

func TestTLSFInvalidSize(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(100)

	_, _, err := tlsf.CreateAllocationRequest(0, 1, 0)
	require.Error(t, err)
}

func TestTLSFFreeUnknownHandle(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(100)

	alloc := allocate(t, tlsf, 50, 1, 0)
	require.Error(t, tlsf.Free(alloc+100))

	require.NoError(t, tlsf.Free(alloc))
	require.Error(t, tlsf.Free(alloc))
	require.NoError(t, tlsf.Validate())
}

func TestTLSFMayHaveFreeBlock(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(100)

	allocate(t, tlsf, 40, 1, 0)
	require.False(t, tlsf.MayHaveFreeBlock(64))
	require.True(t, tlsf.MayHaveFreeBlock(60))

	middle := allocate(t, tlsf, 40, 1, 0)
	allocate(t, tlsf, 20, 1, 0)
	require.False(t, tlsf.MayHaveFreeBlock(32))

	require.NoError(t, tlsf.Free(middle))
	require.NoError(t, tlsf.Validate())
	require.True(t, tlsf.MayHaveFreeBlock(32))
	require.Equal(t, 1, tlsf.FreeRegionsCount())

	reused := allocate(t, tlsf, 32, 1, 0)
	offset, err := tlsf.AllocationOffset(reused)
	require.NoError(t, err)
	require.Equal(t, 40, offset)
}

func TestTLSFUserData(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	alloc := allocate(t, tlsf, 128, 1, 0)

	userData, err := tlsf.AllocationUserData(alloc)
	require.NoError(t, err)
	require.Equal(t, 128, userData)

	require.NoError(t, tlsf.SetAllocationUserData(alloc, "blas"))
	userData, err = tlsf.AllocationUserData(alloc)
	require.NoError(t, err)
	require.Equal(t, "blas", userData)
}

func TestTLSFClear(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(4096)

	var handles []metadata.BlockAllocationHandle
	for i := 0; i < 8; i++ {
		handles = append(handles, allocate(t, tlsf, 256, 256, 0))
	}
	require.NoError(t, tlsf.Free(handles[3]))

	tlsf.Clear()
	require.NoError(t, tlsf.Validate())
	require.True(t, tlsf.IsEmpty())
	require.Equal(t, 4096, tlsf.SumFreeSize())
	require.Equal(t, 0, tlsf.AllocationCount())
	require.Error(t, tlsf.Free(handles[0]))

	allocate(t, tlsf, 4096, 1, 0)
}

func TestTLSFStrategies(t *testing.T) {
	strategies := []metadata.AllocationStrategy{
		0,
		metadata.AllocationStrategyMinMemory,
		metadata.AllocationStrategyMinTime,
	}

	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			tlsf := metadata.NewTLSFBlockMetadata()
			tlsf.Init(1 << 20)

			var handles []metadata.BlockAllocationHandle
			for i := 0; i < 64; i++ {
				handles = append(handles, allocate(t, tlsf, 512+i*64, 256, strategy))
			}

			for i := 0; i < len(handles); i += 2 {
				require.NoError(t, tlsf.Free(handles[i]))
				require.NoError(t, tlsf.Validate())
			}

			for i := 0; i < 16; i++ {
				allocate(t, tlsf, 300+i*32, 256, strategy)
			}

			for i := 1; i < len(handles); i += 2 {
				require.NoError(t, tlsf.Free(handles[i]))
				require.NoError(t, tlsf.Validate())
			}

			require.Equal(t, 16, tlsf.AllocationCount())
		})
	}
}
