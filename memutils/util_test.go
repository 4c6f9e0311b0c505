package memutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/rtas/memutils"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 256))
	require.Equal(t, 256, memutils.AlignUp(1, 256))
	require.Equal(t, 256, memutils.AlignUp(256, 256))
	require.Equal(t, 512, memutils.AlignUp(257, 256))
	require.Equal(t, 7, memutils.AlignUp(7, 1))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(uint(1), "one"))
	require.NoError(t, memutils.CheckPow2(256, "alignment"))

	err := memutils.CheckPow2(uint(24), "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrNotPowerOfTwo))
	require.Contains(t, err.Error(), "alignment is 24")

	require.Error(t, memutils.CheckPow2(0, "zero"))
}

func TestStatisticsAdd(t *testing.T) {
	stats := memutils.Statistics{BlockCount: 1, AllocationCount: 2, BlockBytes: 1000, AllocationBytes: 300, WastedBytes: 12}
	stats.AddStatistics(&memutils.Statistics{BlockCount: 1, AllocationCount: 1, BlockBytes: 500, AllocationBytes: 500})

	require.Equal(t, memutils.Statistics{
		BlockCount:      2,
		AllocationCount: 3,
		BlockBytes:      1500,
		AllocationBytes: 800,
		WastedBytes:     12,
	}, stats)
	require.Equal(t, 700, stats.UnusedBytes())
}
