package suballoc_test

import (
	"io"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/rtas/memutils"
	"github.com/vkngwrapper/rtas/suballoc"
	"github.com/vkngwrapper/rtas/suballoc/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type PoolSetup struct {
	CreateInfo suballoc.PoolCreateInfo

	created   int
	destroyed int
}

func readyPool(t *testing.T, ctrl *gomock.Controller, setup *PoolSetup) *suballoc.Pool {
	device := mocks.NewMockDevice(ctrl)

	nextAddress := uint64(0x10000)
	device.EXPECT().CreateBuffer(gomock.Any()).DoAndReturn(func(desc suballoc.BufferDesc) (suballoc.Buffer, error) {
		require.Equal(t, setup.CreateInfo.Usage, desc.Usage)
		require.Equal(t, setup.CreateInfo.Memory, desc.Memory)

		buffer := mocks.NewMockBuffer(ctrl)
		buffer.EXPECT().Size().Return(desc.Size).AnyTimes()
		buffer.EXPECT().GPUAddress().Return(nextAddress).AnyTimes()

		nextAddress += 1 << 32
		setup.created++
		return buffer, nil
	}).AnyTimes()
	device.EXPECT().DestroyBuffer(gomock.Any()).Do(func(buffer suballoc.Buffer) {
		setup.destroyed++
	}).AnyTimes()

	logger := slog.New(slog.NewJSONHandler(io.Discard))
	pool, err := suballoc.NewPool(logger, device, setup.CreateInfo)
	require.NoError(t, err)

	return pool
}

func TestPoolCreateSubAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)

	setup := &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{
			Name:      "scratch",
			Usage:     suballoc.UsageScratch,
			Memory:    suballoc.MemoryDeviceLocal,
			BlockSize: 1024,
		},
	}
	pool := readyPool(t, ctrl, setup)
	require.Equal(t, 0, pool.BlockCount())

	first, err := pool.CreateSubAllocation(100, 256)
	require.NoError(t, err)
	require.False(t, first.IsNull())
	require.Equal(t, 0, first.Offset())
	require.Equal(t, 256, first.Size())
	require.Equal(t, 100, first.RequestedSize())
	require.Equal(t, 0, first.BlockID())
	require.Equal(t, uint64(0x10000), first.GPUAddress())

	second, err := pool.CreateSubAllocation(100, 256)
	require.NoError(t, err)
	require.Equal(t, 256, second.Offset())
	require.Equal(t, uint64(0x10100), second.GPUAddress())

	require.Equal(t, 1, pool.BlockCount())
	require.Equal(t, 2, pool.AllocationCount())
	require.Equal(t, 1024, pool.PoolSizeBytes())
	require.Equal(t, 512, pool.FreeBytes())
	require.Equal(t, 312, pool.AlignmentWasteBytes())

	var stats memutils.Statistics
	pool.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      1,
		AllocationCount: 2,
		BlockBytes:      1024,
		AllocationBytes: 512,
		WastedBytes:     312,
	}, stats)

	require.NoError(t, pool.FreeSubAllocation(&first))
	require.True(t, first.IsNull())
	require.NoError(t, pool.FreeSubAllocation(&second))

	require.Equal(t, 1, pool.BlockCount())
	require.Equal(t, 1024, pool.FreeBytes())
	require.Equal(t, 0, pool.AlignmentWasteBytes())
	require.Equal(t, 0, setup.destroyed)

	pool.Destroy()
	require.Equal(t, 1, setup.destroyed)
}

func TestPoolFreeNullSubAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)

	pool := readyPool(t, ctrl, &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{Name: "result", BlockSize: 1024},
	})

	var alloc suballoc.SubAllocation
	require.True(t, alloc.IsNull())
	require.Equal(t, -1, alloc.BlockID())
	require.Nil(t, alloc.Buffer())
	require.NoError(t, pool.FreeSubAllocation(&alloc))
}

func TestPoolDedicatedBlock(t *testing.T) {
	ctrl := gomock.NewController(t)

	setup := &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{Name: "result", BlockSize: 1024, MinBlockCount: 1},
	}
	pool := readyPool(t, ctrl, setup)
	require.Equal(t, 1, pool.BlockCount())

	alloc, err := pool.CreateSubAllocation(4000, 256)
	require.NoError(t, err)
	require.Equal(t, 4096, alloc.Size())
	require.Equal(t, 1, alloc.BlockID())
	require.Equal(t, 2, pool.BlockCount())
	require.Equal(t, 1024+4096, pool.PoolSizeBytes())

	require.NoError(t, pool.FreeSubAllocation(&alloc))
	require.Equal(t, 1, pool.BlockCount())
	require.Equal(t, 1, setup.destroyed)
}

func TestPoolExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)

	pool := readyPool(t, ctrl, &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{Name: "compacted", BlockSize: 1024, MaxBlockCount: 1},
	})

	full, err := pool.CreateSubAllocation(1024, 1)
	require.NoError(t, err)

	_, err = pool.CreateSubAllocation(1, 1)
	require.ErrorIs(t, err, suballoc.ErrPoolExhausted)

	_, err = pool.CreateSubAllocation(2048, 1)
	require.ErrorIs(t, err, suballoc.ErrPoolExhausted)

	require.NoError(t, pool.FreeSubAllocation(&full))

	_, err = pool.CreateSubAllocation(1, 1)
	require.NoError(t, err)
}

func TestPoolKeepsOneEmptyBlock(t *testing.T) {
	ctrl := gomock.NewController(t)

	setup := &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{Name: "scratch", BlockSize: 1024},
	}
	pool := readyPool(t, ctrl, setup)

	allocs := make([]suballoc.SubAllocation, 3)
	for i := range allocs {
		var err error
		allocs[i], err = pool.CreateSubAllocation(1024, 256)
		require.NoError(t, err)
		require.Equal(t, i, allocs[i].BlockID())
	}
	require.Equal(t, 3, pool.BlockCount())

	require.NoError(t, pool.FreeSubAllocation(&allocs[0]))
	require.Equal(t, 3, pool.BlockCount())

	require.NoError(t, pool.FreeSubAllocation(&allocs[1]))
	require.Equal(t, 2, pool.BlockCount())

	require.NoError(t, pool.FreeSubAllocation(&allocs[2]))
	require.Equal(t, 1, pool.BlockCount())
	require.Equal(t, 2, setup.destroyed)
	require.Equal(t, 3, setup.created)
}

func TestPoolStaleSubAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)

	pool := readyPool(t, ctrl, &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{Name: "scratch", BlockSize: 1024},
	})

	alloc, err := pool.CreateSubAllocation(128, 256)
	require.NoError(t, err)
	stale := alloc

	require.NoError(t, pool.FreeSubAllocation(&alloc))

	replacement, err := pool.CreateSubAllocation(128, 256)
	require.NoError(t, err)
	require.Equal(t, stale.Offset(), replacement.Offset())

	err = pool.FreeSubAllocation(&stale)
	require.ErrorIs(t, err, suballoc.ErrStaleSubAllocation)
	require.Equal(t, 1, pool.AllocationCount())

	require.NoError(t, pool.FreeSubAllocation(&replacement))
	require.Equal(t, 0, pool.AllocationCount())
}

func TestPoolInvalidRequests(t *testing.T) {
	ctrl := gomock.NewController(t)

	pool := readyPool(t, ctrl, &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{Name: "scratch", BlockSize: 1024},
	})

	_, err := pool.CreateSubAllocation(0, 256)
	require.Error(t, err)

	_, err = pool.CreateSubAllocation(64, 3)
	require.ErrorIs(t, err, memutils.ErrNotPowerOfTwo)

	logger := slog.New(slog.NewJSONHandler(io.Discard))
	_, err = suballoc.NewPool(logger, mocks.NewMockDevice(ctrl), suballoc.PoolCreateInfo{Name: "bad"})
	require.Error(t, err)

	_, err = suballoc.NewPool(logger, mocks.NewMockDevice(ctrl), suballoc.PoolCreateInfo{
		Name:          "bad",
		BlockSize:     1024,
		MinBlockCount: 3,
		MaxBlockCount: 2,
	})
	require.Error(t, err)
}

func TestPoolMinAllocationAlignment(t *testing.T) {
	ctrl := gomock.NewController(t)

	pool := readyPool(t, ctrl, &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{Name: "sizes", BlockSize: 1024, MinAllocationAlignment: 8},
	})

	first, err := pool.CreateSubAllocation(3, 1)
	require.NoError(t, err)
	require.Equal(t, 8, first.Size())

	second, err := pool.CreateSubAllocation(8, 1)
	require.NoError(t, err)
	require.Equal(t, 8, second.Offset())
}

func TestPoolLockstep(t *testing.T) {
	ctrl := gomock.NewController(t)

	createInfo := suballoc.PoolCreateInfo{Name: "sizes", BlockSize: 64, MinAllocationAlignment: 8}
	gpu := readyPool(t, ctrl, &PoolSetup{CreateInfo: createInfo})
	createInfo.Memory = suballoc.MemoryReadback
	readback := readyPool(t, ctrl, &PoolSetup{CreateInfo: createInfo})

	var gpuAllocs, readbackAllocs []suballoc.SubAllocation
	for i := 0; i < 20; i++ {
		gpuAlloc, err := gpu.CreateSubAllocation(8, 8)
		require.NoError(t, err)
		readbackAlloc, err := readback.CreateSubAllocation(8, 8)
		require.NoError(t, err)

		require.Equal(t, gpuAlloc.BlockID(), readbackAlloc.BlockID())
		require.Equal(t, gpuAlloc.Offset(), readbackAlloc.Offset())

		gpuAllocs = append(gpuAllocs, gpuAlloc)
		readbackAllocs = append(readbackAllocs, readbackAlloc)

		if i%3 == 2 {
			require.NoError(t, gpu.FreeSubAllocation(&gpuAllocs[i-1]))
			require.NoError(t, readback.FreeSubAllocation(&readbackAllocs[i-1]))
		}
	}

	require.Equal(t, gpu.BlockCount(), readback.BlockCount())
}

func TestPoolPrintDetailedMap(t *testing.T) {
	ctrl := gomock.NewController(t)

	pool := readyPool(t, ctrl, &PoolSetup{
		CreateInfo: suballoc.PoolCreateInfo{Name: "result", BlockSize: 1024},
	})

	_, err := pool.CreateSubAllocation(256, 256)
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	pool.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	out := string(writer.Bytes())
	require.Contains(t, out, `"0":{`)
	require.Contains(t, out, `"TotalBytes":1024`)
	require.Contains(t, out, `"UnusedBytes":768`)
	require.Contains(t, out, `"Suballocations":[`)
}
