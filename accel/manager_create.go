package accel

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/rtas/internal/utils"
	"github.com/vkngwrapper/rtas/memutils/metadata"
	"github.com/vkngwrapper/rtas/suballoc"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that the manager and its pools will not be synchronized
	// internally. The consumer must guarantee they are used from only one goroutine at a time.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateStrictCompactionBudget makes NextFrame fail with ErrCompactionBudgetExceeded when a single
	// structure's compacted size exceeds CompactionBudget. Without it, such a structure is compacted
	// alone in a frame of its own.
	CreateStrictCompactionBudget
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
	CreateStrictCompactionBudget.Register("CreateStrictCompactionBudget")
}

const (
	// DefaultLatency is the number of frames a command list is assumed to stay in flight when
	// CreateOptions.Latency is not provided
	DefaultLatency = 3
	// DefaultBlockSize is the block size of the scratch, result and compaction pools when
	// CreateOptions.BlockSize is not provided. It is equal to 64MiB.
	DefaultBlockSize int = 64 * 1024 * 1024
	// DefaultSizeQueryBlockSize is the block size of the two compacted-size pools when
	// CreateOptions.SizeQueryBlockSize is not provided. It holds 8192 size slots.
	DefaultSizeQueryBlockSize int = 64 * 1024
	// DefaultCompactionBudget is the transient compaction ceiling when CreateOptions.CompactionBudget
	// is not provided. It is equal to 32MiB.
	DefaultCompactionBudget int = 32 * 1024 * 1024
)

// CreateOptions contains optional settings when creating a Manager
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags

	// Latency is the number of frames after which a command list recorded during a frame is
	// guaranteed to have finished executing. Memory referenced by a command list is never reused
	// before then. It is ignored when Retirement is provided.
	Latency int
	// Retirement decides when the commands recorded during a frame have finished executing.
	// It defaults to FrameLatency(Latency).
	Retirement Retirement

	// BlockSize is the block size of the scratch, result and compaction pools
	BlockSize int
	// SizeQueryBlockSize is the block size of the GPU and readback compacted-size pools
	SizeQueryBlockSize int
	// MaxBlockCount bounds the number of blocks in each pool. Zero means unbounded.
	MaxBlockCount int

	// CompactionBudget is the transient compaction ceiling: the maximum number of bytes of
	// compacted structures that may be created in a single frame
	CompactionBudget int
	// CompactionStrategy is used to place suballocations in the compaction pool. Compacted
	// structures are long-lived, so it defaults to AllocationStrategyMinMemory.
	CompactionStrategy metadata.AllocationStrategy
}

// New creates a new Manager
//
// logger - Receives debug traces of every entry point, and warnings and errors about budget
// overruns and unreleased memory
//
// device - The device that structures will be built on
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device Device, options CreateOptions) (*Manager, error) {
	logger.Debug("Manager::New")

	if options.Latency < 0 || options.BlockSize < 0 || options.SizeQueryBlockSize < 0 ||
		options.CompactionBudget < 0 || options.MaxBlockCount < 0 {
		return nil, errors.Newf("invalid manager options: %+v", options)
	}

	latency := options.Latency
	if latency == 0 {
		latency = DefaultLatency
	}

	retirement := options.Retirement
	if retirement == nil {
		retirement = FrameLatency(latency)
	}

	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	sizeQueryBlockSize := options.SizeQueryBlockSize
	if sizeQueryBlockSize == 0 {
		sizeQueryBlockSize = DefaultSizeQueryBlockSize
	}
	if sizeQueryBlockSize%PostbuildSizeSlot != 0 {
		return nil, errors.Newf("SizeQueryBlockSize %d is not a multiple of the %d-byte size slot", sizeQueryBlockSize, PostbuildSizeSlot)
	}

	compactionBudget := options.CompactionBudget
	if compactionBudget == 0 {
		compactionBudget = DefaultCompactionBudget
	}

	compactionStrategy := options.CompactionStrategy
	if compactionStrategy == 0 {
		compactionStrategy = metadata.AllocationStrategyMinMemory
	}

	useMutex := options.Flags&CreateExternallySynchronized == 0
	manager := &Manager{
		logger:           logger,
		device:           device,
		mutex:            utils.OptionalMutex{UseMutex: useMutex},
		flags:            options.Flags,
		retirement:       retirement,
		compactionBudget: compactionBudget,
	}

	// Pools are only touched with the manager's mutex held
	poolFlags := suballoc.PoolCreateExternallySynchronized

	poolInfos := [poolCount]suballoc.PoolCreateInfo{
		poolScratch: {
			Name:          "Scratch",
			Usage:         suballoc.UsageScratch,
			Memory:        suballoc.MemoryDeviceLocal,
			Flags:         poolFlags,
			BlockSize:     blockSize,
			MaxBlockCount: options.MaxBlockCount,
			Strategy:      metadata.AllocationStrategyMinTime,
		},
		poolResult: {
			Name:          "Result",
			Usage:         suballoc.UsageResult,
			Memory:        suballoc.MemoryDeviceLocal,
			Flags:         poolFlags,
			BlockSize:     blockSize,
			MaxBlockCount: options.MaxBlockCount,
		},
		poolCompacted: {
			Name:          "Compacted",
			Usage:         suballoc.UsageCompactionTarget,
			Memory:        suballoc.MemoryDeviceLocal,
			Flags:         poolFlags,
			BlockSize:     blockSize,
			MaxBlockCount: options.MaxBlockCount,
			Strategy:      compactionStrategy,
		},
		poolSizeGPU: {
			Name:                   "CompactionSizeGPU",
			Usage:                  suballoc.UsageCompactionSizeGPU,
			Memory:                 suballoc.MemoryDeviceLocal,
			Flags:                  poolFlags,
			BlockSize:              sizeQueryBlockSize,
			MaxBlockCount:          options.MaxBlockCount,
			MinAllocationAlignment: PostbuildSizeAlignment,
		},
		poolSizeReadback: {
			Name:                   "CompactionSizeReadback",
			Usage:                  suballoc.UsageCompactionSizeReadback,
			Memory:                 suballoc.MemoryReadback,
			Flags:                  poolFlags,
			BlockSize:              sizeQueryBlockSize,
			MaxBlockCount:          options.MaxBlockCount,
			MinAllocationAlignment: PostbuildSizeAlignment,
		},
	}

	for poolIndex := range poolInfos {
		pool, err := suballoc.NewPool(logger, device, poolInfos[poolIndex])
		if err != nil {
			manager.destroyPools()
			return nil, err
		}
		manager.pools[poolIndex] = pool
	}

	manager.rebuildTelemetry()
	return manager, nil
}
