package suballoc

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/rtas/memutils/metadata"
)

type PoolCreateFlags int32

var poolCreateFlagsMapping = common.NewFlagStringMapping[PoolCreateFlags]()

func (f PoolCreateFlags) Register(str string) {
	poolCreateFlagsMapping.Register(f, str)
}
func (f PoolCreateFlags) String() string {
	return poolCreateFlagsMapping.FlagsToString(f)
}

const (
	// PoolCreateExternallySynchronized indicates that the consumer guarantees the pool is used from only
	// one goroutine at a time, so the pool does not lock its own mutex.
	PoolCreateExternallySynchronized PoolCreateFlags = 1 << iota
)

func init() {
	PoolCreateExternallySynchronized.Register("PoolCreateExternallySynchronized")
}

// PoolCreateInfo is used to create a new Pool with NewPool
type PoolCreateInfo struct {
	// Name is used to name the pool's buffers and in diagnostic output
	Name   string
	Usage  UsageClass
	Memory MemoryClass
	Flags  PoolCreateFlags

	// BlockSize is the size in bytes of each block the pool creates. Requests larger than this
	// receive a dedicated block sized to fit them.
	BlockSize int
	// MinBlockCount is the number of blocks that are created along with the pool and that are
	// never released while the pool lives
	MinBlockCount int
	// MaxBlockCount bounds the number of blocks the pool may hold at once. Zero means unbounded.
	MaxBlockCount int

	// MinAllocationAlignment raises the alignment of every suballocation to at least this value.
	// Zero leaves requested alignments untouched.
	MinAllocationAlignment uint
	// Strategy is passed to the block metadata when searching for free space
	Strategy metadata.AllocationStrategy
}
