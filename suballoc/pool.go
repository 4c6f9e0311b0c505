package suballoc

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/rtas/internal/utils"
	"github.com/vkngwrapper/rtas/memutils"
	"github.com/vkngwrapper/rtas/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Pool carves suballocations out of large buffer resources ("blocks") obtained from a Device.
// Blocks are created on demand, sorted so that the fullest blocks are tried first, and released
// when empty, except that one empty block is retained to absorb allocation churn.
type Pool struct {
	logger *slog.Logger
	device Device
	mutex  utils.OptionalMutex

	name     string
	usage    UsageClass
	memory   MemoryClass
	strategy metadata.AllocationStrategy

	blockSize              int
	minBlockCount          int
	maxBlockCount          int
	minAllocationAlignment uint

	blocks      []*poolBlock
	nextBlockId int
	nextSerial  uint64

	allocationCount int
	wastedBytes     int
}

// NewPool creates a new Pool and its initial MinBlockCount blocks
func NewPool(logger *slog.Logger, device Device, createInfo PoolCreateInfo) (*Pool, error) {
	if createInfo.BlockSize < 1 {
		return nil, errors.Newf("pool %q has an invalid block size %d", createInfo.Name, createInfo.BlockSize)
	}
	if createInfo.MinBlockCount < 0 || createInfo.MaxBlockCount < 0 {
		return nil, errors.Newf("pool %q has invalid block count bounds [%d, %d]", createInfo.Name, createInfo.MinBlockCount, createInfo.MaxBlockCount)
	}
	if createInfo.MaxBlockCount > 0 && createInfo.MinBlockCount > createInfo.MaxBlockCount {
		return nil, errors.Newf("pool %q has a MinBlockCount of %d, which is larger than its MaxBlockCount of %d", createInfo.Name, createInfo.MinBlockCount, createInfo.MaxBlockCount)
	}
	if createInfo.MinAllocationAlignment > 0 {
		err := memutils.CheckPow2(createInfo.MinAllocationAlignment, "MinAllocationAlignment")
		if err != nil {
			return nil, err
		}
	}

	maxBlockCount := createInfo.MaxBlockCount
	if maxBlockCount == 0 {
		maxBlockCount = math.MaxInt
	}

	pool := &Pool{
		logger:                 logger,
		device:                 device,
		mutex:                  utils.OptionalMutex{UseMutex: createInfo.Flags&PoolCreateExternallySynchronized == 0},
		name:                   createInfo.Name,
		usage:                  createInfo.Usage,
		memory:                 createInfo.Memory,
		strategy:               createInfo.Strategy,
		blockSize:              createInfo.BlockSize,
		minBlockCount:          createInfo.MinBlockCount,
		maxBlockCount:          maxBlockCount,
		minAllocationAlignment: createInfo.MinAllocationAlignment,
	}

	for i := 0; i < pool.minBlockCount; i++ {
		_, err := pool.createBlock(pool.blockSize, false)
		if err != nil {
			pool.destroyBlocks()
			return nil, err
		}
	}

	return pool, nil
}

func (p *Pool) Name() string        { return p.name }
func (p *Pool) Usage() UsageClass   { return p.usage }
func (p *Pool) Memory() MemoryClass { return p.memory }
func (p *Pool) BlockSize() int      { return p.blockSize }

func (p *Pool) BlockCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.blocks)
}

// AllocationCount returns the number of live suballocations in the pool
func (p *Pool) AllocationCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.allocationCount
}

// PoolSizeBytes returns the total size of every block the pool currently holds
func (p *Pool) PoolSizeBytes() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	total := 0
	for _, block := range p.blocks {
		total += block.metadata.Size()
	}

	return total
}

// FreeBytes returns the number of bytes in the pool's blocks that are not suballocated
func (p *Pool) FreeBytes() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	total := 0
	for _, block := range p.blocks {
		total += block.metadata.SumFreeSize()
	}

	return total
}

// AlignmentWasteBytes returns the number of suballocated bytes that were only claimed to round
// live suballocations up to their alignment
func (p *Pool) AlignmentWasteBytes() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.wastedBytes
}

func (p *Pool) AddStatistics(stats *memutils.Statistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for blockIndex := 0; blockIndex < len(p.blocks); blockIndex++ {
		block := p.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		block.metadata.AddStatistics(stats)
	}
	stats.WastedBytes += p.wastedBytes
}

func (p *Pool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for blockIndex := 0; blockIndex < len(p.blocks); blockIndex++ {
		block := p.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		block.metadata.AddDetailedStatistics(stats)
	}
	stats.WastedBytes += p.wastedBytes
}

// CreateSubAllocation claims size bytes, rounded up to alignment, from the pool. Alignment must
// be a power of two.
func (p *Pool) CreateSubAllocation(size int, alignment uint) (SubAllocation, error) {
	p.logger.Debug("Pool::CreateSubAllocation")

	if size < 1 {
		return SubAllocation{}, errors.Newf("pool %q received an invalid suballocation size %d", p.name, size)
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return SubAllocation{}, err
	}

	if p.minAllocationAlignment > alignment {
		alignment = p.minAllocationAlignment
	}
	alignedSize := memutils.AlignUp(size, alignment)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	var alloc SubAllocation

	if alignedSize > p.blockSize {
		// Too large for a standard block, give it a block of its own
		if len(p.blocks) >= p.maxBlockCount {
			return SubAllocation{}, errors.Wrapf(ErrPoolExhausted, "pool %q cannot create a dedicated block of %d bytes", p.name, alignedSize)
		}

		block, err := p.createBlock(alignedSize, true)
		if err != nil {
			return SubAllocation{}, err
		}

		success, err := p.allocFromBlock(block, size, alignedSize, alignment, &alloc)
		if err != nil {
			return SubAllocation{}, err
		} else if !success {
			panic(fmt.Sprintf("created dedicated block %d to hold a suballocation of size %d but it could not hold it", block.id, alignedSize))
		}

		p.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from dedicated block", slog.Int("block.id", block.id))
		p.incrementallySortBlocks()
		return alloc, nil
	}

	// Blocks are sorted by free size, so iterate forward to prefer the fullest block that fits
	for blockIndex := 0; blockIndex < len(p.blocks); blockIndex++ {
		block := p.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("a pool block at index %d is unexpectedly nil", blockIndex))
		}

		success, err := p.allocFromBlock(block, size, alignedSize, alignment, &alloc)
		if err != nil {
			return SubAllocation{}, err
		} else if success {
			p.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing block", slog.Int("block.id", block.id))
			p.incrementallySortBlocks()
			return alloc, nil
		}
	}

	if len(p.blocks) >= p.maxBlockCount {
		return SubAllocation{}, errors.Wrapf(ErrPoolExhausted, "pool %q has reached its limit of %d blocks", p.name, p.maxBlockCount)
	}

	block, err := p.createBlock(p.blockSize, false)
	if err != nil {
		return SubAllocation{}, err
	}

	success, err := p.allocFromBlock(block, size, alignedSize, alignment, &alloc)
	if err != nil {
		return SubAllocation{}, err
	} else if !success {
		panic(fmt.Sprintf("created a new block %d to hold a suballocation of size %d but it could not hold it", block.id, alignedSize))
	}

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block", slog.Int("block.id", block.id))
	p.incrementallySortBlocks()
	return alloc, nil
}

func (p *Pool) allocFromBlock(block *poolBlock, requestedSize, alignedSize int, alignment uint, outAlloc *SubAllocation) (bool, error) {
	if !block.metadata.MayHaveFreeBlock(alignedSize) {
		return false, nil
	}

	success, request, err := block.metadata.CreateAllocationRequest(alignedSize, alignment, p.strategy)
	if err != nil || !success {
		return false, err
	}

	p.nextSerial++
	serial := p.nextSerial
	err = block.metadata.Alloc(request, serial)
	if err != nil {
		return false, err
	}

	offset, err := block.metadata.AllocationOffset(request.BlockAllocationHandle)
	if err != nil {
		return false, err
	}

	*outAlloc = SubAllocation{
		block:         block,
		handle:        request.BlockAllocationHandle,
		serial:        serial,
		offset:        offset,
		size:          alignedSize,
		requestedSize: requestedSize,
	}
	p.allocationCount++
	p.wastedBytes += alignedSize - requestedSize
	memutils.DebugValidate(block)

	return true, nil
}

// FreeSubAllocation returns a suballocation's memory to the pool and resets the provided handle to
// the null suballocation. Freeing the null suballocation does nothing.
func (p *Pool) FreeSubAllocation(alloc *SubAllocation) error {
	if alloc.IsNull() {
		return nil
	}

	p.logger.Debug("Pool::FreeSubAllocation")

	blockToDelete, err := p.freeWithLock(alloc)
	if err != nil {
		return err
	}

	if blockToDelete != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty block", slog.Int("block.id", blockToDelete.id))
		blockToDelete.Destroy(p.device)
	}

	*alloc = SubAllocation{}
	return nil
}

func (p *Pool) freeWithLock(alloc *SubAllocation) (blockToDelete *poolBlock, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	block := alloc.block
	if p.blockIndex(block) < 0 {
		return nil, errors.Wrapf(ErrStaleSubAllocation, "pool %q does not own block %d", p.name, block.id)
	}

	serial, err := block.metadata.AllocationUserData(alloc.handle)
	if err != nil || serial != alloc.serial {
		return nil, errors.Wrapf(ErrStaleSubAllocation, "pool %q block %d offset %d", p.name, block.id, alloc.offset)
	}

	hasEmptyBlockBeforeFree := p.hasEmptyBlock()
	err = block.metadata.Free(alloc.handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when freeing suballocation with handle %+v in metadata: %+v", alloc.handle, err))
	}
	memutils.DebugValidate(block)

	p.allocationCount--
	p.wastedBytes -= alloc.size - alloc.requestedSize

	canDeleteBlock := len(p.blocks) > p.minBlockCount

	if block.metadata.IsEmpty() && (block.dedicated || (hasEmptyBlockBeforeFree && canDeleteBlock)) {
		blockToDelete = block
		p.remove(block)
	} else if !block.metadata.IsEmpty() && hasEmptyBlockBeforeFree && canDeleteBlock {
		// There is an empty block somewhere we don't need
		lastBlock := p.blocks[len(p.blocks)-1]
		if lastBlock.metadata.IsEmpty() {
			blockToDelete = lastBlock
			p.blocks = p.blocks[:len(p.blocks)-1]
		}
	}

	p.incrementallySortBlocks()

	return blockToDelete, nil
}

func (p *Pool) createBlock(blockSize int, dedicated bool) (*poolBlock, error) {
	buffer, err := p.device.CreateBuffer(BufferDesc{
		Name:   fmt.Sprintf("%s#%d", p.name, p.nextBlockId),
		Size:   blockSize,
		Usage:  p.usage,
		Memory: p.memory,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pool %q failed to create a block of %d bytes", p.name, blockSize)
	}

	block := newPoolBlock(p.logger, p.nextBlockId, buffer, blockSize, dedicated)
	p.nextBlockId++

	p.blocks = append(p.blocks, block)
	return block, nil
}

func (p *Pool) blockIndex(block *poolBlock) int {
	for blockIndex := 0; blockIndex < len(p.blocks); blockIndex++ {
		if p.blocks[blockIndex] == block {
			return blockIndex
		}
	}

	return -1
}

func (p *Pool) remove(block *poolBlock) {
	blockIndex := p.blockIndex(block)
	if blockIndex < 0 {
		panic("attempted to remove a block from a pool that did not belong to it")
	}

	p.blocks = append(p.blocks[0:blockIndex], p.blocks[blockIndex+1:]...)
}

func (p *Pool) hasEmptyBlock() bool {
	for blockIndex := 0; blockIndex < len(p.blocks); blockIndex++ {
		block := p.blocks[blockIndex]
		if !block.dedicated && block.metadata.IsEmpty() {
			return true
		}
	}

	return false
}

func (p *Pool) incrementallySortBlocks() {
	for blockIndex := 1; blockIndex < len(p.blocks); blockIndex++ {
		if p.blocks[blockIndex-1].metadata.SumFreeSize() > p.blocks[blockIndex].metadata.SumFreeSize() {
			p.blocks[blockIndex-1], p.blocks[blockIndex] = p.blocks[blockIndex], p.blocks[blockIndex-1]
			return
		}
	}
}

// PrintDetailedMap writes a json object describing every block of the pool and the regions within
func (p *Pool) PrintDetailedMap(writer *jwriter.Writer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	objState := writer.Object()
	defer objState.End()

	for i := 0; i < len(p.blocks); i++ {
		block := p.blocks[i]

		blockObj := objState.Name(strconv.Itoa(block.id)).Object()

		blockObj.Name("Dedicated").Bool(block.dedicated)
		blockObj.Name("GPUAddress").String(fmt.Sprintf("0x%x", block.buffer.GPUAddress()))
		block.metadata.BlockJsonData(&blockObj)

		p.printDetailedMapRegions(block.metadata, &blockObj)

		blockObj.End()
	}
}

func (p *Pool) printDetailedMapRegions(md metadata.BlockMetadata, json *jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)
			obj.Name("Free").Bool(free)

			return nil
		})
}

// Destroy releases every block of the pool back to the device. Suballocations that are still
// live are logged as unreleased memory.
func (p *Pool) Destroy() {
	p.logger.Debug("Pool::Destroy")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.allocationCount > 0 {
		p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] pool destroyed with live suballocations",
			slog.String("pool", p.name),
			slog.Int("count", p.allocationCount),
		)
	}

	p.destroyBlocks()
	p.allocationCount = 0
	p.wastedBytes = 0
}

func (p *Pool) destroyBlocks() {
	for _, block := range p.blocks {
		block.Destroy(p.device)
	}
	p.blocks = nil
}
