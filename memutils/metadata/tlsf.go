package metadata

import (
	"fmt"
	"math"
	"math/bits"
	"sync"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/rtas/memutils"
)

const (
	smallBufferSize        = 256
	secondLevelIndex uint8 = 5
	memoryClassShift       = 7
	maxMemoryClasses       = 65 - memoryClassShift
)

var regionAllocator = sync.Pool{
	New: func() any {
		return &tlsfRegion{}
	},
}

// tlsfRegion is a physically contiguous range of the block, either taken or free. Physical neighbors
// are linked through prevPhysical/nextPhysical; free regions are additionally linked into one of the
// segregated free lists through prevFree/nextFree. A taken region points prevFree at itself.
type tlsfRegion struct {
	offset       int
	size         int
	prevPhysical *tlsfRegion
	nextPhysical *tlsfRegion

	prevFree *tlsfRegion
	nextFree *tlsfRegion

	userData any
	handle   BlockAllocationHandle
}

func (r *tlsfRegion) markFree() {
	r.prevFree = nil
}

func (r *tlsfRegion) markTaken() {
	r.prevFree = r
}

func (r *tlsfRegion) isFree() bool {
	return r.prevFree != r
}

// TLSFBlockMetadata is a two-level segregated fit implementation of BlockMetadata. Free regions
// are bucketed by size class and sub-class with a bitmap per level, so that a suitable free region
// can be found in constant time. The trailing free space of the block is held in a dedicated
// null region that is never part of the free lists.
type TLSFBlockMetadata struct {
	BlockMetadataBase

	allocCount        int
	freeRegionCount   int
	freeRegionBytes   int
	isFreeBitmap      uint32
	innerIsFreeBitmap [maxMemoryClasses]uint32

	nextHandle  BlockAllocationHandle
	regions     *swiss.Map[BlockAllocationHandle, *tlsfRegion]
	freeList    []*tlsfRegion
	nullRegion  *tlsfRegion
	firstRegion *tlsfRegion
}

var _ BlockMetadata = &TLSFBlockMetadata{}

func NewTLSFBlockMetadata() *TLSFBlockMetadata {
	return &TLSFBlockMetadata{}
}

func (m *TLSFBlockMetadata) newRegion() *tlsfRegion {
	r := regionAllocator.Get().(*tlsfRegion)
	*r = tlsfRegion{}
	m.nextHandle++
	r.handle = m.nextHandle
	m.regions.Put(r.handle, r)
	return r
}

func (m *TLSFBlockMetadata) releaseRegion(r *tlsfRegion) {
	m.regions.Delete(r.handle)
	regionAllocator.Put(r)
}

func (m *TLSFBlockMetadata) region(handle BlockAllocationHandle) (*tlsfRegion, error) {
	r, ok := m.regions.Get(handle)
	if !ok {
		return nil, errors.Errorf("received handle %d that is not live in this metadata", handle)
	}
	return r, nil
}

func (m *TLSFBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.regions = swiss.NewMap[BlockAllocationHandle, *tlsfRegion](42)

	m.nullRegion = m.newRegion()
	m.nullRegion.size = size
	m.nullRegion.markFree()
	m.firstRegion = m.nullRegion

	memoryClass := sizeToMemoryClass(size)
	secondIndex := sizeToSecondIndex(size, memoryClass)

	listSize := 1
	if memoryClass != 0 {
		listSize = int(memoryClass-1)*(1<<secondLevelIndex) + int(secondIndex+1)
	}

	m.freeList = make([]*tlsfRegion, listSize+4)
}

func (m *TLSFBlockMetadata) Validate() error {
	if m.SumFreeSize() > m.Size() {
		return errors.New("invalid metadata free size")
	}

	calculatedSize := m.nullRegion.size
	calculatedFreeSize := m.nullRegion.size
	var allocCount, freeCount, freeListCount int

	for listIndex := 0; listIndex < len(m.freeList); listIndex++ {
		r := m.freeList[listIndex]
		if r == nil {
			continue
		}

		if !r.isFree() {
			return errors.Errorf("region at offset %d is in the free list but is not free", r.offset)
		}

		if r.prevFree != nil {
			return errors.Errorf("region at offset %d is the head of a free list but has a previous region", r.offset)
		}

		freeListCount++
		for r.nextFree != nil {
			if !r.nextFree.isFree() {
				return errors.Errorf("region at offset %d is in the free list but it is not free", r.nextFree.offset)
			}
			if r.nextFree.prevFree != r {
				return errors.Errorf("region at offset %d lists the region at offset %d as its next region, but the reverse reference is broken", r.offset, r.nextFree.offset)
			}

			freeListCount++
			r = r.nextFree
		}
	}

	if m.nullRegion.nextPhysical != nil {
		return errors.New("null region must be the tail of its physical region chain")
	}

	if m.nullRegion.prevPhysical != nil && m.nullRegion.prevPhysical.nextPhysical != m.nullRegion {
		return errors.New("null region has a physical region before it in its chain, but the reverse reference is broken")
	}

	nextOffset := m.nullRegion.offset
	for prev := m.nullRegion.prevPhysical; prev != nil; prev = prev.prevPhysical {
		if prev.offset+prev.size != nextOffset {
			return errors.Errorf("physical region at offset %d does not end at the next region's start offset", prev.offset)
		}

		nextOffset = prev.offset
		calculatedSize += prev.size

		if prev.isFree() {
			freeCount++
			calculatedFreeSize += prev.size
		} else {
			allocCount++
		}

		if prev.prevPhysical != nil && prev.prevPhysical.nextPhysical != prev {
			return errors.Errorf("region at offset %d has a previous physical region, but the reverse reference is broken", prev.offset)
		}
	}

	if freeListCount != freeCount {
		return errors.Errorf("the number of free regions in the physical list and the number of regions in the free lists do not match! free list size: %d, physical list free regions: %d", freeListCount, freeCount)
	}

	if nextOffset != 0 {
		return errors.Errorf("the first physical region should have an offset of 0, but instead it has an offset of %d", nextOffset)
	}

	if calculatedSize != m.Size() {
		return errors.Errorf("the full size of the metadata is %d, but the regions only added up to %d", m.Size(), calculatedSize)
	}

	if calculatedFreeSize != m.SumFreeSize() {
		return errors.Errorf("the free size of the metadata is %d, but the free regions only added up to %d", m.SumFreeSize(), calculatedFreeSize)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the taken regions only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.freeRegionCount {
		return errors.Errorf("the free region count of the metadata is %d, but there were only %d free regions", m.freeRegionCount, freeCount)
	}

	return nil
}

func (m *TLSFBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.Size()
	if m.nullRegion.size > 0 {
		stats.AddUnusedRange(m.nullRegion.size)
	}

	for r := m.nullRegion.prevPhysical; r != nil; r = r.prevPhysical {
		if r.isFree() {
			stats.AddUnusedRange(r.size)
		} else {
			stats.AddAllocation(r.size)
		}
	}
}

func (m *TLSFBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.Size()
	stats.AllocationBytes += m.Size() - m.SumFreeSize()
}

func (m *TLSFBlockMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *TLSFBlockMetadata) FreeRegionsCount() int {
	if m.nullRegion.size > 0 {
		return m.freeRegionCount + 1
	}
	return m.freeRegionCount
}

func (m *TLSFBlockMetadata) SumFreeSize() int {
	return m.freeRegionBytes + m.nullRegion.size
}

func (m *TLSFBlockMetadata) IsEmpty() bool {
	return m.nullRegion.offset == 0
}

func (m *TLSFBlockMetadata) MayHaveFreeBlock(size int) bool {
	if m.nullRegion.size >= size {
		return true
	}

	// Any free region of a size class at or above the requested one might fit
	return m.isFreeBitmap>>sizeToMemoryClass(size) != 0
}

func sizeToMemoryClass(size int) uint8 {
	if size > smallBufferSize {
		mostSignificantBit := uint8(63 - bits.LeadingZeros64(uint64(size)))
		return mostSignificantBit - memoryClassShift
	}

	return 0
}

func sizeToSecondIndex(size int, memoryClass uint8) uint16 {
	if memoryClass != 0 {
		mask := uint(1) << secondLevelIndex
		indexVal := uint(size) >> (memoryClass + memoryClassShift - secondLevelIndex)
		return uint16(indexVal ^ mask)
	}

	return uint16((size - 1) / 64)
}

func listIndex(memoryClass uint8, secondIndex uint16) int {
	if memoryClass == 0 {
		return int(secondIndex)
	}

	return int(memoryClass-1)*(1<<secondLevelIndex) + int(secondIndex) + 4
}

func listIndexFromSize(size int) int {
	memoryClass := sizeToMemoryClass(size)
	return listIndex(memoryClass, sizeToSecondIndex(size, memoryClass))
}

func (m *TLSFBlockMetadata) CreateAllocationRequest(
	allocSize int, allocAlignment uint,
	strategy AllocationStrategy,
) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	memutils.DebugCheckPow2(allocAlignment, "allocAlignment")

	memutils.DebugValidate(m)

	if allocSize > m.SumFreeSize() {
		return false, allocRequest, nil
	}

	// No free regions outside the null region
	if m.freeRegionCount == 0 {
		return m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &allocRequest), allocRequest, nil
	}

	// Round up to the next list so that any region found there is guaranteed to fit
	sizeForNextList := allocSize
	smallSizeStep := smallBufferSize / 4
	if allocSize > smallBufferSize {
		mostSignificantBit := 63 - bits.LeadingZeros64(uint64(allocSize))
		sizeForNextList += 1 << (mostSignificantBit - int(secondLevelIndex))
	} else if allocSize > smallBufferSize-smallSizeStep {
		sizeForNextList = smallBufferSize + 1
	} else {
		sizeForNextList += smallSizeStep
	}

	nextListIndex := 0
	doFullSearch := false
	var nextListRegion *tlsfRegion

	switch {
	case strategy&AllocationStrategyMinTime != 0:
		// Larger bucket first
		nextListRegion, nextListIndex = m.findFreeRegion(sizeForNextList)
		if nextListRegion != nil {
			doFullSearch = true
			if m.checkRegion(nextListRegion, nextListIndex, allocSize, allocAlignment, &allocRequest) {
				return true, allocRequest, nil
			}
		}

		if m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		if m.checkList(nextListRegion, nextListIndex, allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		// Best-fit bucket last
		prevListRegion, prevListIndex := m.findFreeRegion(allocSize)
		if m.checkList(prevListRegion, prevListIndex, allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}
	case strategy&AllocationStrategyMinMemory != 0:
		// Best-fit bucket first
		prevListRegion, prevListIndex := m.findFreeRegion(allocSize)
		if m.checkList(prevListRegion, prevListIndex, allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		if m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		nextListRegion, nextListIndex = m.findFreeRegion(sizeForNextList)
		doFullSearch = nextListRegion != nil
		if m.checkList(nextListRegion, nextListIndex, allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}
	default:
		nextListRegion, nextListIndex = m.findFreeRegion(sizeForNextList)
		doFullSearch = nextListRegion != nil
		if m.checkList(nextListRegion, nextListIndex, allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		if m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}

		prevListRegion, prevListIndex := m.findFreeRegion(allocSize)
		if m.checkList(prevListRegion, prevListIndex, allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}
	}

	if !doFullSearch {
		return false, allocRequest, nil
	}

	// Worst case, alignment defeated every bucket we looked at
	for nextListIndex++; nextListIndex < len(m.freeList); nextListIndex++ {
		if m.checkList(m.freeList[nextListIndex], nextListIndex, allocSize, allocAlignment, &allocRequest) {
			return true, allocRequest, nil
		}
	}

	return false, allocRequest, nil
}

// checkList walks a free list starting at head until a region accepts the allocation
func (m *TLSFBlockMetadata) checkList(
	head *tlsfRegion,
	listIndex int,
	allocSize int,
	allocAlignment uint,
	allocRequest *AllocationRequest,
) bool {
	for r := head; r != nil; r = r.nextFree {
		if m.checkRegion(r, listIndex, allocSize, allocAlignment, allocRequest) {
			return true
		}
	}

	return false
}

func (m *TLSFBlockMetadata) checkRegion(
	r *tlsfRegion,
	listIndex int,
	allocSize int,
	allocAlignment uint,
	allocRequest *AllocationRequest,
) bool {
	if !r.isFree() {
		panic(fmt.Sprintf("region at offset %d is already taken", r.offset))
	}

	alignedOffset := memutils.AlignUp(r.offset, allocAlignment)
	if r.size < allocSize+alignedOffset-r.offset {
		return false
	}

	allocRequest.Type = AllocationRequestTLSF
	allocRequest.BlockAllocationHandle = r.handle
	allocRequest.Size = allocSize
	allocRequest.AlgorithmData = uint64(alignedOffset)

	// Move the region to the head of its list so the next lookup finds it first
	if listIndex != len(m.freeList) && r.prevFree != nil {
		r.prevFree.nextFree = r.nextFree
		if r.nextFree != nil {
			r.nextFree.prevFree = r.prevFree
		}

		r.prevFree = nil
		r.nextFree = m.freeList[listIndex]
		m.freeList[listIndex] = r
		if r.nextFree != nil {
			r.nextFree.prevFree = r
		}
	}

	return true
}

func (m *TLSFBlockMetadata) findFreeRegion(size int) (*tlsfRegion, int) {
	memoryClass := sizeToMemoryClass(size)
	if int(memoryClass) >= maxMemoryClasses {
		return nil, 0
	}
	innerFreeMap := m.innerIsFreeBitmap[memoryClass] & (math.MaxUint32 << sizeToSecondIndex(size, memoryClass))

	if innerFreeMap == 0 {
		// Check higher classes for available regions
		freeMap := m.isFreeBitmap & (math.MaxUint32 << (memoryClass + 1))
		if freeMap == 0 {
			return nil, 0
		}

		memoryClass = uint8(bits.TrailingZeros32(freeMap))
		innerFreeMap = m.innerIsFreeBitmap[memoryClass]
		if innerFreeMap == 0 {
			panic("free bitmap is in an invalid state")
		}
	}

	index := listIndex(memoryClass, uint16(bits.TrailingZeros32(innerFreeMap)))
	if m.freeList[index] == nil {
		panic(fmt.Sprintf("free list index %d was listed as having free regions, but no regions were in the free list", index))
	}

	return m.freeList[index], index
}

func (m *TLSFBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	m.AddDetailedStatistics(&stats)

	m.writeBlockJsonData(json, stats.BlockBytes-stats.AllocationBytes, stats.AllocationCount, stats.UnusedRangeCount)
}

func (m *TLSFBlockMetadata) Alloc(req AllocationRequest, userData any) error {
	if req.Type != AllocationRequestTLSF {
		return errors.New("allocation request was received by an incompatible metadata")
	}

	current, err := m.region(req.BlockAllocationHandle)
	if err != nil {
		return err
	}

	offset := int(req.AlgorithmData)
	if !current.isFree() {
		return errors.Errorf("allocation request targets the taken region at offset %d", current.offset)
	}
	if current.offset > offset {
		return errors.New("allocation request had a region handle that was incompatible with the requested offset")
	}
	if current.size-(offset-current.offset) < req.Size {
		return errors.New("allocation request had a region handle too small for the request")
	}

	if current != m.nullRegion {
		m.removeFreeRegion(current)
	}

	missingAlignment := offset - current.offset

	// Hand the alignment padding to the previous region, or make it a free region of its own
	if missingAlignment != 0 {
		prev := current.prevPhysical
		if prev == nil {
			return errors.New("somehow had missing alignment at offset 0")
		}

		if prev.isFree() {
			oldListIndex := listIndexFromSize(prev.size)
			prev.size += missingAlignment

			if oldListIndex != listIndexFromSize(prev.size) {
				prev.size -= missingAlignment
				m.removeFreeRegion(prev)

				prev.size += missingAlignment
				m.insertFreeRegion(prev)
			} else {
				m.freeRegionBytes += missingAlignment
			}
		} else {
			padding := m.newRegion()
			current.prevPhysical = padding
			prev.nextPhysical = padding
			padding.prevPhysical = prev
			padding.nextPhysical = current
			padding.size = missingAlignment
			padding.offset = current.offset
			padding.markTaken()

			m.insertFreeRegion(padding)
		}

		current.size -= missingAlignment
		current.offset += missingAlignment
	}

	size := req.Size
	if current.size == size {
		if current == m.nullRegion {
			m.nullRegion = m.newRegion()
			m.nullRegion.offset = current.offset + size
			m.nullRegion.prevPhysical = current
			m.nullRegion.markFree()
			current.nextPhysical = m.nullRegion
			current.markTaken()
		}
	} else {
		rest := m.newRegion()
		rest.size = current.size - size
		rest.offset = current.offset + size
		rest.prevPhysical = current
		rest.nextPhysical = current.nextPhysical
		current.nextPhysical = rest
		current.size = size

		if current == m.nullRegion {
			m.nullRegion = rest
			rest.markFree()
			current.markTaken()
		} else {
			rest.nextPhysical.prevPhysical = rest
			rest.markTaken()
			m.insertFreeRegion(rest)
		}
	}

	current.userData = userData
	m.allocCount++

	return nil
}

func (m *TLSFBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	r, err := m.region(allocHandle)
	if err != nil {
		return err
	}
	if r.isFree() {
		return errors.New("region is already free")
	}

	next := r.nextPhysical
	r.userData = nil
	m.allocCount--

	prev := r.prevPhysical
	if prev != nil && prev.isFree() {
		m.removeFreeRegion(prev)
		m.mergeRegion(r, prev)
	}

	if !next.isFree() {
		m.insertFreeRegion(r)
	} else if next == m.nullRegion {
		m.mergeRegion(m.nullRegion, r)
	} else {
		m.removeFreeRegion(next)
		m.mergeRegion(next, r)
		m.insertFreeRegion(next)
	}

	return nil
}

func (m *TLSFBlockMetadata) removeFreeRegion(r *tlsfRegion) {
	if r == m.nullRegion {
		panic("cannot remove the null region")
	}
	if !r.isFree() {
		panic("provided region is not free")
	}

	if r.nextFree != nil {
		r.nextFree.prevFree = r.prevFree
	}
	if r.prevFree != nil {
		r.prevFree.nextFree = r.nextFree
	} else {
		memClass := sizeToMemoryClass(r.size)
		secondIndex := sizeToSecondIndex(r.size, memClass)
		index := listIndex(memClass, secondIndex)

		if m.freeList[index] != r {
			panic("region was not in the free list at the expected location")
		}
		m.freeList[index] = r.nextFree
		if r.nextFree == nil {
			m.innerIsFreeBitmap[memClass] &^= 1 << secondIndex
			if m.innerIsFreeBitmap[memClass] == 0 {
				m.isFreeBitmap &^= 1 << memClass
			}
		}
	}

	r.markTaken()
	r.nextFree = nil
	r.userData = nil
	m.freeRegionCount--
	m.freeRegionBytes -= r.size
}

func (m *TLSFBlockMetadata) insertFreeRegion(r *tlsfRegion) {
	if r == m.nullRegion {
		panic("cannot insert the null region")
	}
	if r.isFree() {
		panic("region is already free")
	}

	memClass := sizeToMemoryClass(r.size)
	secondIndex := sizeToSecondIndex(r.size, memClass)
	index := listIndex(memClass, secondIndex)

	if index >= len(m.freeList) {
		panic("invalid free list index found for region")
	}

	r.prevFree = nil
	r.nextFree = m.freeList[index]
	m.freeList[index] = r
	if r.nextFree != nil {
		r.nextFree.prevFree = r
	} else {
		m.innerIsFreeBitmap[memClass] |= 1 << secondIndex
		m.isFreeBitmap |= 1 << memClass
	}
	m.freeRegionCount++
	m.freeRegionBytes += r.size
}

// mergeRegion folds prev, the physical predecessor of r, into r
func (m *TLSFBlockMetadata) mergeRegion(r *tlsfRegion, prev *tlsfRegion) {
	if r.prevPhysical != prev {
		panic("cannot merge separate physical regions")
	}
	if prev.isFree() {
		panic("cannot merge a region that belongs to the free list")
	}

	r.offset = prev.offset
	r.size += prev.size
	r.prevPhysical = prev.prevPhysical
	if r.prevPhysical != nil {
		r.prevPhysical.nextPhysical = r
	} else {
		m.firstRegion = r
	}

	m.releaseRegion(prev)
}

func (m *TLSFBlockMetadata) VisitAllRegions(handleRegion func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for r := m.firstRegion; r != nil; r = r.nextPhysical {
		if r == m.nullRegion && r.size == 0 {
			continue
		}

		err := handleRegion(r.handle, r.offset, r.size, r.userData, r.isFree())
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *TLSFBlockMetadata) Clear() {
	m.allocCount = 0
	m.freeRegionCount = 0
	m.freeRegionBytes = 0
	m.isFreeBitmap = 0
	m.nullRegion.offset = 0
	m.nullRegion.size = m.Size()
	r := m.nullRegion.prevPhysical
	m.nullRegion.prevPhysical = nil
	m.firstRegion = m.nullRegion

	for r != nil {
		prev := r.prevPhysical
		m.releaseRegion(r)
		r = prev
	}

	m.freeList = make([]*tlsfRegion, len(m.freeList))
	m.innerIsFreeBitmap = [maxMemoryClasses]uint32{}
}

func (m *TLSFBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	r, err := m.region(allocHandle)
	if err != nil {
		return 0, err
	}

	return r.offset, nil
}

func (m *TLSFBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	r, err := m.region(allocHandle)
	if err != nil {
		return nil, err
	}

	if r.isFree() {
		return nil, errors.New("user data cannot be retrieved for a free region")
	}

	return r.userData, nil
}

func (m *TLSFBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	r, err := m.region(allocHandle)
	if err != nil {
		return err
	}

	if r.isFree() {
		return errors.New("user data cannot be set for a free region")
	}

	r.userData = userData
	return nil
}
