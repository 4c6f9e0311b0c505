package suballoc

import "github.com/vkngwrapper/rtas/memutils/metadata"

// SubAllocation is a range of bytes within one block of a Pool. The zero value is the null
// suballocation, which owns nothing.
type SubAllocation struct {
	block         *poolBlock
	handle        metadata.BlockAllocationHandle
	serial        uint64
	offset        int
	size          int
	requestedSize int
}

// IsNull returns true if this suballocation does not refer to any memory
func (a *SubAllocation) IsNull() bool {
	return a.block == nil
}

// Buffer returns the buffer resource of the block this suballocation lives in, or nil for the
// null suballocation
func (a *SubAllocation) Buffer() Buffer {
	if a.block == nil {
		return nil
	}
	return a.block.buffer
}

// BlockID returns the id of the block this suballocation lives in, or -1 for the null
// suballocation. Ids are unique for the life of a pool.
func (a *SubAllocation) BlockID() int {
	if a.block == nil {
		return -1
	}
	return a.block.id
}

// Offset returns the offset in bytes of this suballocation within its block's buffer
func (a *SubAllocation) Offset() int { return a.offset }

// Size returns the number of bytes claimed in the block, which is the requested size rounded up
// to the suballocation's alignment
func (a *SubAllocation) Size() int { return a.size }

// RequestedSize returns the size that was passed to Pool.CreateSubAllocation
func (a *SubAllocation) RequestedSize() int { return a.requestedSize }

// GPUAddress returns the device virtual address of the first byte of this suballocation, or 0
// for the null suballocation
func (a *SubAllocation) GPUAddress() uint64 {
	if a.block == nil {
		return 0
	}
	return a.block.buffer.GPUAddress() + uint64(a.offset)
}
