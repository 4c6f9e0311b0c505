package metadata

import "math"

// BlockAllocationHandle is a numeric handle used to identify a single region of memory within
// a BlockMetadata. Handles are never reused by the metadata that produced them.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)
