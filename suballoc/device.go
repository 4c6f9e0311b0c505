package suballoc

//go:generate mockgen -destination mocks/mocks.go -package mocks github.com/vkngwrapper/rtas/suballoc Device,Buffer

// UsageClass identifies what the memory in a pool's blocks will be used for. The device may
// use it to pick resource flags and the initial state of the buffers it creates.
type UsageClass uint32

const (
	// UsageScratch is transient working memory consumed by the device while it builds a structure
	UsageScratch UsageClass = iota
	// UsageResult holds freshly-built structures
	UsageResult
	// UsageCompactionTarget holds structures after they have been compacted
	UsageCompactionTarget
	// UsageCompactionSizeGPU holds the post-build compacted sizes written by the device
	UsageCompactionSizeGPU
	// UsageCompactionSizeReadback is a host-readable mirror of UsageCompactionSizeGPU
	UsageCompactionSizeReadback
)

var usageClassMapping = map[UsageClass]string{
	UsageScratch:                "UsageScratch",
	UsageResult:                 "UsageResult",
	UsageCompactionTarget:       "UsageCompactionTarget",
	UsageCompactionSizeGPU:      "UsageCompactionSizeGPU",
	UsageCompactionSizeReadback: "UsageCompactionSizeReadback",
}

func (u UsageClass) String() string {
	str, ok := usageClassMapping[u]
	if !ok {
		return "unknown UsageClass"
	}

	return str
}

// MemoryClass identifies the kind of memory a pool's blocks live in
type MemoryClass uint32

const (
	MemoryDeviceLocal MemoryClass = iota
	MemoryReadback
)

var memoryClassMapping = map[MemoryClass]string{
	MemoryDeviceLocal: "MemoryDeviceLocal",
	MemoryReadback:    "MemoryReadback",
}

func (c MemoryClass) String() string {
	str, ok := memoryClassMapping[c]
	if !ok {
		return "unknown MemoryClass"
	}

	return str
}

// BufferDesc describes a single buffer resource that a Pool wants to carve suballocations from
type BufferDesc struct {
	Name   string
	Size   int
	Usage  UsageClass
	Memory MemoryClass
}

// Buffer is a device buffer resource backing one block of a Pool
type Buffer interface {
	// Size returns the size of the buffer in bytes
	Size() int
	// GPUAddress returns the device virtual address of the first byte of the buffer
	GPUAddress() uint64
	// Map returns host-visible bytes for the whole buffer. Only buffers created in MemoryReadback
	// are required to support it.
	Map() ([]byte, error)
	Unmap()
}

// Device creates and destroys the buffers that back Pool blocks
type Device interface {
	CreateBuffer(desc BufferDesc) (Buffer, error)
	DestroyBuffer(buffer Buffer)
}
