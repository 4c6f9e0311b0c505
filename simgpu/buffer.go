package simgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rtas/suballoc"
)

// Buffer is a range of simulated device memory. Its contents are allocated on first use.
type Buffer struct {
	name    string
	usage   suballoc.UsageClass
	memory  suballoc.MemoryClass
	address uint64
	size    int

	data      []byte
	mapCount  int
	destroyed bool
}

var _ suballoc.Buffer = &Buffer{}

func (b *Buffer) Name() string                 { return b.name }
func (b *Buffer) Usage() suballoc.UsageClass   { return b.usage }
func (b *Buffer) Memory() suballoc.MemoryClass { return b.memory }
func (b *Buffer) Size() int                    { return b.size }
func (b *Buffer) GPUAddress() uint64           { return b.address }

func (b *Buffer) bytes() []byte {
	if b.data == nil {
		b.data = make([]byte, b.size)
	}
	return b.data
}

func (b *Buffer) contains(address uint64, size int) bool {
	return address >= b.address && address+uint64(size) <= b.address+uint64(b.size)
}

func (b *Buffer) Map() ([]byte, error) {
	if b.destroyed {
		return nil, errors.Newf("buffer %q has been destroyed", b.name)
	}
	if b.memory != suballoc.MemoryReadback {
		return nil, errors.Wrapf(ErrNotHostVisible, "buffer %q is in %s", b.name, b.memory)
	}

	b.mapCount++
	return b.bytes(), nil
}

func (b *Buffer) Unmap() {
	if b.mapCount == 0 {
		panic("attempted to unmap a buffer that is not mapped")
	}
	b.mapCount--
}
