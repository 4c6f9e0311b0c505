package simgpu

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/rtas/accel"
	"github.com/vkngwrapper/rtas/suballoc"
	"golang.org/x/exp/slog"
)

const (
	baseAddress        uint64 = 0x10000
	addressGranularity uint64 = 0x10000
)

type structure struct {
	inputs        accel.BuildInputs
	size          int
	compactedSize int
	compacted     bool
}

// Device is an in-memory stand-in for a GPU that supports acceleration structures. Buffers are
// laid out in a single device address space, and structures are tracked by the address they
// were built or copied to.
type Device struct {
	logger *slog.Logger
	sizer  Sizer

	nextAddress uint64
	// buffers is ordered by address
	buffers    []*Buffer
	structures *swiss.Map[uint64, *structure]

	createdBuffers int
}

var _ accel.Device = &Device{}

// NewDevice creates a Device that reports memory requirements from sizer. A nil sizer uses
// DefaultSizer.
func NewDevice(logger *slog.Logger, sizer Sizer) *Device {
	if sizer == nil {
		sizer = DefaultSizer
	}

	return &Device{
		logger:      logger,
		sizer:       sizer,
		nextAddress: baseAddress,
		structures:  swiss.NewMap[uint64, *structure](64),
	}
}

func (d *Device) CreateBuffer(desc suballoc.BufferDesc) (suballoc.Buffer, error) {
	if desc.Size < 1 {
		return nil, errors.Newf("buffer %q has invalid size %d", desc.Name, desc.Size)
	}

	buffer := &Buffer{
		name:    desc.Name,
		usage:   desc.Usage,
		memory:  desc.Memory,
		address: d.nextAddress,
		size:    desc.Size,
	}

	span := (uint64(desc.Size) + addressGranularity - 1) &^ (addressGranularity - 1)
	d.nextAddress += span
	d.buffers = append(d.buffers, buffer)
	d.createdBuffers++

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created buffer",
		slog.String("name", desc.Name),
		slog.Int("size", desc.Size),
		slog.String("usage", desc.Usage.String()),
	)

	return buffer, nil
}

func (d *Device) DestroyBuffer(buffer suballoc.Buffer) {
	simBuffer, ok := buffer.(*Buffer)
	if !ok {
		panic("attempted to destroy a buffer that was not created by the simulated device")
	}

	index := d.bufferIndex(simBuffer.address)
	if index < 0 || d.buffers[index] != simBuffer {
		panic("attempted to destroy a buffer that is not live")
	}

	copy(d.buffers[index:], d.buffers[index+1:])
	d.buffers[len(d.buffers)-1] = nil
	d.buffers = d.buffers[:len(d.buffers)-1]

	var stale []uint64
	d.structures.Iter(func(address uint64, _ *structure) bool {
		if simBuffer.contains(address, 1) {
			stale = append(stale, address)
		}
		return false
	})
	for _, address := range stale {
		d.structures.Delete(address)
	}

	simBuffer.destroyed = true
	simBuffer.data = nil
}

func (d *Device) PrebuildInfo(inputs *accel.BuildInputs) (accel.PrebuildInfo, error) {
	return d.sizer.PrebuildInfo(inputs)
}

// LiveBuffers returns the number of buffers that have been created and not destroyed
func (d *Device) LiveBuffers() int {
	return len(d.buffers)
}

// CreatedBuffers returns the number of buffers ever created
func (d *Device) CreatedBuffers() int {
	return d.createdBuffers
}

// LiveBytes returns the combined size of all live buffers
func (d *Device) LiveBytes() int {
	total := 0
	for _, buffer := range d.buffers {
		total += buffer.size
	}
	return total
}

// StructureAt reports whether a structure has been built or copied to address and, if so, its
// size and whether it is a compacted copy
func (d *Device) StructureAt(address uint64) (size int, compacted bool, ok bool) {
	found, ok := d.structures.Get(address)
	if !ok {
		return 0, false, false
	}
	return found.size, found.compacted, true
}

func (d *Device) bufferIndex(address uint64) int {
	index := sort.Search(len(d.buffers), func(i int) bool {
		return d.buffers[i].address+uint64(d.buffers[i].size) > address
	})
	if index == len(d.buffers) || d.buffers[index].address > address {
		return -1
	}
	return index
}

// resolve returns the buffer holding [address, address+size) and the offset of address in it
func (d *Device) resolve(address uint64, size int) (*Buffer, int, error) {
	index := d.bufferIndex(address)
	if index < 0 || !d.buffers[index].contains(address, size) {
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "0x%x (%d bytes)", address, size)
	}

	buffer := d.buffers[index]
	return buffer, int(address - buffer.address), nil
}

func (d *Device) executeBuild(command *accel.BuildCommand) error {
	prebuild, err := d.sizer.PrebuildInfo(command.Inputs)
	if err != nil {
		return err
	}

	_, _, err = d.resolve(command.DestAddress, prebuild.ResultSize)
	if err != nil {
		return errors.Wrap(err, "build destination")
	}
	_, _, err = d.resolve(command.ScratchAddress, prebuild.ScratchSize)
	if err != nil {
		return errors.Wrap(err, "build scratch")
	}

	built := &structure{
		inputs:        *command.Inputs,
		size:          prebuild.ResultSize,
		compactedSize: d.sizer.CompactedSize(command.Inputs, prebuild.ResultSize),
	}
	d.structures.Put(command.DestAddress, built)

	if command.PostbuildSizeAddress != 0 {
		buffer, offset, err := d.resolve(command.PostbuildSizeAddress, accel.PostbuildSizeSlot)
		if err != nil {
			return errors.Wrap(err, "postbuild size slot")
		}
		putSize(buffer.bytes()[offset:], uint64(built.compactedSize))
	}

	return nil
}

func (d *Device) executeCopyStructure(dst, src uint64, mode accel.CopyMode) error {
	source, ok := d.structures.Get(src)
	if !ok {
		return errors.Wrapf(ErrUnknownStructure, "copy source 0x%x", src)
	}

	size := source.size
	if mode == accel.CopyModeCompact {
		size = source.compactedSize
	}

	_, _, err := d.resolve(dst, size)
	if err != nil {
		return errors.Wrap(err, "copy destination")
	}

	d.structures.Put(dst, &structure{
		inputs:        source.inputs,
		size:          size,
		compactedSize: source.compactedSize,
		compacted:     source.compacted || mode == accel.CopyModeCompact,
	})
	return nil
}

func (d *Device) executeCopyBuffer(dst *Buffer, dstOffset int, src *Buffer, srcOffset int, size int) error {
	if dst.destroyed || src.destroyed {
		return errors.Wrapf(ErrInvalidAddress, "buffer copy from %q to %q touches a destroyed buffer", src.name, dst.name)
	}
	if dstOffset < 0 || srcOffset < 0 || size < 0 || dstOffset+size > dst.size || srcOffset+size > src.size {
		return errors.Newf("buffer copy of %d bytes from %q@%d to %q@%d is out of range", size, src.name, srcOffset, dst.name, dstOffset)
	}

	copy(dst.bytes()[dstOffset:dstOffset+size], src.bytes()[srcOffset:srcOffset+size])
	return nil
}
