package simgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rtas/accel"
)

// Sizer decides the memory requirements the simulated device reports for a build and the size
// the structure compacts to
type Sizer interface {
	PrebuildInfo(inputs *accel.BuildInputs) (accel.PrebuildInfo, error)
	CompactedSize(inputs *accel.BuildInputs, resultSize int) int
}

// LinearSizer sizes a structure as BaseSize plus BytesPerPrimitive for every triangle, AABB or
// instance it is built over. Scratch and compacted sizes are percentages of the result size.
type LinearSizer struct {
	BaseSize          int
	BytesPerPrimitive int
	ScratchPercent    int
	CompactedPercent  int
}

// DefaultSizer is used by a Device created without a Sizer
var DefaultSizer = LinearSizer{
	BaseSize:          4096,
	BytesPerPrimitive: 64,
	ScratchPercent:    50,
	CompactedPercent:  40,
}

func primitiveCount(inputs *accel.BuildInputs) int {
	if inputs.Type == accel.StructureTopLevel {
		return inputs.InstanceCount
	}

	count := 0
	for geometryIndex := range inputs.Geometry {
		count += inputs.Geometry[geometryIndex].PrimitiveCount
	}
	return count
}

func (s LinearSizer) PrebuildInfo(inputs *accel.BuildInputs) (accel.PrebuildInfo, error) {
	primitives := primitiveCount(inputs)
	if primitives < 0 {
		return accel.PrebuildInfo{}, errors.Newf("negative primitive count %d", primitives)
	}

	resultSize := s.BaseSize + s.BytesPerPrimitive*primitives
	scratchSize := resultSize * s.ScratchPercent / 100
	if scratchSize < 1 {
		scratchSize = 1
	}

	return accel.PrebuildInfo{
		ResultSize:        resultSize,
		ScratchSize:       scratchSize,
		UpdateScratchSize: scratchSize / 2,
	}, nil
}

func (s LinearSizer) CompactedSize(inputs *accel.BuildInputs, resultSize int) int {
	size := resultSize * s.CompactedPercent / 100
	if size < 1 {
		return 1
	}
	if size > resultSize {
		return resultSize
	}
	return size
}
