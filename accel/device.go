package accel

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/rtas/suballoc"
)

//go:generate mockgen -destination mocks/mocks.go -package mocks github.com/vkngwrapper/rtas/accel Device,CommandList

const (
	// StructureAlignment is the alignment required of the result and compaction buffers of an
	// acceleration structure
	StructureAlignment uint = 256
	// ScratchAlignment is the alignment required of scratch buffers passed to a build
	ScratchAlignment uint = 256
	// PostbuildSizeSlot is the number of bytes the device writes when asked to emit the compacted
	// size of a structure after building it
	PostbuildSizeSlot = 8
	// PostbuildSizeAlignment is the alignment of a postbuild size slot
	PostbuildSizeAlignment uint = 8
)

// StructureType distinguishes bottom-level structures, built over geometry, from top-level
// structures, built over instances of bottom-level structures
type StructureType uint32

const (
	StructureBottomLevel StructureType = iota
	StructureTopLevel
)

var structureTypeMapping = map[StructureType]string{
	StructureBottomLevel: "StructureBottomLevel",
	StructureTopLevel:    "StructureTopLevel",
}

func (t StructureType) String() string {
	str, ok := structureTypeMapping[t]
	if !ok {
		return "unknown StructureType"
	}

	return str
}

// BuildFlags are passed to the device along with a build and select how the structure is built
type BuildFlags int32

var buildFlagsMapping = common.NewFlagStringMapping[BuildFlags]()

func (f BuildFlags) Register(str string) {
	buildFlagsMapping.Register(f, str)
}
func (f BuildFlags) String() string {
	return buildFlagsMapping.FlagsToString(f)
}

const (
	// BuildAllowUpdate permits the structure to be refit in place later
	BuildAllowUpdate BuildFlags = 1 << iota
	// BuildAllowCompaction asks for the structure to be compacted once its exact size is known
	BuildAllowCompaction
	// BuildPreferFastTrace trades build time for trace performance
	BuildPreferFastTrace
	// BuildPreferFastBuild trades trace performance for build time
	BuildPreferFastBuild
	// BuildMinimizeMemory trades build time and trace performance for a smaller result
	BuildMinimizeMemory
)

func init() {
	BuildAllowUpdate.Register("BuildAllowUpdate")
	BuildAllowCompaction.Register("BuildAllowCompaction")
	BuildPreferFastTrace.Register("BuildPreferFastTrace")
	BuildPreferFastBuild.Register("BuildPreferFastBuild")
	BuildMinimizeMemory.Register("BuildMinimizeMemory")
}

type GeometryType uint32

const (
	GeometryTriangles GeometryType = iota
	GeometryAABBs
)

var geometryTypeMapping = map[GeometryType]string{
	GeometryTriangles: "GeometryTriangles",
	GeometryAABBs:     "GeometryAABBs",
}

func (t GeometryType) String() string {
	str, ok := geometryTypeMapping[t]
	if !ok {
		return "unknown GeometryType"
	}

	return str
}

// Geometry is one geometry description of a bottom-level build. The vertex, index and AABB
// data are owned by the caller and referenced by device address.
type Geometry struct {
	Type GeometryType
	// PrimitiveCount is the number of triangles or AABBs in the geometry
	PrimitiveCount int
	Opaque         bool

	VertexAddress uint64
	VertexStride  int
	VertexCount   int
	IndexAddress  uint64
	AABBAddress   uint64
}

// BuildInputs describes what a single structure is built over
type BuildInputs struct {
	Type  StructureType
	Flags BuildFlags

	// Geometry is used by bottom-level builds
	Geometry []Geometry
	// InstanceCount and InstanceAddress are used by top-level builds
	InstanceCount   int
	InstanceAddress uint64
}

// BuildDesc is one entry of a batch passed to Manager.Build
type BuildDesc struct {
	// Name is only used for diagnostics
	Name   string
	Inputs BuildInputs
}

// PrebuildInfo holds the conservative memory requirements the device reports for a build
type PrebuildInfo struct {
	ResultSize        int
	ScratchSize       int
	UpdateScratchSize int
}

// BuildCommand is appended to a command list to build one structure. PostbuildSizeAddress is
// zero when no compacted size is requested.
type BuildCommand struct {
	Inputs               *BuildInputs
	DestAddress          uint64
	ScratchAddress       uint64
	PostbuildSizeAddress uint64
}

// CopyMode selects how CommandList.CopyAccelerationStructure copies a structure
type CopyMode uint32

const (
	CopyModeClone CopyMode = iota
	CopyModeCompact
)

var copyModeMapping = map[CopyMode]string{
	CopyModeClone:   "CopyModeClone",
	CopyModeCompact: "CopyModeCompact",
}

func (m CopyMode) String() string {
	str, ok := copyModeMapping[m]
	if !ok {
		return "unknown CopyMode"
	}

	return str
}

// ResourceState is the state a buffer must be transitioned to before the device accesses it
// in a particular way
type ResourceState uint32

const (
	ResourceStateUnorderedAccess ResourceState = iota
	ResourceStateCopySource
	ResourceStateCopyDest
)

var resourceStateMapping = map[ResourceState]string{
	ResourceStateUnorderedAccess: "ResourceStateUnorderedAccess",
	ResourceStateCopySource:      "ResourceStateCopySource",
	ResourceStateCopyDest:        "ResourceStateCopyDest",
}

func (s ResourceState) String() string {
	str, ok := resourceStateMapping[s]
	if !ok {
		return "unknown ResourceState"
	}

	return str
}

// Device is the GPU device structures are built on. It creates the buffers that back the
// Manager's pools and reports the memory requirements of builds.
type Device interface {
	suballoc.Device

	PrebuildInfo(inputs *BuildInputs) (PrebuildInfo, error)
}

// CommandList records commands for later submission by the caller. The Manager never submits
// or waits on a command list.
type CommandList interface {
	BuildAccelerationStructure(command BuildCommand)
	CopyAccelerationStructure(dst, src uint64, mode CopyMode)
	ResourceBarrier(buffer suballoc.Buffer, before, after ResourceState)
	CopyBuffer(dst suballoc.Buffer, dstOffset int, src suballoc.Buffer, srcOffset int, size int)
}
