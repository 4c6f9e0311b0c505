package accel

import (
	"fmt"

	"github.com/vkngwrapper/rtas/suballoc"
)

// RecordState is the lifecycle phase of a structure
type RecordState uint32

const (
	// RecordCompactionPending structures have been built and are waiting for their compacted size
	// to be read back so that they can be compacted
	RecordCompactionPending RecordState = iota
	// RecordBuildComplete structures are waiting for their build, or their compaction copy, to
	// retire so that their scratch memory and any pre-compaction memory can be freed
	RecordBuildComplete
	// RecordResident structures are fully built and own only the memory they need to be traced
	RecordResident
	// RecordReleasePending structures have been removed and are waiting for the last commands that
	// referenced them to retire
	RecordReleasePending
)

var recordStateMapping = map[RecordState]string{
	RecordCompactionPending: "RecordCompactionPending",
	RecordBuildComplete:     "RecordBuildComplete",
	RecordResident:          "RecordResident",
	RecordReleasePending:    "RecordReleasePending",
}

func (s RecordState) String() string {
	str, ok := recordStateMapping[s]
	if !ok {
		return "unknown RecordState"
	}

	return str
}

// Record tracks the memory of one acceleration structure through its lifecycle
type Record struct {
	name  string
	state RecordState

	scratch      suballoc.SubAllocation
	result       suballoc.SubAllocation
	compacted    suballoc.SubAllocation
	sizeGPU      suballoc.SubAllocation
	sizeReadback suballoc.SubAllocation

	isCompacted         bool
	requestedCompaction bool
	removeRequested     bool
	// frameIndexRequest is the frame during which the record was last placed on a queue
	frameIndexRequest uint64

	resultSize    int
	compactedSize int
}

// address is the device address of the structure that should be traced against
func (r *Record) address() uint64 {
	if r.isCompacted {
		return r.compacted.GPUAddress()
	}
	return r.result.GPUAddress()
}

// RecordInfo is a snapshot of a structure's lifecycle state, returned from Manager.Info
type RecordInfo struct {
	Name  string
	State RecordState

	Address       uint64
	ResultSize    int
	CompactedSize int

	IsCompacted         bool
	RequestedCompaction bool
	RemoveRequested     bool
	FrameIndexRequest   uint64
}

func (r *Record) info() RecordInfo {
	return RecordInfo{
		Name:                r.name,
		State:               r.state,
		Address:             r.address(),
		ResultSize:          r.resultSize,
		CompactedSize:       r.compactedSize,
		IsCompacted:         r.isCompacted,
		RequestedCompaction: r.requestedCompaction,
		RemoveRequested:     r.removeRequested,
		FrameIndexRequest:   r.frameIndexRequest,
	}
}

// RecordID identifies a structure owned by a Manager. IDs of released structures never resolve
// again, even after their storage has been reused. The zero value is never a valid ID.
type RecordID struct {
	index      uint32
	generation uint32
}

func (id RecordID) IsNull() bool {
	return id.generation == 0
}

func (id RecordID) String() string {
	return fmt.Sprintf("%d:%d", id.index, id.generation)
}

type arenaSlot struct {
	record     Record
	generation uint32
	live       bool
}

// recordArena stores records in stable slots and recycles released slots under a new generation
type recordArena struct {
	slots     []*arenaSlot
	freeSlots []uint32
	count     int
}

func (a *recordArena) Create() (RecordID, *Record) {
	var index uint32
	if len(a.freeSlots) > 0 {
		index = a.freeSlots[len(a.freeSlots)-1]
		a.freeSlots = a.freeSlots[:len(a.freeSlots)-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, &arenaSlot{})
	}

	slot := a.slots[index]
	slot.generation++
	if slot.generation == 0 {
		slot.generation = 1
	}
	slot.live = true
	slot.record = Record{}
	a.count++

	return RecordID{index: index, generation: slot.generation}, &slot.record
}

// Get returns the live record for id, or nil if id is null, stale or released
func (a *recordArena) Get(id RecordID) *Record {
	if id.IsNull() || int(id.index) >= len(a.slots) {
		return nil
	}

	slot := a.slots[id.index]
	if !slot.live || slot.generation != id.generation {
		return nil
	}

	return &slot.record
}

func (a *recordArena) Release(id RecordID) {
	if a.Get(id) == nil {
		panic(fmt.Sprintf("attempted to release record %s, which is not live", id))
	}

	slot := a.slots[id.index]
	slot.live = false
	slot.record = Record{}
	a.freeSlots = append(a.freeSlots, id.index)
	a.count--
}

func (a *recordArena) Len() int {
	return a.count
}

// Visit calls visitor for every live record in slot order until visitor returns false
func (a *recordArena) Visit(visitor func(id RecordID, record *Record) bool) {
	for index, slot := range a.slots {
		if !slot.live {
			continue
		}

		if !visitor(RecordID{index: uint32(index), generation: slot.generation}, &slot.record) {
			return
		}
	}
}
