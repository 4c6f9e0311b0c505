package accel

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rtas/internal/utils"
	"github.com/vkngwrapper/rtas/suballoc"
	"golang.org/x/exp/slog"
)

type poolIndex int

const (
	poolScratch poolIndex = iota
	poolResult
	poolCompacted
	poolSizeGPU
	poolSizeReadback
	poolCount
)

// Manager owns the memory of acceleration structures from the moment they are built until the
// device can no longer reference them. Structures move through three queues as frames advance:
// compaction-pending, build-complete and release-pending. Nothing is freed until the commands
// that referenced it have retired, as decided by the Manager's Retirement.
//
// Build, NextFrame and Remove record commands into a caller-provided CommandList. The caller
// submits that list and calls NextFrame exactly once per frame.
type Manager struct {
	logger *slog.Logger
	device Device
	mutex  utils.OptionalMutex

	flags            CreateFlags
	retirement       Retirement
	compactionBudget int

	pools [poolCount]*suballoc.Pool

	records           recordArena
	compactionPending recordQueue
	buildComplete     recordQueue
	releasePending    recordQueue

	frameIndex               uint64
	uncompactedBytes         int
	compactedBytes           int
	transientCompactionBytes int

	telemetry string
	destroyed bool
}

func (m *Manager) pool(index poolIndex) *suballoc.Pool {
	return m.pools[index]
}

// FrameIndex returns the index of the current frame, which is the number of times NextFrame has
// completed
func (m *Manager) FrameIndex() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.frameIndex
}

// Info returns a snapshot of a structure's state, or false if the id does not refer to a
// structure owned by this Manager
func (m *Manager) Info(id RecordID) (RecordInfo, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	record := m.records.Get(id)
	if record == nil {
		return RecordInfo{}, false
	}

	return record.info(), true
}

// Address returns the device address that should be traced against for a structure. It changes
// to the compacted copy from the frame in which the compaction copy is recorded.
func (m *Manager) Address(id RecordID) (uint64, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	record := m.records.Get(id)
	if record == nil {
		return 0, false
	}

	return record.address(), true
}

// RecordCount returns the number of structures the Manager still owns memory for
func (m *Manager) RecordCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.records.Len()
}

// Destroy immediately frees every structure the Manager owns and destroys its pools. The caller
// must guarantee the device is idle.
func (m *Manager) Destroy() error {
	m.logger.Debug("Manager::Destroy")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return errors.WithStack(ErrDestroyed)
	}

	var freeErr error
	m.records.Visit(func(id RecordID, record *Record) bool {
		if record.state != RecordResident && record.state != RecordReleasePending {
			m.logger.LogAttrs(context.Background(), slog.LevelWarn, "destroying in-flight acceleration structure",
				slog.String("name", record.name),
				slog.String("id", id.String()),
				slog.String("state", record.state.String()),
			)
		}

		err := m.freeRecordMemory(record)
		if err != nil {
			freeErr = errors.CombineErrors(freeErr, err)
		}
		return true
	})

	m.records = recordArena{}
	m.compactionPending = recordQueue{}
	m.buildComplete = recordQueue{}
	m.releasePending = recordQueue{}
	m.transientCompactionBytes = 0

	m.destroyPools()
	m.destroyed = true

	return freeErr
}

func (m *Manager) destroyPools() {
	for index, pool := range m.pools {
		if pool != nil {
			pool.Destroy()
			m.pools[index] = nil
		}
	}
}

// freeRecordMemory frees every populated suballocation of the record and removes them from
// the aggregate counters
func (m *Manager) freeRecordMemory(record *Record) error {
	if !record.compacted.IsNull() {
		m.compactedBytes -= record.compactedSize
	}

	return errors.CombineErrors(
		m.freeScratch(record),
		errors.CombineErrors(m.freePreCompaction(record), m.free(poolCompacted, &record.compacted)),
	)
}

func (m *Manager) freeScratch(record *Record) error {
	return m.free(poolScratch, &record.scratch)
}

// freePreCompaction frees the original result and both compacted-size slots
func (m *Manager) freePreCompaction(record *Record) error {
	if !record.result.IsNull() {
		m.uncompactedBytes -= record.resultSize
	}

	return errors.CombineErrors(
		m.free(poolResult, &record.result),
		errors.CombineErrors(m.free(poolSizeGPU, &record.sizeGPU), m.free(poolSizeReadback, &record.sizeReadback)),
	)
}

func (m *Manager) free(index poolIndex, alloc *suballoc.SubAllocation) error {
	err := m.pool(index).FreeSubAllocation(alloc)
	if err != nil {
		return errors.Wrapf(err, "failed to free from the %s pool", m.pool(index).Name())
	}
	return nil
}
