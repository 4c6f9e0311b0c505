package accel

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// NextFrame must be called exactly once per frame, after the frame's builds. It releases removed
// structures, frees the scratch and pre-compaction memory of retired builds, and records the
// compaction copies that the transient compaction budget allows into cmd. Then it advances the
// frame index.
//
// Each queue is drained in order and draining stops at the first structure whose commands have
// not yet retired. A compaction that does not fit in the remaining budget waits for a later
// frame, along with every structure queued behind it.
//
// If an error is returned, the frame index is not advanced and the structure that failed stays
// at the front of its queue.
func (m *Manager) NextFrame(cmd CommandList) error {
	m.logger.Debug("Manager::NextFrame")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return errors.WithStack(ErrDestroyed)
	}

	err := m.releaseRetired()
	if err != nil {
		return err
	}

	err = m.completeRetiredBuilds()
	if err != nil {
		return err
	}

	err = m.compactRetired(cmd)
	if err != nil {
		return err
	}

	m.frameIndex++
	m.rebuildTelemetry()

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Frame complete",
		slog.Uint64("frame", m.frameIndex),
		slog.Int("records", m.records.Len()),
		slog.Int("uncompactedBytes", m.uncompactedBytes),
		slog.Int("compactedBytes", m.compactedBytes),
		slog.Int("transientCompactionBytes", m.transientCompactionBytes),
		slog.String("telemetry", m.telemetry),
	)

	return nil
}

func (m *Manager) retired(record *Record) bool {
	return m.retirement.Retired(record.frameIndexRequest, m.frameIndex)
}

// front returns the first record of the queue if its commands have retired
func (m *Manager) front(queue *recordQueue) (RecordID, *Record, bool) {
	id, ok := queue.Front()
	if !ok {
		return RecordID{}, nil, false
	}

	record := m.records.Get(id)
	if record == nil {
		panic(fmt.Sprintf("queue holds record %s, which is not live", id))
	}

	if !m.retired(record) {
		return RecordID{}, nil, false
	}

	return id, record, true
}

func (m *Manager) enqueueRelease(id RecordID, record *Record) {
	record.state = RecordReleasePending
	record.frameIndexRequest = m.frameIndex
	m.releasePending.Push(id)
}

func (m *Manager) releaseRetired() error {
	for {
		id, record, ok := m.front(&m.releasePending)
		if !ok {
			return nil
		}

		m.releasePending.Pop()
		record.requestedCompaction = false
		err := m.freeRecordMemory(record)

		m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Released",
			slog.String("name", record.name),
			slog.String("id", id.String()),
		)
		m.records.Release(id)

		if err != nil {
			return errors.Wrapf(err, "failed to release acceleration structure %s", id)
		}
	}
}

func (m *Manager) completeRetiredBuilds() error {
	for {
		id, record, ok := m.front(&m.buildComplete)
		if !ok {
			return nil
		}

		m.buildComplete.Pop()
		err := m.freeScratch(record)
		if record.isCompacted {
			// The compaction copy has retired, so the original is garbage
			err = errors.CombineErrors(err, m.freePreCompaction(record))
		}

		if record.removeRequested {
			m.enqueueRelease(id, record)
		} else {
			record.state = RecordResident
		}

		if err != nil {
			return errors.Wrapf(err, "failed to complete acceleration structure %s", id)
		}
	}
}

func (m *Manager) compactRetired(cmd CommandList) error {
	m.transientCompactionBytes = 0

	for {
		id, record, ok := m.front(&m.compactionPending)
		if !ok {
			return nil
		}

		// Removal may have cancelled the compaction, in which case the record moves on without a copy
		if record.requestedCompaction {
			deferred, err := m.compact(cmd, record)
			if err != nil {
				return errors.Wrapf(err, "failed to compact acceleration structure %s (%q)", id, record.name)
			}

			if deferred {
				m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Compaction deferred",
					slog.String("name", record.name),
					slog.Int("transientCompactionBytes", m.transientCompactionBytes),
				)
				return nil
			}
		}

		// The copy must retire before the original can be freed
		record.frameIndexRequest = m.frameIndex
		record.state = RecordBuildComplete
		m.compactionPending.Pop()
		m.buildComplete.Push(id)
	}
}
