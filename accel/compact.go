package accel

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// compact records the compaction copy of one record. It returns true, with no error, when the
// copy must wait for a later frame because of the transient compaction budget.
func (m *Manager) compact(cmd CommandList, record *Record) (bool, error) {
	readback, err := readSizeSlot(&record.sizeReadback)
	if err != nil {
		return false, err
	}

	if readback == 0 {
		return false, errors.Wrapf(ErrCompactedSizeUnavailable, "structure was requested during frame %d and the current frame is %d", record.frameIndexRequest, m.frameIndex)
	}
	if readback > uint64(record.resultSize) {
		return false, errors.Wrapf(ErrInvalidBuild, "device reported a compacted size of %d for a %d-byte structure", readback, record.resultSize)
	}
	compactedSize := int(readback)

	if m.transientCompactionBytes > 0 && m.transientCompactionBytes+compactedSize > m.compactionBudget {
		return true, nil
	}

	if compactedSize > m.compactionBudget {
		if m.flags&CreateStrictCompactionBudget != 0 {
			return false, errors.Wrapf(ErrCompactionBudgetExceeded, "structure compacts to %d bytes and the budget is %d bytes", compactedSize, m.compactionBudget)
		}

		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "compacting a structure larger than the transient compaction budget",
			slog.String("name", record.name),
			slog.Int("compactedSize", compactedSize),
			slog.Int("compactionBudget", m.compactionBudget),
		)
	}

	record.compacted, err = m.pool(poolCompacted).CreateSubAllocation(compactedSize, StructureAlignment)
	if err != nil {
		return false, err
	}
	record.compactedSize = compactedSize
	m.transientCompactionBytes += compactedSize
	m.compactedBytes += compactedSize

	cmd.CopyAccelerationStructure(record.compacted.GPUAddress(), record.result.GPUAddress(), CopyModeCompact)
	record.isCompacted = true

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Recorded compaction",
		slog.String("name", record.name),
		slog.Int("resultSize", record.resultSize),
		slog.Int("compactedSize", compactedSize),
	)

	return false, nil
}
