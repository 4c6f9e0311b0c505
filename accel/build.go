package accel

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rtas/suballoc"
	"golang.org/x/exp/slog"
)

// sizeBlockCopy pairs a block of the GPU compacted-size pool with its readback mirror
type sizeBlockCopy struct {
	blockID  int
	gpu      suballoc.Buffer
	readback suballoc.Buffer
}

// Build suballocates memory for a batch of structures and records their build commands into cmd.
// Structures that allow compaction also have their compacted size written to a readback slot,
// using one bulk copy per size block touched by the batch.
//
// If a structure cannot be built, the memory already claimed for it is freed and Build returns
// the ids of the structures built before it along with the error. Those structures were recorded
// into cmd and continue through their lifecycle as normal.
func (m *Manager) Build(cmd CommandList, descs []BuildDesc) ([]RecordID, error) {
	m.logger.Debug("Manager::Build")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return nil, errors.WithStack(ErrDestroyed)
	}

	ids := make([]RecordID, 0, len(descs))
	var copies []sizeBlockCopy
	var err error

	for descIndex := range descs {
		var id RecordID
		id, err = m.buildOne(cmd, &descs[descIndex], &copies)
		if err != nil {
			err = errors.Wrapf(err, "failed to build acceleration structure %d (%q)", descIndex, descs[descIndex].Name)
			break
		}

		ids = append(ids, id)
	}

	for _, sizeCopy := range copies {
		cmd.ResourceBarrier(sizeCopy.gpu, ResourceStateUnorderedAccess, ResourceStateCopySource)
		cmd.CopyBuffer(sizeCopy.readback, 0, sizeCopy.gpu, 0, sizeCopy.gpu.Size())
		cmd.ResourceBarrier(sizeCopy.gpu, ResourceStateCopySource, ResourceStateUnorderedAccess)
	}

	return ids, err
}

func (m *Manager) buildOne(cmd CommandList, desc *BuildDesc, copies *[]sizeBlockCopy) (id RecordID, err error) {
	inputs := desc.Inputs

	prebuild, err := m.device.PrebuildInfo(&inputs)
	if err != nil {
		return RecordID{}, errors.Wrap(err, "failed to query prebuild info")
	}
	if prebuild.ResultSize < 1 || prebuild.ScratchSize < 1 {
		return RecordID{}, errors.Wrapf(ErrInvalidBuild, "device reported a result size of %d and a scratch size of %d", prebuild.ResultSize, prebuild.ScratchSize)
	}

	record := Record{
		name:              desc.Name,
		frameIndexRequest: m.frameIndex,
	}

	committed := false
	defer func() {
		if committed {
			return
		}

		freeErr := m.freeRecordMemory(&record)
		if freeErr != nil {
			panic(fmt.Sprintf("unexpected error when freeing the memory of a failed build: %+v", freeErr))
		}
	}()

	record.scratch, err = m.pool(poolScratch).CreateSubAllocation(prebuild.ScratchSize, ScratchAlignment)
	if err != nil {
		return RecordID{}, err
	}

	record.result, err = m.pool(poolResult).CreateSubAllocation(prebuild.ResultSize, StructureAlignment)
	if err != nil {
		return RecordID{}, err
	}
	record.resultSize = prebuild.ResultSize
	m.uncompactedBytes += prebuild.ResultSize

	record.requestedCompaction = inputs.Flags&BuildAllowCompaction != 0
	if record.requestedCompaction {
		// Both size pools see identical request sequences, so each GPU slot has a readback
		// twin at the same block and offset
		record.sizeGPU, err = m.pool(poolSizeGPU).CreateSubAllocation(PostbuildSizeSlot, PostbuildSizeAlignment)
		if err != nil {
			return RecordID{}, err
		}

		record.sizeReadback, err = m.pool(poolSizeReadback).CreateSubAllocation(PostbuildSizeSlot, PostbuildSizeAlignment)
		if err != nil {
			return RecordID{}, err
		}

		if record.sizeGPU.BlockID() != record.sizeReadback.BlockID() || record.sizeGPU.Offset() != record.sizeReadback.Offset() {
			return RecordID{}, errors.AssertionFailedf("compacted-size pools are out of step: GPU slot %d@%d, readback slot %d@%d",
				record.sizeGPU.BlockID(), record.sizeGPU.Offset(), record.sizeReadback.BlockID(), record.sizeReadback.Offset())
		}

		// A recycled slot still holds the size of its previous owner
		err = writeSizeSlot(&record.sizeReadback, 0)
		if err != nil {
			return RecordID{}, err
		}
	}

	command := BuildCommand{
		Inputs:               &inputs,
		DestAddress:          record.result.GPUAddress(),
		ScratchAddress:       record.scratch.GPUAddress(),
		PostbuildSizeAddress: record.sizeGPU.GPUAddress(),
	}
	cmd.BuildAccelerationStructure(command)

	id, stored := m.records.Create()
	*stored = record
	committed = true

	if stored.requestedCompaction {
		stored.state = RecordCompactionPending
		m.compactionPending.Push(id)
		addSizeBlockCopy(copies, &stored.sizeGPU, &stored.sizeReadback)
	} else {
		stored.state = RecordBuildComplete
		m.buildComplete.Push(id)
	}

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Recorded build",
		slog.String("name", stored.name),
		slog.String("id", id.String()),
		slog.Int("resultSize", prebuild.ResultSize),
		slog.Int("scratchSize", prebuild.ScratchSize),
		slog.Bool("compaction", stored.requestedCompaction),
	)

	return id, nil
}

func addSizeBlockCopy(copies *[]sizeBlockCopy, gpu, readback *suballoc.SubAllocation) {
	for _, existing := range *copies {
		if existing.blockID == gpu.BlockID() {
			return
		}
	}

	*copies = append(*copies, sizeBlockCopy{
		blockID:  gpu.BlockID(),
		gpu:      gpu.Buffer(),
		readback: readback.Buffer(),
	})
}

func writeSizeSlot(slot *suballoc.SubAllocation, size uint64) error {
	buffer := slot.Buffer()
	data, err := buffer.Map()
	if err != nil {
		return errors.Wrap(err, "failed to map compacted-size readback block")
	}
	defer buffer.Unmap()

	offset := slot.Offset()
	if offset+PostbuildSizeSlot > len(data) {
		return errors.AssertionFailedf("size slot at offset %d is outside its %d-byte block", offset, len(data))
	}

	binary.LittleEndian.PutUint64(data[offset:offset+PostbuildSizeSlot], size)
	return nil
}

func readSizeSlot(slot *suballoc.SubAllocation) (uint64, error) {
	buffer := slot.Buffer()
	data, err := buffer.Map()
	if err != nil {
		return 0, errors.Wrap(err, "failed to map compacted-size readback block")
	}
	defer buffer.Unmap()

	offset := slot.Offset()
	if offset+PostbuildSizeSlot > len(data) {
		return 0, errors.AssertionFailedf("size slot at offset %d is outside its %d-byte block", offset, len(data))
	}

	return binary.LittleEndian.Uint64(data[offset : offset+PostbuildSizeSlot]), nil
}
