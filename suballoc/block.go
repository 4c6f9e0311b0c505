package suballoc

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/rtas/memutils/metadata"
	"golang.org/x/exp/slog"
)

type poolBlock struct {
	id        int
	buffer    Buffer
	dedicated bool
	logger    *slog.Logger

	metadata metadata.BlockMetadata
}

func newPoolBlock(logger *slog.Logger, id int, buffer Buffer, size int, dedicated bool) *poolBlock {
	b := &poolBlock{
		id:        id,
		buffer:    buffer,
		dedicated: dedicated,
		logger:    logger,
		metadata:  metadata.NewTLSFBlockMetadata(),
	}
	b.metadata.Init(size)

	return b
}

func (b *poolBlock) Destroy(device Device) {
	if !b.metadata.IsEmpty() {
		err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed suballocation",
				slog.Int("block.id", b.id),
				slog.Int("offset", offset),
				slog.Int("size", size),
			)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}
	}

	if b.buffer == nil {
		panic("attempting to destroy a pool block, but it did not have a backing buffer")
	}

	device.DestroyBuffer(b.buffer)
	b.buffer = nil
}

func (b *poolBlock) Validate() error {
	if b.buffer == nil {
		return errors.New("no valid buffer for this pool block")
	}
	if b.metadata.Size() < 1 {
		return errors.New("this pool block's metadata has an invalid size")
	}
	if b.buffer.Size() < b.metadata.Size() {
		return errors.Errorf("pool block %d has metadata of size %d but its buffer is only %d bytes", b.id, b.metadata.Size(), b.buffer.Size())
	}

	err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		_, isSerial := userData.(uint64)
		if !free && !isSerial {
			return errors.Errorf("a suballocation at offset %d is marked as allocated but has no serial", offset)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return b.metadata.Validate()
}
