package accel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordArenaReuse(t *testing.T) {
	var arena recordArena

	first, record := arena.Create()
	record.name = "first"
	second, _ := arena.Create()
	require.Equal(t, 2, arena.Len())
	require.False(t, first.IsNull())
	require.NotEqual(t, first, second)

	require.Equal(t, "first", arena.Get(first).name)

	arena.Release(first)
	require.Nil(t, arena.Get(first))
	require.Equal(t, 1, arena.Len())

	third, record := arena.Create()
	require.Equal(t, first.index, third.index)
	require.NotEqual(t, first.generation, third.generation)
	require.Empty(t, record.name)
	require.Nil(t, arena.Get(first))
	require.NotNil(t, arena.Get(third))

	require.Nil(t, arena.Get(RecordID{}))
	require.Nil(t, arena.Get(RecordID{index: 99, generation: 1}))

	require.Panics(t, func() {
		arena.Release(first)
	})

	var visited []RecordID
	arena.Visit(func(id RecordID, record *Record) bool {
		visited = append(visited, id)
		return true
	})
	require.Equal(t, []RecordID{third, second}, visited)
}

func TestRecordQueueOrder(t *testing.T) {
	var queue recordQueue

	_, ok := queue.Front()
	require.False(t, ok)
	require.Panics(t, queue.Pop)

	for index := uint32(0); index < 100; index++ {
		queue.Push(RecordID{index: index, generation: 1})
	}

	for index := uint32(0); index < 70; index++ {
		front, ok := queue.Front()
		require.True(t, ok)
		require.Equal(t, index, front.index)
		queue.Pop()
	}
	require.Equal(t, 30, queue.Len())

	queue.Push(RecordID{index: 100, generation: 1})

	var remaining []uint32
	queue.Visit(func(id RecordID) {
		remaining = append(remaining, id.index)
	})
	require.Len(t, remaining, 31)
	require.Equal(t, uint32(70), remaining[0])
	require.Equal(t, uint32(100), remaining[30])

	for queue.Len() > 0 {
		queue.Pop()
	}
	_, ok = queue.Front()
	require.False(t, ok)
}

func TestRecordAddress(t *testing.T) {
	record := Record{}
	require.Zero(t, record.address())

	info := record.info()
	require.Equal(t, RecordCompactionPending, info.State)
	require.Equal(t, "RecordReleasePending", RecordReleasePending.String())
	require.Equal(t, "3:7", RecordID{index: 3, generation: 7}.String())
}
