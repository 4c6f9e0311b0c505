package accel

import "github.com/cockroachdb/errors"

var (
	// ErrCompactedSizeUnavailable is returned from Manager.NextFrame when a structure's compacted
	// size is read back before the device has written it. This means the configured latency is
	// smaller than the number of frames command lists actually remain in flight.
	ErrCompactedSizeUnavailable = errors.New("compacted size has not been written by the device")
	// ErrCompactionBudgetExceeded is returned from Manager.NextFrame when CreateStrictCompactionBudget
	// is set and a single structure's compacted size exceeds the transient compaction budget
	ErrCompactionBudgetExceeded = errors.New("compacted size exceeds the transient compaction budget")
	// ErrInvalidBuild is returned from Manager.Build when the device reports unusable memory
	// requirements for a build
	ErrInvalidBuild = errors.New("invalid acceleration structure build")
	// ErrDestroyed is returned when a Manager is used after Destroy
	ErrDestroyed = errors.New("manager has been destroyed")
)
