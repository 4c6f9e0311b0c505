package suballoc

import "github.com/cockroachdb/errors"

var (
	// ErrPoolExhausted is returned from Pool.CreateSubAllocation when no existing block can hold the
	// request and the pool is not permitted to create any more blocks
	ErrPoolExhausted = errors.New("suballocation pool exhausted")
	// ErrStaleSubAllocation is returned from Pool.FreeSubAllocation when the handle does not refer
	// to a live suballocation of the pool, usually because a copy of it was already freed
	ErrStaleSubAllocation = errors.New("suballocation is not live in this pool")
)
