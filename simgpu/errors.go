package simgpu

import "github.com/cockroachdb/errors"

var (
	// ErrNotHostVisible is returned when a buffer that does not live in readback memory is mapped
	ErrNotHostVisible = errors.New("buffer is not host visible")
	// ErrInvalidAddress is returned from Queue.EndFrame when an executed command references a
	// device address that does not fall inside a live buffer
	ErrInvalidAddress = errors.New("device address does not resolve to a live buffer")
	// ErrUnknownStructure is returned from Queue.EndFrame when a copy reads from an address at which
	// no structure has been built
	ErrUnknownStructure = errors.New("no acceleration structure at address")
)
