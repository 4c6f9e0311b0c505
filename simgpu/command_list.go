package simgpu

import (
	"encoding/binary"

	"github.com/vkngwrapper/rtas/accel"
	"github.com/vkngwrapper/rtas/suballoc"
)

type commandKind int

const (
	commandBuild commandKind = iota
	commandCopyStructure
	commandBarrier
	commandCopyBuffer
)

type command struct {
	kind commandKind

	build accel.BuildCommand

	dstAddress uint64
	srcAddress uint64
	mode       accel.CopyMode

	dstBuffer suballoc.Buffer
	dstOffset int
	srcBuffer suballoc.Buffer
	srcOffset int
	size      int

	before accel.ResourceState
	after  accel.ResourceState
}

// CommandCounts is the number of commands of each kind recorded into a CommandList
type CommandCounts struct {
	Builds          int
	StructureCopies int
	Barriers        int
	BufferCopies    int
}

// CommandList records commands for a Queue. It may be reused after it has been submitted.
type CommandList struct {
	commands []command
	counts   CommandCounts
}

var _ accel.CommandList = &CommandList{}

func NewCommandList() *CommandList {
	return &CommandList{}
}

func (c *CommandList) BuildAccelerationStructure(build accel.BuildCommand) {
	// The caller's inputs may not outlive the call
	inputs := *build.Inputs
	build.Inputs = &inputs

	c.commands = append(c.commands, command{kind: commandBuild, build: build})
	c.counts.Builds++
}

func (c *CommandList) CopyAccelerationStructure(dst, src uint64, mode accel.CopyMode) {
	c.commands = append(c.commands, command{
		kind:       commandCopyStructure,
		dstAddress: dst,
		srcAddress: src,
		mode:       mode,
	})
	c.counts.StructureCopies++
}

func (c *CommandList) ResourceBarrier(buffer suballoc.Buffer, before, after accel.ResourceState) {
	c.commands = append(c.commands, command{
		kind:      commandBarrier,
		dstBuffer: buffer,
		before:    before,
		after:     after,
	})
	c.counts.Barriers++
}

func (c *CommandList) CopyBuffer(dst suballoc.Buffer, dstOffset int, src suballoc.Buffer, srcOffset int, size int) {
	c.commands = append(c.commands, command{
		kind:      commandCopyBuffer,
		dstBuffer: dst,
		dstOffset: dstOffset,
		srcBuffer: src,
		srcOffset: srcOffset,
		size:      size,
	})
	c.counts.BufferCopies++
}

// Counts returns the number of commands recorded since the list was last reset
func (c *CommandList) Counts() CommandCounts {
	return c.counts
}

func (c *CommandList) Len() int {
	return len(c.commands)
}

// Reset discards all recorded commands
func (c *CommandList) Reset() {
	c.commands = nil
	c.counts = CommandCounts{}
}

func putSize(data []byte, size uint64) {
	binary.LittleEndian.PutUint64(data[:accel.PostbuildSizeSlot], size)
}
