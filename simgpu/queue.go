package simgpu

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

type submission struct {
	frame    uint64
	commands []command
}

// Queue executes submitted command lists a fixed number of frames after they were submitted,
// which models a renderer that keeps Depth frames in flight
type Queue struct {
	logger *slog.Logger
	device *Device
	depth  uint64

	frame     uint64
	pending   []submission
	completed uint64
	executed  int
}

// NewQueue creates a Queue whose command lists finish executing depth frames after the frame
// they were submitted in. Depth must be at least 1.
func NewQueue(logger *slog.Logger, device *Device, depth int) (*Queue, error) {
	if depth < 1 {
		return nil, errors.Newf("queue depth must be at least 1, got %d", depth)
	}

	return &Queue{
		logger: logger,
		device: device,
		depth:  uint64(depth),
	}, nil
}

// Frame returns the index of the frame submissions are currently tagged with
func (q *Queue) Frame() uint64 {
	return q.frame
}

// CompletedFrames returns the number of frames whose submissions have all executed. It can be
// passed to the manager as an accel.CompletedFrames retirement.
func (q *Queue) CompletedFrames() uint64 {
	return q.completed
}

// Executed returns the number of commands executed so far
func (q *Queue) Executed() int {
	return q.executed
}

// Submit queues the commands recorded into list and resets it
func (q *Queue) Submit(list *CommandList) {
	if len(list.commands) > 0 {
		q.pending = append(q.pending, submission{frame: q.frame, commands: list.commands})
	}
	list.Reset()
}

// EndFrame advances to the next frame and executes every submission that has been in flight
// for the queue's depth
func (q *Queue) EndFrame() error {
	q.frame++

	for len(q.pending) > 0 && q.pending[0].frame+q.depth <= q.frame {
		next := q.pending[0]
		q.pending[0] = submission{}
		q.pending = q.pending[1:]

		err := q.execute(next)
		if err != nil {
			return errors.Wrapf(err, "failed to execute commands submitted during frame %d", next.frame)
		}
	}

	if q.frame+1 >= q.depth {
		q.completed = q.frame + 1 - q.depth
	}

	return nil
}

// Flush executes every pending submission regardless of depth, as if the device went idle
func (q *Queue) Flush() error {
	for len(q.pending) > 0 {
		next := q.pending[0]
		q.pending = q.pending[1:]

		err := q.execute(next)
		if err != nil {
			return errors.Wrapf(err, "failed to execute commands submitted during frame %d", next.frame)
		}
	}

	q.completed = q.frame + 1
	return nil
}

func (q *Queue) execute(next submission) error {
	q.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Executing submission",
		slog.Uint64("submitFrame", next.frame),
		slog.Uint64("frame", q.frame),
		slog.Int("commands", len(next.commands)),
	)

	for commandIndex := range next.commands {
		cmd := &next.commands[commandIndex]

		var err error
		switch cmd.kind {
		case commandBuild:
			err = q.device.executeBuild(&cmd.build)
		case commandCopyStructure:
			err = q.device.executeCopyStructure(cmd.dstAddress, cmd.srcAddress, cmd.mode)
		case commandCopyBuffer:
			dst, dstOk := cmd.dstBuffer.(*Buffer)
			src, srcOk := cmd.srcBuffer.(*Buffer)
			if !dstOk || !srcOk {
				err = errors.New("buffer copy references a buffer that was not created by the simulated device")
				break
			}
			err = q.device.executeCopyBuffer(dst, cmd.dstOffset, src, cmd.srcOffset, cmd.size)
		case commandBarrier:
		default:
			err = errors.AssertionFailedf("unknown command kind %d", cmd.kind)
		}

		if err != nil {
			return errors.Wrapf(err, "command %d", commandIndex)
		}
		q.executed++
	}

	return nil
}
