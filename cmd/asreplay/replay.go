package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rtas/accel"
	"github.com/vkngwrapper/rtas/simgpu"
	"golang.org/x/exp/slog"
)

// Replay owns the manager and simulated GPU a scenario runs against
type Replay struct {
	logger   *slog.Logger
	scenario *Scenario

	device  *simgpu.Device
	queue   *simgpu.Queue
	list    *simgpu.CommandList
	manager *accel.Manager

	ids       map[string]accel.RecordID
	nextEvent int
}

func NewReplay(logger *slog.Logger, scenario *Scenario) (*Replay, error) {
	options, err := scenario.Manager.CreateOptions()
	if err != nil {
		return nil, err
	}

	device := simgpu.NewDevice(logger, scenario.GPU.Sizer.sizer())
	queue, err := simgpu.NewQueue(logger, device, scenario.GPU.QueueDepth)
	if err != nil {
		return nil, err
	}

	if options.Latency == 0 {
		// Without a configured latency, retire from the queue's own completion tracking
		options.Retirement = accel.CompletedFrames(queue.CompletedFrames)
	}

	manager, err := accel.New(logger, device, options)
	if err != nil {
		return nil, err
	}

	return &Replay{
		logger:   logger,
		scenario: scenario,
		device:   device,
		queue:    queue,
		list:     simgpu.NewCommandList(),
		manager:  manager,
		ids:      map[string]accel.RecordID{},
	}, nil
}

func (r *Replay) Manager() *accel.Manager {
	return r.manager
}

func (r *Replay) Frame() uint64 {
	return r.manager.FrameIndex()
}

func (r *Replay) Done() bool {
	return r.manager.FrameIndex() >= uint64(r.scenario.Frames)
}

// Step runs the events of the current frame, ends the frame and submits its commands
func (r *Replay) Step() error {
	frame := r.manager.FrameIndex()

	for r.nextEvent < len(r.scenario.Events) && r.scenario.Events[r.nextEvent].Frame == frame {
		err := r.runEvent(&r.scenario.Events[r.nextEvent])
		if err != nil {
			return errors.Wrapf(err, "frame %d", frame)
		}
		r.nextEvent++
	}

	err := r.manager.NextFrame(r.list)
	if err != nil {
		return errors.Wrapf(err, "frame %d", frame)
	}

	r.queue.Submit(r.list)
	err = r.queue.EndFrame()
	if err != nil {
		return errors.Wrapf(err, "frame %d", frame)
	}

	r.logger.LogAttrs(context.Background(), slog.LevelInfo, "frame complete",
		slog.Uint64("frame", frame),
		slog.Int("structures", r.manager.RecordCount()),
		slog.Int("liveBuffers", r.device.LiveBuffers()),
	)
	return nil
}

func (r *Replay) runEvent(event *Event) error {
	if len(event.Build) > 0 {
		descs := make([]accel.BuildDesc, 0, len(event.Build))
		for _, build := range event.Build {
			descs = append(descs, build.desc())
		}

		ids, err := r.manager.Build(r.list, descs)
		for index, id := range ids {
			r.ids[event.Build[index].Name] = id
		}
		if err != nil {
			return err
		}
	}

	removals := make([]accel.RecordID, 0, len(event.Remove))
	for _, name := range event.Remove {
		removals = append(removals, r.ids[name])
	}
	r.manager.Remove(removals...)

	return nil
}

// Finish waits for the device to go idle and destroys the manager
func (r *Replay) Finish() error {
	err := r.queue.Flush()
	if err != nil {
		return err
	}

	return r.manager.Destroy()
}
