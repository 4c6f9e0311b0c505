package main

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rtas/accel"
	"github.com/vkngwrapper/rtas/simgpu"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of builds and removals replayed against a simulated GPU
type Scenario struct {
	Manager accel.Config `yaml:"manager"`
	GPU     GPUConfig    `yaml:"gpu"`
	// Frames is the number of frames to run. Replay runs at least until the last event.
	Frames int     `yaml:"frames"`
	Events []Event `yaml:"events"`
}

type GPUConfig struct {
	QueueDepth int         `yaml:"queue_depth"`
	Sizer      SizerConfig `yaml:"sizer"`
}

type SizerConfig struct {
	BaseSize          accel.ByteSize `yaml:"base_size"`
	BytesPerPrimitive accel.ByteSize `yaml:"bytes_per_primitive"`
	ScratchPercent    int            `yaml:"scratch_percent"`
	CompactedPercent  int            `yaml:"compacted_percent"`
}

// Event happens at the start of a frame, before the frame's NextFrame
type Event struct {
	Frame  uint64       `yaml:"frame"`
	Build  []BuildEvent `yaml:"build"`
	Remove []string     `yaml:"remove"`
}

type BuildEvent struct {
	Name       string `yaml:"name"`
	TopLevel   bool   `yaml:"top_level"`
	Primitives int    `yaml:"primitives"`
	Compact    bool   `yaml:"compact"`
}

func (s SizerConfig) sizer() simgpu.Sizer {
	if s == (SizerConfig{}) {
		return simgpu.DefaultSizer
	}

	return simgpu.LinearSizer{
		BaseSize:          int(s.BaseSize),
		BytesPerPrimitive: int(s.BytesPerPrimitive),
		ScratchPercent:    s.ScratchPercent,
		CompactedPercent:  s.CompactedPercent,
	}
}

func (e BuildEvent) desc() accel.BuildDesc {
	desc := accel.BuildDesc{Name: e.Name}
	if e.Compact {
		desc.Inputs.Flags = accel.BuildAllowCompaction | accel.BuildPreferFastTrace
	} else {
		desc.Inputs.Flags = accel.BuildPreferFastBuild
	}

	if e.TopLevel {
		desc.Inputs.Type = accel.StructureTopLevel
		desc.Inputs.InstanceCount = e.Primitives
	} else {
		desc.Inputs.Type = accel.StructureBottomLevel
		desc.Inputs.Geometry = []accel.Geometry{
			{Type: accel.GeometryTriangles, PrimitiveCount: e.Primitives, Opaque: true},
		}
	}

	return desc
}

// LoadScenario decodes and validates a scenario. Unknown fields are rejected.
func LoadScenario(r io.Reader) (*Scenario, error) {
	scenario := &Scenario{}

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	err := decoder.Decode(scenario)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode scenario")
	}

	if scenario.GPU.QueueDepth == 0 {
		scenario.GPU.QueueDepth = accel.DefaultLatency
	}
	if scenario.GPU.QueueDepth < 0 || scenario.Frames < 0 {
		return nil, errors.Newf("scenario has a queue depth of %d and %d frames", scenario.GPU.QueueDepth, scenario.Frames)
	}

	names := map[string]struct{}{}
	for eventIndex, event := range scenario.Events {
		if eventIndex > 0 && event.Frame < scenario.Events[eventIndex-1].Frame {
			return nil, errors.Newf("event %d happens at frame %d, before the event preceding it", eventIndex, event.Frame)
		}

		for _, build := range event.Build {
			if build.Name == "" {
				return nil, errors.Newf("event %d builds a structure without a name", eventIndex)
			}
			if _, exists := names[build.Name]; exists {
				return nil, errors.Newf("event %d builds %q, which is already built", eventIndex, build.Name)
			}
			names[build.Name] = struct{}{}
		}

		for _, name := range event.Remove {
			if _, exists := names[name]; !exists {
				return nil, errors.Newf("event %d removes %q, which has not been built", eventIndex, name)
			}
		}

		if uint64(scenario.Frames) <= event.Frame {
			scenario.Frames = int(event.Frame) + 1
		}
	}

	return scenario, nil
}
