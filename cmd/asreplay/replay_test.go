package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func loadExample(t *testing.T) *Scenario {
	file, err := os.Open("example.yaml")
	require.NoError(t, err)
	defer file.Close()

	scenario, err := LoadScenario(file)
	require.NoError(t, err)
	return scenario
}

func TestReplayExample(t *testing.T) {
	scenario := loadExample(t)
	require.Equal(t, 16, scenario.Frames)
	require.Equal(t, 3, scenario.GPU.QueueDepth)

	replay, err := NewReplay(slog.New(slog.NewJSONHandler(io.Discard)), scenario)
	require.NoError(t, err)

	for !replay.Done() {
		require.NoError(t, replay.Step())
	}

	manager := replay.Manager()
	require.Equal(t, uint64(16), manager.FrameIndex())
	require.Equal(t, 3, manager.RecordCount())

	stats := manager.Statistics()
	require.Equal(t, 0, stats.CompactionPending)
	require.Equal(t, 0, stats.BuildComplete)
	require.Equal(t, 0, stats.ReleasePending)
	// Only the uncompacted top-level structure keeps its original result
	require.Equal(t, 4096+3*64, stats.UncompactedBytes)
	require.Equal(t, 513638+308838, stats.CompactedBytes)

	require.NoError(t, replay.Finish())
	require.Equal(t, 0, replay.device.LiveBuffers())
}

func TestReplayCompletedFramesRetirement(t *testing.T) {
	scenario, err := LoadScenario(strings.NewReader(`
gpu:
  queue_depth: 2
events:
  - frame: 0
    build:
      - {name: mesh, primitives: 100, compact: true}
  - frame: 4
    remove: [mesh]
frames: 8
`))
	require.NoError(t, err)

	replay, err := NewReplay(slog.New(slog.NewJSONHandler(io.Discard)), scenario)
	require.NoError(t, err)

	for !replay.Done() {
		require.NoError(t, replay.Step())
	}
	require.Equal(t, 0, replay.Manager().RecordCount())
	require.NoError(t, replay.Finish())
}

func TestLoadScenarioRejects(t *testing.T) {
	invalid := map[string]string{
		"unknown field": "framez: 3\n",
		"unknown removal": `
events:
  - frame: 1
    remove: [ghost]
`,
		"duplicate name": `
events:
  - frame: 0
    build: [{name: a, primitives: 1}]
  - frame: 1
    build: [{name: a, primitives: 1}]
`,
		"out of order": `
events:
  - frame: 3
    build: [{name: a, primitives: 1}]
  - frame: 1
    build: [{name: b, primitives: 1}]
`,
		"missing name": `
events:
  - frame: 0
    build: [{primitives: 1}]
`,
	}

	for name, document := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScenario(strings.NewReader(document))
			require.Error(t, err)
		})
	}
}

func TestRunBatch(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run([]string{"-print-every", "0", "-stats", "example.yaml"}, &stdout, &stderr)
	require.NoError(t, err)
	require.Contains(t, stdout.String(), "Frame 16: 3 structures (0 compacting, 0 completing, 0 releasing)")
	require.Contains(t, stdout.String(), `"Records":[`)
	require.Empty(t, stderr.String())

	err = run(nil, &stdout, &stderr)
	require.Error(t, err)
}
