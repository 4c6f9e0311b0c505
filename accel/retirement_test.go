package accel_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/rtas/accel"
)

func TestFrameLatency(t *testing.T) {
	latency := accel.FrameLatency(2)

	require.False(t, latency.Retired(0, 0))
	require.False(t, latency.Retired(0, 1))
	require.True(t, latency.Retired(0, 2))
	require.True(t, latency.Retired(3, 10))
	require.False(t, latency.Retired(10, 3))
}

func TestCompletedFrames(t *testing.T) {
	completed := uint64(0)
	retirement := accel.CompletedFrames(func() uint64 { return completed })

	require.False(t, retirement.Retired(0, 5))

	completed = 3
	require.True(t, retirement.Retired(2, 5))
	require.False(t, retirement.Retired(3, 5))
}
