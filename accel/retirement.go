package accel

// Retirement decides whether the commands recorded during requestFrame have finished executing
// on the device by the time currentFrame begins. Implementations must be monotonic: once a frame
// is retired, it stays retired, and a frame is never retired before an earlier frame.
type Retirement interface {
	Retired(requestFrame, currentFrame uint64) bool
}

// FrameLatency is a static bound on the number of frames a command list may remain in flight.
// Commands recorded during frame f are considered retired from frame f+latency onwards. It must
// be set conservatively relative to the real submission depth, otherwise memory will be reused
// while the device may still reference it.
type FrameLatency uint64

func (l FrameLatency) Retired(requestFrame, currentFrame uint64) bool {
	return requestFrame+uint64(l) <= currentFrame
}

// CompletedFrames retires frames using a fence maintained by the renderer. The function returns
// the number of frames whose command lists are known to have completed, so frames [0, n) are
// retired.
type CompletedFrames func() uint64

func (f CompletedFrames) Retired(requestFrame, currentFrame uint64) bool {
	return requestFrame < f()
}
