package rate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwardBufferLength_SimpleRange(t *testing.T) {
	ranges := []Range{{Start: 0, End: 10}}
	got := ForwardBufferLength(ranges, 4, 0.5)
	assert.InDelta(t, 6, got, 1e-9)
}

func TestForwardBufferLength_MergesSmallGap(t *testing.T) {
	ranges := []Range{{Start: 0, End: 5}, {Start: 5.2, End: 10}}
	got := ForwardBufferLength(ranges, 2, 0.5)
	assert.InDelta(t, 8, got, 1e-9)
}

func TestForwardBufferLength_DoesNotMergeLargeGap(t *testing.T) {
	ranges := []Range{{Start: 0, End: 5}, {Start: 6, End: 10}}
	got := ForwardBufferLength(ranges, 2, 0.5)
	assert.InDelta(t, 3, got, 1e-9)
}

func TestForwardBufferLength_PositionOutsideAnyRange(t *testing.T) {
	ranges := []Range{{Start: 5, End: 10}}
	got := ForwardBufferLength(ranges, 2, 0.5)
	assert.Equal(t, 0.0, got)
}

// TestController_SigmoidOutOfBand reproduces the out-of-band scenario
// latencyTarget=3, bufferLength=0, refreshLatency=1.
func TestController_SigmoidOutOfBand(t *testing.T) {
	c := New(Config{LatencyTarget: 3, RefreshLatency: 1}, nil)
	got := c.computeRate(0)
	want := 2 / (1 + math.Exp(1.5))
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, 0.357, got, 0.01)
}

// TestController_Invariant5_RateWithinBandIsOne asserts invariant 5 from
// output is exactly 1 within [0, refreshLatency] of distance.
func TestController_Invariant5_RateWithinBandIsOne(t *testing.T) {
	c := New(Config{LatencyTarget: 3, RefreshLatency: 1}, nil)

	// distance = latencyTarget - bufferLength, must sit in [0, 1].
	assert.Equal(t, 1.0, c.computeRate(3))   // distance = 0
	assert.Equal(t, 1.0, c.computeRate(2.5)) // distance = 0.5
	assert.Equal(t, 1.0, c.computeRate(2))   // distance = 1
}

func TestController_Invariant5_RateOutsideBandSaturates(t *testing.T) {
	c := New(Config{LatencyTarget: 3, RefreshLatency: 1}, nil)

	tooMuchBuffer := c.computeRate(4) // distance = -1 < 0
	assert.Greater(t, tooMuchBuffer, 1.0)
	assert.LessOrEqual(t, tooMuchBuffer, 2.0)

	tooLittleBuffer := c.computeRate(0) // distance = 3 > 1
	assert.Less(t, tooLittleBuffer, 1.0)
	assert.GreaterOrEqual(t, tooLittleBuffer, 0.0)
}

func TestController_DetachStopsTicksWithoutAttach(t *testing.T) {
	c := New(DefaultConfig(), nil)
	assert.NotPanics(t, func() { c.Detach() })
}

func TestController_AttachThenDetach(t *testing.T) {
	c := New(Config{LatencyTarget: 3, RefreshLatency: 1}, nil)
	rates := make(chan float64, 8)

	sink := &MediaSink{
		CurrentTime:    func() float64 { return 0 },
		BufferedRanges: func() []Range { return []Range{{Start: 0, End: 10}} },
		SetRate:        func(r float64) { rates <- r },
	}

	c.Attach(sink)
	c.Detach()

	// No assertion on rates content: Detach may race a single in-flight
	// tick, but the goroutine must have exited (Detach's wg.Wait already
	// guarantees this; reaching here without a timeout is the assertion).
	assert.True(t, true)
}
