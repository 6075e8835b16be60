package bufferqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlscore/internal/levels"
)

type fakeSink struct {
	exists   map[TrackType]bool
	updating map[TrackType]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		exists:   map[TrackType]bool{TrackAudio: true, TrackVideo: true},
		updating: map[TrackType]bool{},
	}
}

func (f *fakeSink) Exists(t TrackType) bool    { return f.exists[t] }
func (f *fakeSink) IsUpdating(t TrackType) bool { return f.updating[t] }

func TestQueue_FIFOOrderWithinTrack(t *testing.T) {
	sink := newFakeSink()
	q := New(sink, nil)

	var completedOrder []int
	mk := func(id int) *levels.BufferOperation {
		op := &levels.BufferOperation{}
		op.Execute = func() error { return nil }
		op.OnComplete = func() { completedOrder = append(completedOrder, id) }
		return op
	}

	q.Append(mk(1), TrackVideo)
	q.Append(mk(2), TrackVideo)
	q.Append(mk(3), TrackVideo)

	// Simulate three updateend signals.
	q.ShiftAndExecuteNext(TrackVideo)
	q.ShiftAndExecuteNext(TrackVideo)
	q.ShiftAndExecuteNext(TrackVideo)

	assert.Equal(t, []int{1, 2, 3}, completedOrder)
	assert.Equal(t, 0, q.Depth(TrackVideo))
}

func TestQueue_AtMostOneInFlight(t *testing.T) {
	sink := newFakeSink()
	q := New(sink, nil)

	started := 0
	op1 := &levels.BufferOperation{Execute: func() error { started++; return nil }}
	op2 := &levels.BufferOperation{Execute: func() error { started++; return nil }}

	q.Append(op1, TrackAudio)
	q.Append(op2, TrackAudio)

	// op1 started, op2 must not have started yet.
	assert.Equal(t, 1, started)
	assert.Equal(t, 2, q.Depth(TrackAudio))
}

// TestQueue_SyncThrowWithIdleBufferAdvances covers the scenario
// A's execute throws synchronously with the buffer idle; A is popped
// and reported via onError, and B begins executing.
func TestQueue_SyncThrowWithIdleBufferAdvances(t *testing.T) {
	sink := newFakeSink()
	q := New(sink, nil)

	var aErr error
	bStarted := false

	opA := &levels.BufferOperation{
		Execute: func() error { return errors.New("boom") },
		OnError: func(err error) { aErr = err },
	}
	opB := &levels.BufferOperation{
		Execute: func() error { bStarted = true; return nil },
	}

	q.Append(opA, TrackVideo)
	q.Append(opB, TrackVideo)

	require.Error(t, aErr)
	assert.True(t, bStarted)
	// B is in flight and stays at the head until its updateend arrives.
	assert.Equal(t, 1, q.Depth(TrackVideo))
}

func TestQueue_SyncThrowWithBufferStillUpdatingDoesNotAdvance(t *testing.T) {
	sink := newFakeSink()
	sink.updating[TrackVideo] = true
	q := New(sink, nil)

	bStarted := false
	opA := &levels.BufferOperation{
		Execute: func() error { return errors.New("boom") },
		OnError: func(error) {},
	}
	opB := &levels.BufferOperation{
		Execute: func() error { bStarted = true; return nil },
	}

	q.Append(opA, TrackVideo)
	q.Append(opB, TrackVideo)

	assert.False(t, bStarted)
	assert.Equal(t, 2, q.Depth(TrackVideo))
}

func TestQueue_AppendWhenBufferDoesNotExistDoesNotExecute(t *testing.T) {
	sink := newFakeSink()
	sink.exists[TrackVideo] = false
	q := New(sink, nil)

	started := false
	op := &levels.BufferOperation{Execute: func() error { started = true; return nil }}
	q.Append(op, TrackVideo)

	assert.False(t, started)
	assert.Equal(t, 1, q.Depth(TrackVideo))
}

func TestQueue_AppendBlockerClosesOnComplete(t *testing.T) {
	sink := newFakeSink()
	q := New(sink, nil)

	done := q.AppendBlocker(TrackAudio)
	select {
	case <-done:
	default:
		t.Fatal("blocker should execute synchronously and complete immediately")
	}
}
