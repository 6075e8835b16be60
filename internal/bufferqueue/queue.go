// Package bufferqueue serializes buffer operations (append/remove/flush)
// against an asynchronous, single-updater media-source buffer, one FIFO per
// track type. Uses a per-resource map-under-mutex plus
// close-to-signal channel idiom (internal/relay/shared_buffer.go's
// notify/closedCh fields, internal/relay/client.go's waitCh).
package bufferqueue

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/hlscore/internal/levels"
)

// TrackType identifies which media-source buffer an operation targets.
type TrackType string

const (
	TrackAudio TrackType = "audio"
	TrackVideo TrackType = "video"
)

// ErrQueueEmpty names the empty-track condition. No Queue method returns
// it: ShiftAndExecuteNext on an empty track simply does nothing.
var ErrQueueEmpty = errors.New("bufferqueue: queue empty")

// Sink is the externally-owned, single-updater media-source buffer. The
// queue never touches the sink directly beyond checking Exists/IsUpdating;
// actual append/remove calls live inside the BufferOperation.Execute
// closures supplied by callers.
type Sink interface {
	// Exists reports whether the underlying buffer for this track has been
	// created yet (e.g. addSourceBuffer has run).
	Exists(track TrackType) bool
	// IsUpdating reports whether the sink is mid-operation for this track.
	IsUpdating(track TrackType) bool
}

type trackQueue struct {
	ops       *list.List // of *levels.BufferOperation
	executing bool
}

// Queue is the per-track FIFO serializer.
type Queue struct {
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	tracks map[TrackType]*trackQueue
}

// New creates a Queue bound to sink. A nil logger falls back to
// slog.Default().
func New(sink Sink, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		sink:   sink,
		logger: logger,
		tracks: make(map[TrackType]*trackQueue),
	}
}

func (q *Queue) trackFor(track TrackType) *trackQueue {
	tq, ok := q.tracks[track]
	if !ok {
		tq = &trackQueue{ops: list.New()}
		q.tracks[track] = tq
	}
	return tq
}

// Append enqueues op for track. If the queue was empty and the underlying
// buffer exists, execution begins immediately.
func (q *Queue) Append(op *levels.BufferOperation, track TrackType) {
	q.mu.Lock()
	tq := q.trackFor(track)
	wasEmpty := tq.ops.Len() == 0
	tq.ops.PushBack(op)
	depth := tq.ops.Len()
	q.logger.Debug("bufferqueue append", slog.String("track", string(track)), slog.Int("depth", depth))
	shouldStart := wasEmpty && !tq.executing && q.sink.Exists(track)
	q.mu.Unlock()

	if shouldStart {
		q.executeNext(track)
	}
}

// AppendBlocker enqueues a synthetic operation whose completion is
// observable through the returned channel, closed when the operation
// completes (teacher precedent: shared_buffer.go's closedCh/sourceReadyCh
// close-to-signal channels). Unlike a real append/remove, no external
// updateend will ever fire for a synthetic op, so it self-dequeues as soon
// as its (no-op) Execute returns.
func (q *Queue) AppendBlocker(track TrackType) <-chan struct{} {
	done := make(chan struct{})
	var closeOnce sync.Once
	signal := func() { closeOnce.Do(func() { close(done) }) }

	op := &levels.BufferOperation{
		OnComplete: signal,
		OnError:    func(error) { signal() },
	}
	// A synthetic op has no real sink to fire updateend for it, so its own
	// Execute performs the self-dequeue that a real op leaves to the
	// external updateend observer.
	op.Execute = func() error {
		signal()
		q.ShiftAndExecuteNext(track)
		return nil
	}
	q.Append(op, track)
	return done
}

// ShiftAndExecuteNext pops the head of track's queue (the operation that
// just completed, observed via the external updateend signal) and begins
// the next one if present.
func (q *Queue) ShiftAndExecuteNext(track TrackType) {
	q.mu.Lock()
	tq := q.trackFor(track)
	var completed *levels.BufferOperation
	if front := tq.ops.Front(); front != nil {
		completed = front.Value.(*levels.BufferOperation)
		tq.ops.Remove(front)
	}
	tq.executing = false
	q.mu.Unlock()

	if completed != nil && completed.OnComplete != nil {
		completed.OnComplete()
	}
	q.executeNext(track)
}

// executeNext dispatches the current head's Execute, if any and if not
// already executing. A synchronous panic/error from Execute is reported via
// OnError; if the sink is not mid-update for this track, the queue itself
// must advance the head to avoid a permanent stall.
func (q *Queue) executeNext(track TrackType) {
	q.mu.Lock()
	tq := q.trackFor(track)
	if tq.executing {
		q.mu.Unlock()
		return
	}
	front := tq.ops.Front()
	if front == nil {
		q.mu.Unlock()
		return
	}
	op := front.Value.(*levels.BufferOperation)
	tq.executing = true
	q.mu.Unlock()

	err := q.safeExecute(op)
	if err == nil {
		return
	}

	q.logger.Debug("bufferqueue execute failed synchronously", slog.String("track", string(track)), slog.String("error", err.Error()))
	if op.OnError != nil {
		op.OnError(err)
	}

	q.mu.Lock()
	stillUpdating := q.sink.IsUpdating(track)
	if !stillUpdating {
		tq.executing = false
		if front := tq.ops.Front(); front != nil && front.Value.(*levels.BufferOperation) == op {
			tq.ops.Remove(front)
		}
	}
	q.mu.Unlock()

	if !stillUpdating {
		q.executeNext(track)
	}
}

func (q *Queue) safeExecute(op *levels.BufferOperation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bufferqueue: execute panicked: %v", r)
		}
	}()
	return op.Execute()
}

// Depth returns the number of pending (including in-flight) operations for
// track, for diagnostics and tests.
func (q *Queue) Depth(track TrackType) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.tracks[track]
	if !ok {
		return 0
	}
	return tq.ops.Len()
}
