// Package rate implements the playback-rate controller: a periodic
// closed-loop controller nudging playback rate toward a latency target
// using a sigmoid gain driven by forward buffer length. Modeled on the
// teacher's periodic-sampling-under-a-ticker idiom in
// internal/relay/bandwidth.go (BandwidthTracker.Sample on a timer, guarded
// by atomic state for attach/detach).
package rate

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/hlscore/pkg/sigmoid"
)

const (
	// TickInterval is the fixed sampling period.
	TickInterval = 250 * time.Millisecond

	defaultLatencyTarget  = 3.0
	defaultRefreshLatency = 1.0
	sigmoidL              = 2.0
	sigmoidK              = 0.5
)

// Range is a contiguous buffered time range, in seconds, on the media
// timeline.
type Range struct {
	Start float64
	End   float64
}

// MediaSink is the external collaborator the controller samples and
// drives. Production wiring would back it with a real media element; the
// controller only depends on this interface.
type MediaSink struct {
	CurrentTime    func() float64
	BufferedRanges func() []Range
	SetRate        func(rate float64)
}

// Config holds the controller's tunables.
type Config struct {
	LatencyTarget  float64       // seconds; default 3
	RefreshLatency float64       // seconds; dead-band, default 1
	MaxBufferHole  float64       // seconds; gaps <= this are merged as contiguous
	OnRateChange   func(rate float64)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LatencyTarget:  defaultLatencyTarget,
		RefreshLatency: defaultRefreshLatency,
		MaxBufferHole:  0.5,
	}
}

// Controller runs the 250ms latency control loop while media is attached.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sink     *MediaSink
	attached atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	lastRate atomic.Uint64 // math.Float64bits of the last applied rate
}

// New creates a Controller. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, logger: logger}
}

// Attach starts the periodic tick loop against sink. Calling Attach while
// already attached first detaches the previous sink, stopping its loop,
// and then starts a new loop against sink.
func (c *Controller) Attach(sink *MediaSink) {
	c.Detach()

	c.mu.Lock()
	c.sink = sink
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	c.attached.Store(true)
	c.wg.Add(1)
	go c.loop(stop)
}

// Detach stops the timer atomically; no further ticks may modify the sink.
func (c *Controller) Detach() {
	if !c.attached.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	stop := c.stopCh
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	c.wg.Wait()
}

func (c *Controller) loop(stop chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	if !c.attached.Load() {
		return
	}
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return
	}

	pos := sink.CurrentTime()
	ranges := sink.BufferedRanges()
	bufferLength := ForwardBufferLength(ranges, pos, c.cfg.MaxBufferHole)

	rate := c.computeRate(bufferLength)
	sink.SetRate(rate)
	if c.cfg.OnRateChange != nil {
		c.cfg.OnRateChange(rate)
	}

	c.logger.Debug("rate controller tick",
		slog.Float64("position", pos),
		slog.Float64("buffer_length", bufferLength),
		slog.Float64("rate", rate),
	)
}

// computeRate decides: within the dead-band the
// rate is exactly 1.0; otherwise it saturates via the sigmoid gain.
func (c *Controller) computeRate(bufferLength float64) float64 {
	latencyTarget := c.cfg.LatencyTarget
	if latencyTarget == 0 {
		latencyTarget = defaultLatencyTarget
	}
	refreshLatency := c.cfg.RefreshLatency
	if refreshLatency == 0 {
		refreshLatency = defaultRefreshLatency
	}

	distance := latencyTarget - bufferLength
	if distance < 0 || distance > refreshLatency {
		return sigmoid.Gain(bufferLength, latencyTarget, sigmoidL, sigmoidK)
	}
	return 1.0
}

// ForwardBufferLength returns the length of the contiguous forward buffer
// from pos, merging gaps no longer than hole. Exported as a pure function so
// it is independently testable without a MediaSink.
func ForwardBufferLength(ranges []Range, pos, hole float64) float64 {
	// Find the range containing pos; a pos outside every range has no
	// forward buffer.
	idx := -1
	for i, r := range ranges {
		if pos >= r.Start && pos <= r.End {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0
	}

	end := ranges[idx].End
	for i := idx + 1; i < len(ranges); i++ {
		if ranges[i].Start-end <= hole {
			end = ranges[i].End
			continue
		}
		break
	}

	length := end - pos
	if length < 0 {
		return 0
	}
	return length
}
