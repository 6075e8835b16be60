package levelcontroller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/hlscore/internal/bus"
	"github.com/jmylchreest/hlscore/internal/levels"
	"github.com/jmylchreest/hlscore/internal/llhls"
)

type subscription struct {
	evt bus.EventType
	tok bus.SubscriptionToken
}

// Controller owns the set of renditions: admission, selection, the live
// reload timer, and error recovery. Modeled on the
// internal/relay/circuit_breaker.go for the backoff state machine and
// internal/relay/daemon_registry.go for the per-timer cleanupCancel idiom.
type Controller struct {
	bus    *bus.Bus
	logger *slog.Logger
	cfg    Config
	sched  ReloadScheduler

	sink SinkCapabilities
	ua   UserAgentCapabilities

	mu         sync.Mutex
	levelsList []*levels.Level
	current    int // -1 until a level is selected
	firstLevel int
	strategy   ABRStrategy

	retryCount  map[int]int
	cancelTimer map[int]func()

	tokens []subscription
}

// New creates a Controller and subscribes its handlers on b. sink may be
// nil to accept all codecs.
func New(b *bus.Bus, logger *slog.Logger, cfg Config, sched ReloadScheduler, sink SinkCapabilities, ua UserAgentCapabilities) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if sched == nil {
		sched = TimerScheduler{}
	}
	c := &Controller{
		bus:         b,
		logger:      logger,
		cfg:         cfg,
		sched:       sched,
		sink:        sink,
		ua:          ua,
		current:     -1,
		strategy:    HoldCurrentStrategy{},
		retryCount:  make(map[int]int),
		cancelTimer: make(map[int]func()),
	}
	c.attach()
	return c
}

func (c *Controller) attach() {
	c.tokens = append(c.tokens,
		subscription{bus.ManifestLoaded, c.bus.On(bus.ManifestLoaded, c.onManifestLoaded)},
		subscription{bus.LevelLoaded, c.bus.On(bus.LevelLoaded, c.onLevelLoaded)},
		subscription{bus.Error, c.bus.On(bus.Error, c.onError)},
		subscription{bus.AudioTrackSwitched, c.bus.On(bus.AudioTrackSwitched, c.onAudioTrackSwitched)},
	)
}

// Detach unsubscribes every handler and cancels any armed reload timers.
func (c *Controller) Detach() {
	for _, s := range c.tokens {
		c.bus.Off(s.evt, s.tok)
	}
	c.tokens = nil

	c.mu.Lock()
	for _, cancel := range c.cancelTimer {
		cancel()
	}
	c.cancelTimer = make(map[int]func())
	c.mu.Unlock()
}

// SetStrategy installs the ABRStrategy the controller holds. The controller
// never calls NextLevel itself, and SetLevel(-1) is rejected as an invalid
// index like any other negative value; the strategy is consulted only by
// the fragment-error fallback, which treats a ManualOrAutoStrategy whose
// Manual() returns anything but -1 as manual mode. Not itself part of the
// bus protocol.
func (c *Controller) SetStrategy(s ABRStrategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s != nil {
		c.strategy = s
	}
}

func (c *Controller) onManifestLoaded(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(ManifestLoadedPayload)
	if !ok {
		return
	}

	grouped, first, err := GroupAndFilter(payload.Levels, c.sink, c.ua)
	if err != nil {
		c.bus.Emit(ctx, bus.Error, &bus.ErrorEvent{
			Type: bus.OtherError, Details: bus.ManifestIncompatibleCodecsError,
			Fatal: true, Reason: err.Error(),
		})
		return
	}

	c.mu.Lock()
	c.levelsList = grouped
	c.firstLevel = first
	c.mu.Unlock()

	c.bus.Emit(ctx, bus.ManifestParsed, ManifestParsedPayload{FirstLevel: first})

	start := resolveStartLevel(c.cfg.StartLevel, first, len(grouped))
	c.SetLevel(ctx, start)
}

// resolveStartLevel clamps a pinned StartLevel into range, or falls back to
// firstLevel when unset (-1) or out of range.
func resolveStartLevel(pinned, first, count int) int {
	if count == 0 {
		return -1
	}
	if pinned >= 0 && pinned < count {
		return pinned
	}
	return first
}

// SetLevel switches to level: cancels any reload timer already armed for
// it, emits LEVEL_SWITCHING only if the index actually changes, and emits
// LEVEL_LOADING only when the target level has no details yet or its
// details are live — an already-loaded, non-live level at the current
// index is a no-op. An out-of-range index emits a non-fatal
// LEVEL_SWITCH_ERROR instead of switching.
func (c *Controller) SetLevel(ctx context.Context, level int) {
	c.mu.Lock()
	if level < 0 || level >= len(c.levelsList) {
		c.mu.Unlock()
		c.bus.Emit(ctx, bus.Error, &bus.ErrorEvent{
			Type:    bus.OtherError,
			Details: bus.LevelSwitchError,
			Level:   &level,
			Reason:  fmt.Sprintf("levelcontroller: invalid level index %d", level),
		})
		return
	}

	if cancel, armed := c.cancelTimer[level]; armed {
		cancel()
		delete(c.cancelTimer, level)
	}

	changed := c.current != level
	c.current = level
	lvl := c.levelsList[level]
	url := lvl.CurrentURL()
	needsLoad := lvl.Details == nil || lvl.Details.Live
	c.mu.Unlock()

	if changed {
		c.bus.Emit(ctx, bus.LevelSwitching, LevelSwitchingPayload{Level: level})
	}
	if needsLoad {
		c.bus.Emit(ctx, bus.LevelLoading, LevelLoadingPayload{Level: level, URL: url})
	}
}

// onLevelLoaded clears the level's error/retry bookkeeping, stores the new
// details, and for live streams arms the next reload — either a plain
// interval reload or an LL-HLS blocking reload.
func (c *Controller) onLevelLoaded(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(LevelLoadedPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	if payload.Level < 0 || payload.Level >= len(c.levelsList) {
		c.mu.Unlock()
		return
	}
	lvl := c.levelsList[payload.Level]
	prior := lvl.Details
	if payload.Details != nil {
		payload.Details.Updated = prior != nil && prior.EndSN != payload.Details.EndSN
	}
	lvl.Details = payload.Details
	lvl.LoadError = 0
	lvl.FragmentError = false
	c.retryCount[payload.Level] = 0
	if cancel, armed := c.cancelTimer[payload.Level]; armed {
		cancel()
		delete(c.cancelTimer, payload.Level)
	}

	var reloadURL string
	var delayMillis int64
	shouldReload := payload.Details != nil && payload.Details.Live
	if shouldReload {
		reloadURL = c.buildReloadURLLocked(lvl, payload.Details)
		delayMillis = computeReloadInterval(payload.Details)
		level := payload.Level
		cancel := c.sched.Schedule(delayMillis, func() {
			c.bus.Emit(ctx, bus.LevelLoading, LevelLoadingPayload{Level: level, URL: reloadURL})
		})
		c.cancelTimer[payload.Level] = cancel
	}
	c.mu.Unlock()
}

// buildReloadURLLocked constructs the next reload URL. If the prior
// playlist response embedded an _HLS_msn/_HLS_push=1 hint (LL-HLS push),
// that hint drives the next blocking-reload request. Otherwise, if the
// server supports blocking reloads and this reload's endSN changed from
// the one before it (Updated), the next request advances _HLS_msn to
// endSN+1 so the server holds it until that sequence number exists.
// Absent both signals, the next reload is the plain (non-blocking)
// playlist URL.
func (c *Controller) buildReloadURLLocked(lvl *levels.Level, details *levels.LevelDetails) string {
	base := lvl.CurrentURL()

	var req llhls.ReloadRequest
	switch {
	case details.Push != nil:
		req = llhls.ReloadRequest{MSN: details.Push.MSN, Part: details.Push.Part}
	case details.Updated && details.ServerControl != nil && details.ServerControl.CanBlock:
		req = llhls.ReloadRequest{MSN: details.EndSN + 1, Part: -1}
	default:
		return base
	}

	built, err := llhls.BuildURL(base, req)
	if err != nil {
		c.logger.Warn("levelcontroller: building LL-HLS reload url", slog.String("error", err.Error()))
		return base
	}
	return built
}

// computeReloadInterval implements the "half target duration, floored"
// live-reload cadence, except when the server flagged itself as
// blocking-reload capable, in which case the controller relies on the
// server to hold the request and only needs a short fallback interval
// (max(reloadInterval-100, 100)ms).
func computeReloadInterval(details *levels.LevelDetails) int64 {
	base := int64(details.TargetDuration * 1000)
	if details.ServerControl != nil && details.ServerControl.CanBlock {
		return max64(base-100, 100)
	}
	half := base / 2
	return max64(half, 1000)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// onError handles a level- or fragment-scoped recoverable error: it arms
// exponential backoff AND, independently, escalates to the next redundant
// URL if one remains. The two are sequential, non-exclusive steps — not
// alternative branches — so a retry after backoff lands on whichever URL
// escalation has already selected. Exhausting both the retry budget and
// every redundant URL is the fallback point, and the two error families
// fall back differently: a level-load error (the playlist itself is
// unreachable) has nothing left to try and promotes to fatal; a
// fragment-scoped error (FRAG_LOAD_*, KEY_LOAD_*, REMUX_ALLOC_ERROR) still
// has other renditions to fall back to, so it switches down one rendition
// in auto mode, or nulls the current index in manual mode, instead of
// going fatal. With no levels loaded at all there is nothing to recover
// onto, so the error is promoted to fatal straight away.
func (c *Controller) onError(ctx context.Context, evt bus.Event) {
	errEvt, ok := evt.Payload.(*bus.ErrorEvent)
	if !ok || errEvt.Fatal || errEvt.Level == nil {
		return
	}
	if !isRecoverable(errEvt.Details) {
		return
	}

	level := *errEvt.Level
	fragScoped := isFragScoped(errEvt.Details)

	c.mu.Lock()
	if len(c.levelsList) == 0 {
		c.mu.Unlock()
		errEvt.Fatal = true
		c.bus.Emit(ctx, bus.Error, errEvt)
		return
	}
	if level < 0 || level >= len(c.levelsList) {
		c.mu.Unlock()
		return
	}
	lvl := c.levelsList[level]
	if fragScoped {
		lvl.FragmentError = true
	}
	lvl.LoadError++
	c.retryCount[level]++
	retries := c.retryCount[level]

	if lvl.LoadError < len(lvl.URL) {
		lvl.URLID = lvl.LoadError
	}

	exhaustedRetries := retries > c.cfg.LevelLoadingMaxRetry
	exhaustedURLs := lvl.HasExhaustedRedundantURLs()
	c.mu.Unlock()

	if exhaustedRetries && exhaustedURLs {
		if fragScoped {
			c.switchDownOrNull(ctx, level)
			return
		}
		errEvt.Fatal = true
		c.bus.Emit(ctx, bus.Error, errEvt)
		return
	}

	errEvt.LevelRetry = true
	delay := backoffDelayMillis(c.cfg.LevelLoadingRetryDelay, c.cfg.LevelLoadingMaxRetryTimeout, retries)
	cancel := c.sched.Schedule(delay, func() {
		c.mu.Lock()
		url := lvl.CurrentURL()
		c.mu.Unlock()
		c.bus.Emit(ctx, bus.LevelLoading, LevelLoadingPayload{Level: level, URL: url})
	})

	c.mu.Lock()
	if old, armed := c.cancelTimer[level]; armed {
		old()
	}
	c.cancelTimer[level] = cancel
	c.mu.Unlock()
}

// switchDownOrNull is the fragment-error fallback once backoff and
// redundant-URL escalation are both exhausted. Auto mode walks down one
// rendition from the failing level, wrapping from index 0 to the highest;
// manual mode has no lower rendition to fall back to, so it nulls the
// current index instead.
func (c *Controller) switchDownOrNull(ctx context.Context, level int) {
	c.mu.Lock()
	manual := false
	if ms, ok := c.strategy.(ManualOrAutoStrategy); ok && ms.Manual != nil {
		manual = ms.Manual() != -1
	}
	count := len(c.levelsList)
	c.mu.Unlock()

	if manual {
		c.mu.Lock()
		c.current = -1
		c.mu.Unlock()
		return
	}
	if count == 0 {
		return
	}

	next := level - 1
	if next < 0 {
		next = count - 1
	}
	c.SetLevel(ctx, next)
}

func isRecoverable(details bus.ErrorDetails) bool {
	switch details {
	case bus.LevelLoadError, bus.LevelLoadTimeout:
		return true
	default:
		return isFragScoped(details)
	}
}

func isFragScoped(details bus.ErrorDetails) bool {
	switch details {
	case bus.FragLoadError, bus.FragLoadTimeout, bus.KeyLoadError, bus.KeyLoadTimeout, bus.RemuxAllocError:
		return true
	default:
		return false
	}
}

// backoffDelayMillis doubles retryDelay per attempt, capped at maxTimeout.
func backoffDelayMillis(retryDelay, maxTimeout time.Duration, attempt int) int64 {
	delay := retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxTimeout {
			delay = maxTimeout
			break
		}
	}
	return int64(delay / time.Millisecond)
}

// onAudioTrackSwitched reacts to an audio group switch. levels.Level.AudioGroupIDs
// is an unordered StringSet rather than an array positionally aligned with
// URL[], so there is no per-URL group lookup: if the current level already
// serves the requested group, the handler returns without emitting
// anything; otherwise the current level's loading is restarted so its
// current (group-agnostic) URL gets a fresh LEVEL_LOADING pass.
func (c *Controller) onAudioTrackSwitched(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(AudioTrackSwitchedPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.current < 0 || c.current >= len(c.levelsList) {
		c.mu.Unlock()
		return
	}
	lvl := c.levelsList[c.current]
	if lvl.AudioGroupIDs.Has(payload.GroupID) {
		c.mu.Unlock()
		return
	}
	url := lvl.CurrentURL()
	level := c.current
	c.mu.Unlock()

	c.bus.Emit(ctx, bus.LevelLoading, LevelLoadingPayload{Level: level, URL: url})
}

// RemoveLevel drops level from the managed set, re-indexing the remaining
// levels' reload timers and their fragments' Level fields, and re-homing
// current if it pointed at or past the removed index. Emits LEVELS_UPDATED
// with the new slice.
func (c *Controller) RemoveLevel(ctx context.Context, level int) {
	c.mu.Lock()
	if level < 0 || level >= len(c.levelsList) {
		c.mu.Unlock()
		return
	}
	if cancel, armed := c.cancelTimer[level]; armed {
		cancel()
		delete(c.cancelTimer, level)
	}

	c.levelsList = append(c.levelsList[:level], c.levelsList[level+1:]...)
	delete(c.retryCount, level)
	for i, l := range c.levelsList {
		if l.Details == nil {
			continue
		}
		for j := range l.Details.Fragments {
			l.Details.Fragments[j].Level = i
		}
	}

	switch {
	case c.current == level:
		c.current = -1
	case c.current > level:
		c.current--
	}
	if c.firstLevel > level {
		c.firstLevel--
	}

	remaining := make(map[int]func(), len(c.cancelTimer))
	for idx, cancel := range c.cancelTimer {
		if idx > level {
			remaining[idx-1] = cancel
		} else {
			remaining[idx] = cancel
		}
	}
	c.cancelTimer = remaining

	out := make([]*levels.Level, len(c.levelsList))
	copy(out, c.levelsList)
	c.mu.Unlock()

	c.bus.Emit(ctx, bus.LevelsUpdated, LevelsUpdatedPayload{Levels: out})
}

// Levels returns a snapshot copy of the currently managed renditions.
func (c *Controller) Levels() []*levels.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*levels.Level, len(c.levelsList))
	copy(out, c.levelsList)
	return out
}

// CurrentLevel returns the index of the active rendition, or -1.
func (c *Controller) CurrentLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
