// Package timeline implements caption and subtitle synchronisation:
// PTS-gated subtitle fragment parsing, the VTT discontinuity chain, codec
// auto-detection between WebVTT and IMSC1, cue de-duplication, and CEA-608
// extraction from in-band userdata. Modeled on the
// cache-map-plus-mutex idiom (internal/relay/buffer_injector.go's
// BufferInjector.cache) and its small, independently-tested pure-function
// style for per-cue logic.
package timeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jmylchreest/hlscore/internal/bus"
	"github.com/jmylchreest/hlscore/internal/levels"
	"github.com/jmylchreest/hlscore/internal/timeline/cea608"
)

// syntheticInitPTS is adopted for pure-audio streams that never observe a
// real INIT_PTS_FOUND.
const syntheticInitPTS = 90000.0

// CueRange is one accepted, presentation-time-aligned caption/subtitle cue.
type CueRange struct {
	Start float64
	End   float64
	Text  string
}

// VTTCC records the discontinuity chain entry for one CC index.
type VTTCC struct {
	Start  float64
	PrevCC int
	New    bool
}

// UserdataSample is one CEA-608 byte payload carried by FRAG_PARSING_USERDATA.
type UserdataSample struct {
	PTS   float64
	Bytes []byte
}

// FragLoadedPayload is FRAG_LOADED's payload for subtitle fragments.
type FragLoadedPayload struct {
	Frag    levels.Fragment
	Payload []byte
}

// FragParsingInitSegmentPayload is FRAG_PARSING_INIT_SEGMENT's payload.
type FragParsingInitSegmentPayload struct {
	CC int
}

// InitPTSFoundPayload is INIT_PTS_FOUND's payload.
type InitPTSFoundPayload struct {
	CC      int
	InitPTS float64
}

// FragParsingUserdataPayload is FRAG_PARSING_USERDATA's payload.
type FragParsingUserdataPayload struct {
	SN      int
	Samples []UserdataSample
}

// SubtitleFragProcessedPayload is SUBTITLE_FRAG_PROCESSED's payload.
type SubtitleFragProcessedPayload struct {
	Success bool
	Frag    levels.Fragment
}

// CuesParsedPayload is CUES_PARSED's payload.
type CuesParsedPayload struct {
	Track string
	Cues  []CueRange
}

// NativeTextTrackSink receives cues directly when renderTextTracksNatively
// is enabled, bypassing the bus — mirrors the
// format_router.go routing-by-config-flag idiom.
type NativeTextTrackSink interface {
	AddCue(track string, cue CueRange)
}

// Config holds TimelineController's construction-time options.
type Config struct {
	// RenderTextTracksNatively routes cues to NativeSink instead of
	// CUES_PARSED events.
	RenderTextTracksNatively bool
	NativeSink               NativeTextTrackSink
}

// Controller owns initPTS, vttCCs, and caption tracks exclusively.
type Controller struct {
	bus    *bus.Bus
	logger *slog.Logger
	cfg    Config

	mu               sync.Mutex
	initPTS          map[int]float64
	unparsedVttFrags []FragLoadedPayload
	vttCCs           map[int]VTTCC
	currentPrevCC    int
	textCodec        string // "" until auto-detected; then "wvtt" or IMSC1Codec
	accepted         map[string][]CueRange

	lastMainSN   *int
	cea608Field0 *cea608.Parser // channel 1
	cea608Field1 *cea608.Parser // channel 3

	tokens []subscription
}

type subscription struct {
	evt bus.EventType
	tok bus.SubscriptionToken
}

// New creates a Controller and subscribes its handlers on b.
func New(b *bus.Bus, logger *slog.Logger, cfg Config) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		bus:          b,
		logger:       logger,
		cfg:          cfg,
		initPTS:      make(map[int]float64),
		vttCCs:       make(map[int]VTTCC),
		accepted:     make(map[string][]CueRange),
		cea608Field0: cea608.New(),
		cea608Field1: cea608.New(),
	}
	c.attach()
	return c
}

func (c *Controller) attach() {
	c.tokens = append(c.tokens,
		subscription{bus.FragLoaded, c.bus.On(bus.FragLoaded, c.onFragLoaded)},
		subscription{bus.InitPTSFound, c.bus.On(bus.InitPTSFound, c.onInitPTSFound)},
		subscription{bus.FragParsingInitSegment, c.bus.On(bus.FragParsingInitSegment, c.onFragParsingInitSegment)},
		subscription{bus.FragParsingUserdata, c.bus.On(bus.FragParsingUserdata, c.onFragParsingUserdata)},
	)
}

// Detach unregisters every handler, the TimelineController teardown
// counterpart to New's attach.
func (c *Controller) Detach() {
	for _, s := range c.tokens {
		c.bus.Off(s.evt, s.tok)
	}
	c.tokens = nil
}

func (c *Controller) onFragLoaded(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(FragLoadedPayload)
	if !ok || payload.Frag.Type != levels.FragmentSubtitle || len(payload.Payload) == 0 {
		return
	}

	c.mu.Lock()
	initPTS, known := c.initPTS[payload.Frag.CC]
	if !known {
		hasAny := len(c.initPTS) > 0
		c.unparsedVttFrags = append(c.unparsedVttFrags, payload)
		c.mu.Unlock()

		if hasAny {
			c.bus.Emit(ctx, bus.SubtitleFragProcessed, SubtitleFragProcessedPayload{Success: false, Frag: payload.Frag})
		}
		return
	}
	c.mu.Unlock()

	c.processSubtitleFragment(ctx, payload, initPTS)
}

func (c *Controller) onInitPTSFound(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(InitPTSFoundPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	c.initPTS[payload.CC] = payload.InitPTS
	pending := c.unparsedVttFrags
	c.unparsedVttFrags = nil
	c.mu.Unlock()

	// Draining happens synchronously within this handler; any FRAG_LOADED
	// that arrives while this loop runs is appended after drained items by
	// virtue of single-threaded dispatch.
	for _, frag := range pending {
		c.onFragLoaded(ctx, bus.Event{Type: bus.FragLoaded, Payload: frag})
	}
}

func (c *Controller) onFragParsingInitSegment(_ context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(FragParsingInitSegmentPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.initPTS) == 0 {
		c.initPTS[payload.CC] = syntheticInitPTS
	}
}

func (c *Controller) processSubtitleFragment(ctx context.Context, payload FragLoadedPayload, _ float64) {
	c.mu.Lock()
	c.ensureVTTChainLocked(payload.Frag.CC, payload.Frag.Start)
	codec := c.textCodec
	c.mu.Unlock()

	cues, detected, err := c.parseSubtitlePayload(codec, payload.Payload)
	if detected != "" {
		c.mu.Lock()
		c.textCodec = detected
		c.mu.Unlock()
	}
	if err != nil {
		c.bus.Emit(ctx, bus.SubtitleFragProcessed, SubtitleFragProcessedPayload{Success: false, Frag: payload.Frag})
		return
	}

	track := "default"
	var accepted []CueRange
	c.mu.Lock()
	for _, cue := range cues {
		if c.acceptCueLocked(track, cue) {
			accepted = append(accepted, cue)
		}
	}
	c.mu.Unlock()

	if len(accepted) > 0 {
		c.emitCues(ctx, track, accepted)
	}
	c.bus.Emit(ctx, bus.SubtitleFragProcessed, SubtitleFragProcessedPayload{Success: true, Frag: payload.Frag})
}

// parseSubtitlePayload parses with the pinned codec when one is set.
// Otherwise it auto-detects: try WebVTT, then IMSC1. detected names the
// codec for the caller to pin permanently: the one that parsed, or "wvtt"
// when neither did. detected is empty when a codec was already pinned.
func (c *Controller) parseSubtitlePayload(codec string, payload []byte) (cues []CueRange, detected string, err error) {
	switch codec {
	case IMSC1Codec:
		cues, err = parseIMSC1(payload)
		return cues, "", err
	case "wvtt":
		cues, err = parseWebVTT(payload)
		return cues, "", err
	}

	if cues, err = parseWebVTT(payload); err == nil {
		return cues, "wvtt", nil
	}
	if cues, imsErr := parseIMSC1(payload); imsErr == nil {
		return cues, IMSC1Codec, nil
	}
	return nil, "wvtt", err
}

// ensureVTTChainLocked lazily builds the VTTCue chain. Caller holds c.mu.
func (c *Controller) ensureVTTChainLocked(cc int, start float64) {
	if _, ok := c.vttCCs[cc]; ok {
		return
	}
	c.vttCCs[cc] = VTTCC{Start: start, PrevCC: c.currentPrevCC, New: true}
	c.currentPrevCC = cc
}

// acceptCueLocked applies the cue de-duplication rule. Caller
// holds c.mu.
func (c *Controller) acceptCueLocked(track string, cue CueRange) bool {
	ranges := c.accepted[track]
	for i, existing := range ranges {
		overlap := overlapSeconds(existing, cue)
		if overlap <= 0 {
			continue
		}
		newLen := cue.End - cue.Start
		if newLen > 0 && overlap/newLen >= 0.5 {
			return false
		}
		if cue.Start < existing.Start {
			ranges[i].Start = cue.Start
		}
		if cue.End > existing.End {
			ranges[i].End = cue.End
		}
		c.accepted[track] = ranges
		return true
	}
	c.accepted[track] = append(ranges, cue)
	return true
}

func overlapSeconds(a, b CueRange) float64 {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	if end <= start {
		return 0
	}
	return end - start
}

func (c *Controller) emitCues(ctx context.Context, track string, cues []CueRange) {
	if c.cfg.RenderTextTracksNatively && c.cfg.NativeSink != nil {
		for _, cue := range cues {
			c.cfg.NativeSink.AddCue(track, cue)
		}
		return
	}
	c.bus.Emit(ctx, bus.CuesParsed, CuesParsedPayload{Track: track, Cues: cues})
}

// onFragParsingUserdata decodes ATSC A/53 byte-triple
// extraction into two CEA-608 fields, feeding the field-0/field-1 parsers
// and emitting any completed cue as a caption track.
func (c *Controller) onFragParsingUserdata(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(FragParsingUserdataPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.lastMainSN != nil && payload.SN != *c.lastMainSN+1 {
		c.cea608Field0.Reset()
		c.cea608Field1.Reset()
	}
	sn := payload.SN
	c.lastMainSN = &sn
	c.mu.Unlock()

	for _, sample := range payload.Samples {
		field0, field1 := extractCEA608Pairs(sample.Bytes)

		c.mu.Lock()
		var cue0, cue1 *cea608.Cue
		for _, pair := range field0 {
			if got := c.cea608Field0.Feed(pair[0], pair[1], sample.PTS); got != nil {
				cue0 = got
			}
		}
		for _, pair := range field1 {
			if got := c.cea608Field1.Feed(pair[0], pair[1], sample.PTS); got != nil {
				cue1 = got
			}
		}
		c.mu.Unlock()

		if cue0 != nil {
			c.emitCues(ctx, "cc1", []CueRange{{Start: cue0.Start, End: cue0.End, Text: cue0.Text}})
		}
		if cue1 != nil {
			c.emitCues(ctx, "cc3", []CueRange{{Start: cue1.Start, End: cue1.End, Text: cue1.Text}})
		}
	}
}

// extractCEA608Pairs decodes one userdata sample's byte array per ATSC A/53
// into field-0 and field-1 byte pairs, dropping zero pairs.
func extractCEA608Pairs(data []byte) (field0, field1 [][2]byte) {
	if len(data) < 2 {
		return nil, nil
	}
	count := int(data[0] & 0x1f)
	offset := 2
	for i := 0; i < count && offset+2 < len(data); i++ {
		tmp := data[offset]
		b1 := data[offset+1]
		b2 := data[offset+2]
		offset += 3

		ccValid := tmp&0x04 != 0
		ccType := tmp & 0x03
		if !ccValid || ccType > 1 {
			continue
		}
		if b1 == 0 && b2 == 0 {
			continue
		}
		pair := [2]byte{b1 & 0x7f, b2 & 0x7f}
		if ccType == 0 {
			field0 = append(field0, pair)
		} else {
			field1 = append(field1, pair)
		}
	}
	return field0, field1
}
