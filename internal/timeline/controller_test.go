package timeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlscore/internal/bus"
	"github.com/jmylchreest/hlscore/internal/levels"
)

func webvttPayload(startCue string) []byte {
	return []byte("WEBVTT\n\n1\n" + startCue + " --> " + "00:00:04.000\nhello there\n")
}

// TestController_SubtitleFragQueuedBeforeInitPTS covers a subtitle fragment
// that arrives before any INIT_PTS_FOUND: it is queued, then processed once
// the init PTS for its CC is found.
func TestController_SubtitleFragQueuedBeforeInitPTS(t *testing.T) {
	b := bus.New(nil)
	ctx := context.Background()

	var processedEvents []SubtitleFragProcessedPayload
	b.On(bus.SubtitleFragProcessed, func(_ context.Context, evt bus.Event) {
		processedEvents = append(processedEvents, evt.Payload.(SubtitleFragProcessedPayload))
	})
	var cuesParsed []CuesParsedPayload
	b.On(bus.CuesParsed, func(_ context.Context, evt bus.Event) {
		cuesParsed = append(cuesParsed, evt.Payload.(CuesParsedPayload))
	})

	c := New(b, nil, Config{})

	frag := levels.Fragment{SN: 1, CC: 0, Type: levels.FragmentSubtitle, Start: 0}
	b.Emit(ctx, bus.FragLoaded, FragLoadedPayload{Frag: frag, Payload: webvttPayload("00:00:01.000")})

	// No prior initPTS entries at all: no SUBTITLE_FRAG_PROCESSED yet.
	assert.Empty(t, processedEvents)
	assert.Empty(t, cuesParsed)

	b.Emit(ctx, bus.InitPTSFound, InitPTSFoundPayload{CC: 0, InitPTS: 90000})

	require.Len(t, processedEvents, 1)
	assert.True(t, processedEvents[0].Success)
	require.Len(t, cuesParsed, 1)
	assert.Equal(t, "hello there", cuesParsed[0].Cues[0].Text)

	c.Detach()
}

func TestController_EmitsFailureWhenOtherCCAlreadyKnown(t *testing.T) {
	b := bus.New(nil)
	ctx := context.Background()

	var processedEvents []SubtitleFragProcessedPayload
	b.On(bus.SubtitleFragProcessed, func(_ context.Context, evt bus.Event) {
		processedEvents = append(processedEvents, evt.Payload.(SubtitleFragProcessedPayload))
	})

	c := New(b, nil, Config{})
	b.Emit(ctx, bus.InitPTSFound, InitPTSFoundPayload{CC: 1, InitPTS: 0})

	frag := levels.Fragment{SN: 1, CC: 0, Type: levels.FragmentSubtitle, Start: 0}
	b.Emit(ctx, bus.FragLoaded, FragLoadedPayload{Frag: frag, Payload: webvttPayload("00:00:01.000")})

	require.Len(t, processedEvents, 1)
	assert.False(t, processedEvents[0].Success)

	c.Detach()
}

func TestController_SyntheticInitPTSForPureAudio(t *testing.T) {
	b := bus.New(nil)
	ctx := context.Background()
	c := New(b, nil, Config{})

	b.Emit(ctx, bus.FragParsingInitSegment, FragParsingInitSegmentPayload{CC: 0})

	c.mu.Lock()
	got, ok := c.initPTS[0]
	c.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, syntheticInitPTS, got)

	c.Detach()
}

func TestController_CueDeduplication_DropsHighOverlap(t *testing.T) {
	c := &Controller{accepted: make(map[string][]CueRange)}
	accepted1 := c.acceptCueLocked("t", CueRange{Start: 0, End: 10})
	accepted2 := c.acceptCueLocked("t", CueRange{Start: 8, End: 12}) // 2/4 = 50% overlap of new

	assert.True(t, accepted1)
	assert.False(t, accepted2)
	assert.Len(t, c.accepted["t"], 1)
}

func TestController_CueDeduplication_MergesLowOverlap(t *testing.T) {
	c := &Controller{accepted: make(map[string][]CueRange)}
	c.acceptCueLocked("t", CueRange{Start: 0, End: 10})
	accepted := c.acceptCueLocked("t", CueRange{Start: 9, End: 20}) // 1/11 overlap, well under 50%

	assert.True(t, accepted)
	require.Len(t, c.accepted["t"], 1)
	assert.Equal(t, 20.0, c.accepted["t"][0].End)
}

func TestController_VTTChainRecordsPrevCC(t *testing.T) {
	c := &Controller{vttCCs: make(map[int]VTTCC)}
	c.ensureVTTChainLocked(0, 0)
	c.ensureVTTChainLocked(1, 10)

	assert.Equal(t, 0, c.vttCCs[1].PrevCC)
	assert.True(t, c.vttCCs[1].New)
}

func TestController_CodecAutoDetectFallsBackToIMSC1(t *testing.T) {
	c := &Controller{}
	ttml := []byte(`<tt><body><div><p begin="00:00:01.000" end="00:00:02.000">hi</p></div></body></tt>`)

	cues, detected, err := c.parseSubtitlePayload("", ttml)
	require.NoError(t, err)
	assert.Equal(t, IMSC1Codec, detected)
	require.Len(t, cues, 1)
	assert.Equal(t, "hi", cues[0].Text)
}

func TestController_CEA608_EmitsCaptionsFromUserdata(t *testing.T) {
	b := bus.New(nil)
	ctx := context.Background()
	c := New(b, nil, Config{})

	var cues []CuesParsedPayload
	b.On(bus.CuesParsed, func(_ context.Context, evt bus.Event) {
		cues = append(cues, evt.Payload.(CuesParsedPayload))
	})

	// byte0 count=1 triple: tmp=0x04 (valid, type0), 'H','i'
	sample1 := []byte{0x01, 0x00, 0x04, 'H', 'i'}
	// RCL-equivalent not modeled at userdata level; just send EOC to flush.
	sample2 := []byte{0x01, 0x00, 0x04, 0x14, 0x2f}
	sample3 := []byte{0x01, 0x00, 0x04, 0x14, 0x2f}

	b.Emit(ctx, bus.FragParsingUserdata, FragParsingUserdataPayload{
		SN: 1,
		Samples: []UserdataSample{
			{PTS: 0, Bytes: sample1},
			{PTS: 1, Bytes: sample2},
			{PTS: 2, Bytes: sample3},
		},
	})

	require.Len(t, cues, 1)
	assert.Equal(t, "cc1", cues[0].Track)
	assert.Equal(t, "Hi", cues[0].Cues[0].Text)

	c.Detach()
}

func TestExtractCEA608Pairs_DropsZeroPairs(t *testing.T) {
	data := []byte{0x01, 0x00, 0x04, 0x00, 0x00}
	field0, field1 := extractCEA608Pairs(data)
	assert.Empty(t, field0)
	assert.Empty(t, field1)
}
