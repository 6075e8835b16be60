package remux

import (
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeScale = 48000

func marshalInit(t *testing.T, init *fmp4.Init) []byte {
	t.Helper()
	buf := &seekableBuffer{Buffer: &bytes.Buffer{}}
	require.NoError(t, init.Marshal(buf))
	return buf.Bytes()
}

func marshalPart(t *testing.T, part *fmp4.Part) []byte {
	t.Helper()
	buf := &seekableBuffer{Buffer: &bytes.Buffer{}}
	require.NoError(t, part.Marshal(buf))
	return buf.Bytes()
}

// buildAudioSegment returns a concatenated init+part fMP4 buffer for a
// single Opus audio track, with sampleCount samples of fixed duration.
func buildAudioSegment(t *testing.T, baseTime uint64, sampleCount int, sampleDuration uint32) []byte {
	t.Helper()

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{ID: 1, TimeScale: testTimeScale, Codec: &fmp4.CodecOpus{ChannelCount: 2}},
		},
	}

	samples := make([]*fmp4.Sample, sampleCount)
	for i := range samples {
		samples[i] = &fmp4.Sample{Duration: sampleDuration, Payload: []byte{0x01, 0x02}}
	}

	part := &fmp4.Part{
		SequenceNumber: 1,
		Tracks: []*fmp4.PartTrack{
			{ID: 1, BaseTime: baseTime, Samples: samples},
		},
	}

	var out bytes.Buffer
	out.Write(marshalInit(t, init))
	out.Write(marshalPart(t, part))
	return out.Bytes()
}

func TestRemux_EmitsInitSegmentOnce(t *testing.T) {
	r := New(nil)
	data := buildAudioSegment(t, 0, 10, 1024)

	first, err := r.Remux(data, 0)
	require.NoError(t, err)
	require.NotNil(t, first.Init)
	assert.Equal(t, "opus", first.Init.AudioCodec)

	second, err := r.Remux(data, 0)
	require.NoError(t, err)
	assert.Nil(t, second.Init)
}

func TestRemux_TrackKindAudioOnly(t *testing.T) {
	r := New(nil)
	data := buildAudioSegment(t, 0, 10, 1024)

	track, err := r.Remux(data, 0)
	require.NoError(t, err)
	assert.Equal(t, TrackAudio, track.Kind)
}

// TestRemux_Invariant8_EndDTSMatchesNextStartDTS verifies that across
// consecutive non-discontinuous fragments, endDTS_n equals startDTS_{n+1}.
func TestRemux_Invariant8_EndDTSMatchesNextStartDTS(t *testing.T) {
	r := New(nil)

	seg1 := buildAudioSegment(t, 0, 10, 1024)
	track1, err := r.Remux(seg1, 0)
	require.NoError(t, err)

	seg2 := buildAudioSegment(t, 10*1024, 10, 1024)
	track2, err := r.Remux(seg2, 0)
	require.NoError(t, err)

	assert.InDelta(t, track1.EndDTS, track2.StartDTS, 1.0)
}

func TestRemux_InitPTSAnchoredOnceToTimeOffset(t *testing.T) {
	r := New(nil)
	data := buildAudioSegment(t, 0, 10, 1024)

	_, err := r.Remux(data, 5.0)
	require.NoError(t, err)
	initPTS := r.initPTS

	_, err = r.Remux(data, 42.0)
	require.NoError(t, err)
	assert.Equal(t, initPTS, r.initPTS)
}

func TestRemux_NoInitDataYieldsEmptyTrack(t *testing.T) {
	r := New(nil)
	track, err := r.Remux([]byte{0x00, 0x00, 0x00, 0x08, 'f', 'r', 'e', 'e'}, 0)
	require.NoError(t, err)
	assert.Nil(t, track.Init)
	assert.Empty(t, track.Payload)
}

func TestRemux_ResetInitSegmentReEmits(t *testing.T) {
	r := New(nil)
	data := buildAudioSegment(t, 0, 10, 1024)

	first, err := r.Remux(data, 0)
	require.NoError(t, err)
	require.NotNil(t, first.Init)

	r.ResetInitSegment()

	second, err := r.Remux(data, 0)
	require.NoError(t, err)
	require.NotNil(t, second.Init)
}

func TestRemux_ResetTimeStampRebasesAnchor(t *testing.T) {
	r := New(nil)
	data := buildAudioSegment(t, 0, 10, 1024)

	track1, err := r.Remux(data, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, track1.StartDTS, 1e-9)

	r.ResetTimeStamp()
	track2, err := r.Remux(data, 100)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, track2.StartDTS, 1e-9)
}

func TestWithCodecDefaults(t *testing.T) {
	audio, video := withCodecDefaults("", "")
	assert.Equal(t, DefaultAudioCodec, audio)
	assert.Equal(t, DefaultVideoCodec, video)

	audio, video = withCodecDefaults("mp4a.40.2", "avc1.640028")
	assert.Equal(t, "mp4a.40.2", audio)
	assert.Equal(t, "avc1.640028", video)
}
