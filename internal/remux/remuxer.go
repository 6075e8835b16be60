// Package remux implements the pass-through remuxer: it owns DTS
// continuity across a segment stream and emits parsed fMP4 init/media
// tracks, built on
// github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4 in
// internal/relay/buffer_injector.go and internal/relay/fmp4_adapter.go.
package remux

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
)

// TrackKind tags a RemuxedTrack by which media kinds it carries.
type TrackKind string

const (
	TrackAudio      TrackKind = "audio"
	TrackVideo      TrackKind = "video"
	TrackAudioVideo TrackKind = "audiovideo"
)

// InitSegment is the one-shot emission of parsed init tracks, attached to
// the first RemuxedTrack result after attach.
type InitSegment struct {
	AudioCodec string
	VideoCodec string
	Container  string
}

// RemuxedTrack is the result of one Remux call.
type RemuxedTrack struct {
	Kind      TrackKind
	Container string
	Init      *InitSegment // set once, on the emitting call
	StartDTS  float64
	EndDTS    float64
	Payload   []byte
}

// PassThroughRemuxer owns DTS continuity across the segment stream for one
// rendition/track pairing.
type PassThroughRemuxer struct {
	logger *slog.Logger

	initPTS         float64 // NaN until computed
	lastEndDTS      float64 // NaN until the first segment is processed
	initData        *fmp4.Init
	audioCodec      string
	videoCodec      string
	emitInitSegment bool
}

// New creates a PassThroughRemuxer. A nil logger falls back to
// slog.Default().
func New(logger *slog.Logger) *PassThroughRemuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PassThroughRemuxer{
		logger:          logger,
		initPTS:         math.NaN(),
		lastEndDTS:      math.NaN(),
		emitInitSegment: true,
	}
}

// ResetTimeStamp clears lastEndDTS/initPTS so the next Remux call adopts
// timeOffset as a fresh anchor, per the sink's declared capabilities.
func (r *PassThroughRemuxer) ResetTimeStamp() {
	r.lastEndDTS = math.NaN()
	r.initPTS = math.NaN()
}

// ResetNextTimestamp clears only lastEndDTS, keeping an already-computed
// initPTS; used across a level switch where the discontinuity counter
// carries forward.
func (r *PassThroughRemuxer) ResetNextTimestamp() {
	r.lastEndDTS = math.NaN()
}

// ResetInitSegment forces the next Remux call to re-parse init data and
// re-emit it.
func (r *PassThroughRemuxer) ResetInitSegment() {
	r.initData = nil
	r.emitInitSegment = true
}

// Destroy releases any retained state. PassThroughRemuxer holds no external
// resources, but the method is kept to satisfy the remuxer capability set
// shared with the MP4 remuxer variant.
func (r *PassThroughRemuxer) Destroy() {}

// Remux processes one fragment payload. timeOffset anchors lastEndDTS the
// first time it is called (or after a ResetTimeStamp).
func (r *PassThroughRemuxer) Remux(data []byte, timeOffset float64) (*RemuxedTrack, error) {
	if math.IsNaN(r.lastEndDTS) {
		r.lastEndDTS = timeOffset
	}

	if r.initData == nil {
		init, err := parseInit(data)
		if err != nil {
			r.logger.Debug("remux: no init data in payload yet", slog.String("error", err.Error()))
			return &RemuxedTrack{}, nil
		}
		r.initData = init
		r.audioCodec, r.videoCodec = codecStringsFromInit(init)
	}

	kind := trackKindFromInit(r.initData)

	var initSeg *InitSegment
	if r.emitInitSegment {
		audio, video := withCodecDefaults(r.audioCodec, r.videoCodec)
		initSeg = &InitSegment{AudioCodec: audio, VideoCodec: video, Container: "video/mp4"}
		r.emitInitSegment = false
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("remux: parsing parts: %w", err)
	}

	if math.IsNaN(r.initPTS) {
		r.initPTS = firstBaseTimeSeconds(parts, r.initData) - timeOffset
	}

	duration := maxTrackDurationSeconds(parts, r.initData)

	startDTS := r.lastEndDTS
	endDTS := startDTS + duration
	r.lastEndDTS = endDTS

	offset := uint64(r.initPTS * 90000)
	for _, part := range parts {
		for _, track := range part.Tracks {
			track.BaseTime += offset
		}
	}
	payload, err := marshalParts(parts)
	if err != nil {
		return nil, fmt.Errorf("remux: marshaling parts: %w", err)
	}

	track := &RemuxedTrack{
		Kind:      kind,
		Container: "video/mp4",
		Init:      initSeg,
		StartDTS:  startDTS,
		EndDTS:    endDTS,
		Payload:   payload,
	}
	return track, nil
}

func parseInit(data []byte) (*fmp4.Init, error) {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if len(init.Tracks) == 0 {
		return nil, fmt.Errorf("no tracks in init segment")
	}
	return &init, nil
}

func trackKindFromInit(init *fmp4.Init) TrackKind {
	hasAudio, hasVideo := false, false
	for _, track := range init.Tracks {
		switch track.Codec.(type) {
		case *fmp4.CodecMPEG4Audio, *fmp4.CodecOpus:
			hasAudio = true
		case *fmp4.CodecH264, *fmp4.CodecH265, *fmp4.CodecVP9, *fmp4.CodecAV1:
			hasVideo = true
		}
	}
	switch {
	case hasAudio && hasVideo:
		return TrackAudioVideo
	case hasAudio:
		return TrackAudio
	default:
		return TrackVideo
	}
}

func codecStringsFromInit(init *fmp4.Init) (audio, video string) {
	for _, track := range init.Tracks {
		switch track.Codec.(type) {
		case *fmp4.CodecH264:
			video = "avc1.42e01e"
		case *fmp4.CodecH265:
			video = "hvc1.1.6.L93.B0"
		case *fmp4.CodecMPEG4Audio:
			audio = "mp4a.40.2"
		case *fmp4.CodecOpus:
			audio = "opus"
		}
	}
	return audio, video
}

// firstBaseTimeSeconds returns the smallest baseMediaDecodeTime across all
// tracks in parts, converted to seconds via each track's own timescale from
// init (90kHz assumed when a track carries no timescale).
func firstBaseTimeSeconds(parts fmp4.Parts, init *fmp4.Init) float64 {
	timescales := make(map[int]uint32, len(init.Tracks))
	for _, t := range init.Tracks {
		timescales[t.ID] = t.TimeScale
	}

	minDTS := math.Inf(1)
	for _, part := range parts {
		for _, track := range part.Tracks {
			ts := timescales[track.ID]
			if ts == 0 {
				ts = 90000
			}
			dts := float64(track.BaseTime) / float64(ts)
			if dts < minDTS {
				minDTS = dts
			}
		}
	}
	if math.IsInf(minDTS, 1) {
		return 0
	}
	return minDTS
}

// maxTrackDurationSeconds sums each track's sample durations, converted to
// seconds via the track's own timescale from init (90kHz assumed when a
// track carries no timescale), and returns the longest track's total.
func maxTrackDurationSeconds(parts fmp4.Parts, init *fmp4.Init) float64 {
	timescales := make(map[int]uint32, len(init.Tracks))
	for _, t := range init.Tracks {
		timescales[t.ID] = t.TimeScale
	}

	var maxDuration float64
	for _, part := range parts {
		for _, track := range part.Tracks {
			var total uint64
			for _, s := range track.Samples {
				total += uint64(s.Duration)
			}
			ts := timescales[track.ID]
			if ts == 0 {
				ts = 90000
			}
			d := float64(total) / float64(ts)
			if d > maxDuration {
				maxDuration = d
			}
		}
	}
	return maxDuration
}

// marshalParts re-marshals each *fmp4.Part individually and concatenates the
// results, following the one-moof-per-Marshal-call idiom in
// internal/daemon/fmp4_muxer.go.
func marshalParts(parts fmp4.Parts) ([]byte, error) {
	var out bytes.Buffer
	for _, part := range parts {
		buf := &seekableBuffer{Buffer: &bytes.Buffer{}}
		if err := part.Marshal(buf); err != nil {
			return nil, err
		}
		out.Write(buf.Bytes())
	}
	return out.Bytes(), nil
}
