package levelcontroller

import (
	"errors"
	"sort"
	"strings"

	"github.com/jmylchreest/hlscore/internal/levels"
)

// ErrNoCompatibleLevel is returned by GroupAndFilter when every parsed
// level was dropped by the filtering pass.
var ErrNoCompatibleLevel = errors.New("levelcontroller: no compatible level after filtering")

// chromeFirefoxAudioWorkaround is the codec substring Chrome/Firefox
// mis-probe; erasing it lets the demuxer auto-detect MPEG audio instead.
const chromeFirefoxAudioWorkaround = "mp4a.40.34"

// GroupAndFilter groups parsed manifest entries by
// bitrate (first occurrence creates the Level, later same-bitrate entries
// become redundant URLs), filter audio-only/unsupported-codec levels, apply
// the Chrome/Firefox mp4a.40.34 workaround, then sort ascending by bitrate.
// firstLevel is the index, in the sorted result, of the level carrying the
// first parsed entry's bitrate.
func GroupAndFilter(parsed []ParsedLevel, sink SinkCapabilities, ua UserAgentCapabilities) ([]*levels.Level, int, error) {
	if len(parsed) == 0 {
		return nil, 0, ErrNoCompatibleLevel
	}

	grouped := groupByBitrate(parsed)
	filtered := filterLevels(grouped, sink, ua)
	if len(filtered) == 0 {
		return nil, 0, ErrNoCompatibleLevel
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Bitrate < filtered[j].Bitrate })

	firstBitrate := parsed[0].Bitrate
	firstLevel := 0
	for i, l := range filtered {
		if l.Bitrate == firstBitrate {
			firstLevel = i
			break
		}
	}

	return filtered, firstLevel, nil
}

func groupByBitrate(parsed []ParsedLevel) []*levels.Level {
	var order []int
	byBitrate := make(map[int]*levels.Level)

	for _, p := range parsed {
		existing, ok := byBitrate[p.Bitrate]
		if !ok {
			l := &levels.Level{
				Bitrate:       p.Bitrate,
				URL:           []string{p.URL},
				AudioCodec:    p.AudioCodec,
				VideoCodec:    p.VideoCodec,
				AudioGroupIDs: p.AudioGroupIDs,
				TextGroupIDs:  p.TextGroupIDs,
			}
			byBitrate[p.Bitrate] = l
			order = append(order, p.Bitrate)
			continue
		}
		existing.URL = append(existing.URL, p.URL)
	}

	out := make([]*levels.Level, 0, len(order))
	for _, bitrate := range order {
		out = append(out, byBitrate[bitrate])
	}
	return out
}

func filterLevels(in []*levels.Level, sink SinkCapabilities, ua UserAgentCapabilities) []*levels.Level {
	hasVideo, hasAudio := false, false
	for _, l := range in {
		if l.VideoCodec != "" {
			hasVideo = true
		}
		if l.AudioCodec != "" {
			hasAudio = true
		}
	}

	out := make([]*levels.Level, 0, len(in))
	for _, l := range in {
		if hasVideo && hasAudio && l.VideoCodec == "" {
			continue // audio-only level dropped once a video+audio pair exists
		}
		if sink != nil {
			if l.AudioCodec != "" && !sink.SupportsAudioCodec(l.AudioCodec) {
				continue
			}
			if l.VideoCodec != "" && !sink.SupportsVideoCodec(l.VideoCodec) {
				continue
			}
		}
		if ua.IsChromeOrFirefox && strings.Contains(l.AudioCodec, chromeFirefoxAudioWorkaround) {
			l.AudioCodec = ""
		}
		out = append(out, l)
	}
	return out
}
