// Package levelcontroller manages the set of alternative bitrate renditions:
// manifest admission and filtering, rendition selection, the live reload
// timer (including LL-HLS blocking reloads), and the error recovery state
// machine with exponential backoff and redundant-URL escalation. Modeled on
// a backoff state machine
// and internal/relay/daemon_selection.go (pluggable selection strategy).
package levelcontroller

import "github.com/jmylchreest/hlscore/internal/levels"

// ParsedLevel is what an external manifest parser yields for one playlist
// entry, before grouping by bitrate.
type ParsedLevel struct {
	Bitrate       int
	URL           string
	AudioCodec    string
	VideoCodec    string
	AudioGroupIDs levels.StringSet
	TextGroupIDs  levels.StringSet
}

// SinkCapabilities is the external predicate the admission filter consults,
// when the sink does not support the level's codecs.
type SinkCapabilities interface {
	SupportsAudioCodec(codec string) bool
	SupportsVideoCodec(codec string) bool
}

// UserAgentCapabilities is computed once at construction and injected,
// never read from a package global, per DESIGN NOTES' "no global mutable
// state" guidance.
type UserAgentCapabilities struct {
	IsChromeOrFirefox bool
}

// ABRStrategy picks the next automatic rendition, mirroring a
// SelectionStrategy interface injected into DaemonSelector.
type ABRStrategy interface {
	NextLevel(levelsList []*levels.Level, current int) int
	Name() string
}

// ReloadScheduler abstracts the timer primitive so tests can control time
// without sleeping; production wiring backs it with time.AfterFunc exactly
// as DaemonRegistry arms its cleanup timer.
type ReloadScheduler interface {
	Schedule(delayMillis int64, fn func()) (cancel func())
}
