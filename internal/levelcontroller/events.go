package levelcontroller

import "github.com/jmylchreest/hlscore/internal/levels"

// ManifestLoadedPayload is MANIFEST_LOADED's payload.
type ManifestLoadedPayload struct {
	Levels []ParsedLevel
}

// ManifestParsedPayload is MANIFEST_PARSED's payload.
type ManifestParsedPayload struct {
	FirstLevel int
}

// LevelLoadingPayload is LEVEL_LOADING's payload.
type LevelLoadingPayload struct {
	Level int
	URL   string
}

// LevelLoadedPayload is LEVEL_LOADED's payload.
type LevelLoadedPayload struct {
	Level   int
	Details *levels.LevelDetails
}

// LevelSwitchingPayload is LEVEL_SWITCHING's payload.
type LevelSwitchingPayload struct {
	Level int
}

// LevelsUpdatedPayload is LEVELS_UPDATED's payload.
type LevelsUpdatedPayload struct {
	Levels []*levels.Level
}

// AudioTrackSwitchedPayload is AUDIO_TRACK_SWITCHED's payload.
type AudioTrackSwitchedPayload struct {
	GroupID string
}
