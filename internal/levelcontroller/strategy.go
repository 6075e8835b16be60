package levelcontroller

import "github.com/jmylchreest/hlscore/internal/levels"

// HoldCurrentStrategy is the default ABRStrategy: it leaves the rendition
// unchanged. Real bandwidth-driven selection is an external collaborator
// the bandwidth estimator itself is out of scope; this
// strategy exists so LevelController has a well-defined auto-mode choice
// when no bandwidth-aware strategy has been injected.
type HoldCurrentStrategy struct{}

func (HoldCurrentStrategy) NextLevel(_ []*levels.Level, current int) int { return current }
func (HoldCurrentStrategy) Name() string                                 { return "hold-current" }

// ManualOrAutoStrategy wraps a Fallback ABRStrategy, consulted only while
// Manual reports auto (-1). Holds an
// injected SelectionStrategy (internal/relay/daemon_selection.go).
type ManualOrAutoStrategy struct {
	Manual   func() int
	Fallback ABRStrategy
}

func (s ManualOrAutoStrategy) NextLevel(levelsList []*levels.Level, current int) int {
	if s.Manual != nil {
		if m := s.Manual(); m != -1 {
			return m
		}
	}
	return s.Fallback.NextLevel(levelsList, current)
}

func (s ManualOrAutoStrategy) Name() string { return "manual-or-auto/" + s.Fallback.Name() }
