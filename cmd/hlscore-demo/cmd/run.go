package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlscore/internal/bus"
	"github.com/jmylchreest/hlscore/internal/config"
	"github.com/jmylchreest/hlscore/internal/levelcontroller"
	"github.com/jmylchreest/hlscore/internal/levels"
	"github.com/jmylchreest/hlscore/internal/rate"
	"github.com/jmylchreest/hlscore/internal/timeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Wire the engine's components together against a synthetic manifest",
	Long: `run drives a minimal, in-process scenario through the EventBus:
a synthetic three-rendition manifest is admitted by LevelController, a
live LEVEL_LOADED response arms its reload timer, and the
PlaybackRateController and TimelineController are attached so the full
event trace is visible on stdout.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDemo(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()
	b := bus.New(logger)

	traceEverything(b, logger)

	lcCfg := levelcontroller.DefaultConfig()
	lc := levelcontroller.New(b, logger, lcCfg, levelcontroller.TimerScheduler{}, nil, levelcontroller.UserAgentCapabilities{})
	defer lc.Detach()

	tl := timeline.New(b, logger, timeline.Config{})
	defer tl.Detach()

	rc := rate.New(rate.DefaultConfig(), logger)
	pos := 0.0
	rc.Attach(&rate.MediaSink{
		CurrentTime:    func() float64 { return pos },
		BufferedRanges: func() []rate.Range { return []rate.Range{{Start: 0, End: pos + 4}} },
		SetRate:        func(r float64) { logger.Debug("demo: playback rate", slog.Float64("rate", r)) },
	})
	defer rc.Detach()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b.Emit(ctx, bus.ManifestLoaded, levelcontroller.ManifestLoadedPayload{
		Levels: []levelcontroller.ParsedLevel{
			{Bitrate: 800000, URL: "low/index.m3u8", VideoCodec: "avc1.42e01e", AudioCodec: "mp4a.40.2"},
			{Bitrate: 2500000, URL: "mid/index.m3u8", VideoCodec: "avc1.42e01e", AudioCodec: "mp4a.40.2"},
			{Bitrate: 5000000, URL: "high/index.m3u8", VideoCodec: "avc1.4d401f", AudioCodec: "mp4a.40.2"},
		},
	})

	b.Emit(ctx, bus.LevelLoaded, levelcontroller.LevelLoadedPayload{
		Level: lc.CurrentLevel(),
		Details: &levels.LevelDetails{
			Live:           true,
			TargetDuration: 6,
			StartSN:        100,
			EndSN:          103,
			Fragments:      []levels.Fragment{{SN: 100, Start: 0}, {SN: 101, Start: 6}, {SN: 102, Start: 12}},
		},
	})

	fmt.Fprintf(cmd.OutOrStdout(), "current level: %d of %d\n", lc.CurrentLevel(), len(lc.Levels()))
	return nil
}

func traceEverything(b *bus.Bus, logger *slog.Logger) {
	for _, evt := range []bus.EventType{
		bus.ManifestLoaded, bus.ManifestParsed, bus.LevelLoading, bus.LevelLoaded,
		bus.LevelSwitching, bus.LevelsUpdated, bus.Error,
	} {
		evt := evt
		b.On(evt, func(_ context.Context, e bus.Event) {
			logger.Info("event", slog.String("type", evt.String()), slog.Time("at", time.Now()), slog.Any("payload", e.Payload))
		})
	}
}
