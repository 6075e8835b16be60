package levelcontroller

import "time"

// Config holds LevelController's tunables for retry and reload timing.
type Config struct {
	LevelLoadingMaxRetry        int
	LevelLoadingRetryDelay      time.Duration // base delay for exponential backoff
	LevelLoadingMaxRetryTimeout time.Duration // backoff cap

	// StartLevel, if >= 0, pins the initial rendition instead of firstLevel.
	StartLevel int
}

// DefaultConfig provides conservative retry/backoff defaults.
func DefaultConfig() Config {
	return Config{
		LevelLoadingMaxRetry:        3,
		LevelLoadingRetryDelay:      1000 * time.Millisecond,
		LevelLoadingMaxRetryTimeout: 8000 * time.Millisecond,
		StartLevel:                  -1,
	}
}
