// Package config provides configuration management for the player engine
// using Viper. It supports configuration from files, environment
// variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultLevelLoadingMaxRetry        = 4
	defaultLevelLoadingRetryDelay      = 1000 * time.Millisecond
	defaultLevelLoadingMaxRetryTimeout = 64000 * time.Millisecond
	defaultFragLoadingMaxRetry         = 6
	defaultFragLoadingRetryDelay       = 1000 * time.Millisecond
	defaultFragLoadingMaxRetryTimeout  = 64000 * time.Millisecond
	defaultMaxBufferHole               = 0.5 // seconds
	defaultMaxBufferLength             = 30 * time.Second
	defaultEwmaFastLive                = 3.0
	defaultEwmaSlowLive                = 9.0
	defaultStatusServerPort            = 8080
	defaultServerTimeout                = 30 * time.Second
	defaultShutdownTimeout              = 10 * time.Second
)

// Config holds all configuration for the engine.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	ABR      ABRConfig      `mapstructure:"abr"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Captions CaptionsConfig `mapstructure:"captions"`
	// StartLevel pins the initial rendition; nil means auto (first level
	// picked by LevelController's admission pass).
	StartLevel *int `mapstructure:"start_level"`
}

// ServerConfig holds the demo status-server's HTTP configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ABRConfig tunes the bandwidth-driven rendition selection strategy.
type ABRConfig struct {
	// EwmaFastLive/EwmaSlowLive are the fast/slow EWMA half-lives, in
	// seconds, used by the bandwidth estimator for live streams.
	EwmaFastLive float64 `mapstructure:"ewma_fast_live"`
	EwmaSlowLive float64 `mapstructure:"ewma_slow_live"`
}

// BufferConfig tunes the elementary-stream buffer queue.
type BufferConfig struct {
	// MaxBufferHole is the largest gap, in seconds, between buffered
	// ranges that is still treated as contiguous buffer.
	MaxBufferHole float64 `mapstructure:"max_buffer_hole"`
	// MaxBufferLength caps how far ahead of playback fragments are
	// retained.
	MaxBufferLength time.Duration `mapstructure:"max_buffer_length"`
}

// RetryConfig tunes LevelController's and fragment loading's exponential
// backoff.
type RetryConfig struct {
	LevelLoadingMaxRetry        int      `mapstructure:"level_loading_max_retry"`
	LevelLoadingRetryDelay      Duration `mapstructure:"level_loading_retry_delay"`
	LevelLoadingMaxRetryTimeout Duration `mapstructure:"level_loading_max_retry_timeout"`
	FragLoadingMaxRetry         int      `mapstructure:"frag_loading_max_retry"`
	FragLoadingRetryDelay       Duration `mapstructure:"frag_loading_retry_delay"`
	FragLoadingMaxRetryTimeout  Duration `mapstructure:"frag_loading_max_retry_timeout"`
}

// CaptionsConfig controls which text-track codecs the timeline controller
// recognises and how parsed tracks are labelled.
type CaptionsConfig struct {
	EnableWebVTT             bool   `mapstructure:"enable_webvtt"`
	EnableIMSC1              bool   `mapstructure:"enable_imsc1"`
	EnableCEA708Captions     bool   `mapstructure:"enable_cea708_captions"`
	RenderTextTracksNatively bool   `mapstructure:"render_text_tracks_natively"`
	CaptionsTextTrack1Label  string `mapstructure:"captions_text_track1_label"`
	CaptionsTextTrack1LanguageCode string `mapstructure:"captions_text_track1_language_code"`
	CaptionsTextTrack2Label string `mapstructure:"captions_text_track2_label"`
	CaptionsTextTrack2LanguageCode string `mapstructure:"captions_text_track2_language_code"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSCORE_ and use underscores for
// nesting. Example: HLSCORE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlscore")
		v.AddConfigPath("$HOME/.hlscore")
	}

	v.SetEnvPrefix("HLSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultStatusServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("abr.ewma_fast_live", defaultEwmaFastLive)
	v.SetDefault("abr.ewma_slow_live", defaultEwmaSlowLive)

	v.SetDefault("buffer.max_buffer_hole", defaultMaxBufferHole)
	v.SetDefault("buffer.max_buffer_length", defaultMaxBufferLength)

	v.SetDefault("retry.level_loading_max_retry", defaultLevelLoadingMaxRetry)
	v.SetDefault("retry.level_loading_retry_delay", defaultLevelLoadingRetryDelay)
	v.SetDefault("retry.level_loading_max_retry_timeout", defaultLevelLoadingMaxRetryTimeout)
	v.SetDefault("retry.frag_loading_max_retry", defaultFragLoadingMaxRetry)
	v.SetDefault("retry.frag_loading_retry_delay", defaultFragLoadingRetryDelay)
	v.SetDefault("retry.frag_loading_max_retry_timeout", defaultFragLoadingMaxRetryTimeout)

	v.SetDefault("captions.enable_webvtt", true)
	v.SetDefault("captions.enable_imsc1", true)
	v.SetDefault("captions.enable_cea708_captions", true)
	v.SetDefault("captions.render_text_tracks_natively", false)
	v.SetDefault("captions.captions_text_track1_label", "English")
	v.SetDefault("captions.captions_text_track1_language_code", "en")
	v.SetDefault("captions.captions_text_track2_label", "Spanish")
	v.SetDefault("captions.captions_text_track2_language_code", "es")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Retry.LevelLoadingMaxRetry < 0 {
		return fmt.Errorf("retry.level_loading_max_retry must be >= 0")
	}
	if c.Retry.FragLoadingMaxRetry < 0 {
		return fmt.Errorf("retry.frag_loading_max_retry must be >= 0")
	}
	if c.StartLevel != nil && *c.StartLevel < -1 {
		return fmt.Errorf("start_level must be -1 (auto) or >= 0")
	}

	return nil
}

// Address returns the status server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
