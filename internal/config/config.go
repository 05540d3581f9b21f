// Package config loads runtime configuration from an optional TOML file,
// .env, and environment variables, in rising precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds everything the transcriber needs to run a session.
type Config struct {
	// LiveKit configuration
	LiveKitURL       string `toml:"livekit_url"`
	LiveKitAPIKey    string `toml:"livekit_api_key"`
	LiveKitAPISecret string `toml:"livekit_api_secret"`

	// Transcription configuration
	GroqAPIKey string `toml:"groq_api_key"`
	FFmpegPath string `toml:"ffmpeg_path"`

	// Silence trimming
	SilenceThresholdDB float64       `toml:"silence_threshold_db"`
	SilenceDuration    time.Duration `toml:"-"`

	// Session timing
	AloneWait           time.Duration `toml:"-"`
	EmptyMeetingTimeout time.Duration `toml:"-"`
	WaitingRoomTimeout  time.Duration `toml:"-"`

	LogLevel string `toml:"log_level"`
}

// fileConfig mirrors Config for the duration fields TOML expresses in
// seconds.
type fileConfig struct {
	Config
	SilenceDurationSec     int `toml:"silence_duration_seconds"`
	AloneWaitSec           int `toml:"alone_wait_seconds"`
	EmptyMeetingTimeoutSec int `toml:"empty_meeting_timeout_seconds"`
	WaitingRoomTimeoutSec  int `toml:"waiting_room_timeout_seconds"`
}

// Load resolves configuration. Env vars beat the config file; the file beats
// built-in defaults. A .env file in the working directory is read first when
// present.
func Load() (*Config, error) {
	cfg := &Config{
		SilenceThresholdDB:  -40,
		SilenceDuration:     time.Second,
		AloneWait:           15 * time.Second,
		EmptyMeetingTimeout: 600 * time.Second,
		WaitingRoomTimeout:  300 * time.Second,
		LogLevel:            "info",
	}

	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	if err := loadFile(cfg); err != nil {
		return nil, err
	}

	cfg.LiveKitURL = getEnv("LIVEKIT_URL", cfg.LiveKitURL)
	cfg.LiveKitAPIKey = getEnv("LIVEKIT_API_KEY", cfg.LiveKitAPIKey)
	cfg.LiveKitAPISecret = getEnv("LIVEKIT_API_SECRET", cfg.LiveKitAPISecret)
	cfg.GroqAPIKey = getEnv("GROQ_API_KEY", cfg.GroqAPIKey)
	cfg.FFmpegPath = getEnv("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("SILENCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SILENCE_THRESHOLD %q: %w", v, err)
		}
		cfg.SilenceThresholdDB = f
	}
	if err := envSeconds("SILENCE_DURATION", &cfg.SilenceDuration); err != nil {
		return nil, err
	}
	if err := envSeconds("ALONE_WAIT_SECONDS", &cfg.AloneWait); err != nil {
		return nil, err
	}
	if err := envSeconds("EMPTY_MEETING_TIMEOUT", &cfg.EmptyMeetingTimeout); err != nil {
		return nil, err
	}
	if err := envSeconds("WAITING_ROOM_TIMEOUT", &cfg.WaitingRoomTimeout); err != nil {
		return nil, err
	}

	if cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY is required")
	}
	if cfg.LiveKitAPIKey == "" {
		return nil, fmt.Errorf("LIVEKIT_API_KEY is required")
	}
	if cfg.LiveKitAPISecret == "" {
		return nil, fmt.Errorf("LIVEKIT_API_SECRET is required")
	}

	return cfg, nil
}

// FilePath returns the optional config file location, honoring
// XDG_CONFIG_HOME.
func FilePath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "webrtc-transcribe", "config.toml")
}

func loadFile(cfg *Config) error {
	path := FilePath()
	if path == "" {
		return nil
	}
	var fc fileConfig
	fc.Config = *cfg
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	*cfg = fc.Config
	if fc.SilenceDurationSec > 0 {
		cfg.SilenceDuration = time.Duration(fc.SilenceDurationSec) * time.Second
	}
	if fc.AloneWaitSec > 0 {
		cfg.AloneWait = time.Duration(fc.AloneWaitSec) * time.Second
	}
	if fc.EmptyMeetingTimeoutSec > 0 {
		cfg.EmptyMeetingTimeout = time.Duration(fc.EmptyMeetingTimeoutSec) * time.Second
	}
	if fc.WaitingRoomTimeoutSec > 0 {
		cfg.WaitingRoomTimeout = time.Duration(fc.WaitingRoomTimeoutSec) * time.Second
	}
	return nil
}

// envSeconds parses an integer-seconds env var into a duration.
func envSeconds(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid %s %q: expected non-negative integer seconds", key, v)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
