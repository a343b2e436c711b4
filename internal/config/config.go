package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the playback service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// VoicePlatform is the default platform for new sessions:
	// device, catalog or mock.
	VoicePlatform    string
	VoiceCatalogPath string
	KeywordsPath     string
	CatalogPerRune   time.Duration

	DefaultLanguage   string
	SecondaryLanguage string
	DisplayMode       string
	PlaybackRate      float64
	PlaybackPitch     float64
	PlaybackVolume    float64

	DatabaseURL string

	NATSURL           string
	NATSSubjectPrefix string
	EventQueueSize    int
}

// Load reads an optional .env file, then environment variables, and applies
// safe defaults. Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("APP_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "versevoice"),
		AllowAnyOrigin:           false,
		VoicePlatform:            strings.ToLower(envOrDefault("VOICE_PLATFORM", "device")),
		VoiceCatalogPath:         envOrDefault("VOICE_CATALOG_PATH", "configs/voices.yaml"),
		KeywordsPath:             stringsTrimSpace("VOICE_KEYWORDS_PATH"),
		CatalogPerRune:           60 * time.Millisecond,
		DefaultLanguage:          strings.ToLower(envOrDefault("DEFAULT_LANGUAGE", "ko")),
		SecondaryLanguage:        strings.ToLower(envOrDefault("SECONDARY_LANGUAGE", "en")),
		DisplayMode:              strings.ToLower(envOrDefault("DISPLAY_MODE", "single")),
		PlaybackRate:             1,
		PlaybackPitch:            0,
		PlaybackVolume:           1,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		NATSURL:                  stringsTrimSpace("NATS_URL"),
		NATSSubjectPrefix:        envOrDefault("NATS_SUBJECT_PREFIX", "versevoice.playback"),
		EventQueueSize:           256,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.CatalogPerRune, err = durationFromEnv("CATALOG_PER_RUNE", cfg.CatalogPerRune)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackRate, err = floatFromEnv("PLAYBACK_RATE", cfg.PlaybackRate)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackPitch, err = floatFromEnv("PLAYBACK_PITCH", cfg.PlaybackPitch)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackVolume, err = floatFromEnv("PLAYBACK_VOLUME", cfg.PlaybackVolume)
	if err != nil {
		return Config{}, err
	}
	cfg.EventQueueSize, err = intFromEnv("EVENT_QUEUE_SIZE", cfg.EventQueueSize)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch cfg.VoicePlatform {
	case "device", "catalog", "mock":
	default:
		return Config{}, fmt.Errorf("invalid VOICE_PLATFORM: %q (expected device|catalog|mock)", cfg.VoicePlatform)
	}
	switch cfg.DisplayMode {
	case "single", "cross":
	default:
		return Config{}, fmt.Errorf("invalid DISPLAY_MODE: %q (expected single|cross)", cfg.DisplayMode)
	}
	if cfg.CatalogPerRune <= 0 {
		return Config{}, fmt.Errorf("CATALOG_PER_RUNE must be positive")
	}
	if cfg.PlaybackRate < 0.5 || cfg.PlaybackRate > 2 {
		return Config{}, fmt.Errorf("PLAYBACK_RATE must be in [0.5, 2]")
	}
	if cfg.PlaybackPitch < -4 || cfg.PlaybackPitch > 4 {
		return Config{}, fmt.Errorf("PLAYBACK_PITCH must be in [-4, 4]")
	}
	if cfg.PlaybackVolume < 0 || cfg.PlaybackVolume > 1 {
		return Config{}, fmt.Errorf("PLAYBACK_VOLUME must be in [0, 1]")
	}
	if cfg.EventQueueSize <= 0 {
		return Config{}, fmt.Errorf("EVENT_QUEUE_SIZE must be positive")
	}

	return cfg, nil
}

// loadDotEnv loads path when it exists. A missing file is not an error.
func loadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
