// Package config provides application settings loaded from environment
// variables, with defaults matching the recognition pipeline's documented
// behavior. Components receive a Config snapshot at construction; there are
// no configuration globals.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults for the recognition pipeline.
const (
	DefaultCacheTTL            = 300 * time.Second
	DefaultCacheMaxEntries     = 1000
	DefaultConfidenceThreshold = 0.7
	DefaultInferenceTimeout    = 15 * time.Second
	DefaultProgressDelay       = 5 * time.Second
	DefaultCleanupInterval     = time.Hour
	DefaultListenAddr          = ":8921"
)

// Config holds all application configuration.
type Config struct {
	// Cache settings
	CacheDir        string
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Recognition settings
	ConfidenceThreshold float64
	InferenceTimeout    time.Duration
	ProgressDelay       time.Duration
	CleanupInterval     time.Duration

	// Model settings
	ModelDir string
	Python   string

	// Cloud fallback (disabled by default; per-request consent still applies)
	EnableCloud bool
	CloudKey    string
	CloudURL    string
	CloudModel  string

	// HTTP API
	ListenAddr string
}

// New loads configuration from environment variables, applying defaults and
// validating values. Returns an error on malformed or out-of-range values.
func New() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}
	baseDir := filepath.Join(home, ".nvda_vision")

	ttl, err := getEnvDuration("VISIOND_CACHE_TTL_SECONDS", DefaultCacheTTL)
	if err != nil {
		return Config{}, err
	}

	maxEntries, err := getEnvInt("VISIOND_CACHE_MAX_ENTRIES", DefaultCacheMaxEntries)
	if err != nil {
		return Config{}, err
	}

	threshold, err := getEnvFloat64("VISIOND_CONFIDENCE_THRESHOLD", DefaultConfidenceThreshold)
	if err != nil {
		return Config{}, err
	}

	timeout, err := getEnvDuration("VISIOND_INFERENCE_TIMEOUT_SECONDS", DefaultInferenceTimeout)
	if err != nil {
		return Config{}, err
	}

	progressDelay, err := getEnvDuration("VISIOND_PROGRESS_DELAY_SECONDS", DefaultProgressDelay)
	if err != nil {
		return Config{}, err
	}

	cleanupInterval, err := getEnvDuration("VISIOND_CLEANUP_INTERVAL_SECONDS", DefaultCleanupInterval)
	if err != nil {
		return Config{}, err
	}

	enableCloud, err := getEnvBool("VISIOND_ENABLE_CLOUD", false)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		CacheDir:            getEnv("VISIOND_CACHE_DIR", filepath.Join(baseDir, "cache")),
		CacheTTL:            ttl,
		CacheMaxEntries:     maxEntries,
		ConfidenceThreshold: threshold,
		InferenceTimeout:    timeout,
		ProgressDelay:       progressDelay,
		CleanupInterval:     cleanupInterval,
		ModelDir:            getEnv("VISIOND_MODEL_DIR", filepath.Join(baseDir, "models")),
		Python:              os.Getenv("VISIOND_PYTHON"),
		EnableCloud:         enableCloud,
		CloudKey:            os.Getenv("VISIOND_ARK_API_KEY"),
		CloudURL:            os.Getenv("VISIOND_ARK_ENDPOINT"),
		CloudModel:          os.Getenv("VISIOND_ARK_MODEL"),
		ListenAddr:          getEnv("VISIOND_LISTEN_ADDR", DefaultListenAddr),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive, got %d", c.CacheMaxEntries)
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0, 1], got %v", c.ConfidenceThreshold)
	}
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("inference timeout must be positive, got %s", c.InferenceTimeout)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat64(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getEnvDuration reads a whole number of seconds from the environment.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}
