package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/util"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "bustracker.yaml"

const (
	WriteThroughDirect = "direct"
	WriteThroughQueue  = "queue"
)

// TrackingConfig holds the tracking policy thresholds and queue sizes
type TrackingConfig struct {
	// Readings with a worse accuracy than this are rejected
	MaxAccuracyMeters float64 `yaml:"maxAccuracyMeters" validate:"gt=0"`
	// Used when the device does not report an accuracy
	DefaultAccuracyMeters float64 `yaml:"defaultAccuracyMeters" validate:"gt=0"`

	StalenessThreshold  time.Duration `yaml:"stalenessThreshold" validate:"gt=0"`
	FallbackReadTimeout time.Duration `yaml:"fallbackReadTimeout" validate:"gt=0"`

	SubscriberQueueSize int `yaml:"subscriberQueueSize" validate:"gt=0"`

	WriteThroughMode      string `yaml:"writeThroughMode" validate:"oneof=direct queue"`
	WriteThroughQueueSize int    `yaml:"writeThroughQueueSize" validate:"gt=0"`
	WriteThroughWorkers   int    `yaml:"writeThroughWorkers" validate:"gt=0,lte=64"`

	LastKnownCacheTTL time.Duration `yaml:"lastKnownCacheTTL" validate:"gte=0"`
}

var defaultTrackingConfig = TrackingConfig{
	MaxAccuracyMeters:     500,
	DefaultAccuracyMeters: 999,
	StalenessThreshold:    10 * time.Minute,
	FallbackReadTimeout:   2 * time.Second,
	SubscriberQueueSize:   32,
	WriteThroughMode:      WriteThroughDirect,
	WriteThroughQueueSize: 1024,
	WriteThroughWorkers:   4,
	LastKnownCacheTTL:     30 * time.Second,
}

func Default() TrackingConfig {
	return defaultTrackingConfig
}

// Load reads the tracking policy from the yaml file named by BUSTRACKER_CONFIG (or bustracker.yaml),
// applies environment overrides and validates the result. A missing file is not an error.
func Load() (TrackingConfig, error) {
	path := util.GetEnvironmentVariable("BUSTRACKER_CONFIG", defaultConfigPath)

	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := applyEnvironment(&cfg); err != nil {
		return cfg, err
	}

	return cfg, Validate(cfg)
}

// LoadFile decodes a yaml file on top of the defaults
func LoadFile(path string) (TrackingConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("path", path).Msg("No tracking config file, using defaults")
		return cfg, nil
	} else if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

func Validate(cfg TrackingConfig) error {
	return validator.New().Struct(cfg)
}

func applyEnvironment(cfg *TrackingConfig) error {
	env := util.GetEnvironmentVariables()

	floats := map[string]*float64{
		"BUSTRACKER_MAX_ACCURACY_METERS":     &cfg.MaxAccuracyMeters,
		"BUSTRACKER_DEFAULT_ACCURACY_METERS": &cfg.DefaultAccuracyMeters,
	}
	for key, target := range floats {
		if val := env[key]; val != "" {
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %q", key, val)
			}
			*target = parsed
		}
	}

	durations := map[string]*time.Duration{
		"BUSTRACKER_STALENESS_THRESHOLD":   &cfg.StalenessThreshold,
		"BUSTRACKER_FALLBACK_READ_TIMEOUT": &cfg.FallbackReadTimeout,
		"BUSTRACKER_LAST_KNOWN_CACHE_TTL":  &cfg.LastKnownCacheTTL,
	}
	for key, target := range durations {
		if val := env[key]; val != "" {
			parsed, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %q", key, val)
			}
			*target = parsed
		}
	}

	ints := map[string]*int{
		"BUSTRACKER_SUBSCRIBER_QUEUE_SIZE":    &cfg.SubscriberQueueSize,
		"BUSTRACKER_WRITE_THROUGH_QUEUE_SIZE": &cfg.WriteThroughQueueSize,
		"BUSTRACKER_WRITE_THROUGH_WORKERS":    &cfg.WriteThroughWorkers,
	}
	for key, target := range ints {
		if val := env[key]; val != "" {
			parsed, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %q", key, val)
			}
			*target = parsed
		}
	}

	if val := env["BUSTRACKER_WRITE_THROUGH_MODE"]; val != "" {
		cfg.WriteThroughMode = val
	}

	return nil
}
