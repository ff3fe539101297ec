// Package config loads the CLI's defaults file, a small YAML document of
// the knobs a user would otherwise have to repeat as flags on every
// invocation.
//
// Grounded on the teacher's pkg/storage/storage.go ConfigEnv: unmarshal
// into a struct with yaml tags, then fill in defaults and validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config holds the CLI's tunable defaults.
type Config struct {
	// FutureFrames estimates how many additional frames a rewrite should
	// provision free space for, so the next few appends stay in-place
	// (spec 4.5/4.6, the original tool's --future_frames).
	FutureFrames int `yaml:"futureFrames"`

	// BytesPerFrameEstimate is the original tool's rough "6 bytes per
	// frame" padding heuristic. A rewrite provisions the larger of
	// FutureFrames*BytesPerFrameEstimate and the destination's current
	// moov size.
	BytesPerFrameEstimate int64 `yaml:"bytesPerFrameEstimate"`

	// HistoryDBPath is where pkg/history records every append/rewrite.
	// Empty disables history entirely.
	HistoryDBPath string `yaml:"historyDbPath"`

	// LogLevel names a log level: one of "error", "warning", "info",
	// "debug". Load validates it; the CLI's stdout printer does not filter
	// on it and prints events of every level.
	LogLevel string `yaml:"logLevel"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		FutureFrames:          1000,
		BytesPerFrameEstimate: 6,
		HistoryDBPath:         "",
		LogLevel:              "info",
	}
}

// Load reads and validates the YAML config file at path. A missing file
// is not an error: Default() is returned instead, matching the CLI's
// "works with zero setup" expectation.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	if cfg.FutureFrames < 0 {
		return Config{}, fmt.Errorf("futureFrames must be >= 0, got %d", cfg.FutureFrames)
	}
	if cfg.BytesPerFrameEstimate <= 0 {
		return Config{}, fmt.Errorf("bytesPerFrameEstimate must be > 0, got %d", cfg.BytesPerFrameEstimate)
	}
	switch cfg.LogLevel {
	case "error", "warning", "info", "debug":
	default:
		return Config{}, fmt.Errorf("logLevel must be one of error/warning/info/debug, got %q", cfg.LogLevel)
	}
	if cfg.HistoryDBPath != "" && !filepath.IsAbs(cfg.HistoryDBPath) {
		return Config{}, fmt.Errorf("historyDbPath %q must be an absolute path", cfg.HistoryDBPath)
	}

	return cfg, nil
}
