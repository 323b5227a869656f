// Package loader handles configuration file loading and validation.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Applying REPLAY_* environment overrides
//   - Converting between YAML and internal representations
package loader

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/xtxerr/replay/internal/episode"
	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/logging"
	"github.com/xtxerr/replay/internal/recording"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is parsed.
const (
	EnvMaxRecordings = "REPLAY_MAX_RECORDINGS"
	EnvBatchSize     = "REPLAY_BATCH_SIZE"
	EnvPublicAddress = "REPLAY_PUBLIC_ADDRESS"
	EnvEpisodesDB    = "REPLAY_EPISODES_DB"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. An empty path yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands environment variables in data and unmarshals it over cfg.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnv applies REPLAY_* overrides. lookup is os.LookupEnv outside tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMaxRecordings); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewValidation(EnvMaxRecordings, fmt.Sprintf("not an integer: %q", v))
		}
		cfg.Recordings.Max = n
	}
	if v, ok := lookup(EnvBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewValidation(EnvBatchSize, fmt.Sprintf("not an integer: %q", v))
		}
		cfg.Replay.BatchSize = n
	}
	if v, ok := lookup(EnvPublicAddress); ok && v != "" {
		cfg.PublicAddress = v
	}
	if v, ok := lookup(EnvEpisodesDB); ok {
		cfg.Episodes.Path = v
	}
	return nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// Server validation
	if cfg.Listen == "" {
		errs.AddField("listen", "cannot be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		errs.AddField("listen", err.Error())
	}
	if cfg.PublicAddress == "" {
		errs.AddField("public_address", "cannot be empty")
	}
	if cfg.Shutdown.Timeout < 0 {
		errs.AddField("shutdown.timeout", "cannot be negative")
	}

	if cfg.RateLimit.Failures < 0 {
		errs.AddField("rate_limit.failures", "cannot be negative")
	}
	if cfg.RateLimit.Failures > 0 && cfg.RateLimit.Window <= 0 {
		errs.AddField("rate_limit.window", "must be positive")
	}

	// Log validation
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs.AddField("log.level", err.Error())
	}
	switch cfg.Log.Format {
	case "auto", "json", "text":
	default:
		errs.AddField("log.format", fmt.Sprintf("must be auto, json or text, got %q", cfg.Log.Format))
	}

	// Recordings validation
	if cfg.Recordings.Max <= 0 {
		errs.AddField("recordings.max", "must be positive")
	}
	if cfg.Recordings.SendBuffer <= 0 {
		errs.AddField("recordings.send_buffer", "must be positive")
	}
	if cfg.Recordings.LogBacklog < 0 {
		errs.AddField("recordings.log_backlog", "cannot be negative")
	}
	if cfg.Recordings.MaxFrameSize <= 0 {
		errs.AddField("recordings.max_frame_size", "must be positive")
	}

	// Replay validation
	if cfg.Replay.BatchSize <= 0 {
		errs.AddField("replay.batch_size", "must be positive")
	}
	switch cfg.Replay.Mode {
	case ModeBatch, ModePoint:
	default:
		errs.AddField("replay.mode", fmt.Sprintf("must be %s or %s, got %q", ModeBatch, ModePoint, cfg.Replay.Mode))
	}

	// Episodes validation
	if cfg.Episodes.MaxOpenConns <= 0 {
		errs.AddField("episodes.max_open_conns", "must be positive")
	}
	if cfg.Episodes.QueryTimeout <= 0 {
		errs.AddField("episodes.query_timeout", "must be positive")
	}

	// Summary validation
	if cfg.Summary.Accuracy < 0 || cfg.Summary.Accuracy >= 1 {
		errs.AddField("summary.accuracy", "must be in [0, 1)")
	}

	return errs.Err()
}

// =============================================================================
// Conversion
// =============================================================================

// ToEpisodeConfig converts the episodes section to a repository config.
func ToEpisodeConfig(cfg *EpisodesConfig) episode.Config {
	out := episode.DefaultConfig()
	out.DSN = cfg.Path
	out.MaxOpenConns = cfg.MaxOpenConns
	if out.MaxIdleConns > out.MaxOpenConns {
		out.MaxIdleConns = out.MaxOpenConns
	}
	out.QueryTimeout = cfg.QueryTimeout.Duration()
	return out
}

// ToRecordingOptions converts the recording settings to recording options
// for one episode. The port is chosen by the caller.
func (c *Config) ToRecordingOptions(episodeID int64, port int) recording.Options {
	return recording.Options{
		EpisodeID:     episodeID,
		ListenHost:    c.Recordings.ListenHost,
		Port:          port,
		PublicAddress: c.PublicAddress,
		SendBuffer:    c.Recordings.SendBuffer,
		LogBacklog:    c.Recordings.LogBacklog,
		MaxFrameSize:  int(c.Recordings.MaxFrameSize.Bytes()),
	}
}
