// Package loader - Configuration Types
//
// Defines the YAML configuration structure for replayd.
//
//	listen:          HTTP API address
//	public_address:  host advertised in recording URLs
//	shutdown:        graceful shutdown behavior
//	rate_limit:      failed lookup throttling
//	log:             level and output format
//	recordings:      live stream limits
//	replay:          traversal settings
//	episodes:        episode metadata database (DuckDB)
//	summary:         sketch accuracy for channel summaries
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/replay/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for replayd.
type Config struct {
	// Listen is the HTTP API listen address.
	// Format: "host:port" or ":port"
	// Default: "0.0.0.0:8000"
	Listen string `yaml:"listen"`

	// PublicAddress is the host put into recording URLs handed to viewers.
	// Default: "127.0.0.1"
	PublicAddress string `yaml:"public_address"`

	// Shutdown configures graceful shutdown behavior.
	Shutdown ShutdownConfig `yaml:"shutdown"`

	// RateLimit throttles clients that keep asking for unknown episodes.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`

	// Recordings configures live recording streams.
	Recordings RecordingsConfig `yaml:"recordings"`

	// Replay configures how episodes are traversed.
	Replay ReplayConfig `yaml:"replay"`

	// Episodes is the episode metadata database (DuckDB).
	Episodes EpisodesConfig `yaml:"episodes"`

	// Summary configures channel summaries.
	Summary SummaryConfig `yaml:"summary"`
}

// ShutdownConfig configures graceful shutdown.
type ShutdownConfig struct {
	// Timeout bounds draining in-flight HTTP requests.
	// Default: 10s
	Timeout Duration `yaml:"timeout"`
}

// RateLimitConfig configures failed lookup throttling.
type RateLimitConfig struct {
	// Failures is the number of failed lookups allowed per window.
	// Zero disables throttling.
	// Default: 30
	Failures int `yaml:"failures"`

	// Window is the counting window.
	// Default: 1m
	Window Duration `yaml:"window"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is json, text or auto (json unless stdout is a terminal).
	// Default: auto
	Format string `yaml:"format"`
}

// RecordingsConfig configures live recording streams.
type RecordingsConfig struct {
	// Max is the number of live recordings kept. Adding one more evicts
	// the oldest.
	// Default: 8
	Max int `yaml:"max"`

	// ListenHost is the interface recording streams bind to.
	// Default: "" (all interfaces)
	ListenHost string `yaml:"listen_host"`

	// SendBuffer is the per-viewer frame queue capacity.
	// Default: 4096
	SendBuffer int `yaml:"send_buffer"`

	// LogBacklog is the number of log frames replayed to late viewers.
	// Default: 256
	LogBacklog int `yaml:"log_backlog"`

	// MaxFrameSize limits a single frame.
	// Default: 64MB
	MaxFrameSize ByteSize `yaml:"max_frame_size"`
}

// ReplayConfig configures traversal.
type ReplayConfig struct {
	// BatchSize is the number of elements per channel per batch.
	// Default: 100
	BatchSize int `yaml:"batch_size"`

	// Mode is "batch" or "point".
	// Default: batch
	Mode string `yaml:"mode"`
}

// Replay modes.
const (
	ModeBatch = "batch"
	ModePoint = "point"
)

// EpisodesConfig configures the episode metadata database.
type EpisodesConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	// Default: "episodes.duckdb"
	Path string `yaml:"path"`

	// Migrate creates the schema on startup.
	// Default: true
	Migrate bool `yaml:"migrate"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 8
	MaxOpenConns int `yaml:"max_open_conns"`

	// QueryTimeout bounds a single lookup.
	// Default: 5s
	QueryTimeout Duration `yaml:"query_timeout"`
}

// SummaryConfig configures channel summaries.
type SummaryConfig struct {
	// Accuracy is the relative accuracy of interval percentiles.
	// Default: 0.01
	Accuracy float64 `yaml:"accuracy"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Listen:        config.DefaultListenAddress,
		PublicAddress: config.DefaultPublicAddress,

		Shutdown: ShutdownConfig{
			Timeout: Duration(config.DefaultShutdownTimeout),
		},

		RateLimit: RateLimitConfig{
			Failures: config.DefaultLookupFailureLimit,
			Window:   Duration(config.DefaultLookupFailureWindow),
		},

		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},

		Recordings: RecordingsConfig{
			Max:          config.DefaultMaxRecordings,
			SendBuffer:   config.DefaultViewerSendBuffer,
			LogBacklog:   config.DefaultLogBacklog,
			MaxFrameSize: ByteSize(config.DefaultMaxFrameSize),
		},

		Replay: ReplayConfig{
			BatchSize: config.DefaultBatchSize,
			Mode:      ModeBatch,
		},

		Episodes: EpisodesConfig{
			Path:         config.DefaultEpisodesDB,
			Migrate:      true,
			MaxOpenConns: 8,
			QueryTimeout: Duration(config.DefaultQueryTimeout),
		},

		Summary: SummaryConfig{
			Accuracy: config.DefaultSketchAccuracy,
		},
	}
}

// =============================================================================
// Custom YAML Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Supports: "5s", "1m30s", or plain seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// parseDuration accepts Go duration strings and plain seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return dur, nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "100MB", "1GB", "500KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	size, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// byteUnits is ordered longest suffix first so "MB" is not read as "B".
var byteUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TB", 1024 * 1024 * 1024 * 1024},
	{"GB", 1024 * 1024 * 1024},
	{"MB", 1024 * 1024},
	{"KB", 1024},
	{"B", 1},
}

// parseByteSize parses a size string like "100MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.multiplier, nil
		}
	}

	// Try as plain number
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
