// Package config provides configuration defaults and utilities
// for the replay service.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP API listen address.
	// Override via config: listen
	DefaultListenAddress = "0.0.0.0:8000"

	// DefaultPublicAddress is the host advertised in recording URLs.
	// Override via config: public_address (or REPLAY_PUBLIC_ADDRESS env)
	DefaultPublicAddress = "127.0.0.1"

	// DefaultMaxFrameSize limits a single wire frame to prevent OOM in viewers.
	// 64 MiB leaves room for a full batch of camera images.
	DefaultMaxFrameSize = 64 * 1024 * 1024

	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultLookupFailureLimit is the number of unknown-episode lookups an
	// IP may make per DefaultLookupFailureWindow before receiving 429.
	// Override via config: rate_limit.failures
	DefaultLookupFailureLimit = 30

	// DefaultLookupFailureWindow is the window for counting failed lookups.
	DefaultLookupFailureWindow = time.Minute
)

// =============================================================================
// Recording Defaults
// =============================================================================

const (
	// DefaultMaxRecordings is the number of live recordings kept before the
	// oldest one is evicted.
	// Override via config: recordings.max (or REPLAY_MAX_RECORDINGS env)
	DefaultMaxRecordings = 8

	// MinRecordingPort and MaxRecordingPort bound the ports handed out to
	// recording streams. Ports below MinRecordingPort are reserved for the
	// service itself.
	MinRecordingPort = 9001
	MaxRecordingPort = 65535

	// DefaultPortAttempts is how many random ports are tried before giving up.
	DefaultPortAttempts = 1024

	// DefaultStartAttempts is how many ports a new recording tries to bind
	// before the request fails. A free port in the registry may still be
	// taken by another process.
	DefaultStartAttempts = 8

	// DefaultViewerSendBuffer is the per-viewer frame queue capacity.
	// A viewer that falls this far behind is disconnected.
	DefaultViewerSendBuffer = 4096

	// DefaultLogBacklog is the number of log frames replayed to viewers
	// that connect late. Older log frames are dropped; the hello frame is
	// always kept.
	DefaultLogBacklog = 256
)

// =============================================================================
// Traversal Defaults
// =============================================================================

const (
	// DefaultBatchSize is the number of elements read per channel per round.
	// Override via config: replay.batch_size (or REPLAY_BATCH_SIZE env)
	DefaultBatchSize = 100

	// TimestampSuffix marks the timestamp array paired with a value array.
	TimestampSuffix = "_timestamps"
)

// =============================================================================
// Summary Defaults
// =============================================================================

const (
	// DefaultSketchAccuracy is the relative accuracy of interval percentiles
	// (0.01 = 1% error).
	DefaultSketchAccuracy = 0.01
)

// =============================================================================
// Episode Database Defaults
// =============================================================================

const (
	// DefaultEpisodesDB is the DuckDB file holding episode metadata.
	// Override via config: episodes.path (or REPLAY_EPISODES_DB env)
	DefaultEpisodesDB = "episodes.duckdb"

	// DefaultQueryTimeout bounds a single episode lookup.
	DefaultQueryTimeout = 5 * time.Second
)
