// replayd is the episode replay service daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/replay/internal/episode"
	"github.com/xtxerr/replay/internal/loader"
	"github.com/xtxerr/replay/internal/logging"
	"github.com/xtxerr/replay/internal/recording"
	"github.com/xtxerr/replay/internal/replay"
	"github.com/xtxerr/replay/internal/server"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "replayd.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	publicAddr := flag.String("public-address", "", "host advertised in recording URLs (overrides config)")
	dbPath := flag.String("db", "", "episode database path (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	mode := flag.String("mode", "", "replay mode: batch or point (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fatal("load config", err)
		}
		cfg, err = loader.Load("")
		if err != nil {
			fatal("load config", err)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *publicAddr != "" {
		cfg.PublicAddress = *publicAddr
	}
	if *dbPath != "" {
		cfg.Episodes.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *mode != "" {
		cfg.Replay.Mode = *mode
	}

	if err := loader.Validate(cfg); err != nil {
		fatal("invalid config", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		fatal("init logging", err)
	}
	logging.Info("replayd starting", "version", Version, "config", *cfgPath)

	// =========================================================================
	// Episode Database (DuckDB)
	// =========================================================================

	logging.Info("opening episode database", "path", cfg.Episodes.Path)

	episodes, err := episode.Open(loader.ToEpisodeConfig(&cfg.Episodes))
	if err != nil {
		fatal("open episode database", err)
	}
	defer episodes.Close()

	if cfg.Episodes.Migrate {
		if err := episodes.Migrate(context.Background()); err != nil {
			fatal("migrate episode database", err)
		}
	}

	// =========================================================================
	// Recording Registry
	// =========================================================================

	registry, err := recording.NewRegistry(cfg.Recordings.Max)
	if err != nil {
		fatal("create registry", err)
	}

	// =========================================================================
	// Create and Start Server
	// =========================================================================

	srv := server.New(&server.Config{
		Episodes: episodes,
		Registry: registry,
		Listen:   cfg.Listen,
		// Episode and port are filled in per request.
		Recording: cfg.ToRecordingOptions(0, 0),
		Replay: replay.Options{
			BatchSize: cfg.Replay.BatchSize,
			Points:    cfg.Replay.Mode == loader.ModePoint,
		},
		ShutdownTimeout: cfg.Shutdown.Timeout.Duration(),
		FailureLimit:    cfg.RateLimit.Failures,
		FailureWindow:   cfg.RateLimit.Window.Duration(),
	})

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	shutdownDone := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer close(shutdownDone)
		s := <-sig
		logging.Info("signal received", "signal", s.String())

		// Stop server first (stop accepting requests, close recordings)
		if err := srv.Shutdown(context.Background()); err != nil {
			logging.Warn("server shutdown", "error", err)
		}
	}()

	// =========================================================================
	// Run
	// =========================================================================

	logging.Info("replayd ready",
		"listen", cfg.Listen,
		"public_address", cfg.PublicAddress,
		"max_recordings", cfg.Recordings.Max,
		"batch_size", cfg.Replay.BatchSize,
		"mode", cfg.Replay.Mode)

	if err := srv.Run(); err != nil {
		fatal("server error", err)
	}
	<-shutdownDone
}

func fatal(msg string, err error) {
	if logging.Logger != nil {
		logging.Error(msg, "error", err)
	} else {
		fmt.Fprintf(os.Stderr, "replayd: %s: %v\n", msg, err)
	}
	os.Exit(1)
}
