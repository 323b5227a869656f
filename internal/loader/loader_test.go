package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replayd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != config.DefaultListenAddress {
		t.Errorf("expected listen %s, got %s", config.DefaultListenAddress, cfg.Listen)
	}
	if cfg.Replay.BatchSize != config.DefaultBatchSize {
		t.Errorf("expected batch size %d, got %d", config.DefaultBatchSize, cfg.Replay.BatchSize)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("TEST_REPLAY_HOST", "replay.example.org")
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
public_address: "${TEST_REPLAY_HOST}"
shutdown:
  timeout: 30s
log:
  level: debug
  format: json
recordings:
  max: 2
  send_buffer: 64
  log_backlog: 32
  max_frame_size: 8MB
replay:
  batch_size: 25
  mode: point
episodes:
  path: /var/lib/replay/episodes.duckdb
  query_timeout: 3
summary:
  accuracy: 0.05
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("expected listen 127.0.0.1:9000, got %s", cfg.Listen)
	}
	if cfg.PublicAddress != "replay.example.org" {
		t.Errorf("expected expanded public address, got %s", cfg.PublicAddress)
	}
	if cfg.Shutdown.Timeout.Duration() != 30*time.Second {
		t.Errorf("expected 30s shutdown timeout, got %v", cfg.Shutdown.Timeout.Duration())
	}
	if cfg.Recordings.MaxFrameSize.Bytes() != 8*1024*1024 {
		t.Errorf("expected 8MB frames, got %d", cfg.Recordings.MaxFrameSize.Bytes())
	}
	if cfg.Recordings.LogBacklog != 32 {
		t.Errorf("expected log backlog 32, got %d", cfg.Recordings.LogBacklog)
	}
	if cfg.Replay.BatchSize != 25 || cfg.Replay.Mode != ModePoint {
		t.Errorf("unexpected replay section %+v", cfg.Replay)
	}
	if cfg.Episodes.QueryTimeout.Duration() != 3*time.Second {
		t.Errorf("expected plain seconds query timeout, got %v", cfg.Episodes.QueryTimeout.Duration())
	}
	// Untouched fields keep their defaults.
	if cfg.Episodes.MaxOpenConns != 8 || !cfg.Episodes.Migrate {
		t.Errorf("expected episode defaults kept, got %+v", cfg.Episodes)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "recordings:\n  max_frame_size: lots\n")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvMaxRecordings: "3",
		EnvBatchSize:     "7",
		EnvPublicAddress: "10.0.0.5",
		EnvEpisodesDB:    "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Recordings.Max != 3 || cfg.Replay.BatchSize != 7 {
		t.Errorf("unexpected overrides %d %d", cfg.Recordings.Max, cfg.Replay.BatchSize)
	}
	if cfg.PublicAddress != "10.0.0.5" {
		t.Errorf("expected public address override, got %s", cfg.PublicAddress)
	}
	if cfg.Episodes.Path != "" {
		t.Errorf("expected in-memory episodes db, got %q", cfg.Episodes.Path)
	}

	env[EnvBatchSize] = "many"
	if err := applyEnv(DefaultConfig(), lookup); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "nonsense"
	cfg.Log.Format = "xml"
	cfg.Recordings.Max = 0
	cfg.Replay.BatchSize = -1
	cfg.Replay.Mode = "sideways"
	cfg.Summary.Accuracy = 1.5

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	verrs, ok := err.(*errors.ValidationErrors)
	if !ok {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.Errors) != 6 {
		t.Errorf("expected 6 errors, got %d: %v", len(verrs.Errors), err)
	}
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Error("expected errors.Is(err, ErrInvalidConfig)")
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"512", 512},
		{"100B", 100},
		{"4KB", 4096},
		{"64MB", 64 << 20},
		{"2gb", 2 << 30},
		{" 1 TB ", 1 << 40},
	}
	for _, tt := range tests {
		got, err := parseByteSize(tt.in)
		if err != nil {
			t.Errorf("parseByteSize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseByteSize(%q): expected %d, got %d", tt.in, tt.want, got)
		}
	}

	if _, err := parseByteSize("12XB"); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := parseDuration("90"); err != nil || d != 90*time.Second {
		t.Errorf("expected 90s, got %v (%v)", d, err)
	}
	if d, err := parseDuration("1m30s"); err != nil || d != 90*time.Second {
		t.Errorf("expected 1m30s, got %v (%v)", d, err)
	}
	if _, err := parseDuration("soon"); err == nil {
		t.Error("expected error")
	}
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Episodes.Path = "/tmp/ep.duckdb"
	cfg.Episodes.MaxOpenConns = 1

	ec := ToEpisodeConfig(&cfg.Episodes)
	if ec.DSN != "/tmp/ep.duckdb" || ec.MaxOpenConns != 1 || ec.MaxIdleConns != 1 {
		t.Errorf("unexpected episode config %+v", ec)
	}
	if ec.QueryTimeout != config.DefaultQueryTimeout {
		t.Errorf("expected query timeout %v, got %v", config.DefaultQueryTimeout, ec.QueryTimeout)
	}

	ro := cfg.ToRecordingOptions(42, 9123)
	if ro.EpisodeID != 42 || ro.Port != 9123 || ro.PublicAddress != config.DefaultPublicAddress {
		t.Errorf("unexpected recording options %+v", ro)
	}
	if ro.MaxFrameSize != config.DefaultMaxFrameSize {
		t.Errorf("expected max frame size %d, got %d", config.DefaultMaxFrameSize, ro.MaxFrameSize)
	}
}
