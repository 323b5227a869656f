// Package server provides the HTTP API of the replay service.
//
// A client asks for an episode; the server starts (or reuses) a recording
// stream for it, replays the episode store into the stream in the
// background and answers with the URL viewers connect to.
package server

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/episode"
	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/logging"
	"github.com/xtxerr/replay/internal/recording"
	"github.com/xtxerr/replay/internal/replay"
	"github.com/xtxerr/replay/internal/validation"
)

var log = logging.Component("server")

// Episodes resolves episode metadata. *episode.Repository implements it.
type Episodes interface {
	Get(ctx context.Context, id int64) (*episode.Info, error)
}

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Episodes resolves episode IDs (required).
	Episodes Episodes

	// Registry holds live recordings (required).
	Registry *recording.Registry

	// Listen is the address to listen on (e.g., "0.0.0.0:8000").
	Listen string

	// Recording settings applied to every new recording. EpisodeID and
	// Port are filled in per request.
	Recording recording.Options

	// Replay settings for background jobs.
	Replay replay.Options

	// ShutdownTimeout bounds draining in-flight requests.
	ShutdownTimeout time.Duration

	// FailureLimit and FailureWindow throttle clients that keep asking for
	// unknown episodes. A zero limit disables throttling.
	FailureLimit  int
	FailureWindow time.Duration

	// Now is the clock used for throttling. Defaults to time.Now.
	Now func() time.Time

	// AllocatePort picks a port for a new recording. Defaults to a random
	// port from the registry's range.
	AllocatePort func() (int, error)
}

// =============================================================================
// Server
// =============================================================================

// Server is the replay HTTP API.
type Server struct {
	cfg      *Config
	episodes Episodes
	registry *recording.Registry
	limiter  *lookupLimiter
	group    singleflight.Group
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	stopped    bool

	// Background replay jobs
	jobCtx    context.Context
	jobCancel context.CancelFunc
	jobs      sync.WaitGroup
}

// New creates a new server.
func New(cfg *Config) *Server {
	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	if cfg.FailureWindow == 0 {
		cfg.FailureWindow = config.DefaultLookupFailureWindow
	}
	if cfg.AllocatePort == nil {
		rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
		registry := cfg.Registry
		cfg.AllocatePort = func() (int, error) {
			return registry.AllocatePort(rng)
		}
	}

	jobCtx, jobCancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		episodes:  cfg.Episodes,
		registry:  cfg.Registry,
		limiter:   newLookupLimiter(cfg.FailureLimit, cfg.FailureWindow, cfg.Now),
		jobCtx:    jobCtx,
		jobCancel: jobCancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /log_episode", s.handleLogEpisode)
	mux.HandleFunc("GET /recordings", s.handleRecordings)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.handler = withCORS(mux)

	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the server and blocks until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves the API on ln and blocks until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	hs := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = hs
	s.mu.Unlock()

	log.Info("listening", "address", ln.Addr().String())

	if err := hs.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels running replay jobs and
// closes every recording.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down")

	s.mu.Lock()
	s.stopped = true
	hs := s.httpServer
	s.mu.Unlock()

	var err error
	if hs != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		err = hs.Shutdown(shutdownCtx)
		cancel()
	}

	s.jobCancel()
	s.registry.CleanupAll()
	s.jobs.Wait()

	log.Info("shutdown complete")
	return err
}

// =============================================================================
// Handlers
// =============================================================================

type urlResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type recordingResponse struct {
	ID        string    `json:"id"`
	EpisodeID int64     `json:"episode_id"`
	URL       string    `json:"url"`
	Viewers   int       `json:"viewers"`
	CreatedAt time.Time `json:"created_at"`
}

// handleLogEpisode serves GET /log_episode?episode_id=N.
func (s *Server) handleLogEpisode(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("episode_id")
	if raw == "" {
		writeError(w, errors.NewMissingField("episode_id"))
		return
	}
	episodeID, err := validation.ParseEpisodeID(raw)
	if err != nil {
		writeError(w, errors.NewValidation("episode_id", err.Error()))
		return
	}

	ip := clientIP(r)
	if s.limiter.Blocked(ip) {
		log.Warn("blocked due to too many failed lookups",
			"remote", ip,
			"episode_id", episodeID,
			"failures", s.limiter.Failures(ip))
		writeError(w, errors.ErrRateLimited)
		return
	}

	// Concurrent requests for one episode share one recording.
	v, err, shared := s.group.Do(strconv.FormatInt(episodeID, 10), func() (interface{}, error) {
		return s.recordingURL(context.WithoutCancel(r.Context()), episodeID)
	})
	if err != nil {
		if errors.IsNotFound(err) {
			s.limiter.Fail(ip, episodeID)
		}
		writeError(w, err)
		return
	}
	s.limiter.Resolved(ip, episodeID)

	log.Debug("episode resolved", "episode_id", episodeID, "shared", shared)
	writeJSON(w, http.StatusOK, urlResponse{URL: v.(string)})
}

// handleRecordings serves GET /recordings.
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	out := make([]recordingResponse, 0, len(list))
	for _, rec := range list {
		out = append(out, recordingResponse{
			ID:        rec.ID,
			EpisodeID: rec.EpisodeID,
			URL:       rec.URL,
			Viewers:   rec.Viewers(),
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth serves GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"recordings": s.registry.Len(),
	})
}

// =============================================================================
// Recording Lifecycle
// =============================================================================

// recordingURL returns the URL of the episode's recording, starting one
// if none is live.
func (s *Server) recordingURL(ctx context.Context, episodeID int64) (string, error) {
	if rec, ok := s.registry.FindByEpisode(episodeID); ok {
		return rec.URL, nil
	}

	info, err := s.episodes.Get(ctx, episodeID)
	if err != nil {
		return "", err
	}
	if info.URL == "" {
		return "", fmt.Errorf("episode %d: %w", episodeID, errors.ErrEpisodeURLMissing)
	}

	rec, err := s.startRecording(episodeID)
	if err != nil {
		return "", err
	}

	logging.WithContext(ctx).Info("starting replay",
		"episode_id", episodeID,
		"recording_id", rec.ID,
		"subdataset", info.SubdatasetName,
		"embodiment", info.EmbodimentName,
		"bimanual", info.IsBimanual())

	s.jobs.Add(1)
	go s.runJob(rec, info.URL)

	return rec.URL, nil
}

// startRecording binds a recording on a free port and registers it.
func (s *Server) startRecording(episodeID int64) (*recording.Recording, error) {
	var lastErr error
	for attempt := 0; attempt < config.DefaultStartAttempts; attempt++ {
		port, err := s.cfg.AllocatePort()
		if err != nil {
			return nil, err
		}

		opts := s.cfg.Recording
		opts.EpisodeID = episodeID
		opts.Port = port

		rec, err := recording.New(opts)
		if err != nil {
			log.Debug("recording port unavailable", "port", port, "error", err)
			lastErr = err
			continue
		}

		if err := s.registry.Add(rec); err != nil {
			rec.Close()
			if errors.Is(err, errors.ErrRecordingExists) {
				return nil, err
			}
			lastErr = err
			continue
		}
		return rec, nil
	}
	return nil, fmt.Errorf("start recording after %d attempts: %w: %v",
		config.DefaultStartAttempts, errors.ErrNoFreePort, lastErr)
}

// runJob replays location into rec. The job stops early when the
// recording is closed or the server shuts down.
func (s *Server) runJob(rec *recording.Recording, location string) {
	defer s.jobs.Done()

	ctx, cancel := context.WithCancel(s.jobCtx)
	defer cancel()
	ctx = logging.ContextWithEpisodeID(ctx, rec.EpisodeID)
	ctx = logging.ContextWithRecordingID(ctx, rec.ID)

	go func() {
		select {
		case <-rec.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := replay.RunLocation(ctx, location, rec, s.cfg.Replay)
	if err != nil {
		logging.WithContext(ctx).Warn("replay job ended with error", "error", err)
		return
	}
	logging.WithContext(ctx).Info("replay job finished",
		"batches", res.Batches,
		"samples", res.Samples,
		"viewers", rec.Viewers())
}

// =============================================================================
// Helpers
// =============================================================================

// withCORS allows any origin, method and header.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errors.ErrorToStatus(err)
	writeJSON(w, status, errorResponse{Detail: errorDetail(err)})
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}
}

// errorDetail is the client-facing message for err.
func errorDetail(err error) string {
	switch {
	case errors.Is(err, errors.ErrEpisodeURLMissing):
		return "Episode URL not found"
	case errors.Is(err, errors.ErrEpisodeNotFound):
		return "Episode not found"
	case errors.Is(err, errors.ErrRateLimited):
		return "Too many failed requests"
	case errors.Is(err, errors.ErrNoFreePort):
		return "No free recording port"
	case errors.ErrorToStatus(err) == http.StatusInternalServerError:
		return "Internal server error"
	default:
		return err.Error()
	}
}

// clientIP extracts the IP address from the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
