package recording

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/errors"
)

// Registry tracks live recordings, bounded to a maximum size. When full,
// adding a recording evicts and closes the oldest one.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	maxSize    int
	recordings map[string]*Recording
}

// NewRegistry creates a registry holding at most maxSize recordings.
func NewRegistry(maxSize int) (*Registry, error) {
	if maxSize <= 0 {
		return nil, errors.NewValidation("max_recordings", "must be positive")
	}
	return &Registry{
		maxSize:    maxSize,
		recordings: make(map[string]*Recording),
	}, nil
}

// MaxSize returns the capacity of the registry.
func (r *Registry) MaxSize() int {
	return r.maxSize
}

// Add registers rec. A recording for an episode or port that is already
// registered is refused. When the registry is full the oldest recording
// is evicted and closed.
func (r *Registry) Add(rec *Recording) error {
	r.mu.Lock()

	for _, existing := range r.recordings {
		if existing.EpisodeID == rec.EpisodeID {
			r.mu.Unlock()
			log.Warn("recording for episode already exists",
				"episode_id", rec.EpisodeID,
				"recording_id", existing.ID)
			return fmt.Errorf("episode %d: %w", rec.EpisodeID, errors.ErrRecordingExists)
		}
		if existing.Port == rec.Port {
			r.mu.Unlock()
			log.Warn("recording port already in use",
				"port", rec.Port,
				"recording_id", existing.ID)
			return fmt.Errorf("port %d: %w", rec.Port, errors.ErrPortInUse)
		}
	}

	var evicted []*Recording
	for len(r.recordings) >= r.maxSize {
		oldest := r.oldestLocked()
		delete(r.recordings, oldest.ID)
		evicted = append(evicted, oldest)
	}
	r.recordings[rec.ID] = rec
	r.mu.Unlock()

	for _, old := range evicted {
		log.Info("evicting oldest recording",
			"recording_id", old.ID,
			"episode_id", old.EpisodeID,
			"port", old.Port)
		old.Close()
	}
	return nil
}

func (r *Registry) oldestLocked() *Recording {
	var oldest *Recording
	for _, rec := range r.recordings {
		if oldest == nil || rec.CreatedAt.Before(oldest.CreatedAt) {
			oldest = rec
		}
	}
	return oldest
}

// Remove unregisters the recording with the given ID without closing it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.recordings[id]; !ok {
		return false
	}
	delete(r.recordings, id)
	return true
}

// Get returns the recording with the given ID.
func (r *Registry) Get(id string) (*Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recordings[id]
	return rec, ok
}

// FindByEpisode returns the recording replaying episodeID.
func (r *Registry) FindByEpisode(episodeID int64) (*Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.recordings {
		if rec.EpisodeID == episodeID {
			return rec, true
		}
	}
	return nil, false
}

// IsPortUsed reports whether a registered recording holds port.
func (r *Registry) IsPortUsed(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPortUsedLocked(port)
}

func (r *Registry) isPortUsedLocked(port int) bool {
	for _, rec := range r.recordings {
		if rec.Port == port {
			return true
		}
	}
	return false
}

// List returns all recordings, oldest first.
func (r *Registry) List() []*Recording {
	r.mu.Lock()
	out := make([]*Recording, 0, len(r.recordings))
	for _, rec := range r.recordings {
		out = append(out, rec)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered recordings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recordings)
}

// CleanupAll closes and unregisters every recording.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	all := make([]*Recording, 0, len(r.recordings))
	for _, rec := range r.recordings {
		all = append(all, rec)
	}
	r.recordings = make(map[string]*Recording)
	r.mu.Unlock()

	for _, rec := range all {
		rec.Close()
	}
	if len(all) > 0 {
		log.Info("cleaned up recordings", "count", len(all))
	}
}

// AllocatePort picks a port uniformly from the recording port range that
// no registered recording holds. It gives up with ErrNoFreePort after
// config.DefaultPortAttempts tries.
func (r *Registry) AllocatePort(rng *rand.Rand) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := config.MaxRecordingPort - config.MinRecordingPort + 1
	for i := 0; i < config.DefaultPortAttempts; i++ {
		port := config.MinRecordingPort + rng.IntN(span)
		if !r.isPortUsedLocked(port) {
			return port, nil
		}
	}
	return 0, errors.ErrNoFreePort
}
