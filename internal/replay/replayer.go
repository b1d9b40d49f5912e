// Package replay implements historical playback: segment discovery
// by timestamp range, token-bucket-paced frame delivery through the
// live publisher under virtual "replay.<id>." topics, and session
// lifecycle control (start/pause/resume/seek/stop).
//
// Grounded on _examples/original_source/src/replay/replayer.{hpp,cpp}
// for the session state machine and pacing formula, generalized here
// to thread a real *symbol.Registry into topic derivation (see
// replayTopic in session.go) instead of the original's hardcoded
// "UNKNOWN" symbol name.
package replay

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/publisher"
	"github.com/marketspine/marketspine/internal/symbol"
)

const (
	MaxConcurrentSessions = 10
	maxRateMultiplier     = 100.0
)

var (
	ErrInvalidRange     = errors.New("replay: from must be < to")
	ErrInvalidRate      = errors.New("replay: rate multiplier must be in (0, 100]")
	ErrEmptyTopics      = errors.New("replay: topics must not be empty")
	ErrTooManySessions  = errors.New("replay: max concurrent sessions reached")
	ErrSessionNotFound  = errors.New("replay: session not found")
	ErrNoSegmentInRange = errors.New("replay: no recorded segment covers the requested range")
)

// Info is the read-only session snapshot returned by List/Info, per
// spec.md §7's replay status shape.
type Info struct {
	ID        string
	FromTsNs  uint64
	ToTsNs    uint64
	RateMul   float64
	Paused    bool
	Watermark uint64
}

// Replayer owns every active Session and enforces the concurrent
// session cap.
type Replayer struct {
	dir      string
	cacheDir string
	registry *symbol.Registry
	pub      *publisher.Publisher
	metrics  *metrics.Collector
	logger   *slog.Logger
	discover *discovery

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds a Replayer reading segments from dir; cacheDir enables
// the badger header-range cache (see discovery.go) when non-empty.
func New(dir, cacheDir string, reg *symbol.Registry, pub *publisher.Publisher, m *metrics.Collector, logger *slog.Logger) *Replayer {
	return &Replayer{
		dir:      dir,
		cacheDir: cacheDir,
		registry: reg,
		pub:      pub,
		metrics:  m,
		logger:   logger,
		discover: newDiscovery(dir, cacheDir),
		sessions: make(map[string]*Session),
	}
}

// Close releases the discovery cache.
func (r *Replayer) Close() {
	r.discover.close()
}

// Start begins a new paced replay session over [fromTsNs, toTsNs]
// filtered to topics, at rateMultiplier speed, per spec.md §4.7. It
// returns the new session id.
func (r *Replayer) Start(fromTsNs, toTsNs uint64, topics []string, rateMultiplier float64) (string, error) {
	if fromTsNs >= toTsNs {
		return "", ErrInvalidRange
	}
	if rateMultiplier <= 0 || rateMultiplier > maxRateMultiplier {
		return "", ErrInvalidRate
	}
	if len(topics) == 0 {
		return "", ErrEmptyTopics
	}

	r.mu.Lock()
	if len(r.sessions) >= MaxConcurrentSessions {
		r.mu.Unlock()
		return "", ErrTooManySessions
	}
	id := "rpl_" + uuid.NewString()
	sess := newSession(id, fromTsNs, toTsNs, topics, rateMultiplier, r.registry, r.pub, r.discover)
	r.sessions[id] = sess
	r.mu.Unlock()

	if err := sess.open(); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		if errors.Is(err, errNoSegmentCovering) {
			return "", ErrNoSegmentInRange
		}
		return "", err
	}

	prefix := "replay." + id + "."
	r.pub.RegisterVirtualPrefix(prefix)

	sess.wg.Add(1)
	go sess.run(func() {
		sess.wg.Done()
		r.pub.UnregisterVirtualPrefix(prefix)
		r.metrics.IncCounter("replay_sessions_completed_total", 1)
		r.mu.Lock()
		if r.sessions[id] == sess {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
	})

	r.metrics.IncCounter("replay_sessions_started_total", 1)
	r.logger.Info("replay session started", "id", id, "from", fromTsNs, "to", toTsNs, "rate", rateMultiplier)
	return id, nil
}

func (r *Replayer) get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Pause suspends playback without releasing the session's slot.
func (r *Replayer) Pause(id string) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}
	sess.Pause()
	return nil
}

// Resume continues a paused session from where it left off.
func (r *Replayer) Resume(id string) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}
	sess.Resume()
	return nil
}

// Seek jumps playback to the segment containing tsNs, per spec.md
// §4.7's binary-search-over-index description.
func (r *Replayer) Seek(id string, tsNs uint64) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}
	return sess.Seek(tsNs)
}

// Stop ends a session and frees its slot.
func (r *Replayer) Stop(id string) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}
	sess.Stop()
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// List returns a snapshot of every active session.
func (r *Replayer) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, sessionInfo(s))
	}
	return out
}

// Info returns the snapshot for one session.
func (r *Replayer) Info(id string) (Info, error) {
	sess, err := r.get(id)
	if err != nil {
		return Info{}, err
	}
	return sessionInfo(sess), nil
}

func sessionInfo(s *Session) Info {
	return Info{
		ID:        s.ID,
		FromTsNs:  s.FromTsNs,
		ToTsNs:    s.ToTsNs,
		RateMul:   s.RateMul,
		Paused:    s.IsPaused(),
		Watermark: s.Watermark(),
	}
}
