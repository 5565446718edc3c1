package history

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

const defaultContinuityWindow = 4

// Options configures a Store.
type Options struct {
	// MaxMessages returns the history limit of the tier in force.
	MaxMessages func() int
	Pressure    Pressure

	// ContinuityWindow is the number of turns kept and served even under
	// emergency pressure. Defaults to 4.
	ContinuityWindow int
	// CollectEvery triggers a GC pass after this many appends. Zero disables.
	CollectEvery int
	// CollectInterval triggers a GC pass once this much time has passed
	// since the previous one. Zero disables.
	CollectInterval time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Store holds session histories. A single store-wide lock guards writes
// because emergency eviction touches every session at once.
type Store struct {
	opts   Options
	logger *slog.Logger

	mu          sync.RWMutex
	sessions    map[string][]Turn
	appends     int
	lastCollect time.Time
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.ContinuityWindow <= 0 {
		opts.ContinuityWindow = defaultContinuityWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		opts:        opts,
		logger:      opts.Logger.With("component", "history"),
		sessions:    make(map[string][]Turn),
		lastCollect: opts.Now(),
	}
}

func (s *Store) maxMessages() int {
	if s.opts.MaxMessages == nil {
		return s.opts.ContinuityWindow
	}
	return max(s.opts.MaxMessages(), 1)
}

func (s *Store) emergency() bool {
	return s.opts.Pressure != nil && s.opts.Pressure.IsEmergency()
}

// window is the number of turns served: the tier limit, narrowed to the
// continuity window during emergencies.
func (s *Store) window(emergency bool) int {
	limit := s.maxMessages()
	if emergency {
		return min(limit, s.opts.ContinuityWindow)
	}
	return limit
}

// Append adds a turn to a session. The session is trimmed to the tier
// limit once it grows past twice that limit. During an emergency every
// other session is evicted and this one is cut to the continuity window.
func (s *Store) Append(sessionID string, role Role, content string) {
	emergency := s.emergency()
	limit := s.maxMessages()

	s.mu.Lock()
	turns := append(s.sessions[sessionID], Turn{Role: role, Content: content})
	if len(turns) > 2*limit {
		// Clone so the trimmed prefix can be freed.
		turns = slices.Clone(tail(turns, limit))
	}

	evicted := 0
	if emergency {
		for id := range s.sessions {
			if id != sessionID {
				delete(s.sessions, id)
				evicted++
			}
		}
		turns = slices.Clone(tail(turns, s.window(true)))
	}
	s.sessions[sessionID] = turns
	s.appends++
	collect := s.collectDueLocked()
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.Warn("emergency history eviction",
			"session_id", sessionID,
			"evicted_sessions", evicted,
			"kept_turns", len(turns),
		)
	}
	if collect || emergency {
		s.collect()
	}
}

// collectDueLocked decides whether this append should run a GC pass and
// resets the counters when it does.
func (s *Store) collectDueLocked() bool {
	due := s.opts.CollectEvery > 0 && s.appends >= s.opts.CollectEvery
	if s.opts.CollectInterval > 0 && s.opts.Now().Sub(s.lastCollect) >= s.opts.CollectInterval {
		due = true
	}
	if !due && s.opts.Pressure != nil && s.opts.Pressure.PressureLevel().Elevated() {
		due = true
	}
	if due {
		s.appends = 0
		s.lastCollect = s.opts.Now()
	}
	return due
}

func (s *Store) collect() {
	if s.opts.Pressure != nil {
		s.opts.Pressure.Collect()
	}
}

// Get returns the most recent turns of a session, oldest first, bounded by
// the current tier limit and by the continuity window during emergencies.
// The returned slice is a copy.
func (s *Store) Get(sessionID string) []Turn {
	n := s.window(s.emergency())

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := tail(s.sessions[sessionID], n)
	if len(turns) == 0 {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear drops a session and runs a GC pass. It reports whether the session
// existed.
func (s *Store) Clear(sessionID string) bool {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.collect()
	return ok
}

// Load replaces a session's history with the given exchanges, in order.
// It returns false, leaving the store untouched, when there is nothing to
// load.
func (s *Store) Load(sessionID string, exchanges []Exchange) bool {
	if len(exchanges) == 0 {
		return false
	}

	turns := make([]Turn, 0, 2*len(exchanges))
	for _, ex := range exchanges {
		if ex.UserMessage != "" {
			turns = append(turns, Turn{Role: RoleUser, Content: ex.UserMessage})
		}
		if ex.AssistantMessage != "" {
			turns = append(turns, Turn{Role: RoleAssistant, Content: ex.AssistantMessage})
		}
	}
	turns = tail(turns, 2*s.maxMessages())

	s.mu.Lock()
	s.sessions[sessionID] = turns
	s.mu.Unlock()

	s.logger.Info("history loaded", "session_id", sessionID, "exchanges", len(exchanges), "kept_turns", len(turns))
	return true
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// tail returns the last n elements of turns without copying.
func tail(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
