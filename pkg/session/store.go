// Package session holds per-conversation state in memory: the exchange
// history used for follow-up rewriting, and query-scoped result caches
// addressed by query_id. Sessions expire on a TTL from last touch and are
// evicted lazily on access plus by a periodic sweep.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// historySize is how many exchanges a session retains.
	historySize = 5
	// PromptHistorySize is how many recent exchanges are injected into prompts.
	PromptHistorySize = 3
	// sweepInterval is how often the background sweep runs.
	sweepInterval = 60 * time.Second
)

// Exchange is one user turn and the SQL it produced.
type Exchange struct {
	UserMessage  string
	GeneratedSQL string
	Timestamp    time.Time
}

// QueryCacheEntry is a bounded result set cached inside a session and
// addressed by query_id. TotalCount of -1 means the smart count overflowed.
type QueryCacheEntry struct {
	SQL           string
	OriginalQuery string
	Rows          [][]any
	Columns       []string
	TotalCount    int
	CreatedAt     time.Time
}

type sessionState struct {
	mu          sync.Mutex
	createdAt   time.Time
	lastTouched time.Time
	history     []Exchange
	queries     map[string]*QueryCacheEntry
}

// Store is the in-memory session store. The global map is guarded by a
// reader-writer lock; each session serializes its own mutations.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionState
	queryIndex map[string]string // query_id -> session_id
	ttl        time.Duration
	logger     *zap.Logger
	done       chan struct{}
	closeOnce  sync.Once
}

// NewStore creates a session store and starts its background sweeper.
func NewStore(ttl time.Duration, logger *zap.Logger) *Store {
	s := &Store{
		sessions:   make(map[string]*sessionState),
		queryIndex: make(map[string]string),
		ttl:        ttl,
		logger:     logger.Named("session"),
		done:       make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// GetOrCreate resolves a session by id, creating a fresh one when the id is
// empty or the session expired. Returns the effective session id.
func (s *Store) GetOrCreate(sessionID string) string {
	now := time.Now()

	if sessionID != "" {
		s.mu.Lock()
		if state, ok := s.sessions[sessionID]; ok && !s.expired(state, now) {
			state.mu.Lock()
			state.lastTouched = now
			state.mu.Unlock()
			s.mu.Unlock()
			return sessionID
		}
		// Expired or unknown: fall through to create under the same lock.
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	}

	newID := uuid.NewString()
	s.mu.Lock()
	s.sessions[newID] = &sessionState{
		createdAt:   now,
		lastTouched: now,
		queries:     make(map[string]*QueryCacheEntry),
	}
	s.mu.Unlock()
	return newID
}

// AppendExchange records one completed turn, keeping at most historySize
// entries.
func (s *Store) AppendExchange(sessionID string, ex Exchange) {
	state := s.lookup(sessionID)
	if state == nil {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.lastTouched = time.Now()
	state.history = append(state.history, ex)
	if len(state.history) > historySize {
		state.history = state.history[len(state.history)-historySize:]
	}
}

// RecentExchanges returns up to n most recent exchanges, oldest first.
func (s *Store) RecentExchanges(sessionID string, n int) []Exchange {
	state := s.lookup(sessionID)
	if state == nil {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.lastTouched = time.Now()

	start := len(state.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]Exchange, len(state.history)-start)
	copy(out, state.history[start:])
	return out
}

// PutQuery caches a result set under a fresh query_id and returns the id.
func (s *Store) PutQuery(sessionID string, entry *QueryCacheEntry) string {
	state := s.lookup(sessionID)
	if state == nil {
		return ""
	}

	queryID := uuid.NewString()

	state.mu.Lock()
	state.lastTouched = time.Now()
	state.queries[queryID] = entry
	state.mu.Unlock()

	s.mu.Lock()
	s.queryIndex[queryID] = sessionID
	s.mu.Unlock()

	return queryID
}

// UpdateQueryResult stores execution results on an existing query entry.
// Returns false when the query_id is unknown or its session expired.
func (s *Store) UpdateQueryResult(queryID string, columns []string, rows [][]any, totalCount int) bool {
	s.mu.RLock()
	sessionID, ok := s.queryIndex[queryID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	state := s.lookup(sessionID)
	if state == nil {
		return false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	entry, ok := state.queries[queryID]
	if !ok {
		return false
	}
	state.lastTouched = time.Now()
	entry.Columns = columns
	entry.Rows = rows
	entry.TotalCount = totalCount
	return true
}

// GetQuery resolves a query_id to its cached entry. Returns nil when the id
// is unknown or its session expired.
func (s *Store) GetQuery(queryID string) *QueryCacheEntry {
	s.mu.RLock()
	sessionID, ok := s.queryIndex[queryID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	state := s.lookup(sessionID)
	if state == nil {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.lastTouched = time.Now()
	return state.queries[queryID]
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the background sweeper.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// lookup fetches a session, evicting it lazily when expired.
func (s *Store) lookup(sessionID string) *sessionState {
	now := time.Now()

	s.mu.RLock()
	state, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	if s.expired(state, now) {
		s.mu.Lock()
		if cur, ok := s.sessions[sessionID]; ok && s.expired(cur, now) {
			s.evictLocked(sessionID, cur)
		}
		s.mu.Unlock()
		return nil
	}
	return state
}

func (s *Store) expired(state *sessionState, now time.Time) bool {
	state.mu.Lock()
	defer state.mu.Unlock()
	return now.Sub(state.lastTouched) > s.ttl
}

// evictLocked removes a session and its query index entries. Caller holds
// the store write lock.
func (s *Store) evictLocked(sessionID string, state *sessionState) {
	delete(s.sessions, sessionID)
	state.mu.Lock()
	for queryID := range state.queries {
		delete(s.queryIndex, queryID)
	}
	state.mu.Unlock()
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	evicted := 0

	s.mu.Lock()
	for id, state := range s.sessions {
		if s.expired(state, now) {
			s.evictLocked(id, state)
			evicted++
		}
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.Debug("swept expired sessions", zap.Int("evicted", evicted))
	}
}
