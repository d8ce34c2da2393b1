// Package chat owns per-session conversation state and resolves questions
// into result tables through the cache, cooldown gate, translator and
// executor.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthchat/healthchat/internal/cache"
	"github.com/healthchat/healthchat/internal/cooldown"
	"github.com/healthchat/healthchat/internal/query"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role   Role          `json:"role"`
	Text   string        `json:"text"`
	Kind   Kind          `json:"kind,omitempty"`
	SQL    string        `json:"sql,omitempty"`
	Result *query.Result `json:"result,omitempty"`
	At     time.Time     `json:"at"`
}

// Session is the mutable state of one conversation. Turns on a session are
// serialized; different sessions share nothing.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	history []Message
	cache   *cache.Query
	gate    cooldown.Gate
}

func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		cache:     cache.NewQuery(),
	}
}

// History returns a copy of the messages so far, oldest first.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) ResetCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Reset()
}

func (s *Session) CacheLen() (sqlEntries, resultEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

func (s *Session) CooldownRemaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.Remaining(now)
}

func (s *Session) append(msg Message) {
	s.history = append(s.history, msg)
}

// Default bounds for the session registry.
const (
	DefaultSessionIdleTTL = 30 * time.Minute
	DefaultMaxSessions    = 10000
)

type sessionEntry struct {
	session  *Session
	lastSeen time.Time
}

// Sessions tracks live sessions by ID for the HTTP surface. Sessions idle
// for longer than the TTL are dropped, and the least recently used one is
// dropped when the registry is full. Turns already holding a dropped
// session finish normally.
type Sessions struct {
	mu          sync.Mutex
	sessions    map[string]*sessionEntry
	idleTTL     time.Duration
	maxSessions int
	now         func() time.Time
	lastSweep   time.Time
}

type SessionsOption func(*Sessions)

func WithIdleTTL(ttl time.Duration) SessionsOption {
	return func(r *Sessions) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

func WithMaxSessions(n int) SessionsOption {
	return func(r *Sessions) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

func WithSessionClock(now func() time.Time) SessionsOption {
	return func(r *Sessions) {
		if now != nil {
			r.now = now
		}
	}
}

func NewSessions(opts ...SessionsOption) *Sessions {
	r := &Sessions{
		sessions:    map[string]*sessionEntry{},
		idleTTL:     DefaultSessionIdleTTL,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastSweep = r.now()
	return r
}

func (r *Sessions) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweepLocked(now)
	entry, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastSeen = now
	return entry.session, true
}

// GetOrCreate returns the session for id. Unknown or empty IDs start a new
// session under a freshly generated ID; created reports that case.
func (r *Sessions) GetOrCreate(id string) (session *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweepLocked(now)
	if entry, ok := r.sessions[id]; ok && id != "" {
		entry.lastSeen = now
		return entry.session, false
	}
	if len(r.sessions) >= r.maxSessions {
		r.evictOldestLocked()
	}
	session = NewSession(uuid.NewString())
	r.sessions[session.ID] = &sessionEntry{session: session, lastSeen: now}
	return session, true
}

func (r *Sessions) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.idleTTL {
		return
	}
	for id, entry := range r.sessions {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.sessions, id)
		}
	}
	r.lastSweep = now
}

func (r *Sessions) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, entry := range r.sessions {
		if oldestID == "" || entry.lastSeen.Before(oldest) {
			oldestID, oldest = id, entry.lastSeen
		}
	}
	delete(r.sessions, oldestID)
}

// ResetCaches clears the query caches of every session.
func (r *Sessions) ResetCaches() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, entry := range r.sessions {
		sessions = append(sessions, entry.session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.ResetCache()
	}
	return len(sessions)
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
