package forge

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionIdleWindow = 30 * time.Minute

type sessionEntry struct {
	id       string
	start    time.Time
	lastHit  time.Time
	hitCount int
	pages    map[string]struct{}
}

// Session is the outcome of stitching one hit into its owning session.
type Session struct {
	ID              string
	HitNum          int // 1-based within the session
	PageCount       int // distinct pages; revisits do not double-count
	DurationSeconds int
}

// SessionStore holds one sessionEntry per fingerprint, guarded by a
// single mutex; fingerprint cardinality per Forge process is bounded by
// the company set it serves, unlike subnetWindow's higher-churn keys.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func NewSessionStore() *SessionStore {
	return &SessionStore{entries: make(map[string]*sessionEntry)}
}

// Stitch looks up or starts a session for fingerprint and folds page into
// its page set. Hits within the idle window share a session; a gap beyond
// it begins a new session under a fresh UUID.
func (s *SessionStore) Stitch(fingerprint, page string) Session {
	if fingerprint == "" {
		return Session{}
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok || now.Sub(e.lastHit) > sessionIdleWindow {
		e = &sessionEntry{id: uuid.NewString(), start: now, pages: make(map[string]struct{})}
		s.entries[fingerprint] = e
	}
	e.lastHit = now
	e.hitCount++
	if page != "" {
		e.pages[page] = struct{}{}
	}
	return Session{
		ID:              e.id,
		HitNum:          e.hitCount,
		PageCount:       len(e.pages),
		DurationSeconds: int(now.Sub(e.start) / time.Second),
	}
}
