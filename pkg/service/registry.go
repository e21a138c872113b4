package service

import (
	"sync"
	"time"
)

// SessionRegistry tracks open watch sessions. Sessions register under an
// opaque id and never see each other's entries.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[interface{}]sessionEntry
}

type sessionEntry struct {
	FlagID   string
	TargetID string
	Started  time.Time
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: map[interface{}]sessionEntry{}}
}

func (r *SessionRegistry) Register(id interface{}, flagID string, targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[id] = sessionEntry{FlagID: flagID, TargetID: targetID, Started: time.Now()}
}

func (r *SessionRegistry) Unregister(id interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Flags returns the number of open sessions per watched flag.
func (r *SessionRegistry) Flags() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[string]int{}
	for _, s := range r.sessions {
		counts[s.FlagID]++
	}
	return counts
}
