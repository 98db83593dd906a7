package session

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// RegistryEntry is the ephemeral projection of one active session kept
// for fast dashboard reads. It is rebuilt from persisted state on
// restart and is not itself the source of truth.
type RegistryEntry struct {
	SessionID        string    `json:"sessionId"`
	ClassName        string    `json:"className"`
	ParticipantCount int       `json:"participantCount"`
	EventCount       int       `json:"eventCount"`
	StartedAt        time.Time `json:"startedAt"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
}

const registryShards = 16

type registryShard struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

// Registry holds the per-session live projections. State is partitioned
// across shards keyed by session id so ingestion for one session never
// contends with snapshots or ingestion for unrelated sessions.
type Registry struct {
	shards [registryShards]*registryShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{entries: make(map[string]*RegistryEntry)}
	}
	return r
}

func (r *Registry) shard(sessionID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return r.shards[h.Sum32()%registryShards]
}

// Put inserts or replaces the entry for a session.
func (r *Registry) Put(e RegistryEntry) {
	s := r.shard(e.SessionID)
	s.mu.Lock()
	copy := e
	s.entries[e.SessionID] = &copy
	s.mu.Unlock()
}

// Get returns a copy of the entry for the session, if present.
func (r *Registry) Get(sessionID string) (RegistryEntry, bool) {
	s := r.shard(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return RegistryEntry{}, false
	}
	return *e, true
}

// Touch records an accepted event for the session: bumps the event
// count, the participant count when newParticipant is set, and the
// last-activity clock. Missing entries are ignored.
func (r *Registry) Touch(sessionID string, newParticipant bool, at time.Time) {
	s := r.shard(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return
	}
	e.EventCount++
	if newParticipant {
		e.ParticipantCount++
	}
	if at.After(e.LastActivityAt) {
		e.LastActivityAt = at
	}
}

// Remove drops the entry for a session that is no longer active.
func (r *Registry) Remove(sessionID string) {
	s := r.shard(sessionID)
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
}

// Snapshot returns a copy of every entry, ordered by session id for a
// stable wire representation. Each shard is read under its own lock;
// ingestion on other shards is never blocked.
func (r *Registry) Snapshot() []RegistryEntry {
	var result []RegistryEntry
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			result = append(result, *e)
		}
		s.mu.RUnlock()
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SessionID < result[j].SessionID
	})
	return result
}

// IdleSince returns the ids of sessions whose last activity is at or
// before the cutoff. Used by the reaper.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	var ids []string
	for _, s := range r.shards {
		s.mu.RLock()
		for id, e := range s.entries {
			last := e.LastActivityAt
			if last.IsZero() {
				last = e.StartedAt
			}
			if !last.After(cutoff) {
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of active entries.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
