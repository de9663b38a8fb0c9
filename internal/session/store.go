package session

import (
	"hash/fnv"
	"sync"
)

// Store keeps sessions by id. Implementations must be safe for concurrent use.
type Store interface {
	Put(s Session)
	// Replace stores s only if a session with the same id is still present,
	// so a refresh racing a logout cannot bring the session back.
	Replace(s Session) bool
	Get(id string) (Session, bool)
	Delete(id string)
	All() []Session
	Len() int
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// MemoryStore is a sharded in-process Store. Sessions are values, so every
// Get and All returns an independent copy.
type MemoryStore struct {
	shards [shardCount]*shard
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	for i := range m.shards {
		m.shards[i] = &shard{sessions: make(map[string]Session)}
	}
	return m
}

func (m *MemoryStore) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id)) //nolint:errcheck // hash.Hash never returns an error
	return m.shards[h.Sum32()%shardCount]
}

// Put inserts or replaces a session.
func (m *MemoryStore) Put(s Session) {
	sh := m.shardFor(s.ID)
	sh.mu.Lock()
	sh.sessions[s.ID] = s
	sh.mu.Unlock()
}

// Replace updates an existing session and reports whether it was present.
func (m *MemoryStore) Replace(s Session) bool {
	sh := m.shardFor(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[s.ID]; !ok {
		return false
	}
	sh.sessions[s.ID] = s
	return true
}

// Get returns a copy of the session with the given id.
func (m *MemoryStore) Get(id string) (Session, bool) {
	sh := m.shardFor(id)
	sh.mu.RLock()
	s, ok := sh.sessions[id]
	sh.mu.RUnlock()
	return s, ok
}

// Delete removes a session. Unknown ids are ignored.
func (m *MemoryStore) Delete(id string) {
	sh := m.shardFor(id)
	sh.mu.Lock()
	delete(sh.sessions, id)
	sh.mu.Unlock()
}

// All returns a snapshot of every session. Each shard is copied under its
// own lock, so the result never reflects a half-applied Put.
func (m *MemoryStore) All() []Session {
	var out []Session
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			out = append(out, s)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
