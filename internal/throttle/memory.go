package throttle

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often MemoryStore.Run discards stale records.
const DefaultCleanupInterval = time.Minute

// MemoryStore keeps records in process memory behind one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get returns the record for key.
func (m *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

// RegisterFailure applies one failure under the store lock.
func (m *MemoryStore) RegisterFailure(_ context.Context, key string, now time.Time, p Policy) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	rec = next(rec, ok, now, p)
	m.records[key] = rec
	return rec, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Cleanup discards records whose window has elapsed and that are not
// blocked. It returns the number removed.
func (m *MemoryStore) Cleanup(now time.Time, p Policy) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, rec := range m.records {
		if expired(rec, now, p) {
			delete(m.records, key)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is cancelled.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration, p Policy) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Cleanup(now, p)
		}
	}
}
