package cache

import (
	"sync"
	"time"

	"quotegate/internal/quote"
)

// Memory is the in-process Store. The outer map is guarded by a read-write
// lock and each key owns its own entry lock, so concurrent traffic on
// unrelated instruments never serializes.
type Memory struct {
	ttl      time.Duration
	now      func() time.Time
	globalMu sync.RWMutex
	data     map[quote.InstrumentKey]*memoryEntry
}

type memoryEntry struct {
	mu         sync.Mutex
	rec        *quote.Record
	capturedAt time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:  ttl,
		now:  time.Now,
		data: make(map[quote.InstrumentKey]*memoryEntry),
	}
}

func (m *Memory) Put(key quote.InstrumentKey, rec *quote.Record) {
	// Fast path: entry exists, take only the per-key lock
	m.globalMu.RLock()
	e, ok := m.data[key]
	m.globalMu.RUnlock()

	if !ok {
		m.globalMu.Lock()
		if e, ok = m.data[key]; !ok {
			e = &memoryEntry{}
			m.data[key] = e
		}
		m.globalMu.Unlock()
	}

	e.mu.Lock()
	e.rec = rec
	e.capturedAt = m.now()
	e.mu.Unlock()
}

// Get returns the record only while it is younger than the TTL. Expired
// entries are evicted lazily on the read that observes them.
func (m *Memory) Get(key quote.InstrumentKey) (*quote.Record, bool) {
	m.globalMu.RLock()
	e, ok := m.data[key]
	m.globalMu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	rec, capturedAt := e.rec, e.capturedAt
	e.mu.Unlock()

	if rec == nil || m.now().Sub(capturedAt) >= m.ttl {
		m.evict(key, capturedAt)
		return nil, false
	}
	return rec, true
}

// evict removes the entry unless a newer Put raced in.
func (m *Memory) evict(key quote.InstrumentKey, capturedAt time.Time) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	if e, ok := m.data[key]; ok {
		e.mu.Lock()
		stale := e.capturedAt.Equal(capturedAt)
		e.mu.Unlock()
		if stale {
			delete(m.data, key)
		}
	}
}

func (m *Memory) Clear() {
	m.globalMu.Lock()
	m.data = make(map[quote.InstrumentKey]*memoryEntry)
	m.globalMu.Unlock()
}

// StartSweep runs a periodic eviction pass so memory stays bounded even for
// keys nothing reads anymore. Optional; reads already evict lazily.
// The returned stop function is idempotent per caller convention: call once.
func (m *Memory) StartSweep(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (m *Memory) sweep() {
	cutoff := m.now().Add(-m.ttl)
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	for key, e := range m.data {
		e.mu.Lock()
		expired := e.capturedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(m.data, key)
		}
	}
}
