// Package mux translates the overlapping interests of many downstream
// sessions into the minimal set of upstream subscriptions.
package mux

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"quotegate/internal/quote"
)

// Upstream is the subscribe/unsubscribe surface of a feed client.
type Upstream interface {
	Subscribe(ctx context.Context, key quote.InstrumentKey) error
	Unsubscribe(ctx context.Context, key quote.InstrumentKey) error
}

// Session is one downstream client connection.
type Session interface {
	ID() string
	Send(v any)
	Open() bool
}

// Router picks the feed client that serves a key, or nil when no feed covers
// the exchange.
type Router func(key quote.InstrumentKey) Upstream

// Interest pairs a session with a snapshot of the keys it follows.
type Interest struct {
	Session Session
	Keys    []quote.InstrumentKey
}

// Mux ref-counts instrument interest across sessions. The upstream subscribe
// fires exactly on the 0→1 transition and the unsubscribe exactly on 1→0,
// linearized per key through a per-entry lock so unrelated instruments never
// contend.
type Mux struct {
	route Router
	log   *zap.Logger

	sessMu   sync.RWMutex
	sessions map[Session]map[quote.InstrumentKey]struct{}

	keys sync.Map // quote.InstrumentKey -> *refEntry
}

type refEntry struct {
	mu    sync.Mutex
	count int
}

func New(route Router, log *zap.Logger) *Mux {
	return &Mux{
		route:    route,
		log:      log,
		sessions: make(map[Session]map[quote.InstrumentKey]struct{}),
	}
}

// Register adds a freshly connected session with an empty interest set.
func (m *Mux) Register(sess Session) {
	m.sessMu.Lock()
	m.sessions[sess] = make(map[quote.InstrumentKey]struct{})
	m.sessMu.Unlock()
	m.log.Info("session registered", zap.String("session", sess.ID()))
}

// Subscribe adds key to the session's interest set and, when this is the
// first interest globally, registers it upstream. Idempotent per session.
func (m *Mux) Subscribe(ctx context.Context, sess Session, key quote.InstrumentKey) error {
	up := m.route(key)
	if up == nil {
		return fmt.Errorf("no feed serves exchange %q", key.Exchange)
	}

	m.sessMu.Lock()
	set, ok := m.sessions[sess]
	if !ok {
		m.sessMu.Unlock()
		return fmt.Errorf("unknown session %s", sess.ID())
	}
	if _, dup := set[key]; dup {
		m.sessMu.Unlock()
		return nil
	}
	set[key] = struct{}{}
	m.sessMu.Unlock()

	e := m.lockEntry(key)
	e.count++
	var err error
	if e.count == 1 {
		if err = up.Subscribe(ctx, key); err != nil {
			e.count--
		}
	}
	e.mu.Unlock()

	if err != nil {
		m.sessMu.Lock()
		if set, ok := m.sessions[sess]; ok {
			delete(set, key)
		}
		m.sessMu.Unlock()
		return fmt.Errorf("upstream subscribe %s: %w", key, err)
	}
	return nil
}

// Unsubscribe removes key from the session's interest set; the last session
// out turns off the upstream subscription. A no-op when the session never
// held the key.
func (m *Mux) Unsubscribe(ctx context.Context, sess Session, key quote.InstrumentKey) {
	m.sessMu.Lock()
	set, ok := m.sessions[sess]
	if !ok {
		m.sessMu.Unlock()
		return
	}
	if _, held := set[key]; !held {
		m.sessMu.Unlock()
		return
	}
	delete(set, key)
	m.sessMu.Unlock()

	m.release(ctx, key)
}

// Drop releases every key a session held and forgets the session. Called on
// every disconnect path, orderly or not.
func (m *Mux) Drop(sess Session) {
	m.sessMu.Lock()
	set := m.sessions[sess]
	delete(m.sessions, sess)
	m.sessMu.Unlock()
	if set == nil {
		return
	}

	for key := range set {
		m.release(context.Background(), key)
	}
	m.log.Info("session dropped",
		zap.String("session", sess.ID()), zap.Int("released", len(set)))
}

// Snapshot captures the current session/interest pairs for the broadcast
// tick.
func (m *Mux) Snapshot() []Interest {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	out := make([]Interest, 0, len(m.sessions))
	for sess, set := range m.sessions {
		keys := make([]quote.InstrumentKey, 0, len(set))
		for key := range set {
			keys = append(keys, key)
		}
		out = append(out, Interest{Session: sess, Keys: keys})
	}
	return out
}

// RefCount reports how many sessions currently hold key.
func (m *Mux) RefCount(key quote.InstrumentKey) int {
	v, ok := m.keys.Load(key)
	if !ok {
		return 0
	}
	e := v.(*refEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// lockEntry returns the entry for key with its lock held, re-reading when a
// concurrent release retired the entry between lookup and lock.
func (m *Mux) lockEntry(key quote.InstrumentKey) *refEntry {
	for {
		v, _ := m.keys.LoadOrStore(key, &refEntry{})
		e := v.(*refEntry)
		e.mu.Lock()
		if cur, ok := m.keys.Load(key); ok && cur.(*refEntry) == e {
			return e
		}
		e.mu.Unlock()
	}
}

func (m *Mux) release(ctx context.Context, key quote.InstrumentKey) {
	e := m.lockEntry(key)
	defer e.mu.Unlock()
	e.count--
	if e.count > 0 {
		return
	}
	m.keys.Delete(key)
	if up := m.route(key); up != nil {
		if err := up.Unsubscribe(ctx, key); err != nil {
			m.log.Error("upstream unsubscribe failed", zap.Stringer("key", key), zap.Error(err))
		}
	}
}
