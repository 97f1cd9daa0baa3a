package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"quotegate/internal/quote"
)

type fakeUpstream struct {
	mu        sync.Mutex
	subs      map[quote.InstrumentKey]int
	unsubs    map[quote.InstrumentKey]int
	subscribe int64
	failNext  atomic.Bool
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		subs:   make(map[quote.InstrumentKey]int),
		unsubs: make(map[quote.InstrumentKey]int),
	}
}

func (f *fakeUpstream) Subscribe(_ context.Context, key quote.InstrumentKey) error {
	if f.failNext.CompareAndSwap(true, false) {
		return errors.New("upstream down")
	}
	atomic.AddInt64(&f.subscribe, 1)
	f.mu.Lock()
	f.subs[key]++
	f.mu.Unlock()
	return nil
}

func (f *fakeUpstream) Unsubscribe(_ context.Context, key quote.InstrumentKey) error {
	f.mu.Lock()
	f.unsubs[key]++
	f.mu.Unlock()
	return nil
}

func (f *fakeUpstream) counts(key quote.InstrumentKey) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[key], f.unsubs[key]
}

type fakeSession struct {
	id   string
	open atomic.Bool
	msgs []any
	mu   sync.Mutex
}

func newFakeSession(id string) *fakeSession {
	s := &fakeSession{id: id}
	s.open.Store(true)
	return s
}

func (s *fakeSession) ID() string { return s.id }
func (s *fakeSession) Open() bool { return s.open.Load() }
func (s *fakeSession) Send(v any) {
	s.mu.Lock()
	s.msgs = append(s.msgs, v)
	s.mu.Unlock()
}

func kTrade(sym string) quote.InstrumentKey {
	return quote.InstrumentKey{Exchange: "KRX", Symbol: sym, Kind: quote.KindTrade}
}

// go test -v --run TestRefCountTransitions
func TestRefCountTransitions(t *testing.T) {
	up := newFakeUpstream()
	m := New(func(quote.InstrumentKey) Upstream { return up }, zap.NewNop())

	a, b := newFakeSession("a"), newFakeSession("b")
	m.Register(a)
	m.Register(b)

	key := kTrade("005930")
	ctx := context.Background()

	if err := m.Subscribe(ctx, a, key); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := m.Subscribe(ctx, b, key); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if subs, _ := up.counts(key); subs != 1 {
		t.Errorf("upstream subscribes = %d, want exactly 1 for two sessions", subs)
	}
	if m.RefCount(key) != 2 {
		t.Errorf("refcount = %d, want 2", m.RefCount(key))
	}

	// duplicate subscribe from the same session is a no-op
	if err := m.Subscribe(ctx, a, key); err != nil {
		t.Fatalf("duplicate subscribe: %v", err)
	}
	if m.RefCount(key) != 2 {
		t.Errorf("refcount after duplicate = %d, want 2", m.RefCount(key))
	}

	m.Unsubscribe(ctx, a, key)
	if _, unsubs := up.counts(key); unsubs != 0 {
		t.Errorf("upstream unsubscribed while a session still holds the key")
	}

	m.Unsubscribe(ctx, b, key)
	if _, unsubs := up.counts(key); unsubs != 1 {
		t.Errorf("upstream unsubscribes = %d, want 1 after last session left", unsubs)
	}
	if m.RefCount(key) != 0 {
		t.Errorf("refcount = %d, want 0", m.RefCount(key))
	}
}

// go test -v --run TestSubscribeRollbackOnUpstreamError
func TestSubscribeRollbackOnUpstreamError(t *testing.T) {
	up := newFakeUpstream()
	m := New(func(quote.InstrumentKey) Upstream { return up }, zap.NewNop())

	sess := newFakeSession("a")
	m.Register(sess)

	key := kTrade("005930")
	up.failNext.Store(true)
	if err := m.Subscribe(context.Background(), sess, key); err == nil {
		t.Fatal("expected error when upstream subscribe fails")
	}
	if m.RefCount(key) != 0 {
		t.Errorf("refcount = %d, want 0 after rollback", m.RefCount(key))
	}

	// the failed attempt must not leave session state behind
	if err := m.Subscribe(context.Background(), sess, key); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
	if subs, _ := up.counts(key); subs != 1 {
		t.Errorf("upstream subscribes = %d, want 1 on retry", subs)
	}
}

// go test -v --run TestUnroutedExchange
func TestUnroutedExchange(t *testing.T) {
	m := New(func(quote.InstrumentKey) Upstream { return nil }, zap.NewNop())
	sess := newFakeSession("a")
	m.Register(sess)

	if err := m.Subscribe(context.Background(), sess, kTrade("005930")); err == nil {
		t.Fatal("expected error for an exchange no feed serves")
	}
}

// go test -v --run TestDropReleasesEverything
func TestDropReleasesEverything(t *testing.T) {
	up := newFakeUpstream()
	m := New(func(quote.InstrumentKey) Upstream { return up }, zap.NewNop())

	a, b := newFakeSession("a"), newFakeSession("b")
	m.Register(a)
	m.Register(b)

	shared, own := kTrade("005930"), kTrade("000660")
	ctx := context.Background()
	m.Subscribe(ctx, a, shared)
	m.Subscribe(ctx, b, shared)
	m.Subscribe(ctx, a, own)

	m.Drop(a)

	if _, unsubs := up.counts(own); unsubs != 1 {
		t.Errorf("exclusive key: unsubscribes = %d, want 1", unsubs)
	}
	if _, unsubs := up.counts(shared); unsubs != 0 {
		t.Errorf("shared key released while another session holds it")
	}
	if m.RefCount(shared) != 1 {
		t.Errorf("shared refcount = %d, want 1", m.RefCount(shared))
	}

	// dropping twice must not double-release
	m.Drop(a)
	if m.RefCount(shared) != 1 {
		t.Errorf("shared refcount after double drop = %d, want 1", m.RefCount(shared))
	}
}

// go test -v --run TestConcurrentSubscribeSingleUpstream
func TestConcurrentSubscribeSingleUpstream(t *testing.T) {
	up := newFakeUpstream()
	m := New(func(quote.InstrumentKey) Upstream { return up }, zap.NewNop())

	const n = 32
	sessions := make([]*fakeSession, n)
	for i := range sessions {
		sessions[i] = newFakeSession(fmt.Sprintf("s%d", i))
		m.Register(sessions[i])
	}

	key := kTrade("005930")
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *fakeSession) {
			defer wg.Done()
			if err := m.Subscribe(context.Background(), s, key); err != nil {
				t.Errorf("subscribe: %v", err)
			}
		}(sess)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&up.subscribe); got != 1 {
		t.Errorf("upstream subscribe calls = %d, want exactly 1", got)
	}
	if m.RefCount(key) != n {
		t.Errorf("refcount = %d, want %d", m.RefCount(key), n)
	}

	// churn everyone off concurrently; exactly one upstream unsubscribe
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *fakeSession) {
			defer wg.Done()
			m.Unsubscribe(context.Background(), s, key)
		}(sess)
	}
	wg.Wait()

	if _, unsubs := up.counts(key); unsubs != 1 {
		t.Errorf("upstream unsubscribe calls = %d, want exactly 1", unsubs)
	}
	if m.RefCount(key) != 0 {
		t.Errorf("refcount = %d, want 0", m.RefCount(key))
	}
}

// go test -v --run TestSnapshot
func TestSnapshot(t *testing.T) {
	up := newFakeUpstream()
	m := New(func(quote.InstrumentKey) Upstream { return up }, zap.NewNop())

	sess := newFakeSession("a")
	m.Register(sess)
	m.Subscribe(context.Background(), sess, kTrade("005930"))
	m.Subscribe(context.Background(), sess, kTrade("000660"))

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot sessions = %d, want 1", len(snap))
	}
	if len(snap[0].Keys) != 2 {
		t.Errorf("snapshot keys = %d, want 2", len(snap[0].Keys))
	}
}
