// Package broadcast pushes cached records to interested downstream sessions
// on a fixed cadence.
package broadcast

import (
	"time"

	"go.uber.org/zap"

	"quotegate/internal/cache"
	"quotegate/internal/mux"
)

// DefaultInterval is the push cadence; a cache update may lag a push by at
// most one interval, which is the accepted latency bound.
const DefaultInterval = 200 * time.Millisecond

// Push is the message shape delivered to downstream clients. Type carries the
// data kind so the client can route trade vs quote updates.
type Push struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Scheduler ticks on a fixed interval, reads the cache for every
// (session, key) pair and pushes fresh records to open sessions. Expired or
// absent entries are silently skipped; a failing session never affects the
// rest of the tick.
type Scheduler struct {
	interval time.Duration
	mux      *mux.Mux
	store    cache.Store
	log      *zap.Logger
	done     chan struct{}
}

func NewScheduler(interval time.Duration, m *mux.Mux, store cache.Store, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		mux:      m,
		store:    store,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start runs the broadcast loop on its own goroutine until Stop.
func (s *Scheduler) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-s.done:
				return
			}
		}
	}()
	s.log.Info("broadcast scheduler started", zap.Duration("interval", s.interval))
}

func (s *Scheduler) Stop() {
	close(s.done)
}

func (s *Scheduler) tick() {
	for _, interest := range s.mux.Snapshot() {
		if !interest.Session.Open() {
			continue
		}
		for _, key := range interest.Keys {
			rec, ok := s.store.Get(key)
			if !ok {
				continue
			}
			interest.Session.Send(Push{Type: string(key.Kind), Data: rec})
		}
	}
}
