package feed

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the upstream connection lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateSubscribed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen means the breaker latched after too many failed
	// reconnects. connect() fails fast until ResetCircuitBreaker.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrNotAuthenticated means a subscribe was attempted before the
	// stateful login handshake completed.
	ErrNotAuthenticated = errors.New("connection not authenticated")
)

// defaultBackoff follows the provider guidance: double from 3s, cap at 48s.
var defaultBackoff = []time.Duration{
	3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 48 * time.Second,
}

const defaultMaxAttempts = 5

// Supervisor is the bookkeeping half of the connection state machine: state,
// reconnect attempts, circuit breaker latch and pong freshness. The client
// owns the socket and the timers; the supervisor only decides.
type Supervisor struct {
	mu          sync.Mutex
	state       State
	circuitOpen bool
	attempts    int
	maxAttempts int
	backoff     []time.Duration
	lastPong    time.Time
	now         func() time.Time
	log         *zap.Logger
}

func NewSupervisor(log *zap.Logger) *Supervisor {
	return &Supervisor{
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		now:         time.Now,
		log:         log,
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) SetState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Info("connection state changed",
			zap.Stringer("from", prev), zap.Stringer("to", st))
	}
}

// AllowConnect gates connect() on the circuit breaker. No socket attempt is
// made while the breaker is open.
func (s *Supervisor) AllowConnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.circuitOpen {
		return ErrCircuitOpen
	}
	return nil
}

// NextDelay consumes one reconnect attempt and returns how long to wait
// before retrying. Once maxAttempts is exceeded the breaker latches and
// ErrCircuitOpen is returned; only ResetCircuitBreaker clears it.
func (s *Supervisor) NextDelay() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.circuitOpen {
		return 0, ErrCircuitOpen
	}
	if s.attempts >= s.maxAttempts {
		s.circuitOpen = true
		s.log.Error("max reconnect attempts exceeded, opening circuit breaker",
			zap.Int("attempts", s.attempts))
		return 0, ErrCircuitOpen
	}
	idx := s.attempts
	if idx >= len(s.backoff) {
		idx = len(s.backoff) - 1
	}
	s.attempts++
	return s.backoff[idx], nil
}

// ConnectSucceeded resets the failure accounting once a connection completes
// its auth handshake.
func (s *Supervisor) ConnectSucceeded() {
	s.mu.Lock()
	s.attempts = 0
	s.circuitOpen = false
	s.lastPong = s.now()
	s.mu.Unlock()
}

// ResetCircuitBreaker is the manual operator action that re-arms reconnects.
func (s *Supervisor) ResetCircuitBreaker() {
	s.mu.Lock()
	s.circuitOpen = false
	s.attempts = 0
	s.mu.Unlock()
	s.log.Info("circuit breaker reset")
}

func (s *Supervisor) CircuitOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circuitOpen
}

// Pong records a heartbeat response.
func (s *Supervisor) Pong() {
	s.mu.Lock()
	s.lastPong = s.now()
	s.mu.Unlock()
}

// PongOverdue reports whether the last pong is older than the timeout, which
// the heartbeat loop treats as a dead connection.
func (s *Supervisor) PongOverdue(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastPong) > timeout
}
