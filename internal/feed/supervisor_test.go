package feed

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// go test -v --run TestBackoffSequence
func TestBackoffSequence(t *testing.T) {
	s := NewSupervisor(zap.NewNop())

	want := []time.Duration{
		3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 48 * time.Second,
	}
	for i, w := range want {
		d, err := s.NextDelay()
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if d != w {
			t.Errorf("attempt %d: delay = %v, want %v", i, d, w)
		}
	}

	// sixth attempt latches the breaker
	if _, err := s.NextDelay(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if !s.CircuitOpen() {
		t.Error("breaker should be latched")
	}
	if err := s.AllowConnect(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("AllowConnect = %v, want ErrCircuitOpen", err)
	}
}

// go test -v --run TestCircuitBreakerReset
func TestCircuitBreakerReset(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	for i := 0; i < 6; i++ {
		s.NextDelay()
	}
	if !s.CircuitOpen() {
		t.Fatal("breaker should be latched after exhausting attempts")
	}

	s.ResetCircuitBreaker()
	if s.CircuitOpen() {
		t.Fatal("breaker should be cleared after reset")
	}
	d, err := s.NextDelay()
	if err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
	if d != 3*time.Second {
		t.Errorf("delay after reset = %v, want 3s (attempt count rewound)", d)
	}
}

// go test -v --run TestConnectSucceededResetsAttempts
func TestConnectSucceededResetsAttempts(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	s.NextDelay()
	s.NextDelay()
	s.ConnectSucceeded()

	d, err := s.NextDelay()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 3*time.Second {
		t.Errorf("delay = %v, want 3s after successful connect", d)
	}
}

// go test -v --run TestPongOverdue
func TestPongOverdue(t *testing.T) {
	now := time.Now()
	s := NewSupervisor(zap.NewNop())
	s.now = func() time.Time { return now }

	s.Pong()
	if s.PongOverdue(10 * time.Second) {
		t.Error("fresh pong should not be overdue")
	}

	now = now.Add(11 * time.Second)
	if !s.PongOverdue(10 * time.Second) {
		t.Error("11s-old pong should be overdue at a 10s timeout")
	}
}
