package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	byUser, err := m.ByUser("u1")
	if err != nil || byUser.ID != s.ID {
		t.Fatalf("ByUser() = %+v, %v", byUser, err)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.ByUser("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ByUser() after End error = %v, want ErrNotFound", err)
	}
	if _, err := m.StartTurn(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("StartTurn() on ended session error = %v, want ErrEnded", err)
	}
}

func TestManagerSerializesTurns(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")

	turn, err := m.StartTurn(s.ID)
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if _, err := m.StartTurn(s.ID); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("second StartTurn() error = %v, want ErrTurnInProgress", err)
	}
	if err := m.EndTurn(s.ID, turn, "Inception"); err != nil {
		t.Fatalf("EndTurn() error = %v", err)
	}

	got, _ := m.Get(s.ID)
	if got.ActiveTurnID != "" || got.TurnCount != 1 || got.MainMovie != "Inception" {
		t.Fatalf("unexpected state after EndTurn: %+v", got)
	}
	if _, err := m.StartTurn(s.ID); err != nil {
		t.Fatalf("StartTurn() after EndTurn error = %v", err)
	}
}

func TestManagerEndTurnIgnoresStaleTurnID(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")
	turn, _ := m.StartTurn(s.ID)
	if err := m.EndTurn(s.ID, "stale", "Heat"); err != nil {
		t.Fatalf("EndTurn() error = %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.ActiveTurnID != turn {
		t.Fatalf("ActiveTurnID = %q, want %q", got.ActiveTurnID, turn)
	}
}

func TestManagerResetClearsMainMovie(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")
	turn, _ := m.StartTurn(s.ID)
	_ = m.EndTurn(s.ID, turn, "Heat")

	if err := m.Reset(s.ID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.MainMovie != "" || got.ResetCount != 1 {
		t.Fatalf("unexpected state after Reset: %+v", got)
	}
	if err := m.Reset("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Reset(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	m.Create("u1")
	var expired atomic.Int32
	m.SetExpireHook(func(*Session) { expired.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	if expired.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", expired.Load())
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerJanitorSkipsSessionMidTurn(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	s := m.Create("")
	if _, err := m.StartTurn(s.ID); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	m.expireInactive()

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("Status = %q, want %q", got.Status, StatusActive)
	}
}
