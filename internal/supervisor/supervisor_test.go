package supervisor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/smsirc/smsirc/internal/comm"
	"github.com/smsirc/smsirc/internal/config"
	"github.com/smsirc/smsirc/internal/store"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{Admin: "admin"}
	cfg.IRC.Hostname = "irc.invalid"
	cfg.IRC.Port = 6667

	s := New(cfg, st)
	// Actors spawned during tests see an already-cancelled root context, so
	// they return at the top of the respawn loop without ever dialing.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.rootCtx = ctx
	return s
}

func TestEnsureActor_OneActorPerNormalizedAddr(t *testing.T) {
	s := newTestSupervisor(t)
	t.Cleanup(s.wg.Wait)

	a := s.ensureActor("+1 555 123 4567")
	b := s.ensureActor("+15551234567")
	if a == nil || b == nil {
		t.Fatal("expected inboxes, got nil")
	}
	if a != b {
		t.Fatal("expected one actor for both spellings of the address")
	}

	s.mu.Lock()
	n := len(s.actors)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 actor entry, got %d", n)
	}
}

func TestEnsureActor_EmptyAddrRejected(t *testing.T) {
	s := newTestSupervisor(t)
	if inbox := s.ensureActor("   "); inbox != nil {
		t.Fatal("expected nil inbox for empty address")
	}
}

func TestDispatch_DropsWhenInboxFull(t *testing.T) {
	s := newTestSupervisor(t)
	t.Cleanup(s.wg.Wait)

	inbox := s.ensureActor("+15551234567")
	for i := 0; i < cap(inbox); i++ {
		inbox <- comm.ContactManagerCommand{Kind: comm.ProcessMessages}
	}

	// Must not block even though the inbox is full.
	s.Dispatch("+15551234567", comm.ContactManagerCommand{Kind: comm.ProcessMessages})
}

func TestDeleteRecipient_RemovesRowAndActor(t *testing.T) {
	s := newTestSupervisor(t)
	t.Cleanup(s.wg.Wait)

	if _, err := s.st.StoreRecipient("+15551234567", "alice"); err != nil {
		t.Fatalf("seed recipient: %v", err)
	}
	s.ensureActor("+15551234567")

	if err := s.DeleteRecipient("+15551234567"); err != nil {
		t.Fatalf("delete recipient: %v", err)
	}

	s.mu.Lock()
	_, stillThere := s.actors["+15551234567"]
	s.mu.Unlock()
	if stillThere {
		t.Fatal("expected actor entry removed")
	}

	if err := s.DeleteRecipient("+15551234567"); err == nil {
		t.Fatal("expected second delete to fail (zero rows)")
	}
}
