package chat

import (
	"testing"
	"time"

	"github.com/healthchat/healthchat/internal/query"
)

func TestNewSessionGeneratesID(t *testing.T) {
	a := NewSession("")
	b := NewSession("")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q, %q", a.ID, b.ID)
	}
	if got := NewSession("fixed").ID; got != "fixed" {
		t.Fatalf("ID = %q", got)
	}
}

func TestSessionsGetOrCreate(t *testing.T) {
	sessions := NewSessions()

	first, created := sessions.GetOrCreate("")
	if !created {
		t.Fatal("expected new session for empty id")
	}
	again, created := sessions.GetOrCreate(first.ID)
	if created || again != first {
		t.Fatalf("GetOrCreate(%q) = %p, created=%v", first.ID, again, created)
	}
	other, created := sessions.GetOrCreate("unknown-id")
	if !created || other.ID == "unknown-id" || other == first {
		t.Fatalf("unknown id should start a fresh session, got %q created=%v", other.ID, created)
	}
	if sessions.Len() != 2 {
		t.Fatalf("Len() = %d", sessions.Len())
	}
	if _, ok := sessions.Get("unknown-id"); ok {
		t.Fatal("Get(unknown-id) should miss")
	}
}

func TestSessionsResetCaches(t *testing.T) {
	sessions := NewSessions()
	a, _ := sessions.GetOrCreate("")
	b, _ := sessions.GetOrCreate("")
	a.cache.StoreSQL("q", "SELECT 1")
	b.cache.StoreResult("q", query.Result{Columns: []string{"x"}})

	if got := sessions.ResetCaches(); got != 2 {
		t.Fatalf("ResetCaches() = %d", got)
	}
	for _, s := range []*Session{a, b} {
		if sqlEntries, results := s.CacheLen(); sqlEntries != 0 || results != 0 {
			t.Fatalf("session %s cache = %d/%d", s.ID, sqlEntries, results)
		}
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := NewSession("")
	s.append(Message{Role: RoleUser, Text: "hi"})
	history := s.History()
	history[0].Text = "changed"
	if s.History()[0].Text != "hi" {
		t.Fatal("History() exposed internal slice")
	}
}

func TestSessionsDropIdleSessions(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sessions := NewSessions(
		WithIdleTTL(10*time.Minute),
		WithSessionClock(func() time.Time { return now }),
	)

	idle, _ := sessions.GetOrCreate("")
	active, _ := sessions.GetOrCreate("")

	now = now.Add(6 * time.Minute)
	if _, ok := sessions.Get(active.ID); !ok {
		t.Fatal("active session missing")
	}

	now = now.Add(6 * time.Minute)
	if _, created := sessions.GetOrCreate(active.ID); created {
		t.Fatal("recently used session should survive the sweep")
	}
	if _, ok := sessions.Get(idle.ID); ok {
		t.Fatal("idle session should have been dropped")
	}
	if sessions.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", sessions.Len())
	}
}

func TestSessionsEvictLeastRecentlyUsedWhenFull(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sessions := NewSessions(
		WithMaxSessions(2),
		WithSessionClock(func() time.Time { return now }),
	)

	first, _ := sessions.GetOrCreate("")
	now = now.Add(time.Second)
	second, _ := sessions.GetOrCreate("")
	now = now.Add(time.Second)
	sessions.Get(first.ID)
	now = now.Add(time.Second)
	third, _ := sessions.GetOrCreate("")

	if sessions.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", sessions.Len())
	}
	if _, ok := sessions.Get(second.ID); ok {
		t.Fatal("least recently used session should be evicted")
	}
	for _, s := range []*Session{first, third} {
		if _, ok := sessions.Get(s.ID); !ok {
			t.Fatalf("session %s missing", s.ID)
		}
	}
}
