// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package presence

import (
	"sort"
	"testing"
	"time"
)

// stubSender records pushed messages for assertions.
type stubSender struct {
	sent []string
}

func (s *stubSender) TrySend(msgType string, _ any) bool {
	s.sent = append(s.sent, msgType)
	return true
}

func TestRegisterAndGet(t *testing.T) {
	table := NewTable()
	sender := &stubSender{}

	if replaced := table.Register("user-1", sender); replaced != nil {
		t.Errorf("expected no replaced sender on first register, got %v", replaced)
	}

	got, ok := table.Get("user-1")
	if !ok {
		t.Fatal("expected user-1 to be present")
	}
	if got != sender {
		t.Error("Get returned a different sender")
	}
}

func TestRegisterLastWriterWins(t *testing.T) {
	table := NewTable()
	first := &stubSender{}
	second := &stubSender{}

	table.Register("user-1", first)
	replaced := table.Register("user-1", second)

	if replaced != first {
		t.Error("expected the first sender to be returned as replaced")
	}
	if got, _ := table.Get("user-1"); got != second {
		t.Error("expected the most recent sender to win")
	}
	if table.Count() != 1 {
		t.Errorf("Count = %d, want 1", table.Count())
	}
}

func TestRemoveIdempotent(t *testing.T) {
	table := NewTable()
	sender := &stubSender{}
	table.Register("user-1", sender)

	if !table.Remove("user-1", sender) {
		t.Fatal("expected first remove to succeed")
	}
	if table.Remove("user-1", sender) {
		t.Error("expected second remove to be a no-op")
	}
	if _, ok := table.Get("user-1"); ok {
		t.Error("expected user-1 gone after remove")
	}
}

func TestRemoveOnlyMatchingSender(t *testing.T) {
	table := NewTable()
	old := &stubSender{}
	current := &stubSender{}

	table.Register("user-1", old)
	table.Register("user-1", current)

	// The old connection's teardown races the new registration: it must
	// not evict the new entry.
	if table.Remove("user-1", old) {
		t.Error("stale sender must not remove the live entry")
	}
	if _, ok := table.Get("user-1"); !ok {
		t.Error("live entry should survive stale remove")
	}
}

func TestSetOnline(t *testing.T) {
	table := NewTable()
	sender := &stubSender{}
	table.Register("user-1", sender)

	if !table.SetOnline("user-1", false) {
		t.Fatal("expected SetOnline to find the entry")
	}
	if _, ok := table.Get("user-1"); ok {
		t.Error("offline identity must not be reachable via Get")
	}
	if table.Count() != 1 {
		t.Error("SetOnline(false) must retain the entry")
	}

	table.SetOnline("user-1", true)
	if _, ok := table.Get("user-1"); !ok {
		t.Error("expected identity reachable again after SetOnline(true)")
	}
}

func TestSetOnlineUnknownIdentity(t *testing.T) {
	table := NewTable()
	if table.SetOnline("ghost", true) {
		t.Error("expected SetOnline to report missing entry")
	}
}

func TestIdentitiesExcludesOffline(t *testing.T) {
	table := NewTable()
	table.Register("user-1", &stubSender{})
	table.Register("user-2", &stubSender{})
	table.Register("user-3", &stubSender{})
	table.SetOnline("user-2", false)

	got := table.Identities()
	sort.Strings(got)
	want := []string{"user-1", "user-3"}
	if len(got) != len(want) {
		t.Fatalf("Identities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Identities[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRecipientsExcludesSenderAndOffline(t *testing.T) {
	table := NewTable()
	table.Register("user-1", &stubSender{})
	table.Register("user-2", &stubSender{})
	table.Register("user-3", &stubSender{})
	table.SetOnline("user-3", false)

	got := table.Recipients("user-1")
	if len(got) != 1 {
		t.Fatalf("Recipients = %d entries, want 1", len(got))
	}
	if _, ok := got["user-2"]; !ok {
		t.Error("expected user-2 in recipients")
	}
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	table := NewTable()
	base := time.Unix(1_700_000_000, 0)
	now := base
	table.now = func() time.Time { return now }

	table.Register("user-1", &stubSender{})
	now = base.Add(30 * time.Second)
	table.Touch("user-1")

	views := table.Snapshot()
	if len(views) != 1 {
		t.Fatalf("Snapshot = %d entries, want 1", len(views))
	}
	if !views[0].LastSeenAt.Equal(base.Add(30 * time.Second)) {
		t.Errorf("LastSeenAt = %v, want %v", views[0].LastSeenAt, base.Add(30*time.Second))
	}
	if !views[0].JoinedAt.Equal(base) {
		t.Errorf("JoinedAt = %v, want %v", views[0].JoinedAt, base)
	}
}

func TestPresenceInvariantConnectDisconnect(t *testing.T) {
	table := NewTable()
	sender := &stubSender{}

	table.Register("user-1", sender)
	found := false
	for _, id := range table.Identities() {
		if id == "user-1" {
			found = true
		}
	}
	if !found {
		t.Error("identity must appear in snapshot immediately after connect")
	}

	table.Remove("user-1", sender)
	for _, id := range table.Identities() {
		if id == "user-1" {
			t.Error("identity must not appear in snapshot after disconnect")
		}
	}
}
