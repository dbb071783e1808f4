// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package presence tracks which identities currently hold a live relay
// connection.
//
// The Table is the single source of truth for "who can receive realtime
// messages now". It is an explicitly owned, mutex-guarded store passed by
// reference into the gateway and relay; entries are process-lifetime only
// and never persisted.
//
// One connection per identity: registration is last-writer-wins, and the
// replaced sender is returned so the caller can close the orphaned
// transport cleanly.
package presence

import (
	"sync"
	"time"
)

// Sender is the transport half of a connection: a non-blocking push of one
// outbound message. Implemented by the relay client; kept as an interface
// so the table never imports the transport layer.
type Sender interface {
	// TrySend enqueues a message without blocking. Returns false when the
	// recipient's buffer is full or the connection is closing.
	TrySend(msgType string, data any) bool
}

// Entry is one identity's live-connection metadata.
type Entry struct {
	Identity   string
	Sender     Sender
	JoinedAt   time.Time
	LastSeenAt time.Time
	Online     bool
}

// View is a read-only snapshot of an Entry for the HTTP side-channel.
type View struct {
	Identity   string    `json:"identity"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Online     bool      `json:"online"`
}

// Table maps identity to live-connection metadata. Safe for concurrent
// use. Construct with NewTable.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	// now is injectable for tests.
	now func() time.Time
}

// NewTable creates an empty presence table.
func NewTable() *Table {
	return &Table{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Register inserts an entry for identity, replacing any existing one
// (last writer wins). Returns the replaced sender, or nil if the identity
// was not present.
func (t *Table) Register(identity string, sender Sender) Sender {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var replaced Sender
	if prev, ok := t.entries[identity]; ok {
		replaced = prev.Sender
	}

	t.entries[identity] = &Entry{
		Identity:   identity,
		Sender:     sender,
		JoinedAt:   now,
		LastSeenAt: now,
		Online:     true,
	}
	return replaced
}

// Remove deletes the entry for identity, but only when the stored sender
// matches. This makes disconnect cleanup idempotent and safe against the
// race where a new connection for the same identity registered after the
// old one started tearing down. Returns true when an entry was removed.
func (t *Table) Remove(identity string, sender Sender) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[identity]
	if !ok || entry.Sender != sender {
		return false
	}
	delete(t.entries, identity)
	return true
}

// SetOnline flips the online flag for identity without removing the entry
// and stamps LastSeenAt. Returns false when the identity has no entry.
func (t *Table) SetOnline(identity string, online bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[identity]
	if !ok {
		return false
	}
	entry.Online = online
	entry.LastSeenAt = t.now()
	return true
}

// Touch stamps LastSeenAt for identity on inbound activity.
func (t *Table) Touch(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[identity]; ok {
		entry.LastSeenAt = t.now()
	}
}

// Get returns the sender for identity when present and online.
func (t *Table) Get(identity string) (Sender, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[identity]
	if !ok || !entry.Online {
		return nil, false
	}
	return entry.Sender, true
}

// Identities returns the identities currently online.
func (t *Table) Identities() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.entries))
	for identity, entry := range t.entries {
		if entry.Online {
			out = append(out, identity)
		}
	}
	return out
}

// Recipients returns the online senders for every identity except exclude.
// Used for broadcast fan-out.
func (t *Table) Recipients(exclude string) map[string]Sender {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Sender, len(t.entries))
	for identity, entry := range t.entries {
		if identity == exclude || !entry.Online {
			continue
		}
		out[identity] = entry.Sender
	}
	return out
}

// Snapshot returns read-only views of all entries, online or not, for the
// HTTP side-channel.
func (t *Table) Snapshot() []View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]View, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, View{
			Identity:   entry.Identity,
			JoinedAt:   entry.JoinedAt,
			LastSeenAt: entry.LastSeenAt,
			Online:     entry.Online,
		})
	}
	return out
}

// Count returns the number of entries in the table.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
