// Package counter owns the unread-message and chat-invitation counts.
package counter

import (
	"encoding/json"
	"sync"

	"github.com/trezcool/masomo-portal/core/persist"
)

// Snapshot is the persisted form of Counters.
type Snapshot struct {
	Unread      int `json:"unreadCount"`
	Invitations int `json:"invitationCount"`
}

// Counters is only mutated through SetUnread, IncrementUnread, DecrementUnread and
// SetInvitations. Both counts are never negative.
type Counters struct {
	mu    sync.Mutex
	snap  Snapshot
	saver persist.Saver

	subsMu sync.Mutex
	subs   []func(Snapshot)
}

var _ persist.Hydrator = (*Counters)(nil)

func NewCounters(saver persist.Saver) *Counters {
	return &Counters{saver: saver}
}

// SetUnread sets the server-authoritative unread count.
func (c *Counters) SetUnread(n int) {
	c.update(func(s *Snapshot) { s.Unread = floor(n) })
}

func (c *Counters) IncrementUnread() {
	c.update(func(s *Snapshot) { s.Unread++ })
}

// DecrementUnread is a no-op at 0.
func (c *Counters) DecrementUnread() {
	c.update(func(s *Snapshot) {
		if s.Unread > 0 {
			s.Unread--
		}
	})
}

// SetInvitations sets the pending invitation count. There is no local decrement: it
// only changes through a refetch.
func (c *Counters) SetInvitations(n int) {
	c.update(func(s *Snapshot) { s.Invitations = floor(n) })
}

func (c *Counters) Unread() int {
	return c.Snapshot().Unread
}

func (c *Counters) Invitations() int {
	return c.Snapshot().Invitations
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Hydrate implements persist.Hydrator.
func (c *Counters) Hydrate(payload []byte) error {
	var snap Snapshot
	var err error
	if payload != nil {
		if err = json.Unmarshal(payload, &snap); err != nil {
			snap = Snapshot{}
		}
	}
	snap.Unread, snap.Invitations = floor(snap.Unread), floor(snap.Invitations)

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.notify(snap)
	return err
}

// Subscribe registers fn to be called with every new Snapshot.
func (c *Counters) Subscribe(fn func(Snapshot)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs = append(c.subs, fn)
}

func (c *Counters) update(mutate func(*Snapshot)) {
	c.mu.Lock()
	mutate(&c.snap)
	snap := c.snap
	if c.saver != nil {
		c.saver.Persist(persist.PartitionCounters, snap)
	}
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Counters) notify(snap Snapshot) {
	c.subsMu.Lock()
	subs := make([]func(Snapshot), len(c.subs))
	copy(subs, c.subs)
	c.subsMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func floor(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
