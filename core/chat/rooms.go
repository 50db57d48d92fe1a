// Package chat holds the member's chat rooms and pending invitations.
package chat

import (
	"encoding/json"
	"sync"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/persist"
)

// Membership statuses
const (
	StatusJoined   = "JOINED"
	StatusPending  = "PENDING"
	StatusAccepted = "ACCEPTED"
	StatusDeclined = "DECLINED"
)

type Room struct {
	ID           int64          `json:"id"`
	InvitationID int64          `json:"invitationId,omitempty"`
	Name         string         `json:"name"`
	CreatedAt    core.Timestamp `json:"createdAt"`
	OwnerID      int64          `json:"ownerId"`
	OwnerName    string         `json:"ownerName"`
	Status       string         `json:"status"`
}

func (r Room) IsPending() bool {
	return r.Status == StatusPending
}

// Rooms caches the last fetched room list.
type Rooms struct {
	mu    sync.RWMutex
	rooms []Room
	saver persist.Saver
}

var _ persist.Hydrator = (*Rooms)(nil)

func NewRooms(saver persist.Saver) *Rooms {
	return &Rooms{saver: saver}
}

// Set replaces the whole list.
func (r *Rooms) Set(rooms []Room) {
	cp := append([]Room(nil), rooms...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = cp
	if r.saver != nil {
		r.saver.Persist(persist.PartitionChat, cp)
	}
}

func (r *Rooms) List() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Room(nil), r.rooms...)
}

// Pending returns the rooms the member was invited to but did not join yet.
func (r *Rooms) Pending() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []Room
	for _, room := range r.rooms {
		if room.IsPending() {
			pending = append(pending, room)
		}
	}
	return pending
}

// Hydrate implements persist.Hydrator.
func (r *Rooms) Hydrate(payload []byte) error {
	var rooms []Room
	var err error
	if payload != nil {
		if err = json.Unmarshal(payload, &rooms); err != nil {
			rooms = nil
		}
	}
	r.mu.Lock()
	r.rooms = rooms
	r.mu.Unlock()
	return err
}
