// Package session holds the signed-in identity and keeps it across reloads.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/persist"
)

// Session pairs the Identity with the authenticated flag.
// IsAuthenticated is true if and only if Identity is set.
type Session struct {
	Identity        *Identity `json:"identity"`
	IsAuthenticated bool      `json:"isAuthenticated"`
}

func (s Session) clone() Session {
	if s.Identity == nil {
		return Session{}
	}
	ident := s.Identity.clone()
	return Session{Identity: &ident, IsAuthenticated: true}
}

type Store struct {
	mu    sync.RWMutex
	sess  Session
	saver persist.Saver

	ready     chan struct{}
	readyOnce sync.Once

	subsMu sync.Mutex
	subs   map[int]func(Session)
	nextID int
}

var _ persist.Hydrator = (*Store)(nil)

// NewStore returns an empty Store. Without a saver there is nothing to restore and the
// Store is ready at once; otherwise it becomes ready on its first Hydrate.
func NewStore(saver persist.Saver) *Store {
	s := &Store{
		saver: saver,
		ready: make(chan struct{}),
		subs:  make(map[int]func(Session)),
	}
	if saver == nil {
		s.markReady()
	}
	return s
}

// SetIdentity replaces the whole Session with an authenticated one.
func (s *Store) SetIdentity(ident Identity) error {
	ident.Name = core.CleanString(ident.Name)
	ident.Email = core.CleanString(ident.Email, true /* lower */)
	if err := core.ValidateStruct(ident); err != nil {
		return err
	}

	ident = ident.clone()
	s.mu.Lock()
	s.sess = Session{Identity: &ident, IsAuthenticated: true}
	snap := s.sess.clone()
	s.save(snap)
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// Clear resets the Session to unauthenticated.
func (s *Store) Clear() {
	s.mu.Lock()
	s.sess = Session{}
	s.save(Session{})
	s.mu.Unlock()

	s.notify(Session{})
}

// Current returns a copy of the Session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.clone()
}

// Identity returns a copy of the signed-in Identity, if any.
func (s *Store) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess.Identity == nil {
		return Identity{}, false
	}
	return s.sess.Identity.clone(), true
}

func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until the Session has been restored (or there was nothing to restore).
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hydrate implements persist.Hydrator. It never writes back to the saver.
func (s *Store) Hydrate(payload []byte) error {
	var restored Session
	var err error
	if payload != nil {
		err = json.Unmarshal(payload, &restored)
	}
	if err != nil || restored.Identity == nil || core.ValidateStruct(*restored.Identity) != nil {
		restored = Session{}
	}
	restored = restored.clone()

	s.mu.Lock()
	s.sess = restored
	s.mu.Unlock()

	s.markReady()
	s.notify(restored.clone())
	return err
}

// Subscribe registers fn to be called after every Session change.
// It returns a function removing the subscription.
func (s *Store) Subscribe(fn func(Session)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) save(snap Session) {
	if s.saver != nil {
		s.saver.Persist(persist.PartitionSession, snap)
	}
}

func (s *Store) notify(snap Session) {
	s.subsMu.Lock()
	fns := make([]func(Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap.clone())
	}
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}
