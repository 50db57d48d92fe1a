package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/persist"
)

type saverStub struct {
	mu    sync.Mutex
	saved []Session
}

func (s *saverStub) Persist(partition string, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if partition == persist.PartitionSession {
		s.saved = append(s.saved, v.(Session))
	}
}

func (s *saverStub) last() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[len(s.saved)-1]
}

func kim() Identity {
	return Identity{ID: 7, Name: "Kim", Email: "test@example.com", Roles: []string{RoleUser}}
}

func TestStore_SetIdentity(t *testing.T) {
	tests := []struct {
		name      string
		ident     Identity
		wantErr   bool
		wantField string
	}{
		{name: "complete identity", ident: kim()},
		{name: "no roles", ident: Identity{ID: 1, Name: "Lee"}},
		{name: "missing id", ident: Identity{Name: "Kim"}, wantErr: true, wantField: "id"},
		{name: "blank name", ident: Identity{ID: 7, Name: "   "}, wantErr: true, wantField: "name"},
		{name: "invalid email", ident: Identity{ID: 7, Name: "Kim", Email: "nope"}, wantErr: true, wantField: "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &saverStub{}
			store := NewStore(saver)
			err := store.SetIdentity(tt.ident)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsValidation(err))
				vErr := err.(*core.ValidationError)
				assert.Contains(t, vErr.FieldMap(), tt.wantField)
				assert.Equal(t, Session{}, store.Current())
				return
			}
			require.NoError(t, err)
			sess := store.Current()
			assert.True(t, sess.IsAuthenticated)
			require.NotNil(t, sess.Identity)
			assert.Equal(t, tt.ident.ID, sess.Identity.ID)
			assert.Equal(t, sess, saver.last())
		})
	}
}

func TestStore_replacesWholeIdentity(t *testing.T) {
	store := NewStore(nil)
	require.NoError(t, store.SetIdentity(Identity{ID: 1, Name: "Lee", Email: "lee@example.com", Roles: []string{RoleAdmin}}))
	require.NoError(t, store.SetIdentity(Identity{ID: 2, Name: "Park"}))

	ident, ok := store.Identity()
	require.True(t, ok)
	assert.Equal(t, Identity{ID: 2, Name: "Park"}, ident)
	assert.False(t, ident.IsAdmin())
}

func TestStore_copies(t *testing.T) {
	store := NewStore(nil)
	ident := kim()
	require.NoError(t, store.SetIdentity(ident))
	ident.Roles[0] = RoleAdmin

	got, _ := store.Identity()
	assert.Equal(t, []string{RoleUser}, got.Roles)

	sess := store.Current()
	sess.Identity.Name = "changed"
	got, _ = store.Identity()
	assert.Equal(t, "Kim", got.Name)
}

func TestStore_Clear(t *testing.T) {
	saver := &saverStub{}
	store := NewStore(saver)
	require.NoError(t, store.SetIdentity(kim()))
	store.Clear()

	assert.Equal(t, Session{}, store.Current())
	_, ok := store.Identity()
	assert.False(t, ok)
	assert.Equal(t, Session{}, saver.last())
}

func TestStore_Hydrate(t *testing.T) {
	ident := kim()
	valid, _ := json.Marshal(Session{Identity: &ident, IsAuthenticated: true})
	flagOnly, _ := json.Marshal(Session{IsAuthenticated: true})
	incomplete, _ := json.Marshal(Session{Identity: &Identity{ID: 3}, IsAuthenticated: true})
	unflagged, _ := json.Marshal(Session{Identity: &ident})

	tests := []struct {
		name     string
		payload  []byte
		wantErr  bool
		wantAuth bool
	}{
		{name: "nothing to restore", payload: nil},
		{name: "valid session", payload: valid, wantAuth: true},
		{name: "flag without identity", payload: flagOnly},
		{name: "incomplete identity", payload: incomplete},
		{name: "identity without flag", payload: unflagged, wantAuth: true},
		{name: "garbage", payload: []byte("{"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &saverStub{}
			store := NewStore(saver)
			select {
			case <-store.Ready():
				t.Fatal("store ready before restore")
			default:
			}

			err := store.Hydrate(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("Hydrate() error = %v, wantErr %v", err, tt.wantErr)
			}
			sess := store.Current()
			assert.Equal(t, tt.wantAuth, sess.IsAuthenticated)
			assert.Equal(t, tt.wantAuth, sess.Identity != nil)
			assert.Empty(t, saver.saved, "hydrate must not write back")

			select {
			case <-store.Ready():
			default:
				t.Error("store not ready after restore")
			}
		})
	}
}

func TestStore_Wait(t *testing.T) {
	store := NewStore(&saverStub{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, store.Wait(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- store.Wait(context.Background()) }()
	require.NoError(t, store.Hydrate(nil))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after restore")
	}

	assert.NoError(t, NewStore(nil).Wait(context.Background()), "without a saver the store is ready at once")
}

func TestStore_Subscribe(t *testing.T) {
	store := NewStore(nil)
	var got []bool
	unsub := store.Subscribe(func(sess Session) { got = append(got, sess.IsAuthenticated) })

	require.NoError(t, store.SetIdentity(kim()))
	store.Clear()
	unsub()
	require.NoError(t, store.SetIdentity(kim()))

	assert.Equal(t, []bool{true, false}, got)
}

func TestIdentity_roles(t *testing.T) {
	admin := Identity{ID: 1, Name: "Admin", Roles: []string{RoleUser, RoleAdmin}}
	assert.True(t, admin.HasRole(RoleUser))
	assert.True(t, admin.IsAdmin())
	assert.False(t, kim().IsAdmin())
	assert.Equal(t, "7", kim().Key())
}
