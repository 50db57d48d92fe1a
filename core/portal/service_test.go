package portal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/alert"
	"github.com/trezcool/masomo-portal/core/chat"
	"github.com/trezcool/masomo-portal/core/counter"
	"github.com/trezcool/masomo-portal/core/member"
	"github.com/trezcool/masomo-portal/core/message"
	"github.com/trezcool/masomo-portal/core/payment"
	"github.com/trezcool/masomo-portal/core/persist"
	"github.com/trezcool/masomo-portal/core/portal"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/storage/database/inmem"
	"github.com/trezcool/masomo-portal/tests"
)

var errBoom = errors.New("boom")

// fakeAPI records calls by name.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	loginRes    portal.LoginResult
	loginErr    error
	logoutErr   error
	unread      int
	invitations int
	sendErr     error
	markReadErr error
	rooms       []chat.Room
	members     []member.Member
	sent        []message.Draft
}

func (api *fakeAPI) record(name string) {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.calls == nil {
		api.calls = make(map[string]int)
	}
	api.calls[name]++
}

func (api *fakeAPI) count(name string) int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.calls[name]
}

func (api *fakeAPI) Login(_ context.Context, _ member.Credentials) (portal.LoginResult, error) {
	api.record("login")
	return api.loginRes, api.loginErr
}

func (api *fakeAPI) Logout(context.Context) error {
	api.record("logout")
	return api.logoutErr
}

func (api *fakeAPI) Register(context.Context, member.NewMember) error {
	api.record("register")
	return nil
}

func (api *fakeAPI) UnreadCount(context.Context, int64) (int, error) {
	api.record("unread")
	return api.unread, nil
}

func (api *fakeAPI) InvitationCount(context.Context, int64) (int, error) {
	api.record("invitations")
	return api.invitations, nil
}

func (api *fakeAPI) Messages(context.Context, int64) ([]message.Message, error) {
	api.record("messages")
	return []message.Message{{ID: 1, SenderID: 9, Content: "hi"}}, nil
}

func (api *fakeAPI) SendMessage(_ context.Context, d message.Draft) error {
	api.record("send")
	api.mu.Lock()
	api.sent = append(api.sent, d)
	api.mu.Unlock()
	return api.sendErr
}

func (api *fakeAPI) MarkRead(context.Context, int64) error {
	api.record("markRead")
	return api.markReadErr
}

func (api *fakeAPI) SearchMembers(context.Context, string) ([]member.Member, error) {
	api.record("search")
	return api.members, nil
}

func (api *fakeAPI) ChatRooms(context.Context, int64) ([]chat.Room, error) {
	api.record("rooms")
	return api.rooms, nil
}

func (api *fakeAPI) JoinInvitation(context.Context, int64) error {
	api.record("join")
	return nil
}

func (api *fakeAPI) RequestPayment(_ context.Context, req payment.Request) (payment.Confirmation, error) {
	api.record("payment")
	return payment.Confirmation{ID: 1, ImpUID: req.ImpUID, Status: req.Status}, nil
}

type fakeChannel struct {
	mu        sync.Mutex
	connected []int64
	teardowns int
}

func (ch *fakeChannel) Connect(ident *session.Identity) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.connected = append(ch.connected, ident.ID)
	return true
}

func (ch *fakeChannel) Teardown() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.teardowns++
}

type fixture struct {
	api       *fakeAPI
	channel   *fakeChannel
	repo      persist.Repository
	persistor *persist.Persistor
	sess      *session.Store
	counters  *counter.Counters
	alerts    *alert.Queue
	rooms     *chat.Rooms
	reloads   int
	svc       *portal.Service
}

func setup(t *testing.T, api *fakeAPI) *fixture {
	t.Helper()
	f := &fixture{api: api, channel: &fakeChannel{}, repo: inmemdb.NewStateRepository(inmemdb.NewDB())}
	logger := &testutil.Logger{}
	f.persistor = persist.NewPersistor(f.repo, "root", logger)
	f.sess = session.NewStore(f.persistor)
	f.counters = counter.NewCounters(f.persistor)
	f.alerts = alert.NewQueue(f.persistor)
	f.rooms = chat.NewRooms(f.persistor)
	for part, h := range map[string]persist.Hydrator{
		persist.PartitionSession:  f.sess,
		persist.PartitionCounters: f.counters,
		persist.PartitionAlert:    f.alerts,
		persist.PartitionChat:     f.rooms,
	} {
		require.NoError(t, f.persistor.Register(part, h))
	}
	require.NoError(t, f.persistor.Restore(context.Background()))

	f.svc = portal.NewService(portal.Config{
		API:      api,
		Session:  f.sess,
		Counters: f.counters,
		Alerts:   f.alerts,
		Rooms:    f.rooms,
		State:    f.persistor,
		Channel:  f.channel,
		Logger:   logger,
		OnReload: func() { f.reloads++ },
	})
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(f.svc.Stop)
	return f
}

func loggedIn(t *testing.T, api *fakeAPI) *fixture {
	t.Helper()
	api.loginRes = portal.LoginResult{ID: 7, Name: "Kim", Roles: []string{session.RoleUser}, Status: "ok"}
	f := setup(t, api)
	_, err := f.svc.Login(context.Background(), member.Credentials{Email: "test@example.com", Password: "1234"})
	require.NoError(t, err)
	return f
}

func TestService_Login(t *testing.T) {
	api := &fakeAPI{
		loginRes:    portal.LoginResult{ID: 7, Name: "Kim", Roles: []string{session.RoleUser}, Status: "ok"},
		unread:      3,
		invitations: 2,
	}
	f := setup(t, api)

	ident, err := f.svc.Login(context.Background(), member.Credentials{Email: "test@example.com", Password: "1234"})
	require.NoError(t, err)

	want := session.Identity{ID: 7, Name: "Kim", Email: "test@example.com", Roles: []string{session.RoleUser}}
	assert.Equal(t, want, ident)
	sess := f.sess.Current()
	assert.True(t, sess.IsAuthenticated)
	require.NotNil(t, sess.Identity)
	assert.Equal(t, want, *sess.Identity)

	assert.Equal(t, 1, api.count("unread"))
	assert.Equal(t, 1, api.count("invitations"))
	assert.Equal(t, counter.Snapshot{Unread: 3, Invitations: 2}, f.counters.Snapshot())
	assert.Equal(t, []int64{7}, f.channel.connected)
}

func TestService_Login_failure(t *testing.T) {
	tests := []struct {
		name     string
		creds    member.Credentials
		loginErr error
		wantErr  func(error) bool
		wantCall bool
	}{
		{
			name:     "rejected by server",
			creds:    member.Credentials{Email: "test@example.com", Password: "wrong"},
			loginErr: &portal.LoginError{Message: "bad credentials"},
			wantErr:  portal.IsLoginError,
			wantCall: true,
		},
		{
			name:    "invalid credentials",
			creds:   member.Credentials{Email: "test", Password: ""},
			wantErr: core.IsValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{loginErr: tt.loginErr}
			f := setup(t, api)

			_, err := f.svc.Login(context.Background(), tt.creds)
			require.Error(t, err)
			assert.True(t, tt.wantErr(err), "unexpected error %v", err)
			if tt.loginErr != nil {
				assert.Equal(t, tt.loginErr.Error(), err.Error())
			}
			assert.Equal(t, session.Session{}, f.sess.Current())
			assert.Equal(t, 0, api.count("unread")+api.count("invitations"))
			assert.Equal(t, tt.wantCall, api.count("login") == 1)
		})
	}
}

func TestService_Logout(t *testing.T) {
	tests := []struct {
		name      string
		logoutErr error
	}{
		{name: "endpoint succeeds"},
		{name: "endpoint fails", logoutErr: errBoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{logoutErr: tt.logoutErr, unread: 4}
			f := loggedIn(t, api)
			f.alerts.Show(alert.TextNewMessage)

			require.NoError(t, f.svc.Logout(context.Background()))

			assert.Equal(t, session.Session{}, f.sess.Current())
			assert.Equal(t, 1, api.count("logout"))
			assert.Equal(t, 1, f.reloads)
			assert.Equal(t, 0, f.counters.Unread())
			assert.Equal(t, alert.State{}, f.alerts.State())
			assert.Equal(t, 1, f.channel.teardowns)

			payloads, err := f.repo.LoadAll(context.Background(), "root")
			require.NoError(t, err)
			assert.Empty(t, payloads, "persisted state must be purged")
		})
	}
}

func TestService_MarkRead(t *testing.T) {
	api := &fakeAPI{unread: 2}
	f := loggedIn(t, api)

	read, err := f.svc.MarkRead(context.Background(), message.Message{ID: 1})
	require.NoError(t, err)
	assert.True(t, read.Read)
	assert.Equal(t, 1, api.count("markRead"))
	assert.Equal(t, 1, f.counters.Unread())

	// already read: no call, no decrement
	again, err := f.svc.MarkRead(context.Background(), read)
	require.NoError(t, err)
	assert.Equal(t, read, again)
	assert.Equal(t, 1, api.count("markRead"))
	assert.Equal(t, 1, f.counters.Unread())
}

func TestService_MarkRead_failure(t *testing.T) {
	api := &fakeAPI{unread: 2, markReadErr: errBoom}
	f := loggedIn(t, api)

	msg, err := f.svc.MarkRead(context.Background(), message.Message{ID: 1})
	assert.Equal(t, errBoom, errors.Cause(err))
	assert.False(t, msg.Read)
	assert.Equal(t, 2, f.counters.Unread())
}

func TestService_Send(t *testing.T) {
	tests := []struct {
		name      string
		draft     message.Draft
		sendErr   error
		wantSends int
		wantAlert string
		wantErr   bool
	}{
		{name: "valid", draft: message.Draft{ReceiverID: 9, Content: "hello"}, wantSends: 1, wantAlert: alert.TextMessageSent},
		{name: "no receiver", draft: message.Draft{Content: "hello"}, wantAlert: alert.TextDraftInvalid, wantErr: true},
		{name: "blank content", draft: message.Draft{ReceiverID: 9, Content: "  "}, wantAlert: alert.TextDraftInvalid, wantErr: true},
		{name: "server failure", draft: message.Draft{ReceiverID: 9, Content: "hello"}, sendErr: errBoom, wantSends: 1, wantAlert: alert.TextSendFailed, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{sendErr: tt.sendErr}
			f := loggedIn(t, api)

			err := f.svc.Send(context.Background(), tt.draft)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.wantSends, api.count("send"))
			assert.Equal(t, alert.State{Visible: true, Text: tt.wantAlert}, f.alerts.State())
			if tt.wantSends > 0 {
				assert.Equal(t, int64(7), api.sent[0].SenderID)
			}
		})
	}
}

func TestService_Reply(t *testing.T) {
	api := &fakeAPI{}
	f := loggedIn(t, api)

	require.NoError(t, f.svc.Reply(context.Background(), message.Message{ID: 1, SenderID: 9}, "hi back"))
	require.Len(t, api.sent, 1)
	assert.Equal(t, message.Draft{SenderID: 7, ReceiverID: 9, Content: "hi back"}, api.sent[0])
}

func TestService_requiresIdentity(t *testing.T) {
	f := setup(t, &fakeAPI{})
	ctx := context.Background()

	_, err := f.svc.Messages(ctx)
	assert.Equal(t, portal.ErrNotAuthenticated, err)
	assert.Equal(t, portal.ErrNotAuthenticated, f.svc.Send(ctx, message.Draft{ReceiverID: 1, Content: "x"}))
	_, err = f.svc.ChatRooms(ctx)
	assert.Equal(t, portal.ErrNotAuthenticated, err)
}

func TestService_RefreshMessages(t *testing.T) {
	f := loggedIn(t, &fakeAPI{})
	msgs, err := f.svc.RefreshMessages(context.Background())
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, alert.State{Visible: true, Text: alert.TextListRefreshed}, f.alerts.State())
}

func TestService_SearchMembers(t *testing.T) {
	api := &fakeAPI{members: []member.Member{{ID: 9, Name: "Lee"}}}
	f := loggedIn(t, api)

	tests := []struct {
		query     string
		wantCalls int
	}{
		{query: "", wantCalls: 0},
		{query: " l ", wantCalls: 0},
		{query: "le", wantCalls: 1},
		{query: "이수", wantCalls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := f.svc.SearchMembers(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, api.count("search"))
		})
	}
}

func TestService_JoinInvitation(t *testing.T) {
	api := &fakeAPI{
		invitations: 2,
		rooms:       []chat.Room{{ID: 1, Name: "Math", Status: chat.StatusPending}},
	}
	f := loggedIn(t, api)
	assert.Equal(t, 2, f.counters.Invitations())

	api.invitations = 1
	api.rooms = []chat.Room{{ID: 1, Name: "Math", Status: chat.StatusJoined}}
	require.NoError(t, f.svc.JoinInvitation(context.Background(), 11))

	assert.Equal(t, 1, api.count("join"))
	assert.Equal(t, 1, f.counters.Invitations())
	assert.Empty(t, f.rooms.Pending())
	assert.Equal(t, alert.State{Visible: true, Text: alert.TextJoinedRoom}, f.alerts.State())
}

func TestService_RequestPayment(t *testing.T) {
	api := &fakeAPI{}
	f := loggedIn(t, api)

	_, err := f.svc.RequestPayment(context.Background(), payment.Request{Name: "Tuition"})
	assert.True(t, core.IsValidation(err))
	assert.Equal(t, 0, api.count("payment"))

	conf, err := f.svc.RequestPayment(context.Background(), payment.Request{ImpUID: "imp_1", MerchantUID: 1, PaidAmount: 100, Name: "Tuition"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, conf.Status)
	assert.Equal(t, alert.State{Visible: true, Text: alert.TextPaymentComplete}, f.alerts.State())
}

func TestService_Register(t *testing.T) {
	api := &fakeAPI{}
	f := setup(t, api)

	err := f.svc.Register(context.Background(), member.NewMember{Name: "Lee", Email: "lee@example.com", Password: "1234", PasswordConfirm: "1234"})
	assert.True(t, core.IsValidation(err))
	assert.Equal(t, 0, api.count("register"))

	err = f.svc.Register(context.Background(), member.NewMember{
		Name: "Lee", Email: "lee@example.com", Password: "Str0ng-Pass", PasswordConfirm: "Str0ng-Pass",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, api.count("register"))
}

func TestService_channelFollowsSession(t *testing.T) {
	f := setup(t, &fakeAPI{})

	require.NoError(t, f.sess.SetIdentity(testutil.Identity(7)))
	require.NoError(t, f.sess.SetIdentity(testutil.Identity(7)))
	require.NoError(t, f.sess.SetIdentity(testutil.Identity(8)))
	f.sess.Clear()

	assert.Equal(t, []int64{7, 8}, f.channel.connected)
	assert.Equal(t, 2, f.channel.teardowns)
}
