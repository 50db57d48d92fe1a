// Package portal implements the session-bound flows of the student portal: login, logout,
// reading and sending messages, chat invitations and payments.
package portal

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/alert"
	"github.com/trezcool/masomo-portal/core/chat"
	"github.com/trezcool/masomo-portal/core/counter"
	"github.com/trezcool/masomo-portal/core/member"
	"github.com/trezcool/masomo-portal/core/message"
	"github.com/trezcool/masomo-portal/core/payment"
	"github.com/trezcool/masomo-portal/core/session"
)

type (
	// Channel is the live notification subscription.
	Channel interface {
		Connect(ident *session.Identity) bool
		Teardown()
	}

	// StateStore is the persisted state of the portal.
	StateStore interface {
		Purge(ctx context.Context) error
		Reset()
	}

	Config struct {
		API      API
		Session  *session.Store
		Counters *counter.Counters
		Alerts   *alert.Queue
		Rooms    *chat.Rooms
		State    StateStore // optional
		Channel  Channel    // optional
		Logger   core.Logger
		OnReload func() // called last on logout
	}

	Service struct {
		api      API
		sess     *session.Store
		counters *counter.Counters
		alerts   *alert.Queue
		rooms    *chat.Rooms
		state    StateStore
		channel  Channel
		logger   core.Logger
		onReload func()

		mu        sync.Mutex
		connected int64 // identity id the channel is keyed by; 0 when torn down
		unsub     func()
	}
)

func NewService(conf Config) *Service {
	if conf.Logger == nil {
		conf.Logger = core.NopLogger{}
	}
	return &Service{
		api:      conf.API,
		sess:     conf.Session,
		counters: conf.Counters,
		alerts:   conf.Alerts,
		rooms:    conf.Rooms,
		state:    conf.State,
		channel:  conf.Channel,
		logger:   conf.Logger,
		onReload: conf.OnReload,
	}
}

// Start waits for the session to be restored, then keeps the notification channel keyed by
// the signed-in identity.
func (svc *Service) Start(ctx context.Context) error {
	if err := svc.sess.Wait(ctx); err != nil {
		return errors.Wrap(err, "waiting for session restore")
	}
	svc.mu.Lock()
	if svc.unsub == nil {
		svc.unsub = svc.sess.Subscribe(svc.sync)
	}
	svc.mu.Unlock()
	svc.sync(svc.sess.Current())
	return nil
}

// Stop tears the channel down and stops following the session.
func (svc *Service) Stop() {
	svc.mu.Lock()
	if svc.unsub != nil {
		svc.unsub()
		svc.unsub = nil
	}
	svc.connected = 0
	svc.mu.Unlock()
	if svc.channel != nil {
		svc.channel.Teardown()
	}
}

func (svc *Service) sync(sess session.Session) {
	if svc.channel == nil {
		return
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()

	var id int64
	if sess.Identity != nil {
		id = sess.Identity.ID
	}
	if id == svc.connected {
		return
	}
	if svc.connected != 0 {
		svc.channel.Teardown()
		svc.connected = 0
	}
	if sess.Identity != nil && svc.channel.Connect(sess.Identity) {
		svc.connected = id
	}
}

// Login authenticates through the public endpoint, replaces the session identity and fetches
// both counts. A failed login leaves the session untouched.
func (svc *Service) Login(ctx context.Context, creds member.Credentials) (session.Identity, error) {
	if err := creds.Validate(); err != nil {
		return session.Identity{}, err
	}

	res, err := svc.api.Login(ctx, creds)
	if err != nil {
		return session.Identity{}, err
	}

	ident := session.Identity{ID: res.ID, Name: res.Name, Email: res.Email, Roles: res.Roles}
	if ident.Email == "" {
		ident.Email = creds.Email
	}
	if err = svc.sess.SetIdentity(ident); err != nil {
		return session.Identity{}, errors.Wrap(err, "invalid login response")
	}

	svc.RefreshCounts(ctx)
	ident, _ = svc.sess.Identity()
	return ident, nil
}

// RefreshCounts fetches the unread and invitation counts concurrently and sets both absolutely.
// Failures are logged; a result is dropped if the identity changed meanwhile.
func (svc *Service) RefreshCounts(ctx context.Context) {
	ident, ok := svc.sess.Identity()
	if !ok {
		return
	}

	var g errgroup.Group
	g.Go(func() error {
		n, err := svc.api.UnreadCount(ctx, ident.ID)
		if err != nil {
			return errors.Wrap(err, "fetching unread count")
		}
		if svc.isCurrent(ident.ID) {
			svc.counters.SetUnread(n)
		}
		return nil
	})
	g.Go(func() error {
		n, err := svc.api.InvitationCount(ctx, ident.ID)
		if err != nil {
			return errors.Wrap(err, "fetching invitation count")
		}
		if svc.isCurrent(ident.ID) {
			svc.counters.SetInvitations(n)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		svc.logger.Error(err.Error(), ident)
	}
}

// Logout calls the logout endpoint on a best-effort basis, then clears the session, purges the
// persisted state and reloads. Only a purge failure is returned.
func (svc *Service) Logout(ctx context.Context) error {
	ident, _ := svc.sess.Identity()
	if err := svc.api.Logout(ctx); err != nil {
		svc.logger.Warn("logout endpoint failed", err, ident)
	}

	svc.sess.Clear()

	var err error
	if svc.state != nil {
		err = svc.state.Purge(ctx)
		svc.state.Reset()
	}
	if svc.onReload != nil {
		svc.onReload()
	}
	return err
}

// Messages returns the signed-in member's inbox.
func (svc *Service) Messages(ctx context.Context) ([]message.Message, error) {
	ident, err := svc.identity()
	if err != nil {
		return nil, err
	}
	return svc.api.Messages(ctx, ident.ID)
}

// RefreshMessages refetches the inbox and raises the "updated" alert.
func (svc *Service) RefreshMessages(ctx context.Context) ([]message.Message, error) {
	msgs, err := svc.Messages(ctx)
	if err != nil {
		svc.alerts.Show(alert.TextRequestFailed)
		return nil, err
	}
	svc.alerts.Show(alert.TextListRefreshed)
	return msgs, nil
}

// MarkRead opens msg. Only an unread message hits the endpoint and decrements the unread count.
func (svc *Service) MarkRead(ctx context.Context, msg message.Message) (message.Message, error) {
	if msg.Read {
		return msg, nil
	}
	if err := svc.api.MarkRead(ctx, msg.ID); err != nil {
		return msg, errors.Wrap(err, "marking message as read")
	}
	svc.counters.DecrementUnread()
	msg.Read = true
	return msg, nil
}

// Send validates and sends draft as the signed-in member. Nothing is inserted locally; callers
// refetch the list.
func (svc *Service) Send(ctx context.Context, draft message.Draft) error {
	ident, err := svc.identity()
	if err != nil {
		return err
	}
	draft.SenderID = ident.ID
	if err = draft.Validate(); err != nil {
		svc.alerts.Show(alert.TextDraftInvalid)
		return err
	}
	if err = svc.api.SendMessage(ctx, draft); err != nil {
		svc.alerts.Show(alert.TextSendFailed)
		return errors.Wrap(err, "sending message")
	}
	svc.alerts.Show(alert.TextMessageSent)
	return nil
}

// Reply sends content to the sender of msg.
func (svc *Service) Reply(ctx context.Context, msg message.Message, content string) error {
	return svc.Send(ctx, message.ReplyTo(msg, content))
}

// SearchMembers returns nothing for queries shorter than member.MinSearchLen.
func (svc *Service) SearchMembers(ctx context.Context, query string) ([]member.Member, error) {
	query = core.CleanString(query)
	if len([]rune(query)) < member.MinSearchLen {
		return nil, nil
	}
	return svc.api.SearchMembers(ctx, query)
}

// Register creates a member account through the public endpoint.
func (svc *Service) Register(ctx context.Context, nm member.NewMember) error {
	if err := nm.Validate(); err != nil {
		return err
	}
	return svc.api.Register(ctx, nm)
}

// ChatRooms refetches the signed-in member's rooms and invitations.
func (svc *Service) ChatRooms(ctx context.Context) ([]chat.Room, error) {
	ident, err := svc.identity()
	if err != nil {
		return nil, err
	}
	rooms, err := svc.api.ChatRooms(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	if svc.isCurrent(ident.ID) {
		svc.rooms.Set(rooms)
	}
	return rooms, nil
}

// JoinInvitation accepts a chat invitation, then refetches the invitation count and the rooms.
func (svc *Service) JoinInvitation(ctx context.Context, invitationID int64) error {
	ident, err := svc.identity()
	if err != nil {
		return err
	}
	if err = svc.api.JoinInvitation(ctx, invitationID); err != nil {
		svc.alerts.Show(alert.TextJoinFailed)
		return errors.Wrap(err, "joining chat room")
	}
	svc.alerts.Show(alert.TextJoinedRoom)

	if n, err := svc.api.InvitationCount(ctx, ident.ID); err != nil {
		svc.logger.Error("fetching invitation count", err, ident)
	} else if svc.isCurrent(ident.ID) {
		svc.counters.SetInvitations(n)
	}
	if _, err := svc.ChatRooms(ctx); err != nil {
		svc.logger.Error("fetching chat rooms", err, ident)
	}
	return nil
}

// RequestPayment posts the checkout widget's result.
func (svc *Service) RequestPayment(ctx context.Context, req payment.Request) (payment.Confirmation, error) {
	if _, err := svc.identity(); err != nil {
		return payment.Confirmation{}, err
	}
	if err := req.Validate(); err != nil {
		return payment.Confirmation{}, err
	}
	conf, err := svc.api.RequestPayment(ctx, req)
	if err != nil {
		svc.alerts.Show(alert.TextRequestFailed)
		return payment.Confirmation{}, errors.Wrap(err, "requesting payment")
	}
	svc.alerts.Show(alert.TextPaymentComplete)
	return conf, nil
}

func (svc *Service) identity() (session.Identity, error) {
	ident, ok := svc.sess.Identity()
	if !ok {
		return session.Identity{}, ErrNotAuthenticated
	}
	return ident, nil
}

func (svc *Service) isCurrent(id int64) bool {
	ident, ok := svc.sess.Identity()
	return ok && ident.ID == id
}

// StateStores purges and resets several stores as one.
type StateStores []StateStore

func (ss StateStores) Purge(ctx context.Context) error {
	var first error
	for _, s := range ss {
		if err := s.Purge(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (ss StateStores) Reset() {
	for _, s := range ss {
		s.Reset()
	}
}
