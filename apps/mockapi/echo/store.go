package echoapi

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/chat"
	"github.com/trezcool/masomo-portal/core/member"
	"github.com/trezcool/masomo-portal/core/message"
	"github.com/trezcool/masomo-portal/core/payment"
	"github.com/trezcool/masomo-portal/core/session"
)

var (
	hashCost = bcrypt.DefaultCost // mockable

	errDuplicateEmail  = errors.New("duplicate email")
	errUnknownMember   = errors.New("unknown member")
	errUnknownMessage  = errors.New("unknown message")
	errUnknownInvite   = errors.New("unknown invitation")
	errInviteNotForYou = errors.New("invitation addressed to another member")
)

type (
	memberRecord struct {
		member.Member
		Roles        []string
		PasswordHash []byte
		Phone        string
		Address      string
	}

	messageRecord struct {
		message.Message
		ReceiverID int64
	}

	roomRecord struct {
		ID        int64
		Name      string
		OwnerID   int64
		CreatedAt time.Time
		Members   map[int64]bool
	}

	invitationRecord struct {
		ID        int64
		RoomID    int64
		InviteeID int64
		Status    string
	}

	// store keeps the whole mock dataset in memory.
	store struct {
		mu          sync.RWMutex
		now         func() time.Time
		lastID      int64
		members     map[int64]*memberRecord
		messages    []*messageRecord
		rooms       map[int64]*roomRecord
		invitations map[int64]*invitationRecord
		payments    []payment.Confirmation
	}
)

func newStore(now func() time.Time) *store {
	return &store{
		now:         now,
		lastID:      100,
		members:     make(map[int64]*memberRecord),
		rooms:       make(map[int64]*roomRecord),
		invitations: make(map[int64]*invitationRecord),
	}
}

// Seed members, all with the password of their seed entry.
var seedMembers = []struct {
	ID       int64
	Name     string
	Email    string
	Password string
	Roles    []string
}{
	{1, "Admin", "admin@example.com", "Adm1n-Secret!", []string{session.RoleUser, session.RoleAdmin}},
	{7, "Kim", "test@example.com", "1234", []string{session.RoleUser}},
	{9, "Lee", "lee@example.com", "Le3-Secret!", []string{session.RoleUser}},
}

// seed loads a small dataset: a few members, a message from Lee to Kim
// and a pending invitation of Kim to Lee's room.
func (s *store) seed() error {
	for _, m := range seedMembers {
		hash, err := bcrypt.GenerateFromPassword([]byte(m.Password), hashCost)
		if err != nil {
			return errors.Wrap(err, "hashing seed password")
		}
		s.members[m.ID] = &memberRecord{
			Member:       member.Member{ID: m.ID, Name: m.Name, Email: m.Email},
			Roles:        m.Roles,
			PasswordHash: hash,
		}
	}

	now := s.now()
	s.messages = append(s.messages, &messageRecord{
		Message: message.Message{
			ID:         s.nextID(),
			SenderID:   9,
			SenderName: "Lee",
			Content:    "Welcome to Masomo!",
			SentAt:     core.NewTimestamp(now.Add(-time.Hour)),
		},
		ReceiverID: 7,
	})

	room := &roomRecord{ID: s.nextID(), Name: "Math study", OwnerID: 9, CreatedAt: now.Add(-24 * time.Hour), Members: map[int64]bool{9: true}}
	s.rooms[room.ID] = room
	inv := &invitationRecord{ID: s.nextID(), RoomID: room.ID, InviteeID: 7, Status: chat.StatusPending}
	s.invitations[inv.ID] = inv
	return nil
}

// nextID must be called with the lock held (or before the store is shared).
func (s *store) nextID() int64 {
	s.lastID++
	return s.lastID
}

func (s *store) member(id int64) (memberRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mbr, ok := s.members[id]
	if !ok {
		return memberRecord{}, false
	}
	return *mbr, true
}

func (s *store) authenticate(email, password string) (memberRecord, bool) {
	email = core.CleanString(email, true /* lower */)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mbr := range s.members {
		if mbr.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword(mbr.PasswordHash, []byte(password)) != nil {
			return memberRecord{}, false
		}
		return *mbr, true
	}
	return memberRecord{}, false
}

func (s *store) register(nm member.NewMember) (member.Member, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(nm.Password), hashCost)
	if err != nil {
		return member.Member{}, errors.Wrap(err, "hashing password")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mbr := range s.members {
		if mbr.Email == nm.Email {
			return member.Member{}, errDuplicateEmail
		}
	}
	mbr := &memberRecord{
		Member:       member.Member{ID: s.nextID(), Name: nm.Name, Email: nm.Email},
		Roles:        []string{session.RoleUser},
		PasswordHash: hash,
		Phone:        nm.Phone,
		Address:      nm.Address,
	}
	s.members[mbr.ID] = mbr
	return mbr.Member, nil
}

// search matches query against names and emails, ignoring case.
func (s *store) search(query string) []member.Member {
	query = core.CleanString(query, true /* lower */)
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]member.Member, 0)
	for _, mbr := range s.members {
		if strings.Contains(strings.ToLower(mbr.Name), query) || strings.Contains(mbr.Email, query) {
			res = append(res, mbr.Member)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// inbox returns the messages received by memberID, newest first.
func (s *store) inbox(memberID int64) []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]message.Message, 0)
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ReceiverID == memberID {
			res = append(res, s.messages[i].Message)
		}
	}
	return res
}

func (s *store) unread(memberID int64) int {
	return message.CountUnread(s.inbox(memberID))
}

func (s *store) send(draft message.Draft) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.members[draft.SenderID]
	if !ok {
		return message.Message{}, errUnknownMember
	}
	if _, ok = s.members[draft.ReceiverID]; !ok {
		return message.Message{}, errUnknownMember
	}
	rec := &messageRecord{
		Message: message.Message{
			ID:         s.nextID(),
			SenderID:   sender.ID,
			SenderName: sender.Name,
			Content:    core.CleanString(draft.Content),
			SentAt:     core.NewTimestamp(s.now()),
		},
		ReceiverID: draft.ReceiverID,
	}
	s.messages = append(s.messages, rec)
	return rec.Message, nil
}

// markRead flags a message of memberID as read; it is idempotent.
func (s *store) markRead(messageID, memberID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.messages {
		if rec.ID == messageID && rec.ReceiverID == memberID {
			rec.Read = true
			return nil
		}
	}
	return errUnknownMessage
}

// roomsOf returns the rooms memberID belongs to, then its pending invitations.
func (s *store) roomsOf(memberID int64) []chat.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]chat.Room, 0)
	for _, room := range s.rooms {
		if room.Members[memberID] {
			res = append(res, s.chatRoom(room, 0, chat.StatusJoined))
		}
	}
	for _, inv := range s.invitations {
		if inv.InviteeID == memberID && inv.Status == chat.StatusPending {
			res = append(res, s.chatRoom(s.rooms[inv.RoomID], inv.ID, inv.Status))
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Status != res[j].Status {
			return res[i].Status == chat.StatusJoined
		}
		return res[i].ID < res[j].ID
	})
	return res
}

func (s *store) chatRoom(room *roomRecord, invitationID int64, status string) chat.Room {
	var ownerName string
	if owner, ok := s.members[room.OwnerID]; ok {
		ownerName = owner.Name
	}
	return chat.Room{
		ID:           room.ID,
		InvitationID: invitationID,
		Name:         room.Name,
		CreatedAt:    core.NewTimestamp(room.CreatedAt),
		OwnerID:      room.OwnerID,
		OwnerName:    ownerName,
		Status:       status,
	}
}

func (s *store) invitationCount(memberID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, inv := range s.invitations {
		if inv.InviteeID == memberID && inv.Status == chat.StatusPending {
			n++
		}
	}
	return n
}

func (s *store) join(invitationID, memberID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[invitationID]
	if !ok {
		return errUnknownInvite
	}
	if inv.InviteeID != memberID {
		return errInviteNotForYou
	}
	inv.Status = chat.StatusAccepted
	s.rooms[inv.RoomID].Members[memberID] = true
	return nil
}

func (s *store) pay(req payment.Request) payment.Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conf := payment.Confirmation{
		ID:          s.nextID(),
		ImpUID:      req.ImpUID,
		MerchantUID: req.MerchantUID,
		PaidAmount:  req.PaidAmount,
		Status:      payment.StatusCompleted,
		PaidAt:      req.PaidAt,
	}
	if conf.PaidAt == 0 {
		conf.PaidAt = s.now().Unix()
	}
	s.payments = append(s.payments, conf)
	return conf
}
