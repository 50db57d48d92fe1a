package portal

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/chat"
	"github.com/trezcool/masomo-portal/core/member"
	"github.com/trezcool/masomo-portal/core/message"
	"github.com/trezcool/masomo-portal/core/payment"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// LoginStatusFailed is the login status the server sends for rejected credentials.
const LoginStatusFailed = "failed"

type (
	// API is the remote student-management API.
	API interface {
		Login(ctx context.Context, creds member.Credentials) (LoginResult, error)
		Logout(ctx context.Context) error
		Register(ctx context.Context, nm member.NewMember) error

		UnreadCount(ctx context.Context, memberID int64) (int, error)
		InvitationCount(ctx context.Context, memberID int64) (int, error)

		Messages(ctx context.Context, memberID int64) ([]message.Message, error)
		SendMessage(ctx context.Context, draft message.Draft) error
		MarkRead(ctx context.Context, messageID int64) error
		SearchMembers(ctx context.Context, query string) ([]member.Member, error)

		ChatRooms(ctx context.Context, memberID int64) ([]chat.Room, error)
		JoinInvitation(ctx context.Context, invitationID int64) error

		RequestPayment(ctx context.Context, req payment.Request) (payment.Confirmation, error)
	}

	LoginResult struct {
		ID      int64    `json:"id"`
		Name    string   `json:"name"`
		Email   string   `json:"email"`
		Roles   []string `json:"roles"`
		Status  string   `json:"status"`
		Message string   `json:"message"`
	}

	// LoginError carries the server-provided reason of a failed login.
	LoginError struct {
		Message string
	}
)

func (err LoginError) Error() string {
	if err.Message == "" {
		return "login failed"
	}
	return err.Message
}

// IsLoginError reports whether the root cause of err is a *LoginError.
func IsLoginError(err error) bool {
	_, ok := errors.Cause(err).(*LoginError)
	return ok
}
