package echoapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/member"
	"github.com/trezcool/masomo-portal/core/message"
	"github.com/trezcool/masomo-portal/core/payment"
)

func (s *server) registerAPI(g *echo.Group) {
	// un-authed endpoints
	g.POST("/auth/login", s.login)
	g.POST("/auth/logout", s.logout)
	g.POST("/token/refresh", s.refreshToken)
	g.POST("/members/register", s.register)

	// authed endpoints
	ag := g.Group("", s.authMiddleware)
	ag.GET("/members/search", s.searchMembers)
	ag.POST("/messages/send", s.sendMessage)
	ag.POST("/messages/read/:id", s.markRead)
	ag.POST("/chat/invitation/join/:id", s.joinInvitation)
	ag.POST("/payments/request", s.requestPayment)

	// member endpoints
	ag.GET("/messages/:memberId", s.messages, ownerMiddleware)
	ag.GET("/messages/unread/:memberId", s.unreadCount, ownerMiddleware)
	ag.GET("/chat/rooms/:memberId", s.chatRooms, ownerMiddleware)
	ag.GET("/chat/invitation/count/:memberId", s.invitationCount, ownerMiddleware)
}

// Handlers

func (s *server) register(ctx echo.Context) error {
	var data member.NewMember
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMember")
	}
	if err := data.Validate(); err != nil {
		return err
	}
	mbr, err := s.store.register(data)
	if err != nil {
		if errors.Is(err, errDuplicateEmail) {
			return errEmailTaken
		}
		return err
	}
	return ctx.JSON(http.StatusCreated, mbr)
}

func (s *server) searchMembers(ctx echo.Context) error {
	query := core.CleanString(ctx.QueryParam("query"))
	if len([]rune(query)) < member.MinSearchLen {
		return ctx.JSON(http.StatusOK, echo.Map{"data": []member.Member{}})
	}
	return ctx.JSON(http.StatusOK, echo.Map{"data": s.store.search(query)})
}

func (s *server) messages(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.store.inbox(paramID(ctx, "memberId")))
}

func (s *server) unreadCount(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.store.unread(paramID(ctx, "memberId")))
}

func (s *server) sendMessage(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var draft message.Draft
	if err = ctx.Bind(&draft); err != nil {
		return errors.Wrap(err, "binding to Draft")
	}
	if draft.SenderID == 0 {
		draft.SenderID = claims.memberID()
	}
	if draft.SenderID != claims.memberID() {
		return errHttpForbidden
	}
	if err = draft.Validate(); err != nil {
		return err
	}

	msg, err := s.store.send(draft)
	if err != nil {
		if errors.Is(err, errUnknownMember) {
			return core.NewValidationError(err, core.FieldError{Field: "receiverId", Error: "unknown member"})
		}
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encoding push payload")
	}
	s.publisher.Publish(draft.ReceiverID, payload)
	return ctx.JSON(http.StatusCreated, msg)
}

func (s *server) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if err = s.store.markRead(paramID(ctx, "id"), claims.memberID()); err != nil {
		if errors.Is(err, errUnknownMessage) {
			return errHttpNotFound
		}
		return err
	}
	return ctx.NoContent(http.StatusOK)
}

func (s *server) chatRooms(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.store.roomsOf(paramID(ctx, "memberId")))
}

func (s *server) invitationCount(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.store.invitationCount(paramID(ctx, "memberId")))
}

func (s *server) joinInvitation(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	switch err = s.store.join(paramID(ctx, "id"), claims.memberID()); {
	case errors.Is(err, errUnknownInvite):
		return errHttpNotFound
	case errors.Is(err, errInviteNotForYou):
		return errHttpForbidden
	case err != nil:
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"message": "joined"})
}

func (s *server) requestPayment(ctx echo.Context) error {
	var req payment.Request
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to payment Request")
	}
	if err := req.Validate(); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s.store.pay(req))
}

// paramID returns the integer path param; 0 if invalid.
func paramID(ctx echo.Context, name string) int64 {
	id, _ := strconv.ParseInt(ctx.Param(name), 10, 64)
	return id
}
