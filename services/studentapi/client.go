// Package studentapi is the HTTP client of the remote student-management API.
package studentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/chat"
	"github.com/trezcool/masomo-portal/core/member"
	"github.com/trezcool/masomo-portal/core/message"
	"github.com/trezcool/masomo-portal/core/payment"
	"github.com/trezcool/masomo-portal/core/portal"
	"github.com/trezcool/masomo-portal/services/gateway"
)

// Caller sends requests to the API; implemented by *gateway.Gateway.
type Caller interface {
	Call(ctx context.Context, endpoint string, opts gateway.Options) (*http.Response, error)
	CallPublic(ctx context.Context, endpoint string, opts gateway.Options) (*http.Response, error)
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (err StatusError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("unexpected status %d", err.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", err.StatusCode, err.Message)
}

type Client struct {
	caller Caller
}

var _ portal.API = (*Client)(nil)

func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

func (c *Client) Login(ctx context.Context, creds member.Credentials) (portal.LoginResult, error) {
	form := url.Values{"username": {creds.Email}, "password": {creds.Password}}
	resp, err := c.caller.CallPublic(ctx, "/auth/login", gateway.Options{
		Method:      http.MethodPost,
		Body:        []byte(form.Encode()),
		ContentType: gateway.ContentTypeForm,
	})
	if err != nil {
		return portal.LoginResult{}, err
	}
	defer resp.Body.Close()

	var res portal.LoginResult
	decErr := json.NewDecoder(resp.Body).Decode(&res)
	if !isOK(resp) || res.Status == portal.LoginStatusFailed {
		return portal.LoginResult{}, &portal.LoginError{Message: res.Message}
	}
	if decErr != nil {
		return portal.LoginResult{}, errors.Wrap(decErr, "decoding login response")
	}
	return res, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "/auth/logout", gateway.Options{Method: http.MethodPost}, nil)
}

func (c *Client) Register(ctx context.Context, nm member.NewMember) error {
	body, err := gateway.JSONBody(nm)
	if err != nil {
		return err
	}
	resp, err := c.caller.CallPublic(ctx, "/members/register", gateway.Options{Method: http.MethodPost, Body: body})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

func (c *Client) UnreadCount(ctx context.Context, memberID int64) (int, error) {
	var n int
	err := c.call(ctx, "/messages/unread/"+id(memberID), gateway.Options{}, &n)
	return n, err
}

func (c *Client) InvitationCount(ctx context.Context, memberID int64) (int, error) {
	var n int
	err := c.call(ctx, "/chat/invitation/count/"+id(memberID), gateway.Options{}, &n)
	return n, err
}

func (c *Client) Messages(ctx context.Context, memberID int64) ([]message.Message, error) {
	var msgs []message.Message
	err := c.call(ctx, "/messages/"+id(memberID), gateway.Options{}, &msgs)
	return msgs, err
}

func (c *Client) SendMessage(ctx context.Context, draft message.Draft) error {
	body, err := gateway.JSONBody(draft)
	if err != nil {
		return err
	}
	return c.call(ctx, "/messages/send", gateway.Options{Method: http.MethodPost, Body: body}, nil)
}

func (c *Client) MarkRead(ctx context.Context, messageID int64) error {
	return c.call(ctx, "/messages/read/"+id(messageID), gateway.Options{Method: http.MethodPost}, nil)
}

func (c *Client) SearchMembers(ctx context.Context, query string) ([]member.Member, error) {
	var res struct {
		Data []member.Member `json:"data"`
	}
	err := c.call(ctx, "/members/search", gateway.Options{Query: url.Values{"query": {query}}}, &res)
	return res.Data, err
}

func (c *Client) ChatRooms(ctx context.Context, memberID int64) ([]chat.Room, error) {
	var rooms []chat.Room
	err := c.call(ctx, "/chat/rooms/"+id(memberID), gateway.Options{}, &rooms)
	return rooms, err
}

func (c *Client) JoinInvitation(ctx context.Context, invitationID int64) error {
	return c.call(ctx, "/chat/invitation/join/"+id(invitationID), gateway.Options{Method: http.MethodPost}, nil)
}

func (c *Client) RequestPayment(ctx context.Context, req payment.Request) (payment.Confirmation, error) {
	var conf payment.Confirmation
	body, err := gateway.JSONBody(req)
	if err != nil {
		return conf, err
	}
	err = c.call(ctx, "/payments/request", gateway.Options{Method: http.MethodPost, Body: body}, &conf)
	return conf, err
}

func (c *Client) call(ctx context.Context, endpoint string, opts gateway.Options, out interface{}) error {
	resp, err := c.caller.Call(ctx, endpoint, opts)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// decode reads a JSON body into out (if not nil) and closes it.
func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if !isOK(resp) {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		return &StatusError{StatusCode: resp.StatusCode, Message: payload.Message}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response")
}

func isOK(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func id(n int64) string {
	return strconv.FormatInt(n, 10)
}
