// Package stompws delivers notifications over STOMP on a websocket.
package stompws

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/notify"
)

const (
	TopicPrefix = "/topic/chat/"

	// Subprotocol is the STOMP 1.2 websocket subprotocol.
	Subprotocol = "v12.stomp"

	handshakeTimeout = 10 * time.Second
	eventBuffer      = 16
)

type Transport struct {
	url *url.URL
	jar http.CookieJar
}

var _ notify.Transport = (*Transport)(nil)

// NewTransport dials rawURL (ws:// or wss://) carrying the cookies of jar.
func NewTransport(rawURL string, jar http.CookieJar) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid push URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("invalid push URL scheme %q", u.Scheme)
	}
	return &Transport{url: u, jar: jar}, nil
}

func (t *Transport) Topic(memberID int64) string {
	return TopicPrefix + strconv.FormatInt(memberID, 10)
}

func (t *Transport) Dial(ctx context.Context, ident session.Identity) (notify.Link, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
		Jar:              t.jar,
	}
	ws, _, err := dialer.DialContext(ctx, t.url.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "websocket handshake")
	}

	conn, err := stomp.Connect(NewConn(ws),
		stomp.ConnOpt.Host(t.url.Hostname()),
		stomp.ConnOpt.HeartBeat(0, 0),
		stomp.ConnOpt.Header("member-id", ident.Key()),
	)
	if err != nil {
		_ = ws.Close()
		return nil, errors.Wrap(err, "stomp connect")
	}
	return newLink(conn), nil
}

type link struct {
	conn *stomp.Conn

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newLink(conn *stomp.Conn) *link {
	return &link{conn: conn, done: make(chan struct{})}
}

func (l *link) Subscribe(topic string) (<-chan notify.Event, error) {
	sub, err := l.conn.Subscribe(topic, stomp.AckAuto, stomp.SubscribeOpt.Id(uuid.NewString()))
	if err != nil {
		return nil, err
	}

	events := make(chan notify.Event, eventBuffer)
	go func() {
		defer close(events)
		for msg := range sub.C {
			if msg.Err != nil {
				l.fail(msg.Err)
				return
			}
			select {
			case events <- notify.Event{Topic: msg.Destination, Body: msg.Body}:
			case <-l.done:
				return
			}
		}
		l.fail(notify.ErrLinkClosed)
	}()
	return events, nil
}

func (l *link) Done() <-chan struct{} {
	return l.done
}

func (l *link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *link) Close() error {
	l.fail(nil)
	return l.conn.MustDisconnect()
}

func (l *link) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}
