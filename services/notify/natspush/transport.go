// Package natspush delivers notifications over NATS subjects.
package natspush

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/notify"
)

const (
	SubjectPrefix = "chat."

	msgBuffer = 64
)

type Transport struct {
	url           string
	name          string
	reconnectWait time.Duration
	logger        core.Logger
}

var _ notify.Transport = (*Transport)(nil)

func NewTransport(url, name string, reconnectWait time.Duration, logger core.Logger) *Transport {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Transport{url: url, name: name, reconnectWait: reconnectWait, logger: logger}
}

// Subject returns the subject of memberID's notifications.
func Subject(memberID int64) string {
	return SubjectPrefix + strconv.FormatInt(memberID, 10)
}

func (t *Transport) Topic(memberID int64) string {
	return Subject(memberID)
}

func (t *Transport) Dial(ctx context.Context, ident session.Identity) (notify.Link, error) {
	l := &link{done: make(chan struct{})}
	opts := []nats.Option{
		nats.Name(t.name + "-" + ident.Key()),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.logger.Warn("nats disconnected", err, ident)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			l.fail(nc.LastError())
		}),
	}
	if t.reconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(t.reconnectWait))
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	dialed := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(t.url, opts...)
		dialed <- result{nc, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-dialed; res.nc != nil {
				res.nc.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-dialed:
		if res.err != nil {
			return nil, errors.Wrap(res.err, "nats connect")
		}
		l.nc = res.nc
		return l, nil
	}
}

type link struct {
	nc *nats.Conn

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func (l *link) Subscribe(subject string) (<-chan notify.Event, error) {
	msgs := make(chan *nats.Msg, msgBuffer)
	if _, err := l.nc.ChanSubscribe(subject, msgs); err != nil {
		return nil, err
	}

	events := make(chan notify.Event, msgBuffer)
	go func() {
		defer close(events)
		for {
			select {
			case msg := <-msgs:
				select {
				case events <- notify.Event{Topic: msg.Subject, Body: msg.Data}:
				case <-l.done:
					return
				}
			case <-l.done:
				return
			}
		}
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
	l.nc.Close()
	l.fail(nil)
	return nil
}

func (l *link) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}
