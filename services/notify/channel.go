// Package notify keeps one live push subscription per signed-in identity and turns its events
// into unread-count increments and "new message" alerts.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/alert"
	"github.com/trezcool/masomo-portal/core/counter"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/metrics"
)

const DefaultReconnectDelay = 5 * time.Second

type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

var ErrLinkClosed = errors.New("link closed")

type (
	Event struct {
		Topic string
		Body  []byte
	}

	// Link is an established push connection.
	Link interface {
		// Subscribe delivers the events published to topic, in order.
		Subscribe(topic string) (<-chan Event, error)
		// Done is closed when the link is lost or closed.
		Done() <-chan struct{}
		Err() error
		Close() error
	}

	Transport interface {
		Dial(ctx context.Context, ident session.Identity) (Link, error)
		Topic(memberID int64) string
	}

	UnreadFetcher interface {
		UnreadCount(ctx context.Context, memberID int64) (int, error)
	}

	Config struct {
		Transport      Transport
		Fetcher        UnreadFetcher
		Counters       *counter.Counters
		Alerts         *alert.Queue
		Registry       *Registry        // default DefaultRegistry
		ReconnectDelay time.Duration    // default DefaultReconnectDelay
		Logger         core.Logger      // nil: discard
		Metrics        *metrics.Metrics // optional
	}

	Channel struct {
		conf Config

		mu    sync.Mutex
		h     *handle
		state State
	}

	handle struct {
		identity session.Identity
		cancel   context.CancelFunc
		done     chan struct{}
	}
)

func NewChannel(conf Config) *Channel {
	if conf.Registry == nil {
		conf.Registry = DefaultRegistry
	}
	if conf.ReconnectDelay <= 0 {
		conf.ReconnectDelay = DefaultReconnectDelay
	}
	if conf.Logger == nil {
		conf.Logger = core.NopLogger{}
	}
	return &Channel{conf: conf}
}

// Connect starts the subscription of ident in the background. It is a no-op, returning false,
// when ident is nil or a live handle already exists for any identity.
func (ch *Channel) Connect(ident *session.Identity) bool {
	if ident == nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{identity: *ident, cancel: cancel, done: make(chan struct{})}
	if !ch.conf.Registry.acquire(h) {
		cancel()
		return false
	}

	ch.mu.Lock()
	ch.h = h
	ch.state = Connecting
	ch.mu.Unlock()

	go ch.run(ctx, h)
	return true
}

// Teardown deactivates the channel and releases its handle, even while connecting.
// A pending fetch is not aborted but its result is ignored.
func (ch *Channel) Teardown() {
	ch.mu.Lock()
	h := ch.h
	ch.h = nil
	ch.state = Disconnected
	ch.mu.Unlock()

	if h == nil {
		return
	}
	h.cancel()
	ch.conf.Registry.release(h)
}

func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Done is closed when the current connection goroutine exits; nil when disconnected.
func (ch *Channel) Done() <-chan struct{} {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.h == nil {
		return nil
	}
	return ch.h.done
}

func (ch *Channel) run(ctx context.Context, h *handle) {
	defer close(h.done)
	for {
		err := ch.serve(ctx, h)
		if ctx.Err() != nil {
			return
		}
		ch.conf.Logger.Warn("notification link lost", err, h.identity)
		ch.setState(h, Connecting)

		timer := time.NewTimer(ch.conf.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		ch.conf.Metrics.Reconnect()
	}
}

// serve runs one link until it is lost or ctx is cancelled.
func (ch *Channel) serve(ctx context.Context, h *handle) error {
	link, err := ch.conf.Transport.Dial(ctx, h.identity)
	if err != nil {
		return errors.Wrap(err, "dialing")
	}
	defer func() {
		if err := link.Close(); err != nil {
			ch.conf.Logger.Debug("closing notification link", err)
		}
	}()

	// reconcile before listening: the count may have drifted while disconnected
	n, err := ch.conf.Fetcher.UnreadCount(context.WithoutCancel(ctx), h.identity.ID)
	switch {
	case err != nil:
		ch.conf.Logger.Error("fetching unread count", err, h.identity)
	case !ch.whileCurrent(h, func() { ch.conf.Counters.SetUnread(n) }):
		return ctx.Err()
	}

	events, err := link.Subscribe(ch.conf.Transport.Topic(h.identity.ID))
	if err != nil {
		return errors.Wrap(err, "subscribing")
	}
	ch.setState(h, Subscribed)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-link.Done():
			if err := link.Err(); err != nil {
				return err
			}
			return ErrLinkClosed
		case ev, ok := <-events:
			if !ok {
				return ErrLinkClosed
			}
			ch.handleEvent(h, ev)
		}
	}
}

func (ch *Channel) handleEvent(h *handle, ev Event) {
	valid := json.Valid(ev.Body)
	applied := ch.whileCurrent(h, func() {
		ch.conf.Counters.IncrementUnread()
		if valid {
			ch.conf.Alerts.Show(alert.TextNewMessage)
		}
	})
	if !applied {
		return
	}
	ch.conf.Metrics.PushEvent()
	if !valid {
		ch.conf.Logger.Warn("malformed notification payload", map[string]interface{}{"topic": ev.Topic}, h.identity)
	}
}

func (ch *Channel) setState(h *handle, st State) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.h == h {
		ch.state = st
	}
}

// whileCurrent runs mutate only if h is still the live handle, holding ch.mu so that a
// concurrent Teardown returns only once mutate is done. mutate must not call back into ch.
func (ch *Channel) whileCurrent(h *handle, mutate func()) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.h != h {
		return false
	}
	mutate()
	return true
}
