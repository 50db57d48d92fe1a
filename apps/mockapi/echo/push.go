package echoapi

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/go-stomp/stomp/v3"
	stompserver "github.com/go-stomp/stomp/v3/server"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/services/notify/natspush"
	"github.com/trezcool/masomo-portal/services/notify/stompws"
)

// Publisher pushes a new-message payload to a member.
type Publisher interface {
	Publish(memberID int64, payload []byte)
}

type publishers []Publisher

func (ps publishers) Publish(memberID int64, payload []byte) {
	for _, p := range ps {
		p.Publish(memberID, payload)
	}
}

// stompBroker is an in-process STOMP broker reached through websocket upgrades on /ws.
type stompBroker struct {
	ln       *stompws.Listener
	upgrader websocket.Upgrader
	logger   core.Logger

	mu  sync.Mutex
	pub *stomp.Conn
}

func newStompBroker(logger core.Logger) (*stompBroker, error) {
	b := &stompBroker{
		ln:       stompws.NewListener(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}),
		upgrader: websocket.Upgrader{Subprotocols: []string{stompws.Subprotocol}},
		logger:   logger,
	}
	srv := &stompserver.Server{}
	go func() {
		if err := srv.Serve(b.ln); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Error(fmt.Sprintf("stomp broker stopped: %v", err), err)
		}
	}()

	client, brokerSide := net.Pipe()
	go func() {
		if err := b.ln.Handoff(brokerSide); err != nil {
			_ = brokerSide.Close()
		}
	}()
	pub, err := stomp.Connect(client, stomp.ConnOpt.HeartBeat(0, 0))
	if err != nil {
		_ = b.ln.Close()
		return nil, errors.Wrap(err, "connecting broker publisher")
	}
	b.pub = pub
	return b, nil
}

func (b *stompBroker) serveWS(ctx echo.Context) error {
	ws, err := b.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader already replied
	}
	if err = b.ln.Handoff(stompws.NewConn(ws)); err != nil {
		_ = ws.Close()
	}
	return nil
}

func (b *stompBroker) Publish(memberID int64, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dest := stompws.TopicPrefix + strconv.FormatInt(memberID, 10)
	if err := b.pub.Send(dest, "application/json", payload); err != nil {
		b.logger.Warn(fmt.Sprintf("publishing to %s: %v", dest, err), err)
	}
}

func (b *stompBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.pub.Disconnect()
	_ = b.ln.Close()
	return err
}

// natsPublisher mirrors pushes to a NATS server.
type natsPublisher struct {
	nc     *nats.Conn
	logger core.Logger
}

func newNATSPublisher(url, name string, logger core.Logger) (*natsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to nats")
	}
	return &natsPublisher{nc: nc, logger: logger}, nil
}

func (p *natsPublisher) Publish(memberID int64, payload []byte) {
	subj := natspush.Subject(memberID)
	if err := p.nc.Publish(subj, payload); err != nil {
		p.logger.Warn(fmt.Sprintf("publishing to %s: %v", subj, err), err)
	}
}

func (p *natsPublisher) Close() error {
	return p.nc.Drain()
}
