// Package echoapi is a mock of the student-management API, used for local runs and tests.
package echoapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
		Debug          bool
		TestMode       bool
		AppName        string
		Secret         []byte
		AccessTTL      time.Duration
		RefreshTTL     time.Duration
		NATSURL        string // optional: pushes are mirrored to NATS
		Now            func() time.Time
		Logger         core.Logger
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
		Shutdown() <-chan struct{}
	}

	server struct {
		opts      *Options
		app       *echo.Echo
		store     *store
		broker    *stompBroker
		nats      *natsPublisher
		publisher Publisher

		shutdown     chan struct{}
		shutdownOnce sync.Once
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) (Server, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("missing token secret")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &server{
		opts:     opts,
		app:      echo.New(),
		store:    newStore(opts.Now),
		shutdown: make(chan struct{}),
	}
	if err := s.store.seed(); err != nil {
		return nil, errors.Wrap(err, "seeding store")
	}

	broker, err := newStompBroker(opts.Logger)
	if err != nil {
		return nil, err
	}
	s.broker = broker
	pubs := publishers{broker}
	if opts.NATSURL != "" {
		if s.nats, err = newNATSPublisher(opts.NATSURL, opts.AppName+" mock API", opts.Logger); err != nil {
			_ = broker.Close()
			return nil, err
		}
		pubs = append(pubs, s.nats)
	}
	s.publisher = pubs

	s.setup()
	return s, nil
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.opts.Debug || s.opts.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.signalShutdown)
	s.app.Debug = s.opts.Debug

	s.app.GET("/", home)
	s.app.GET("/ws", s.broker.serveWS)
	s.registerAPI(s.app.Group("/api"))
}

func (s *server) Start() error {
	if err := s.app.Start(s.opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *server) Stop(ctx context.Context) error {
	err := s.app.Shutdown(ctx)
	if bErr := s.broker.Close(); bErr != nil && err == nil {
		err = bErr
	}
	if s.nats != nil {
		if nErr := s.nats.Close(); nErr != nil && err == nil {
			err = nErr
		}
	}
	return err
}

// Shutdown is closed whenever a handler hits a core shutdown error.
func (s *server) Shutdown() <-chan struct{} {
	return s.shutdown
}

func (s *server) signalShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the Masomo mock API!")
}
