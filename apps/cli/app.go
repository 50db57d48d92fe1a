package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/alert"
	"github.com/trezcool/masomo-portal/core/chat"
	"github.com/trezcool/masomo-portal/core/counter"
	"github.com/trezcool/masomo-portal/core/persist"
	"github.com/trezcool/masomo-portal/core/portal"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/gateway"
	"github.com/trezcool/masomo-portal/services/metrics"
	"github.com/trezcool/masomo-portal/services/notify"
	"github.com/trezcool/masomo-portal/services/notify/natspush"
	"github.com/trezcool/masomo-portal/services/notify/stompws"
	"github.com/trezcool/masomo-portal/services/studentapi"
	"github.com/trezcool/masomo-portal/storage/database"
	"github.com/trezcool/masomo-portal/storage/database/inmem"
	"github.com/trezcool/masomo-portal/storage/database/sqlx"
)

// app holds the portal wired for one run of the CLI.
type app struct {
	conf    *core.Config
	logger  core.Logger
	metrics *metrics.Metrics
	db      *sqlx.DB // nil with the memory engine

	persistor *persist.Persistor
	jar       *gateway.PersistentJar
	session   *session.Store
	counters  *counter.Counters
	alerts    *alert.Queue
	rooms     *chat.Rooms
	channel   *notify.Channel
	svc       *portal.Service
}

func newApp(ctx context.Context, conf *core.Config, logger core.Logger) (*app, error) {
	a := &app{conf: conf, logger: logger, metrics: metrics.New()}

	repo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	// restore the persisted state
	a.persistor = persist.NewPersistor(repo, conf.Storage.RootKey, logger)
	a.session = session.NewStore(a.persistor)
	a.counters = counter.NewCounters(a.persistor)
	a.alerts = alert.NewQueue(a.persistor)
	a.rooms = chat.NewRooms(a.persistor)
	for part, h := range map[string]persist.Hydrator{
		persist.PartitionSession:  a.session,
		persist.PartitionCounters: a.counters,
		persist.PartitionAlert:    a.alerts,
		persist.PartitionChat:     a.rooms,
	} {
		if err = a.persistor.Register(part, h); err != nil {
			return nil, a.closeOnErr(err)
		}
	}
	if err = a.persistor.Restore(ctx); err != nil {
		logger.Warn("starting from an empty state", err)
	}
	a.counters.Subscribe(func(snap counter.Snapshot) {
		a.metrics.SetUnread(snap.Unread)
	})
	a.metrics.SetUnread(a.counters.Unread())

	if a.jar, err = gateway.NewPersistentJar(ctx, repo, logger); err != nil {
		return nil, a.closeOnErr(err)
	}

	gw, err := gateway.New(gateway.Config{
		BaseURL:       conf.API.BaseURL,
		Timeout:       conf.API.Timeout,
		ExpiryMarkers: conf.API.ExpiryMarkers,
		Jar:           a.jar,
		Gate:          a.session,
		Logger:        logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, a.closeOnErr(err)
	}
	client := studentapi.NewClient(gw)

	transport, err := a.pushTransport()
	if err != nil {
		return nil, a.closeOnErr(err)
	}
	a.channel = notify.NewChannel(notify.Config{
		Transport:      transport,
		Fetcher:        client,
		Counters:       a.counters,
		Alerts:         a.alerts,
		ReconnectDelay: conf.Push.ReconnectDelay,
		Logger:         logger,
		Metrics:        a.metrics,
	})

	a.svc = portal.NewService(portal.Config{
		API:      client,
		Session:  a.session,
		Counters: a.counters,
		Alerts:   a.alerts,
		Rooms:    a.rooms,
		State:    portal.StateStores{a.persistor, a.jar},
		Channel:  a.channel,
		Logger:   logger,
	})
	return a, nil
}

func (a *app) openRepository(ctx context.Context) (persist.Repository, error) {
	if a.conf.Storage.Engine == core.StorageEngineMemory {
		return inmemdb.NewStateRepository(inmemdb.NewDB()), nil
	}

	db, err := database.Open(ctx, a.conf.Storage)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = database.Migrate(ctx, db, a.conf.Storage.Engine); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrating database")
	}
	a.db = db
	return sqlxrepos.NewStateRepository(db), nil
}

func (a *app) pushTransport() (notify.Transport, error) {
	switch a.conf.Push.Driver {
	case core.PushDriverNATS:
		return natspush.NewTransport(a.conf.Push.URL, a.conf.AppName, a.conf.Push.ReconnectDelay, a.logger), nil
	case core.PushDriverSTOMP, "":
		tr, err := stompws.NewTransport(a.conf.Push.URL, a.jar)
		if err != nil {
			return nil, err
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("unknown push driver %q", a.conf.Push.Driver)
	}
}

func (a *app) closeOnErr(err error) error {
	if cErr := a.Close(); cErr != nil {
		a.logger.Error("closing app", cErr)
	}
	return err
}

func (a *app) Close() error {
	if a.svc != nil {
		a.svc.Stop()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
